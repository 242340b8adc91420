package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/devcost/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := appCfg

	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Printf("  Config file: %s\n", path)
	if config.Exists(path) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Energy config:  %s\n", cfg.General.EnergyConfig)
	fmt.Printf("    Currency:       %s (fallback)\n", cfg.General.Currency)
	fmt.Printf("    Backfill days:  %d\n", cfg.General.BackfillDays)
	fmt.Println()

	fmt.Println("  [Home Assistant]")
	fmt.Printf("    URL:   %s\n", cfg.HomeAssistant.URL)
	if cfg.HomeAssistant.Token != "" {
		fmt.Printf("    Token: %s\n", maskToken(cfg.HomeAssistant.Token))
	} else {
		fmt.Println("    Token: not configured")
	}
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:         %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Poll interval:   %s\n", cfg.Daemon.PollInterval.Duration)
	fmt.Printf("    Reload interval: %s\n", cfg.Daemon.ReloadInterval.Duration)
	fmt.Printf("    Events buffer:   %d\n", cfg.Daemon.EventsBuffer)
	if len(cfg.Daemon.AllowedOrigins) > 0 {
		fmt.Printf("    CORS origins:    %s\n", strings.Join(cfg.Daemon.AllowedOrigins, ", "))
	}
	fmt.Println()

	fmt.Println("  [Storage]")
	fmt.Printf("    State DB:      %s\n", cfg.StatePath())
	fmt.Printf("    Statistics DB: %s\n", cfg.StatisticsPath())
	fmt.Printf("    Namespace:     %s\n", cfg.Storage.Namespace)
	fmt.Println()

	fmt.Println("  [Accumulator]")
	fmt.Printf("    Decrease policy: %s\n", cfg.Accumulator.DecreasePolicy)
	fmt.Println()

	fmt.Println("  [Backfill]")
	fmt.Printf("    Tolerance: %s\n", cfg.Backfill.Tolerance.Duration)
	fmt.Printf("    Source:    %s\n", cfg.Backfill.Source)
	fmt.Println()

	fmt.Println("  [Logging]")
	fmt.Printf("    Level:  %s\n", cfg.Logging.Level)
	fmt.Printf("    Format: %s\n", cfg.Logging.Format)
	fmt.Printf("    Output: %s\n", cfg.Logging.Output)
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `devcost setup` to reconfigure.")
	return nil
}
