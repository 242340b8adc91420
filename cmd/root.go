// Package cmd implements the devcost CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/config"
	"github.com/theirongolddev/devcost/internal/hass"
	"github.com/theirongolddev/devcost/internal/logging"
	"github.com/theirongolddev/devcost/internal/store"
)

var (
	flagConfig       string
	flagEnergyConfig string
	flagQuiet        bool

	appCfg config.Config
	appLog = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "devcost",
	Short: "Per-device energy cost tracking for Home Assistant",
	Long: "Accumulate the running cost of each energy-dashboard device from live readings,\n" +
		"and rebuild its cost history from recorded hourly statistics.",
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
}

// Execute is the main entry point called from main.go.
func Execute() {
	err := rootCmd.Execute()
	_ = appLog.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&flagEnergyConfig, "energy-config", "", "Energy configuration document (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log warnings and errors")
}

// loadRuntime loads config and builds the logger shared by all commands.
func loadRuntime(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagEnergyConfig != "" {
		cfg.General.EnergyConfig = flagEnergyConfig
	}
	if flagQuiet {
		cfg.Logging.Level = "warn"
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	appCfg = cfg
	appLog = log
	return nil
}

// openStore opens the accumulator state database.
func openStore() (*store.Store, error) {
	return store.Open(appCfg.StatePath(), appCfg.Storage.Namespace)
}

// openStatistics opens the statistics database, which may be the state
// database itself.
func openStatistics(state *store.Store) (*store.Store, func(), error) {
	if appCfg.StatisticsPath() == appCfg.StatePath() && state != nil {
		return state, func() {}, nil
	}
	st, err := store.Open(appCfg.StatisticsPath(), appCfg.Storage.Namespace)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// currency resolves the reporting currency from Home Assistant, falling back
// to the configured one.
func currency(ctx context.Context) string {
	if c := hass.NewClient(appCfg.HomeAssistant.URL, appCfg.HomeAssistant.Token); c != nil {
		if cur, err := c.Currency(ctx); err == nil {
			return cur
		}
	}
	return appCfg.General.Currency
}
