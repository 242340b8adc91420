package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/devcost/internal/daemon"
	"github.com/theirongolddev/devcost/internal/tui"
	"github.com/theirongolddev/devcost/internal/tui/theme"
)

var (
	flagWatchAddr     string
	flagWatchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Launch the live dashboard for a running daemon",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagWatchAddr, "addr", "", "Daemon address (default from config)")
	watchCmd.Flags().DurationVar(&flagWatchInterval, "interval", 5*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	theme.SetActive(appCfg.Appearance.Theme)

	// Without a forced profile lipgloss may fall back to Ascii and drop colors.
	lipgloss.SetColorProfile(termenv.TrueColor)

	addr := flagWatchAddr
	if addr == "" {
		addr = appCfg.Daemon.Addr
	}

	app := tui.NewApp(daemon.NewClient(addr), flagWatchInterval)
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}
