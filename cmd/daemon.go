package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/accumulator"
	"github.com/theirongolddev/devcost/internal/backfill"
	"github.com/theirongolddev/devcost/internal/cli"
	"github.com/theirongolddev/devcost/internal/config"
	"github.com/theirongolddev/devcost/internal/daemon"
	"github.com/theirongolddev/devcost/internal/hass"
)

type daemonRuntimeState struct {
	PID          int       `json:"pid"`
	Addr         string    `json:"addr"`
	StartedAt    time.Time `json:"started_at"`
	EnergyConfig string    `json:"energy_config"`
}

var (
	flagDaemonAddr           string
	flagDaemonPollInterval   time.Duration
	flagDaemonReloadInterval time.Duration
	flagDaemonDetach         bool
	flagDaemonPIDFile        string
	flagDaemonLogFile        string
	flagDaemonEventsBuffer   int
	flagDaemonChild          bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the live cost accumulator with HTTP/SSE endpoints",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(config.DataDir(), "devcostd.pid")
	defaultLog := filepath.Join(config.DataDir(), "devcostd.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "", "HTTP listen address (overrides config)")
	daemonCmd.PersistentFlags().DurationVar(&flagDaemonPollInterval, "poll-interval", 0, "State polling interval (overrides config)")
	daemonCmd.PersistentFlags().DurationVar(&flagDaemonReloadInterval, "reload-interval", 0, "Energy configuration reload interval (overrides config)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (overrides config)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

// daemonConfig merges flags over the loaded config.
func daemonConfig() (daemon.Config, error) {
	policy, err := accumulator.ParsePolicy(appCfg.Accumulator.DecreasePolicy)
	if err != nil {
		return daemon.Config{}, err
	}
	cfg := daemon.Config{
		EnergyConfig:   appCfg.General.EnergyConfig,
		Currency:       appCfg.General.Currency,
		PollInterval:   appCfg.Daemon.PollInterval.Duration,
		ReloadInterval: appCfg.Daemon.ReloadInterval.Duration,
		Addr:           appCfg.Daemon.Addr,
		EventsBuffer:   appCfg.Daemon.EventsBuffer,
		AllowedOrigins: appCfg.Daemon.AllowedOrigins,
		Policy:         policy,
		BackfillDays:   appCfg.General.BackfillDays,
	}
	if flagDaemonAddr != "" {
		cfg.Addr = flagDaemonAddr
	}
	if flagDaemonPollInterval > 0 {
		cfg.PollInterval = flagDaemonPollInterval
	}
	if flagDaemonReloadInterval > 0 {
		cfg.ReloadInterval = flagDaemonReloadInterval
	}
	if flagDaemonEventsBuffer > 0 {
		cfg.EventsBuffer = flagDaemonEventsBuffer
	}
	return cfg, nil
}

func daemonAddr() string {
	if flagDaemonAddr != "" {
		return flagDaemonAddr
	}
	return appCfg.Daemon.Addr
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}

	return runDaemonForeground()
}

func startDaemonDetached() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagDaemonPIDFile)
	fmt.Printf("  API: http://%s/v1/status\n", daemonAddr())
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground() error {
	cfg, err := daemonConfig()
	if err != nil {
		return err
	}
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	pid := os.Getpid()
	if err := writePID(flagDaemonPIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonPIDFile) }()

	state := daemonRuntimeState{
		PID:          pid,
		Addr:         cfg.Addr,
		StartedAt:    time.Now(),
		EnergyConfig: cfg.EnergyConfig,
	}
	_ = writeState(statePath(flagDaemonPIDFile), state)
	defer func() { _ = os.Remove(statePath(flagDaemonPIDFile)) }()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	stats, closeStats, err := openStatistics(st)
	if err != nil {
		return fmt.Errorf("opening statistics store: %w", err)
	}
	defer closeStats()

	client := hass.NewClient(appCfg.HomeAssistant.URL, appCfg.HomeAssistant.Token)
	if client == nil {
		return errors.New("home_assistant.url is not configured (run `devcost setup` or set HASS_URL)")
	}

	runner := backfill.NewRunner(stats, stats, appLog, backfill.Options{
		Tolerance: appCfg.Backfill.Tolerance.Duration,
		Source:    appCfg.Backfill.Source,
	})

	gin.SetMode(gin.ReleaseMode)
	svc := daemon.New(cfg, daemon.Deps{
		States:   client,
		Store:    st,
		Backfill: runner,
		Log:      appLog,
	})

	appLog.Info("devcost daemon starting",
		zap.String("addr", cfg.Addr),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("reload_interval", cfg.ReloadInterval),
		zap.String("energy_config", cfg.EnergyConfig),
		zap.String("state_db", appCfg.StatePath()),
	)
	fmt.Printf("  devcost daemon listening on http://%s\n", cfg.Addr)
	fmt.Printf("  Stop with: devcost daemon stop --pid-file %s\n", flagDaemonPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		fmt.Printf("  Daemon: not running (pid file not found)\n")
		return nil
	}

	if !processAlive(pid) {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := daemonAddr()
	if st, err := readState(statePath(flagDaemonPIDFile)); err == nil && st.Addr != "" {
		addr = st.Addr
	}

	fmt.Printf("  Daemon PID: %d\n", pid)
	fmt.Printf("  Address: http://%s\n", addr)

	st, err := daemon.NewClient(addr).Status(context.Background())
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}

	if st.LastPollAt.IsZero() {
		fmt.Printf("  Last poll: pending\n")
	} else {
		fmt.Printf("  Last poll: %s\n", st.LastPollAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("  Poll count: %d\n", st.PollCount)
	fmt.Printf("  Price entity: %s\n", st.PriceEntity)
	fmt.Printf("  Sensors: %d\n", len(st.Sensors))
	for _, s := range st.Sensors {
		fmt.Printf("    %-40s %s\n", s.EntityID, cli.FormatCost(s.TotalCost, s.Unit))
	}
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", st.LastError)
	}
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(flagDaemonPIDFile)
			_ = os.Remove(statePath(flagDaemonPIDFile))
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func ensureDaemonNotRunning(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	_ = os.Remove(statePath(pidFile))
	return nil
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func readPID(path string) (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func statePath(pidFile string) string {
	return pidFile + ".json"
}

func writeState(path string, st daemonRuntimeState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readState(path string) (daemonRuntimeState, error) {
	var st daemonRuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}
