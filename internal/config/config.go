// Package config loads the devcost TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/theirongolddev/devcost/internal/accumulator"
	"github.com/theirongolddev/devcost/internal/logging"
)

// Config holds all devcost configuration.
type Config struct {
	General       GeneralConfig       `toml:"general"`
	HomeAssistant HomeAssistantConfig `toml:"home_assistant"`
	Daemon        DaemonConfig        `toml:"daemon"`
	Storage       StorageConfig       `toml:"storage"`
	Accumulator   AccumulatorConfig   `toml:"accumulator"`
	Backfill      BackfillConfig      `toml:"backfill"`
	Logging       logging.Config      `toml:"logging"`
	Appearance    AppearanceConfig    `toml:"appearance"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	EnergyConfig string `toml:"energy_config"`
	// Currency is used when Home Assistant does not report one.
	Currency     string `toml:"currency"`
	BackfillDays int    `toml:"backfill_days"`
}

// HomeAssistantConfig holds REST API settings.
type HomeAssistantConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token,omitempty"`
}

// DaemonConfig holds the live accumulator runtime settings.
type DaemonConfig struct {
	Addr           string   `toml:"addr"`
	PollInterval   Duration `toml:"poll_interval"`
	ReloadInterval Duration `toml:"reload_interval"`
	EventsBuffer   int      `toml:"events_buffer"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
}

// StorageConfig locates the SQLite databases.
type StorageConfig struct {
	StatePath      string `toml:"state_path,omitempty"`
	StatisticsPath string `toml:"statistics_path,omitempty"`
	Namespace      string `toml:"namespace"`
}

// AccumulatorConfig selects how a decreasing energy reading is handled.
type AccumulatorConfig struct {
	DecreasePolicy string `toml:"decrease_policy"`
}

// BackfillConfig tunes historical reconstruction.
type BackfillConfig struct {
	Tolerance Duration `toml:"tolerance"`
	Source    string   `toml:"source"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			EnergyConfig: "/config/.storage/energy",
			Currency:     "EUR",
			BackfillDays: 30,
		},
		HomeAssistant: HomeAssistantConfig{
			URL: "http://homeassistant.local:8123",
		},
		Daemon: DaemonConfig{
			Addr:           "127.0.0.1:8788",
			PollInterval:   Duration{10 * time.Second},
			ReloadInterval: Duration{5 * time.Minute},
			EventsBuffer:   200,
		},
		Storage: StorageConfig{
			Namespace: "device_energy_cost",
		},
		Accumulator: AccumulatorConfig{
			DecreasePolicy: string(accumulator.PolicyFreeze),
		},
		Backfill: BackfillConfig{
			Tolerance: Duration{30 * time.Minute},
			Source:    "device_energy_cost",
		},
		Logging: logging.DefaultConfig(),
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devcost")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "devcost")
}

// ConfigPath returns the full path to the default config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir returns the XDG-compliant data directory.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "devcost")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "devcost")
}

// StatePath returns the accumulator state database path.
func (c Config) StatePath() string {
	if c.Storage.StatePath != "" {
		return c.Storage.StatePath
	}
	return filepath.Join(DataDir(), "state.db")
}

// StatisticsPath returns the statistics database path. It defaults to the
// state database so one file holds everything.
func (c Config) StatisticsPath() string {
	if c.Storage.StatisticsPath != "" {
		return c.Storage.StatisticsPath
	}
	return c.StatePath()
}

// Load reads the config file at path, or the default path when empty. A
// missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("reading config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	if _, err := accumulator.ParsePolicy(cfg.Accumulator.DecreasePolicy); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HASS_URL"); v != "" {
		cfg.HomeAssistant.URL = v
	}
	if v := os.Getenv("HASS_TOKEN"); v != "" {
		cfg.HomeAssistant.Token = v
	}
}

// Save writes the config to path, or the default path when empty.
func Save(path string, cfg Config) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists at path.
func Exists(path string) bool {
	if path == "" {
		path = ConfigPath()
	}
	_, err := os.Stat(path)
	return err == nil
}
