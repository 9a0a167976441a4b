package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Paths         PathsConfig         `toml:"paths"`
	Processing    ProcessingConfig    `toml:"processing"`
	Logging       LoggingConfig       `toml:"logging"`
	Notifications NotificationsConfig `toml:"notifications"`
	Store         StoreConfig         `toml:"store"`
	Watch         WatchConfig         `toml:"watch"`
	Web           WebConfig           `toml:"web"`
	Schedules     []ScheduleConfig    `toml:"schedule"`
}

// PathsConfig holds the replay, output and converter locations
type PathsConfig struct {
	Replays   string `toml:"replays"`
	Output    string `toml:"output"`
	Converter string `toml:"converter"`
}

// ProcessingConfig holds batch settings
type ProcessingConfig struct {
	Reprocess    bool     `toml:"reprocess"`
	Workers      int      `toml:"workers"`
	MinBytes     int64    `toml:"min_bytes"`
	InputExt     string   `toml:"input_ext"`
	OutputExt    string   `toml:"output_ext"`
	PollInterval Duration `toml:"poll_interval"`
	JobTimeout   Duration `toml:"job_timeout"`
	StuckAfter   Duration `toml:"stuck_after"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// StoreConfig holds the conversion history database location
type StoreConfig struct {
	DatabasePath string `toml:"database_path"`
}

// WatchConfig holds replay directory watch settings
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// ScheduleConfig is a cron-triggered batch
type ScheduleConfig struct {
	Name      string `toml:"name"`
	Cron      string `toml:"cron"`
	Reprocess bool   `toml:"reprocess"`
}

// Duration is a time.Duration that reads and writes as "50ms" style text
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			Replays:   "",
			Output:    "output",
			Converter: filepath.Join("bin", converterBinary()),
		},
		Processing: ProcessingConfig{
			Reprocess:    false,
			Workers:      1,
			MinBytes:     1_000_000,
			InputExt:     ".dem",
			OutputExt:    ".json",
			PollInterval: Duration(50 * time.Millisecond),
			StuckAfter:   Duration(10 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "console",
			File:      filepath.Join(home, ".local", "state", "replay-orch", "app.log"),
			MaxSizeMB: 5,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(home, ".local", "share", "replay-orch", "history.db"),
		},
		Watch: WatchConfig{
			Debounce: Duration(2 * time.Second),
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.Paths.Replays = ExpandPath(cfg.Paths.Replays)
	cfg.Paths.Output = ExpandPath(cfg.Paths.Output)
	cfg.Paths.Converter = ExpandPath(cfg.Paths.Converter)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Store.DatabasePath = ExpandPath(cfg.Store.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a batch
func (c *Config) Validate() error {
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Processing.MinBytes < 0 {
		return fmt.Errorf("processing.min_bytes must not be negative")
	}
	if !strings.HasPrefix(c.Processing.InputExt, ".") || !strings.HasPrefix(c.Processing.OutputExt, ".") {
		return fmt.Errorf("processing.input_ext and output_ext must start with a dot")
	}
	if c.Processing.PollInterval.Std() <= 0 {
		return fmt.Errorf("processing.poll_interval must be positive")
	}
	if c.Processing.JobTimeout.Std() < 0 {
		return fmt.Errorf("processing.job_timeout must not be negative")
	}
	for i, s := range c.Schedules {
		if s.Name == "" || s.Cron == "" {
			return fmt.Errorf("schedule[%d]: name and cron are required", i)
		}
	}
	return nil
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// ErrConfigExists is returned by Init when a config file is already present
var ErrConfigExists = errors.New("config file already exists")

// Init writes a default config to path unless one exists
func Init(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, ErrConfigExists
	}
	cfg := Default()
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}
	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "replay-orch", "config.toml")
}
