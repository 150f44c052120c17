// Package config handles host configuration.
//
// Values are layered: built-in defaults, then the YAML file in the data
// directory, then PTYHOST_* environment variables. Command-line flags are
// applied on top by the entry point.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/abdullathedruid/ptyhost/internal/trust"
)

// EnvPrefix is the prefix for environment overrides, e.g. PTYHOST_LISTEN.
const EnvPrefix = "ptyhost"

// Host modes understood by the trust gateway.
const (
	ModePackaged    = trust.ModePackaged
	ModeDevelopment = trust.ModeDevelopment
)

// Config holds host configuration.
type Config struct {
	// DataDir is the directory holding config.yaml.
	DataDir string `yaml:"-" ignored:"true"`

	// DefaultShell is used when a spawn request names no shell. Empty
	// selects $SHELL, then the first of bash and sh that exists.
	DefaultShell string `yaml:"default_shell" envconfig:"default_shell"`

	// Listen is the address of the websocket and metrics listener.
	Listen string `yaml:"listen" envconfig:"listen"`

	// Token authenticates the UI connection. Generated at startup if empty.
	Token string `yaml:"token" envconfig:"token"`

	Trust     TrustConfig     `yaml:"trust" envconfig:"trust"`
	Watch     WatchConfig     `yaml:"watch" envconfig:"watch"`
	Waiting   WaitingConfig   `yaml:"waiting" envconfig:"waiting"`
	Log       LogConfig       `yaml:"log" envconfig:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"rate_limit"`
}

// TrustConfig describes which UI documents may issue privileged commands.
type TrustConfig struct {
	// Mode is "packaged" or "development". Anything else rejects every sender.
	Mode string `yaml:"mode" envconfig:"mode"`

	// EntryURL is the packaged UI entry point, compared exactly.
	EntryURL string `yaml:"entry_url" envconfig:"entry_url"`

	// DevOrigin is the development server origin, honoured only in
	// development mode.
	DevOrigin string `yaml:"dev_origin" envconfig:"dev_origin"`

	// AllowMissingOrigin admits websocket upgrades without an Origin header
	// (non-browser clients). Request-level sender checks still apply.
	AllowMissingOrigin bool `yaml:"allow_missing_origin" envconfig:"allow_missing_origin"`
}

// WatchConfig tunes the filesystem watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" envconfig:"debounce"`
	// Ignore holds extra doublestar patterns, matched against paths
	// relative to the watched directory.
	Ignore []string `yaml:"ignore" envconfig:"ignore"`
}

// WaitingConfig tunes the waiting-state engine.
type WaitingConfig struct {
	Enabled             bool          `yaml:"enabled" envconfig:"enabled"`
	PollInterval        time.Duration `yaml:"poll_interval" envconfig:"poll_interval"`
	QuietWindow         time.Duration `yaml:"quiet_window" envconfig:"quiet_window"`
	IdleThreshold       time.Duration `yaml:"idle_threshold" envconfig:"idle_threshold"`
	InteractivePrograms []string      `yaml:"interactive_programs" envconfig:"interactive_programs"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"level"`
	Development bool   `yaml:"development" envconfig:"development"`
}

// RateLimitConfig bounds the command rate of a single UI connection.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"requests_per_second"`
	Burst             int     `yaml:"burst" envconfig:"burst"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Listen:  "127.0.0.1:7681",
		Trust: TrustConfig{
			Mode:      ModePackaged,
			EntryURL:  "app://ptyhost/index.html",
			DevOrigin: "http://localhost:5173",
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Waiting: WaitingConfig{
			Enabled:       true,
			PollInterval:  1500 * time.Millisecond,
			QuietWindow:   1500 * time.Millisecond,
			IdleThreshold: 4500 * time.Millisecond,
			InteractivePrograms: []string{
				"claude", "codex", "aider", "gemini", "opencode", "amp",
				"python", "python3", "node", "irb", "psql", "mysql", "sqlite3",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 200,
			Burst:             400,
		},
	}
}

// Load loads configuration from the default config file and the
// environment, falling back to defaults.
func Load() (*Config, error) {
	cfg := Default()
	return cfg, cfg.load(cfg.ConfigFile())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.DataDir = filepath.Dir(path)
	return cfg, cfg.load(path)
}

func (c *Config) load(path string) error {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Keys absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return err
	}

	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return c.Validate()
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ptyhost")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ptyhost"
	}
	return filepath.Join(home, ".config", "ptyhost")
}

// ConfigFile returns the path to the config file.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}
