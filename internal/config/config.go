package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the daemon configuration, read from a TOML file and
// overridable through ZAPDESK_* environment variables.
type Config struct {
	ServerURL string `toml:"server_url" envconfig:"SERVER_URL"`
	Token     string `toml:"token" envconfig:"TOKEN"`
	Instance  string `toml:"instance" envconfig:"INSTANCE"`
	Listen    string `toml:"listen" envconfig:"LISTEN"`
	DataDir   string `toml:"data_dir" envconfig:"DATA_DIR"`

	// Intervals in seconds. Zero means default.
	PollListSeconds   int `toml:"poll_list_seconds" envconfig:"POLL_LIST_SECONDS"`
	PollThreadSeconds int `toml:"poll_thread_seconds" envconfig:"POLL_THREAD_SECONDS"`
	KeepaliveSeconds  int `toml:"keepalive_seconds" envconfig:"KEEPALIVE_SECONDS"`
	BackoffBaseMillis int `toml:"backoff_base_millis" envconfig:"BACKOFF_BASE_MILLIS"`
	BackoffMaxSeconds int `toml:"backoff_max_seconds" envconfig:"BACKOFF_MAX_SECONDS"`
	TypingSeconds     int `toml:"typing_seconds" envconfig:"TYPING_SECONDS"`
}

// Load reads config from the given path, applies environment
// overrides, then defaults. A missing file is not an error as long as
// the required fields arrive via environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := envconfig.Process("zapdesk", &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.applyDefaults()
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required")
	}
	return &cfg, nil
}

// Default returns a config carrying every tunable's default value,
// ready to be written as a starter file for the user to edit.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8420"
	}
	if c.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, ".zapdesk")
	}
	if c.PollListSeconds <= 0 {
		c.PollListSeconds = 45
	}
	if c.PollThreadSeconds <= 0 {
		c.PollThreadSeconds = 10
	}
	if c.KeepaliveSeconds <= 0 {
		c.KeepaliveSeconds = 30
	}
	if c.BackoffBaseMillis <= 0 {
		c.BackoffBaseMillis = 500
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 30
	}
	if c.TypingSeconds <= 0 {
		c.TypingSeconds = 3
	}
}

// PollListInterval is the conversation-list fallback poll period.
func (c *Config) PollListInterval() time.Duration {
	return time.Duration(c.PollListSeconds) * time.Second
}

// PollThreadInterval is the open-thread fallback poll period.
func (c *Config) PollThreadInterval() time.Duration {
	return time.Duration(c.PollThreadSeconds) * time.Second
}

// KeepaliveInterval is the push-channel keepalive period.
func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}

// BackoffBase is the initial reconnect delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax caps the reconnect delay.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// TypingInterval is the minimum gap between typing notifications.
func (c *Config) TypingInterval() time.Duration {
	return time.Duration(c.TypingSeconds) * time.Second
}

// ArchivePath returns the sqlite archive location.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "archive.db")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "zapdeskd.log")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zapdesk", "config.toml")
}

// EnsureDataDir creates the data directory tree with 0700 permissions.
func (c *Config) EnsureDataDir() error {
	for _, d := range []string{c.DataDir, filepath.Dir(c.LogPath())} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
