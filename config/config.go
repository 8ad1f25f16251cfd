// Package config loads and persists the application configuration: transfer
// settings, watch-folder settings, history settings, logging, and the
// recently used source and destination lists. The engine packages never
// read configuration themselves; values are passed to them at construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// MaxRecent caps the recent source and destination lists.
const MaxRecent = 10

// Config holds all persisted application settings.
type Config struct {
	Transfer TransferConfig `mapstructure:"transfer"`
	Watch    WatchConfig    `mapstructure:"watch"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Recent   RecentConfig   `mapstructure:"recent"`
}

// TransferConfig holds the values handed to the transfer queue.
type TransferConfig struct {
	ChunkSize         int    `mapstructure:"chunk_size"`
	VerifyChecksum    bool   `mapstructure:"verify_checksum"`
	ChecksumAlgorithm string `mapstructure:"checksum_algorithm"`
	OverwritePolicy   string `mapstructure:"overwrite_policy"` // skip, overwrite, rename
	Workers           int    `mapstructure:"workers"`
}

// WatchConfig holds watch-folder settings.
type WatchConfig struct {
	SettlingDelay time.Duration `mapstructure:"settling_delay"`
}

// HistoryConfig holds the transfer journal settings.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RecentConfig holds the recently used path lists, newest first.
type RecentConfig struct {
	Sources      []string `mapstructure:"sources"`
	Destinations []string `mapstructure:"destinations"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Transfer: TransferConfig{
			ChunkSize:         1024 * 1024,
			VerifyChecksum:    false,
			ChecksumAlgorithm: "sha256",
			OverwritePolicy:   "skip",
			Workers:           1,
		},
		Watch: WatchConfig{
			SettlingDelay: 2 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(defaultDir(), "history.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.json")
}

func defaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".courier")
}

// Load reads the configuration file at path, merging it over the defaults
// and applying COURIER_* environment overrides. A missing file is not an
// error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	// Every key must be registered before Unmarshal, or AutomaticEnv
	// only overrides keys that happen to appear in the file.
	setDefaults(v, cfg)

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
		}).Debug("No config file found, using defaults")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("transfer.chunk_size", cfg.Transfer.ChunkSize)
	v.SetDefault("transfer.verify_checksum", cfg.Transfer.VerifyChecksum)
	v.SetDefault("transfer.checksum_algorithm", cfg.Transfer.ChecksumAlgorithm)
	v.SetDefault("transfer.overwrite_policy", cfg.Transfer.OverwritePolicy)
	v.SetDefault("transfer.workers", cfg.Transfer.Workers)
	v.SetDefault("watch.settling_delay", cfg.Watch.SettlingDelay.String())
	v.SetDefault("history.enabled", cfg.History.Enabled)
	v.SetDefault("history.path", cfg.History.Path)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("recent.sources", cfg.Recent.Sources)
	v.SetDefault("recent.destinations", cfg.Recent.Destinations)
}

// Save writes the configuration to path as JSON, creating the parent
// directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")

	v.Set("transfer.chunk_size", cfg.Transfer.ChunkSize)
	v.Set("transfer.verify_checksum", cfg.Transfer.VerifyChecksum)
	v.Set("transfer.checksum_algorithm", cfg.Transfer.ChecksumAlgorithm)
	v.Set("transfer.overwrite_policy", cfg.Transfer.OverwritePolicy)
	v.Set("transfer.workers", cfg.Transfer.Workers)
	v.Set("watch.settling_delay", cfg.Watch.SettlingDelay.String())
	v.Set("history.enabled", cfg.History.Enabled)
	v.Set("history.path", cfg.History.Path)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("recent.sources", cfg.Recent.Sources)
	v.Set("recent.destinations", cfg.Recent.Destinations)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Save",
		"path":     path,
	}).Debug("Configuration saved")

	return nil
}

// AddRecentSource records a source path at the front of the recent list,
// deduplicating and capping at MaxRecent.
func (c *Config) AddRecentSource(path string) {
	c.Recent.Sources = pushRecent(c.Recent.Sources, path)
}

// AddRecentDestination records a destination path at the front of the
// recent list, deduplicating and capping at MaxRecent.
func (c *Config) AddRecentDestination(path string) {
	c.Recent.Destinations = pushRecent(c.Recent.Destinations, path)
}

func pushRecent(list []string, path string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, path)
	for _, p := range list {
		if p != path {
			out = append(out, p)
		}
	}
	if len(out) > MaxRecent {
		out = out[:MaxRecent]
	}
	return out
}
