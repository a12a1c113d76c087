// Package config loads docsync settings and collection schemas.
//
// Settings are read from docsync.toml (or .yaml/.json) in the working
// directory or its .docsync subdirectory. Any key can be overridden with an
// environment variable: store.retry_limit becomes DOCSYNC_STORE_RETRY_LIMIT.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the base name of the config file, without extension.
const FileName = "docsync"

// Config is the full configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" toml:"store"`
	Log     LogConfig     `mapstructure:"log" toml:"log"`
	Watch   WatchConfig   `mapstructure:"watch" toml:"watch"`
	Feed    FeedConfig    `mapstructure:"feed" toml:"feed"`
	Journal JournalConfig `mapstructure:"journal" toml:"journal"`
	Schemas []SchemaDef   `mapstructure:"schemas" toml:"schemas"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" toml:"-"`
}

// StoreConfig locates the document store.
type StoreConfig struct {
	// Path of the SQLite database file.
	Path string `mapstructure:"path" toml:"path"`
	// RetryLimit bounds the round trips of one save. Zero means unbounded.
	RetryLimit int `mapstructure:"retry_limit" toml:"retry_limit"`
}

// LogConfig controls where diagnostics go. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
}

// WatchConfig controls the directory mirror.
type WatchConfig struct {
	Dir      string `mapstructure:"dir" toml:"dir"`
	Debounce string `mapstructure:"debounce" toml:"debounce"`
}

// DebounceInterval parses Debounce.
func (w WatchConfig) DebounceInterval() (time.Duration, error) {
	d, err := time.ParseDuration(w.Debounce)
	if err != nil {
		return 0, fmt.Errorf("invalid watch.debounce %q: %w", w.Debounce, err)
	}
	return d, nil
}

// FeedConfig controls the change feed server.
type FeedConfig struct {
	Port int `mapstructure:"port" toml:"port"`
}

// JournalConfig controls the change journal. An empty Path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Store:   StoreConfig{Path: ".docsync/docsync.db"},
		Log:     LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Watch:   WatchConfig{Dir: "docs", Debounce: "100ms"},
		Feed:    FeedConfig{Port: 8080},
		Journal: JournalConfig{Path: ".docsync/journal.jsonl"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.retry_limit", d.Store.RetryLimit)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("watch.dir", d.Watch.Dir)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("feed.port", d.Feed.Port)
	v.SetDefault("journal.path", d.Journal.Path)
}

// Load reads the configuration. When file is empty, docsync.* is searched
// for in dir and dir/.docsync; a missing file yields the defaults.
func Load(dir, file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
		v.AddConfigPath(filepath.Join(dir, ".docsync"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings. Schemas are checked by BuildSchemas.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.RetryLimit < 0 {
		return fmt.Errorf("store.retry_limit must not be negative")
	}
	if c.Feed.Port < 0 || c.Feed.Port > 65535 {
		return fmt.Errorf("feed.port %d out of range", c.Feed.Port)
	}
	if _, err := c.Watch.DebounceInterval(); err != nil {
		return err
	}
	return nil
}
