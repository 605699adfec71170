// Package config loads store configuration from a YAML file and TXENTITY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// EnvPrefix is the prefix of environment overrides, e.g. TXENTITY_BACKEND.
const EnvPrefix = "TXENTITY"

// Config is the resolved configuration.
type Config struct {
	// Backend selects the durable backend: "sqlite" or "bolt".
	Backend string `mapstructure:"backend" json:"backend"`

	// Path is the database file.
	Path string `mapstructure:"path" json:"path"`

	// TrackEntityCreation records creation sites of sessions and wrappers.
	TrackEntityCreation bool `mapstructure:"track_entity_creation" json:"track_entity_creation"`

	// IdentityCacheSize bounds the loaded wrappers each session keeps.
	IdentityCacheSize int `mapstructure:"identity_cache_size" json:"identity_cache_size"`

	// Model is an optional CUE model file.
	Model string `mapstructure:"model" json:"model,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendSQLite)
	v.SetDefault("path", "txentity.db")
	v.SetDefault("track_entity_creation", false)
	v.SetDefault("identity_cache_size", 1024)
	v.SetDefault("model", "")
	v.SetDefault("log_level", "info")
}

// New returns a viper instance with defaults and environment binding. If
// path is set, the file is read; a missing file is an error.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the configuration file at path (optional) and the environment,
// and validates the result.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q (want %s or %s)", c.Backend, BackendSQLite, BackendBolt))
	}
	if c.Path == "" {
		errs = append(errs, errors.New("path: must not be empty"))
	}
	if c.IdentityCacheSize < 1 {
		errs = append(errs, fmt.Errorf("identity_cache_size: must be positive, got %d", c.IdentityCacheSize))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the log level as a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
