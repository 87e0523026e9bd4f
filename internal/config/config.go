// Package config loads sibyl's TOML configuration with viper.
//
// Values come from defaults, then the optional file, then SIBYL_*
// environment variables (section separators become underscores, e.g.
// SIBYL_LOG_DIR). Command-line flags are applied by the binaries on top.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/s-viour/sibyl/internal/logger"
)

const (
	DefaultSocket        = "/tmp/sibyl.sock"
	DefaultLogDir        = "/tmp/sibyllog"
	DefaultMetricsListen = "127.0.0.1:9464"
	DefaultHistoryWait   = 2 * time.Second
	EnvPrefix            = "SIBYL"
)

// Config is the full configuration shared by sibyl and sibyld.
type Config struct {
	Socket  string        `mapstructure:"socket"`
	Log     LogConfig     `mapstructure:"log"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

// LogConfig locates the captured output of spawned programs.
type LogConfig struct {
	Dir string `mapstructure:"dir"`
}

// DaemonConfig controls sibyld's own diagnostics.
type DaemonConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	PIDFile    string `mapstructure:"pidfile"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig lists the sinks that receive spawn and exit events.
// Sends run on the serving goroutine, so an unreachable sink can delay the
// triggering request by up to Timeout (default 2s) per sink.
type HistoryConfig struct {
	DSN     []string      `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds opt-in bounds; zero disables each one.
type LimitsConfig struct {
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

// Logger converts the daemon section into a logger.Config.
func (d DaemonConfig) Logger() logger.Config {
	return logger.Config{
		Level:      d.Level,
		Format:     d.Format,
		File:       d.File,
		MaxSizeMB:  d.MaxSizeMB,
		MaxBackups: d.MaxBackups,
		MaxAgeDays: d.MaxAgeDays,
		Compress:   d.Compress,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("log.dir", DefaultLogDir)
	v.SetDefault("daemon.level", "info")
	v.SetDefault("daemon.format", logger.FormatText)
	v.SetDefault("daemon.file", "")
	v.SetDefault("daemon.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("daemon.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("daemon.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("daemon.compress", false)
	v.SetDefault("daemon.pidfile", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", DefaultMetricsListen)
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("history.timeout", DefaultHistoryWait)
	v.SetDefault("limits.max_frame_bytes", 0)
	v.SetDefault("limits.read_timeout", time.Duration(0))
}

func read(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadSocket resolves only the socket path from path and the environment.
// Daemon-only sections are neither decoded nor validated.
func LoadSocket(path string) (string, error) {
	v, err := read(path)
	if err != nil {
		return "", err
	}
	socket := strings.TrimSpace(v.GetString("socket"))
	if socket == "" {
		return "", errors.New("invalid config: socket path is empty")
	}
	return socket, nil
}

// Load reads path (which may be empty) and the environment. The result
// is validated.
func Load(path string) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Socket) == "" {
		errs = append(errs, errors.New("socket path must not be empty"))
	}
	if strings.TrimSpace(c.Log.Dir) == "" {
		errs = append(errs, errors.New("log.dir must not be empty"))
	}
	if _, err := logger.ParseLevel(c.Daemon.Level); err != nil {
		errs = append(errs, fmt.Errorf("daemon.level: %w", err))
	}
	switch strings.ToLower(c.Daemon.Format) {
	case "", logger.FormatText, logger.FormatJSON, logger.FormatColor:
	default:
		errs = append(errs, fmt.Errorf("daemon.format: unknown log format %q", c.Daemon.Format))
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		errs = append(errs, errors.New("metrics.listen must be set when metrics are enabled"))
	}
	if c.History.Timeout < 0 {
		errs = append(errs, errors.New("history.timeout must not be negative"))
	}
	if c.Limits.MaxFrameBytes < 0 {
		errs = append(errs, errors.New("limits.max_frame_bytes must not be negative"))
	}
	if c.Limits.ReadTimeout < 0 {
		errs = append(errs, errors.New("limits.read_timeout must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
