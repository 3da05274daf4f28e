// Package config loads the pvmux application configuration.
//
// The configuration is a YAML file. Selected keys can be overridden with
// PVMUX_* environment variables. The result is validated before it is
// converted into the configuration structs of the library packages.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pvmux/pvmux-go/pkg/backend"
	"github.com/pvmux/pvmux-go/pkg/connection"
	"github.com/pvmux/pvmux-go/pkg/log"
)

type Config struct {
	MapFile    string           `yaml:"map_file" validate:"required"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Queue      QueueConfig      `yaml:"queue"`
	Version    VersionConfig    `yaml:"version"`
	Logging    LoggingConfig    `yaml:"logging"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Simulation SimulationConfig `yaml:"simulation"`

	// dir is the directory of the loaded file. Relative paths resolve
	// against it.
	dir string
}

type TimeoutsConfig struct {
	ConnectMS      int `yaml:"connect_ms" validate:"min=1"`
	IOMS           int `yaml:"io_ms" validate:"min=1"`
	InitialValueMS int `yaml:"initial_value_ms" validate:"min=0"`
}

type QueueConfig struct {
	Capacity int `yaml:"capacity" validate:"min=1,max=1024"`
}

type VersionConfig struct {
	CacheSize int `yaml:"cache_size" validate:"min=1"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=text json"`
	EventLog string `yaml:"event_log"`
}

type ReconnectConfig struct {
	InitialMS  int     `yaml:"initial_ms" validate:"min=1"`
	MaxMS      int     `yaml:"max_ms" validate:"min=1,gtefield=InitialMS"`
	Multiplier float64 `yaml:"multiplier" validate:"gt=1"`
	Jitter     float64 `yaml:"jitter" validate:"min=0,max=1"`
}

type SimulationConfig struct {
	PVs []PVConfig `yaml:"pvs" validate:"dive"`
}

// PVConfig describes one process variable served by the simulated IOC.
type PVConfig struct {
	Name     string   `yaml:"name" validate:"required"`
	Type     string   `yaml:"type" validate:"oneof=string short int float enum char long double"`
	Count    int      `yaml:"count" validate:"min=1"`
	ReadOnly bool     `yaml:"read_only"`
	Values   []string `yaml:"values"`
	UpdateMS int      `yaml:"update_ms" validate:"min=0"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Timeouts: TimeoutsConfig{
			ConnectMS:      int(backend.DefaultConnectTimeout / time.Millisecond),
			IOMS:           int(backend.DefaultIOTimeout / time.Millisecond),
			InitialValueMS: int(backend.DefaultInitialValueTimeout / time.Millisecond),
		},
		Queue:   QueueConfig{Capacity: 3},
		Version: VersionConfig{CacheSize: 2000},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Reconnect: ReconnectConfig{
			InitialMS:  int(connection.InitialBackoff / time.Millisecond),
			MaxMS:      int(connection.MaxBackoff / time.Millisecond),
			Multiplier: connection.BackoffMultiplier,
			Jitter:     connection.JitterFactor,
		},
	}
}

// Load reads configuration from file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML on top of Default, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for i := range cfg.Simulation.PVs {
		if cfg.Simulation.PVs[i].Count == 0 {
			cfg.Simulation.PVs[i].Count = 1
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks for environment variables with PVMUX_ prefix
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PVMUX_MAP_FILE"); v != "" {
		cfg.MapFile = v
	}
	if v := os.Getenv("PVMUX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PVMUX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("PVMUX_EVENT_LOG"); v != "" {
		cfg.Logging.EventLog = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PVMUX_CONNECT_TIMEOUT_MS", &cfg.Timeouts.ConnectMS},
		{"PVMUX_IO_TIMEOUT_MS", &cfg.Timeouts.IOMS},
		{"PVMUX_INITIAL_VALUE_TIMEOUT_MS", &cfg.Timeouts.InitialValueMS},
		{"PVMUX_QUEUE_CAPACITY", &cfg.Queue.Capacity},
	}
	for _, o := range ints {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.key, err)
		}
		*o.dst = n
	}
	return nil
}

// MapPath returns the map file path, resolved against the directory of the
// configuration file when relative.
func (c *Config) MapPath() string {
	if c.dir == "" || filepath.IsAbs(c.MapFile) {
		return c.MapFile
	}
	return filepath.Join(c.dir, c.MapFile)
}

// EventLogPath returns the event log path resolved like MapPath, or "" when
// event capture is disabled.
func (c *Config) EventLogPath() string {
	p := c.Logging.EventLog
	if p == "" || c.dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// BackendConfig converts c into a backend configuration.
func (c *Config) BackendConfig(logger *slog.Logger, events log.Logger) backend.Config {
	return backend.Config{
		MapFile:             c.MapPath(),
		ConnectTimeout:      ms(c.Timeouts.ConnectMS),
		IOTimeout:           ms(c.Timeouts.IOMS),
		InitialValueTimeout: ms(c.Timeouts.InitialValueMS),
		QueueCapacity:       c.Queue.Capacity,
		VersionCacheSize:    c.Version.CacheSize,
		Logger:              logger,
		Events:              events,
	}
}

// ManagerConfig converts the reconnect settings into a recovery manager
// configuration.
func (c *Config) ManagerConfig(logger *slog.Logger, events log.Logger) connection.ManagerConfig {
	return connection.ManagerConfig{
		Backoff: connection.BackoffConfig{
			Initial:    ms(c.Reconnect.InitialMS),
			Max:        ms(c.Reconnect.MaxMS),
			Multiplier: c.Reconnect.Multiplier,
			Jitter:     c.Reconnect.Jitter,
		},
		AttemptTimeout: ms(c.Timeouts.ConnectMS) + ms(c.Timeouts.InitialValueMS),
		Logger:         logger,
		Events:         events,
	}
}

// NewLogger builds the operational logger described by the logging section.
func (l *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel maps the configured level name to a slog level.
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
