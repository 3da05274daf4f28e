package backend

import (
	"log/slog"
	"time"

	"github.com/pvmux/pvmux-go/pkg/catalogue"
	"github.com/pvmux/pvmux-go/pkg/log"
	"github.com/pvmux/pvmux-go/pkg/queue"
	"github.com/pvmux/pvmux-go/pkg/version"
)

// Default timeouts.
const (
	DefaultConnectTimeout      = 10 * time.Second
	DefaultIOTimeout           = 30 * time.Second
	DefaultInitialValueTimeout = 10 * time.Second
)

// Config configures a Backend.
type Config struct {
	// MapFile is the register map. Ignored when Catalogue is set.
	MapFile string

	// Catalogue is a preloaded register map.
	Catalogue *catalogue.Catalogue

	// ConnectTimeout bounds the wait for all channels in Open.
	ConnectTimeout time.Duration

	// IOTimeout bounds every synchronous get and put.
	IOTimeout time.Duration

	// InitialValueTimeout bounds the wait for first monitor values in
	// ActivateAsyncRead. Expiry is logged, not returned.
	InitialValueTimeout time.Duration

	// QueueCapacity is the notification queue length of async accessors.
	QueueCapacity int

	// VersionCacheSize is the number of time stamps remembered for version
	// deduplication.
	VersionCacheSize int

	// Logger is the optional logger for operational messages.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// Events receives the channel event log. Optional.
	Events log.Logger
}

// DefaultConfig returns a Config with the default timeouts and sizes.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      DefaultConnectTimeout,
		IOTimeout:           DefaultIOTimeout,
		InitialValueTimeout: DefaultInitialValueTimeout,
		QueueCapacity:       queue.DefaultCapacity,
		VersionCacheSize:    version.DefaultCacheSize,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	if c.InitialValueTimeout <= 0 {
		c.InitialValueTimeout = d.InitialValueTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.VersionCacheSize <= 0 {
		c.VersionCacheSize = d.VersionCacheSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Events = log.OrNoop(c.Events)
}
