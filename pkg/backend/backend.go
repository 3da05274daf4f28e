// Package backend exposes the registers of a Channel Access device through
// typed accessors.
//
// A Backend owns one channel registry per connection episode. Open creates
// the channels named in the register map and waits until all of them are
// connected. Any runtime failure seen by an accessor is reported with
// SetException, which marks the backend non-functional and fails every
// attached accessor exactly once. A later Open tears the old registry down,
// starts a new episode and re-attaches the accessors that are still alive.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/catalogue"
	"github.com/pvmux/pvmux-go/pkg/log"
	"github.com/pvmux/pvmux-go/pkg/registry"
	"github.com/pvmux/pvmux-go/pkg/version"
)

// MapParameter is the backend parameter naming the register map file.
const MapParameter = "map"

// Backend is a Channel Access device.
type Backend struct {
	transport ca.Transport
	cfg       Config
	catalogue *catalogue.Catalogue
	mapper    *version.Mapper
	logger    *slog.Logger
	events    log.Logger

	// opMu serializes Open, Close and accessor creation.
	opMu sync.Mutex

	mu           sync.Mutex
	reg          *registry.Registry
	opened       bool
	functional   bool
	asyncActive  bool
	exception    error
	startVersion version.Token
	sessionID    string
	live         map[*binding]struct{}
	onException  func(error)
}

var _ registry.Hooks = (*Backend)(nil)

// New creates a backend for transport. The register map is taken from
// cfg.Catalogue or loaded from cfg.MapFile.
func New(transport ca.Transport, cfg Config) (*Backend, error) {
	cfg.applyDefaults()

	cat := cfg.Catalogue
	if cat == nil {
		if cfg.MapFile == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingParameter, MapParameter)
		}
		var err error
		cat, err = catalogue.LoadFile(cfg.MapFile, cfg.Logger)
		if err != nil {
			return nil, err
		}
	}
	if cat.Len() == 0 {
		return nil, catalogue.ErrEmptyCatalogue
	}

	return &Backend{
		transport: transport,
		cfg:       cfg,
		catalogue: cat,
		mapper:    version.NewMapper(cfg.VersionCacheSize),
		logger:    cfg.Logger,
		events:    cfg.Events,
		live:      make(map[*binding]struct{}),
	}, nil
}

// NewFromParameters creates a backend from device parameters. The "map"
// parameter is required.
func NewFromParameters(transport ca.Transport, params map[string]string, logger *slog.Logger) (*Backend, error) {
	mapFile := params[MapParameter]
	if mapFile == "" {
		return nil, fmt.Errorf("%w: no map file provided", ErrMissingParameter)
	}
	cfg := DefaultConfig()
	cfg.MapFile = mapFile
	cfg.Logger = logger
	return New(transport, cfg)
}

// Open connects every channel of the register map. Opening a functional
// backend is a no-op. Otherwise the previous episode is torn down first.
func (b *Backend) Open(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	if b.opened && b.functional {
		b.mu.Unlock()
		return nil
	}
	old := b.reg
	b.reg = nil
	b.opened = false
	b.functional = false
	b.asyncActive = false
	b.mu.Unlock()

	if old != nil {
		old.DeactivateAll()
		old.Close()
	}

	sessionID := uuid.NewString()
	reg := registry.New(b.transport, registry.Config{
		Logger:    b.logger,
		Events:    b.events,
		SessionID: sessionID,
		Hooks:     b,
	})

	added := 0
	for _, name := range b.catalogue.Channels() {
		if err := reg.AddChannel(name); err != nil {
			n := b.catalogue.Remove(name)
			b.logger.Error("channel omitted from catalogue", "channel", name, "registers", n, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		reg.Close()
		return ErrNoChannels
	}
	if err := b.transport.FlushIO(); err != nil {
		reg.Close()
		return fmt.Errorf("%w: %v", registry.ErrProtocol, err)
	}

	wctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	err := reg.WaitForAllConnected(wctx)
	cancel()
	if err != nil {
		b.logger.Error("failed to establish channel access connection", "error", err)
		reg.Close()
		return err
	}

	for _, name := range reg.Channels() {
		if err := reg.Configure(name); err != nil {
			b.logger.Warn("channel configuration failed", "channel", name, "error", err)
		}
		info, err := reg.Info(name)
		if err != nil || !info.Configured {
			continue
		}
		b.catalogue.Update(name, catalogue.ChannelInfo{
			Elements: info.Count,
			Type:     info.Type,
			Readable: info.Readable,
			Writable: info.Writable,
		}, b.logger)
	}

	b.mu.Lock()
	b.reg = reg
	b.opened = true
	b.functional = true
	b.exception = nil
	b.startVersion = version.NewToken()
	b.sessionID = sessionID
	live := make([]*binding, 0, len(b.live))
	for s := range b.live {
		live = append(live, s)
	}
	b.mu.Unlock()

	for _, s := range live {
		if err := s.rebind(reg); err != nil {
			b.logger.Warn("failed to re-attach accessor", "path", s.path, "error", err)
		}
	}

	b.logger.Info("backend opened", "session_id", sessionID, "channels", added, "accessors", len(live))
	b.stateEvent(sessionID, "CLOSED", "OPEN", "")

	// A channel lost before the episode was published raised no exception.
	for _, name := range reg.Channels() {
		if st, _ := reg.State(name); st == registry.StateLost {
			b.SetException(fmt.Errorf("%w: %s", registry.ErrDisconnected, name))
			break
		}
	}
	return nil
}

// Close clears all subscriptions and channels. Accessors stay valid and are
// re-attached by the next Open.
func (b *Backend) Close() {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	reg := b.reg
	sessionID := b.sessionID
	wasOpen := b.opened
	b.reg = nil
	b.opened = false
	b.functional = false
	b.asyncActive = false
	b.mu.Unlock()

	if reg != nil {
		reg.DeactivateAll()
		reg.Close()
	}
	if wasOpen {
		b.logger.Info("backend closed", "session_id", sessionID)
		b.stateEvent(sessionID, "OPEN", "CLOSED", "")
	}
}

// SetException marks the backend non-functional and fails every attached
// accessor. Only the first call after a successful Open has an effect.
func (b *Backend) SetException(reason error) {
	b.mu.Lock()
	if !b.functional {
		b.mu.Unlock()
		return
	}
	if reason == nil {
		reason = registry.ErrException
	}
	b.functional = false
	b.asyncActive = false
	b.exception = reason
	reg := b.reg
	sessionID := b.sessionID
	fn := b.onException
	b.mu.Unlock()

	b.logger.Error("backend exception", "session_id", sessionID, "error", reason)
	if reg != nil {
		reg.PropagateException(reason)
		reg.DeactivateAll()
	}
	b.stateEvent(sessionID, "OPEN", "EXCEPTION", reason.Error())
	if fn != nil {
		fn(reason)
	}
}

// ActivateAsyncRead starts delivery to wait-for-new-data accessors and waits
// a bounded time for every subscribed channel's first value. It does nothing
// unless the backend is open and functional.
func (b *Backend) ActivateAsyncRead(ctx context.Context) error {
	b.mu.Lock()
	if !b.opened || !b.functional {
		b.mu.Unlock()
		return nil
	}
	b.asyncActive = true
	reg := b.reg
	b.mu.Unlock()

	if err := reg.ActivateAll(); err != nil {
		b.SetException(err)
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, b.cfg.InitialValueTimeout)
	defer cancel()
	if err := reg.WaitForInitialValues(wctx); err != nil {
		b.logger.Warn("initial values not received", "error", err)
	}
	return nil
}

// OnException registers fn to run after SetException took effect.
func (b *Backend) OnException(fn func(error)) {
	b.mu.Lock()
	b.onException = fn
	b.mu.Unlock()
}

// IsOpen reports whether Open succeeded and Close has not been called.
func (b *Backend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// IsFunctional reports whether the backend is open and has no exception.
func (b *Backend) IsFunctional() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened && b.functional
}

// IsAsyncReadActive reports whether ActivateAsyncRead is in effect.
func (b *Backend) IsAsyncReadActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asyncActive
}

// ActiveException returns the reason passed to SetException, or nil.
func (b *Backend) ActiveException() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exception
}

// Catalogue returns the register map.
func (b *Backend) Catalogue() *catalogue.Catalogue {
	return b.catalogue
}

// DeviceInfo describes the backend.
func (b *Backend) DeviceInfo() string {
	return fmt.Sprintf("Channel Access server (%d registers)", b.catalogue.Len())
}

// SessionID returns the ID of the current connection episode.
func (b *Backend) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// Registry returns the registry of the current episode, or nil.
func (b *Backend) Registry() *registry.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reg
}

// NotifyConnectionUp implements registry.Hooks.
func (b *Backend) NotifyConnectionUp(channel string) {
	b.logger.Debug("channel connected", "channel", channel)
}

// NotifyConnectionDown implements registry.Hooks. Losing any channel of
// the current episode raises the exception.
func (b *Backend) NotifyConnectionDown(channel string, reason error) {
	b.logger.Warn("channel disconnected", "channel", channel, "error", reason)

	b.mu.Lock()
	reg := b.reg
	b.mu.Unlock()
	if reg == nil {
		return
	}
	if st, err := reg.State(channel); err != nil || st != registry.StateLost {
		return
	}
	b.SetException(reason)
}

// NotifyException implements registry.Hooks.
func (b *Backend) NotifyException(reason error) {
	b.SetException(reason)
}

func (b *Backend) stateEvent(sessionID, from, to, reason string) {
	b.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Layer:     log.LayerBackend,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityBackend,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

// session returns what an accessor needs from the current episode.
func (b *Backend) session() (reg *registry.Registry, start version.Token, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return nil, version.Token{}, ErrNotOpen
	}
	return b.reg, b.startVersion, nil
}

func (b *Backend) track(s *binding) {
	b.mu.Lock()
	b.live[s] = struct{}{}
	b.mu.Unlock()
}

func (b *Backend) forget(s *binding) {
	b.mu.Lock()
	delete(b.live, s)
	b.mu.Unlock()
}
