// Package registry maps physical Channel Access channels to the logical
// accessors layered on them.
//
// A Registry owns every channel of one backend connection episode. A single
// mutex serializes attach, detach, configure, subscription changes,
// exception fan-out and the transport callbacks, so each check-then-act
// sequence is atomic with respect to connection and data events. The lock is
// never held across blocking transport I/O: Acquire hands out a use-counted
// Handle for Get and Put, and clearing a channel in use is deferred until the
// last handle is released.
//
// Values reach attached accessors through Subscriber.Deliver. A slow reader
// only sees the most recent values; its queue overwrites the oldest entry.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/convert"
	"github.com/pvmux/pvmux-go/pkg/log"
)

// Config configures a Registry.
type Config struct {
	// Logger for operational messages. Nil discards them.
	Logger *slog.Logger

	// Events receives the channel event log. Nil disables it.
	Events log.Logger

	// SessionID tags every event.
	SessionID string

	// Hooks receives lifecycle notifications. Optional.
	Hooks Hooks
}

// Registry is the channel registry of one connection episode.
type Registry struct {
	mu        sync.Mutex
	transport ca.Transport
	channels  map[string]*Channel
	byID      map[ca.ChannelID]*Channel
	closed    bool

	// asyncActive is set between ActivateAll and DeactivateAll.
	asyncActive bool

	// changed is closed and replaced on every state change.
	changed chan struct{}
	subGen  uint64

	logger    *slog.Logger
	events    log.Logger
	sessionID string
	hooks     Hooks
}

// New creates an empty registry on transport.
func New(transport ca.Transport, cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		transport: transport,
		channels:  make(map[string]*Channel),
		byID:      make(map[ca.ChannelID]*Channel),
		changed:   make(chan struct{}),
		logger:    logger,
		events:    log.OrNoop(cfg.Events),
		sessionID: cfg.SessionID,
		hooks:     cfg.Hooks,
	}
}

// deferred collects work to run once the lock is released.
type deferred []func()

func (d *deferred) add(f func()) { *d = append(*d, f) }

func (d *deferred) run() {
	for _, f := range *d {
		f()
	}
}

func (r *Registry) emit(after *deferred, e log.Event) {
	e.Timestamp = time.Now()
	e.SessionID = r.sessionID
	after.add(func() { r.events.Log(e) })
}

func (r *Registry) stateEvent(after *deferred, ch *Channel, from, to State, reason string) {
	r.emit(after, log.Event{
		Layer:    log.LayerRegistry,
		Category: log.CategoryState,
		Channel:  ch.name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityChannel,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (r *Registry) subscriptionEvent(after *deferred, ch *Channel, action log.SubscriptionAction, reason string) {
	r.emit(after, log.Event{
		Layer:    log.LayerRegistry,
		Category: log.CategorySubscription,
		Channel:  ch.name,
		Subscription: &log.SubscriptionEvent{
			Action:    action,
			Accessors: ch.asyncAccessors(),
			Reason:    reason,
		},
	})
}

func (r *Registry) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Registry) lookupLocked(name string) (*Channel, error) {
	if r.closed {
		return nil, ErrRegistryClosed
	}
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return ch, nil
}

// AddChannel registers name and requests a connection. Adding a known
// channel is a no-op. A synchronous transport rejection is returned as a
// *ProtocolError and the channel is not registered.
func (r *Registry) AddChannel(name string) error {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.channels[name]; ok {
		return nil
	}

	ch := &Channel{name: name, state: StateUnconnected, typ: ca.FieldInvalid}
	id, err := r.transport.CreateChannel(name, r.onConnection, r)
	if err != nil {
		r.logger.Error("failed to create channel", "channel", name, "error", err)
		return &ProtocolError{Channel: name, Op: "create channel", Err: err}
	}
	ch.id = id
	ch.state = StateConnecting
	r.channels[name] = ch
	r.byID[id] = ch
	r.stateEvent(&after, ch, StateUnconnected, StateConnecting, "")
	return nil
}

// Attach appends s to the accessors of name. If the channel is connected,
// subscribed and has a value, s receives a replay of it. An updating
// accessor attached to a lost channel is failed with ErrDisconnected. While
// async delivery is active, attaching the first updating accessor
// subscribes the channel.
func (r *Registry) Attach(name string, s Subscriber) error {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(name)
	if err != nil {
		return err
	}
	ch.accessors = append(ch.accessors, s)
	if !s.WantsUpdates() {
		return nil
	}

	if ch.state == StateLost {
		s.Fail(fmt.Errorf("%w: %s", ErrDisconnected, ch.name))
		if r.asyncActive {
			return r.activateLocked(ch, &after)
		}
		return nil
	}
	if ch.state == StateConnected && ch.subscribed && ch.value != nil {
		overwritten := s.Deliver(ch.value.Clone())
		r.emit(&after, dataEvent(ch, ch.value, 1, boolCount(overwritten), true))
		return nil
	}
	if r.asyncActive {
		return r.activateLocked(ch, &after)
	}
	return nil
}

// Detach removes s from name. Detaching an unknown channel or accessor is a
// logged no-op. Removing the last updating accessor clears the
// subscription.
func (r *Registry) Detach(name string, s Subscriber) {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		r.logger.Debug("detach from unknown channel", "channel", name)
		return
	}
	i := slices.IndexFunc(ch.accessors, func(a Subscriber) bool { return a == s })
	if i < 0 {
		r.logger.Debug("detach of accessor not attached", "channel", name)
		return
	}
	ch.accessors = slices.Delete(ch.accessors, i, i+1)

	if ch.asyncAccessors() == 0 {
		ch.wantSub = false
		if ch.subscribed {
			r.clearSubscriptionLocked(ch, &after, "last accessor detached")
			if err := r.transport.FlushIO(); err != nil {
				r.logger.Warn("flush after unsubscribe failed", "channel", name, "error", err)
			}
		}
	}
}

// Configure reads the element count, type and access rights of a connected
// channel. It is a no-op if the channel is already configured for the
// current connection.
func (r *Registry) Configure(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(name)
	if err != nil {
		return err
	}
	if ch.state != StateConnected {
		return fmt.Errorf("%w: %s", ErrDisconnected, name)
	}
	if ch.configured {
		return nil
	}
	r.configureLocked(ch)
	return ch.codecErr
}

// configureLocked freezes the channel metadata and reports whether type or
// count differ from the previous configuration.
func (r *Registry) configureLocked(ch *Channel) (changed bool) {
	typ := r.transport.FieldType(ch.id)
	count := r.transport.ElementCount(ch.id)
	changed = ch.typ != ca.FieldInvalid && (typ != ch.typ || count != ch.count)

	ch.typ = typ
	ch.count = count
	ch.readable = r.transport.ReadAccess(ch.id)
	ch.writable = r.transport.WriteAccess(ch.id)
	ch.codec, ch.codecErr = convert.CodecFor(typ)
	if ch.codecErr != nil {
		ch.codecErr = fmt.Errorf("%w: %s is %s", ErrUnsupportedType, ch.name, typ)
		r.logger.Error("unsupported channel type", "channel", ch.name, "type", typ.String())
	}
	ch.configured = true
	return changed
}

// ActivateSubscription subscribes name if it has updating accessors and no
// subscription yet. A channel that is not connected is subscribed once it
// connects.
func (r *Registry) ActivateSubscription(name string) error {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(name)
	if err != nil {
		return err
	}
	return r.activateLocked(ch, &after)
}

// ActivateAll enables async delivery and subscribes every channel with
// updating accessors.
func (r *Registry) ActivateAll() error {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	r.asyncActive = true
	var errs []error
	for _, name := range r.sortedNamesLocked() {
		if err := r.activateLocked(r.channels[name], &after); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.transport.FlushIO(); err != nil {
		errs = append(errs, &ProtocolError{Op: "flush", Err: err})
	}
	return errors.Join(errs...)
}

func (r *Registry) activateLocked(ch *Channel, after *deferred) error {
	if ch.subscribed || ch.asyncAccessors() == 0 {
		return nil
	}
	ch.wantSub = true
	if ch.state != StateConnected || !ch.configured {
		return nil
	}
	return r.subscribeLocked(ch, after, log.SubscriptionActivated)
}

func (r *Registry) subscribeLocked(ch *Channel, after *deferred, action log.SubscriptionAction) error {
	if ch.codecErr != nil {
		return ch.codecErr
	}
	r.subGen++
	tag := subscriptionTag{reg: r, gen: r.subGen}
	ev, err := r.transport.Subscribe(ch.id, ch.typ, ch.count, r.onEvent, tag)
	if err != nil {
		r.logger.Error("failed to subscribe", "channel", ch.name, "error", err)
		return &ProtocolError{Channel: ch.name, Op: "subscribe", Err: err}
	}
	ch.sub = ev
	ch.subGen = tag.gen
	ch.subscribed = true
	ch.initialValue = false
	r.subscriptionEvent(after, ch, action, "")
	return nil
}

func (r *Registry) clearSubscriptionLocked(ch *Channel, after *deferred, reason string) {
	if err := r.transport.ClearSubscription(ch.sub); err != nil {
		r.logger.Debug("clear subscription failed", "channel", ch.name, "error", err)
	}
	ch.subscribed = false
	ch.sub = 0
	ch.initialValue = false
	r.subscriptionEvent(after, ch, log.SubscriptionDeactivated, reason)
}

// DeactivateAll disables async delivery and clears every subscription.
func (r *Registry) DeactivateAll() {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.asyncActive = false
	for _, ch := range r.channels {
		ch.wantSub = false
		if ch.subscribed {
			r.clearSubscriptionLocked(ch, &after, "deactivated")
		}
	}
	if err := r.transport.FlushIO(); err != nil {
		r.logger.Warn("flush after deactivation failed", "error", err)
	}
}

// PropagateException marks every connected channel lost and queues exactly
// one failure for each attached accessor. Channels already lost are left
// alone, so repeated calls fan out once per transition.
func (r *Registry) PropagateException(reason error) {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	if reason == nil {
		reason = ErrException
	}
	failure := fmt.Errorf("%w: %w", ErrException, reason)
	if errors.Is(reason, ErrException) {
		failure = reason
	}
	for _, name := range r.sortedNamesLocked() {
		ch := r.channels[name]
		if ch.state != StateConnected {
			continue
		}
		ch.state = StateLost
		ch.configured = false
		ch.initialValue = false
		for _, a := range ch.accessors {
			a.Fail(failure)
		}
		r.stateEvent(&after, ch, StateConnected, StateLost, reason.Error())
	}
	r.broadcastLocked()
}

// Acquire returns a handle for blocking I/O on a connected channel.
func (r *Registry) Acquire(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	if ch.state != StateConnected || !ch.configured {
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, name)
	}
	if ch.codecErr != nil {
		return nil, ch.codecErr
	}
	ch.users++
	return &Handle{
		ID:       ch.id,
		Name:     ch.name,
		Count:    ch.count,
		Type:     ch.typ,
		Codec:    ch.codec,
		Readable: ch.readable,
		Writable: ch.writable,
		reg:      r,
		ch:       ch,
	}, nil
}

func (r *Registry) release(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch.users--
	if ch.users == 0 && ch.clearPending {
		ch.clearPending = false
		if err := r.transport.ClearChannel(ch.id); err != nil {
			r.logger.Debug("deferred channel clear failed", "channel", ch.name, "error", err)
		}
	}
}

// Info returns a snapshot of name.
func (r *Registry) Info(name string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(name)
	if err != nil {
		return Info{}, err
	}
	return ch.info(), nil
}

// State returns the connection state of name.
func (r *Registry) State(name string) (State, error) {
	info, err := r.Info(name)
	return info.State, err
}

// Value returns a copy of the last value received for name.
func (r *Registry) Value(name string) (*ca.TimeValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok || ch.value == nil {
		return nil, false
	}
	return ch.value.Clone(), true
}

// Channels returns the registered channel names, sorted.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AttachedCount returns the number of accessors attached to name.
func (r *Registry) AttachedCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return len(ch.accessors)
	}
	return 0
}

// Subscribed reports whether name has an active subscription.
func (r *Registry) Subscribed(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ok && ch.subscribed
}

// Close clears all subscriptions and channels. Channels with outstanding
// handles are cleared when the last handle is released. Close is
// idempotent.
func (r *Registry) Close() {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.asyncActive = false
	for _, ch := range r.channels {
		if ch.subscribed {
			r.clearSubscriptionLocked(ch, &after, "registry closed")
		}
		ch.accessors = nil
		if ch.users > 0 {
			ch.clearPending = true
			continue
		}
		if err := r.transport.ClearChannel(ch.id); err != nil {
			r.logger.Debug("clear channel failed", "channel", ch.name, "error", err)
		}
	}
	clear(r.channels)
	clear(r.byID)
	if err := r.transport.FlushIO(); err != nil {
		r.logger.Debug("flush on close failed", "error", err)
	}
	r.broadcastLocked()
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dataEvent(ch *Channel, v *ca.TimeValue, delivered, overwritten int, replay bool) log.Event {
	return log.Event{
		Layer:    log.LayerCallback,
		Category: log.CategoryData,
		Channel:  ch.name,
		Data: &log.DataEvent{
			Type:        v.Type,
			Count:       v.Count,
			Stamp:       v.Stamp.Time(),
			Severity:    v.Severity,
			Status:      v.Status,
			Delivered:   delivered,
			Overwritten: overwritten,
			Replay:      replay,
		},
	}
}
