package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pvmux/pvmux-go/pkg/log"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultAttemptTimeout bounds a single reconnect attempt.
const DefaultAttemptTimeout = 30 * time.Second

// State is the recovery state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the connection. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Backoff BackoffConfig

	// AttemptTimeout bounds each reconnect attempt.
	AttemptTimeout time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// Events receives recovery state changes. Optional.
	Events log.Logger
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Backoff:        DefaultBackoffConfig(),
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Manager tracks the connection state and reconnects with backoff after a
// loss.
type Manager struct {
	mu            sync.RWMutex
	state         State
	autoReconnect bool
	lastErr       error

	backoff   *Backoff
	connectFn ConnectFunc
	timeout   time.Duration
	logger    *slog.Logger
	events    log.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	reconnectCh chan struct{}
	loopStarted bool

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager with the default configuration.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithConfig(connectFn, DefaultManagerConfig())
}

// NewManagerWithConfig creates a manager with custom settings.
func NewManagerWithConfig(connectFn ConnectFunc, cfg ManagerConfig) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		state:         StateDisconnected,
		autoReconnect: true,
		backoff:       NewBackoffWithConfig(cfg.Backoff),
		connectFn:     connectFn,
		timeout:       cfg.AttemptTimeout,
		logger:        logger,
		events:        log.OrNoop(cfg.Events),
		ctx:           ctx,
		cancel:        cancel,
		reconnectCh:   make(chan struct{}, 1),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// LastError returns the error of the most recent failed attempt.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect runs the ConnectFunc once.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	old := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.changed(old, StateConnecting, "")

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if err != nil {
		m.state = StateDisconnected
		m.lastErr = err
		m.mu.Unlock()
		m.changed(StateConnecting, StateDisconnected, err.Error())
		return err
	}
	m.state = StateConnected
	m.lastErr = nil
	m.backoff.Reset()
	onConnected := m.onConnected
	m.mu.Unlock()

	m.changed(StateConnecting, StateConnected, "")
	if onConnected != nil {
		onConnected()
	}
	return nil
}

// Disconnect marks the connection down on request. With auto-reconnect
// enabled the reconnect loop takes over.
func (m *Manager) Disconnect() {
	m.lost("disconnect requested")
}

// NotifyConnectionLost reports a loss detected elsewhere. It is safe to
// call from any goroutine and does nothing unless connected.
func (m *Manager) NotifyConnectionLost() {
	m.lost("connection lost")
}

func (m *Manager) lost(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	auto := m.autoReconnect
	next := StateDisconnected
	if auto {
		next = StateReconnecting
	}
	m.state = next
	onDisconnected := m.onDisconnected
	m.mu.Unlock()

	m.changed(StateConnected, next, reason)
	if onDisconnected != nil {
		onDisconnected()
	}
	if auto {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background reconnect goroutine. Calling it
// more than once has no effect.
func (m *Manager) StartReconnectLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopStarted || m.state == StateClosed {
		return
	}
	m.loopStarted = true
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close stops the reconnect loop and waits for it to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.changed(old, StateClosed, "")
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

func (m *Manager) attemptReconnect() {
	for {
		if m.State() != StateReconnecting {
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		m.mu.RLock()
		onReconnecting := m.onReconnecting
		m.mu.RUnlock()
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}
		m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.State() != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		err := m.connectFn(ctx)
		cancel()

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		if err != nil {
			m.lastErr = err
			m.mu.Unlock()
			m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		m.state = StateConnected
		m.lastErr = nil
		m.backoff.Reset()
		onConnected := m.onConnected
		m.mu.Unlock()

		m.changed(StateReconnecting, StateConnected, "")
		if onConnected != nil {
			onConnected()
		}
		return
	}
}

func (m *Manager) changed(from, to State, reason string) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
	m.events.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerBackend,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRecovery,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnection.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// BackoffAttempts returns the number of reconnect attempts since the last
// success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
