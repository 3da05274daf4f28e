package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() ManagerConfig {
	return ManagerConfig{
		Backoff: BackoffConfig{
			Initial:    10 * time.Millisecond,
			Max:        40 * time.Millisecond,
			Multiplier: 2.0,
			Jitter:     0,
		},
		AttemptTimeout: time.Second,
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", m.State(), want)
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()
		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}
		for i, exp := range expected {
			if got := b.Current(); got != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, got, exp)
			}
			b.Next()
		}
	})

	t.Run("JitterRange", func(t *testing.T) {
		b := NewBackoff()
		distinct := make(map[time.Duration]bool)
		for i := 0; i < 20; i++ {
			d := b.Peek()
			if d < time.Second || d > 1250*time.Millisecond {
				t.Errorf("sample %d: %v outside [1s, 1.25s]", i, d)
			}
			distinct[d] = true
		}
		if len(distinct) < 2 {
			t.Error("jitter produced identical samples")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts() = %d, want 5", b.Attempts())
		}
		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})
		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		b.Next()
		if b.Current() != time.Second {
			t.Errorf("Current() = %v, want 1s", b.Current())
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		defer m.Close()
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
		if m.IsConnected() {
			t.Error("IsConnected() = true, want false")
		}
	})

	t.Run("SuccessfulConnect", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		defer m.Close()

		var connected bool
		m.OnConnected(func() { connected = true })
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !connected {
			t.Error("OnConnected callback was not called")
		}
		if m.State() != StateConnected {
			t.Errorf("State() = %v, want CONNECTED", m.State())
		}
		if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("FailedConnect", func(t *testing.T) {
		boom := errors.New("boom")
		m := NewManager(func(ctx context.Context) error { return boom })
		defer m.Close()

		if err := m.Connect(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Connect() error = %v, want %v", err, boom)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
		if !errors.Is(m.LastError(), boom) {
			t.Errorf("LastError() = %v, want %v", m.LastError(), boom)
		}
	})

	t.Run("ConnectAfterClose", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		m.Close()
		m.Close()
		if err := m.Connect(context.Background()); !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Connect() error = %v, want ErrConnectionClosed", err)
		}
	})

	t.Run("StateChanges", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		m.SetAutoReconnect(false)
		defer m.Close()

		type transition struct{ old, new State }
		var got []transition
		m.OnStateChange(func(old, new State) { got = append(got, transition{old, new}) })
		var disconnected bool
		m.OnDisconnected(func() { disconnected = true })

		_ = m.Connect(context.Background())
		m.Disconnect()

		want := []transition{
			{StateDisconnected, StateConnecting},
			{StateConnecting, StateConnected},
			{StateConnected, StateDisconnected},
		}
		if len(got) != len(want) {
			t.Fatalf("got %d transitions, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("transition %d: got %v→%v, want %v→%v", i, got[i].old, got[i].new, want[i].old, want[i].new)
			}
		}
		if !disconnected {
			t.Error("OnDisconnected callback was not called")
		}
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("AfterLoss", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManagerWithConfig(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}, fastConfig())
		m.StartReconnectLoop()
		m.StartReconnectLoop()
		defer m.Close()

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		m.NotifyConnectionLost()
		waitForState(t, m, StateConnected)

		if calls.Load() != 2 {
			t.Errorf("connect called %d times, want 2", calls.Load())
		}
		if m.BackoffAttempts() != 0 {
			t.Errorf("BackoffAttempts() = %d after success, want 0", m.BackoffAttempts())
		}
	})

	t.Run("BacksOffOnFailure", func(t *testing.T) {
		var (
			mu       sync.Mutex
			attempts []time.Time
			calls    atomic.Int32
		)
		m := NewManagerWithConfig(func(ctx context.Context) error {
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			if n := calls.Add(1); n > 1 && n < 4 {
				return errors.New("not yet")
			}
			return nil
		}, fastConfig())
		m.StartReconnectLoop()
		defer m.Close()

		var reported []int
		m.OnReconnecting(func(attempt int, delay time.Duration) {
			mu.Lock()
			reported = append(reported, attempt)
			mu.Unlock()
		})

		_ = m.Connect(context.Background())
		m.NotifyConnectionLost()
		waitForState(t, m, StateConnected)

		mu.Lock()
		defer mu.Unlock()
		if len(attempts) != 4 {
			t.Fatalf("got %d attempts, want 4", len(attempts))
		}
		if d := attempts[2].Sub(attempts[1]); d < 15*time.Millisecond {
			t.Errorf("second retry after %v, want at least 15ms", d)
		}
		if len(reported) != 3 || reported[2] != 3 {
			t.Errorf("OnReconnecting attempts = %v, want [1 2 3]", reported)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManagerWithConfig(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}, fastConfig())
		m.SetAutoReconnect(false)
		m.StartReconnectLoop()
		defer m.Close()

		_ = m.Connect(context.Background())
		m.NotifyConnectionLost()
		time.Sleep(50 * time.Millisecond)

		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
		if calls.Load() != 1 {
			t.Errorf("connect called %d times, want 1", calls.Load())
		}
	})

	t.Run("CloseStopsLoop", func(t *testing.T) {
		m := NewManagerWithConfig(func(ctx context.Context) error {
			return errors.New("down")
		}, fastConfig())
		m.StartReconnectLoop()

		m.mu.Lock()
		m.state = StateConnected
		m.mu.Unlock()
		m.NotifyConnectionLost()
		time.Sleep(30 * time.Millisecond)

		done := make(chan struct{})
		go func() {
			m.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Close() did not stop the reconnect loop")
		}
		if m.State() != StateClosed {
			t.Errorf("State() = %v, want CLOSED", m.State())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
