package connection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmux/pvmux-go/pkg/backend"
	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/ca/sim"
	"github.com/pvmux/pvmux-go/pkg/catalogue"
	"github.com/pvmux/pvmux-go/pkg/registry"
)

var _ Device = (*backend.Backend)(nil)

func TestSuperviseRecoversBackend(t *testing.T) {
	srv := sim.New()
	t.Cleanup(func() { _ = srv.Close() })
	require.NoError(t, srv.AddPV("PV:TEMP", ca.FieldDouble, 1, sim.Values(sim.Floats(21.5)...)))

	cat, err := catalogue.Parse(strings.NewReader("/plant/temp PV:TEMP\n"), "plant.map", nil)
	require.NoError(t, err)
	b, err := backend.New(srv, backend.Config{
		Catalogue:      cat,
		ConnectTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	m := Supervise(b, fastConfig())
	t.Cleanup(m.Close)
	require.NoError(t, m.Connect(context.Background()))
	require.True(t, b.IsAsyncReadActive())

	acc, err := backend.GetAccessor[float64](b, "/plant/temp", 0, 0, catalogue.Modes(catalogue.AccessWaitForNewData))
	require.NoError(t, err)
	defer acc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	xs, _, err := acc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{21.5}, xs)

	// The IOC goes away: the pending failure raises the exception and the
	// manager keeps retrying until the channel is back.
	require.NoError(t, srv.Disconnect("PV:TEMP"))
	_, _, err = acc.Read(ctx)
	require.ErrorIs(t, err, registry.ErrDisconnected)
	waitForState(t, m, StateReconnecting)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateReconnecting, m.State())
	var timeout *registry.ConnectTimeoutError
	assert.True(t, errors.As(m.LastError(), &timeout), "LastError() = %v", m.LastError())

	require.NoError(t, srv.Set("PV:TEMP", time.Time{}, sim.Floats(22)...))
	require.NoError(t, srv.Reconnect("PV:TEMP"))
	waitForState(t, m, StateConnected)
	assert.True(t, b.IsFunctional())

	xs, _, err = acc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{22}, xs)
}

type fakeDevice struct {
	openErr     error
	functional  bool
	onException func(error)
}

func (d *fakeDevice) Open(context.Context) error              { return d.openErr }
func (d *fakeDevice) ActivateAsyncRead(context.Context) error { return nil }
func (d *fakeDevice) IsFunctional() bool                      { return d.functional }
func (d *fakeDevice) OnException(fn func(error))              { d.onException = fn }

func TestSuperviseConnectErrors(t *testing.T) {
	boom := errors.New("no IOC")
	d := &fakeDevice{openErr: boom}
	m := Supervise(d, fastConfig())
	defer m.Close()

	if err := m.Connect(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Connect() error = %v, want %v", err, boom)
	}

	d.openErr = nil
	if err := m.Connect(context.Background()); !errors.Is(err, ErrNotFunctional) {
		t.Errorf("Connect() error = %v, want ErrNotFunctional", err)
	}

	d.functional = true
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if d.onException == nil {
		t.Fatal("exception callback not registered")
	}
	m.SetAutoReconnect(false)
	d.onException(boom)
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", m.State())
	}
}
