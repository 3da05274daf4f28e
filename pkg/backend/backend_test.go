package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/ca/sim"
	"github.com/pvmux/pvmux-go/pkg/catalogue"
	"github.com/pvmux/pvmux-go/pkg/fault"
	"github.com/pvmux/pvmux-go/pkg/registry"
)

const testMap = `
# register       channel
/dev/a           PV:A
/dev/b           PV:B
/dev/wave        PV:WAVE
/dev/ro          PV:RO
`

// newTestBackend builds a backend over a simulated IOC serving the channels
// of testMap. The backend is not opened.
func newTestBackend(t *testing.T) (*sim.Server, *Backend) {
	t.Helper()
	srv := sim.New()
	t.Cleanup(func() { _ = srv.Close() })

	require.NoError(t, srv.AddPV("PV:A", ca.FieldDouble, 1, sim.Values(sim.Floats(0.5)...)))
	require.NoError(t, srv.AddPV("PV:B", ca.FieldDouble, 1, sim.Values(sim.Floats(1.5)...)))
	require.NoError(t, srv.AddPV("PV:WAVE", ca.FieldLong, 10,
		sim.Values(sim.Floats(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)...)))
	require.NoError(t, srv.AddPV("PV:RO", ca.FieldString, 1, sim.ReadOnly(), sim.Values(sim.Strings("idle")...)))

	cat, err := catalogue.Parse(strings.NewReader(testMap), "test.map", nil)
	require.NoError(t, err)

	b, err := New(srv, Config{
		Catalogue:           cat,
		ConnectTimeout:      time.Second,
		IOTimeout:           200 * time.Millisecond,
		InitialValueTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return srv, b
}

func openTestBackend(t *testing.T) (*sim.Server, *Backend) {
	t.Helper()
	srv, b := newTestBackend(t)
	require.NoError(t, b.Open(context.Background()))
	return srv, b
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewFromParameters(t *testing.T) {
	srv := sim.New()
	defer srv.Close()

	t.Run("MissingMap", func(t *testing.T) {
		_, err := NewFromParameters(srv, map[string]string{}, nil)
		assert.ErrorIs(t, err, ErrMissingParameter)
		assert.True(t, fault.IsLogic(err))
	})

	t.Run("UnreadableMap", func(t *testing.T) {
		_, err := NewFromParameters(srv, map[string]string{"map": filepath.Join(t.TempDir(), "none.map")}, nil)
		assert.ErrorIs(t, err, catalogue.ErrMapFile)
		assert.True(t, fault.IsRuntime(err))
	})

	t.Run("SkipsMalformedLines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "device.map")
		content := "/x PV:X\n/y PV:Y\n/z PV:Z extra\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		b, err := NewFromParameters(srv, map[string]string{"map": path}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, b.Catalogue().Len())
		assert.Equal(t, []string{"PV:X", "PV:Y"}, b.Catalogue().Channels())
		assert.False(t, b.IsOpen())
		assert.Contains(t, b.DeviceInfo(), "2 registers")
	})
}

func TestOpenConfiguresCatalogue(t *testing.T) {
	_, b := openTestBackend(t)

	assert.True(t, b.IsOpen())
	assert.True(t, b.IsFunctional())
	assert.NotEmpty(t, b.SessionID())

	wave, err := b.Catalogue().Get("/dev/wave")
	require.NoError(t, err)
	assert.True(t, wave.Configured)
	assert.True(t, wave.Usable)
	assert.Equal(t, 10, wave.Elements)
	assert.Equal(t, ca.FieldLong, wave.Type)
	assert.True(t, wave.Descriptor.Integral)
	assert.True(t, wave.Modes.Has(catalogue.AccessWaitForNewData))

	ro, err := b.Catalogue().Get("dev//ro/")
	require.NoError(t, err)
	assert.True(t, ro.Readable)
	assert.False(t, ro.Writable)
	assert.Equal(t, catalogue.FundamentalString, ro.Descriptor.Fundamental)

	// Opening a functional backend keeps the episode.
	session := b.SessionID()
	require.NoError(t, b.Open(context.Background()))
	assert.Equal(t, session, b.SessionID())
}

func TestOpenTimeoutNamesMissingChannel(t *testing.T) {
	srv, b := newTestBackend(t)
	require.NoError(t, srv.Disconnect("PV:B"))

	b.cfg.ConnectTimeout = 50 * time.Millisecond
	err := b.Open(context.Background())

	var timeout *registry.ConnectTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, []string{"PV:B"}, timeout.Channels)
	assert.True(t, fault.IsRuntime(err))
	assert.False(t, b.IsOpen())

	require.NoError(t, srv.Reconnect("PV:B"))
	require.NoError(t, b.Open(context.Background()))
	assert.True(t, b.IsFunctional())
}

func TestOpenOmitsRejectedChannel(t *testing.T) {
	srv, b := newTestBackend(t)
	srv.RejectNames("PV:RO")

	require.NoError(t, b.Open(context.Background()))
	assert.Equal(t, 3, b.Catalogue().Len())

	_, err := GetAccessor[string](b, "/dev/ro", 0, 0, 0)
	assert.ErrorIs(t, err, catalogue.ErrUnknownRegister)
}

func TestChannelLossRaisesException(t *testing.T) {
	srv, b := openTestBackend(t)

	var calls atomic.Int32
	b.OnException(func(error) { calls.Add(1) })

	require.NoError(t, srv.Disconnect("PV:A"))
	srv.Sync()

	assert.False(t, b.IsFunctional())
	assert.True(t, b.IsOpen())
	assert.ErrorIs(t, b.ActiveException(), registry.ErrDisconnected)
	assert.Equal(t, int32(1), calls.Load())

	// Accessors created while the channel is lost see the failure, not
	// the last value.
	a, err := GetAccessor[float64](b, "/dev/a", 0, 0, catalogue.Modes(catalogue.AccessWaitForNewData))
	require.NoError(t, err)
	defer a.Close()
	_, _, err = a.Read(testContext(t))
	assert.ErrorIs(t, err, registry.ErrDisconnected)

	require.NoError(t, srv.Reconnect("PV:A"))
	require.NoError(t, b.Open(context.Background()))
	assert.True(t, b.IsFunctional())
	assert.Nil(t, b.ActiveException())
}

func TestSetException(t *testing.T) {
	_, b := openTestBackend(t)
	require.NoError(t, b.ActivateAsyncRead(context.Background()))

	var calls atomic.Int32
	b.OnException(func(error) { calls.Add(1) })

	a, err := GetAccessor[float64](b, "/dev/a", 0, 0, catalogue.Modes(catalogue.AccessWaitForNewData))
	require.NoError(t, err)
	defer a.Close()
	other, err := GetAccessor[float64](b, "/dev/b", 0, 0, catalogue.Modes(catalogue.AccessWaitForNewData))
	require.NoError(t, err)
	defer other.Close()
	syncAcc, err := GetAccessor[float64](b, "/dev/b", 0, 0, 0)
	require.NoError(t, err)
	defer syncAcc.Close()

	ctx := testContext(t)
	_, _, err = a.Read(ctx)
	require.NoError(t, err)
	_, _, err = other.Read(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	b.SetException(boom)
	b.SetException(errors.New("second"))

	assert.False(t, b.IsFunctional())
	assert.True(t, b.IsOpen())
	assert.False(t, b.IsAsyncReadActive())
	assert.Equal(t, boom, b.ActiveException())
	assert.Equal(t, int32(1), calls.Load())

	for _, acc := range []*Accessor[float64]{a, other, syncAcc} {
		_, _, err := acc.Read(ctx)
		assert.ErrorIs(t, err, registry.ErrException, acc.Path())
		assert.ErrorIs(t, err, boom, acc.Path())
	}
	_, ok, err := nonBlocking(a)
	assert.False(t, ok)
	assert.NoError(t, err, "exactly one failure per accessor")

	// Recovery starts a new episode and re-attaches the accessors.
	session := b.SessionID()
	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.ActivateAsyncRead(context.Background()))
	assert.NotEqual(t, session, b.SessionID())
	assert.Nil(t, b.ActiveException())

	xs, _, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, xs)
	xs, _, err = syncAcc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, xs)
}

func TestActivateAsyncReadRequiresFunctionalBackend(t *testing.T) {
	_, b := newTestBackend(t)
	require.NoError(t, b.ActivateAsyncRead(context.Background()))
	assert.False(t, b.IsAsyncReadActive())

	require.NoError(t, b.Open(context.Background()))
	b.SetException(nil)
	require.NoError(t, b.ActivateAsyncRead(context.Background()))
	assert.False(t, b.IsAsyncReadActive())
	assert.ErrorIs(t, b.ActiveException(), registry.ErrException)
}

func TestCloseKeepsAccessors(t *testing.T) {
	_, b := openTestBackend(t)

	a, err := GetAccessor[float64](b, "/dev/a", 0, 0, catalogue.Modes(catalogue.AccessWaitForNewData))
	require.NoError(t, err)
	defer a.Close()

	b.Close()
	assert.False(t, b.IsOpen())
	assert.Nil(t, b.Registry())
	_, _, err = a.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
	b.Close()

	require.NoError(t, b.Open(context.Background()))
	assert.Equal(t, 1, b.Registry().AttachedCount("PV:A"))
}

func nonBlocking(a *Accessor[float64]) ([]float64, bool, error) {
	xs, _, ok, err := a.ReadNonBlocking(context.Background())
	return xs, ok, err
}
