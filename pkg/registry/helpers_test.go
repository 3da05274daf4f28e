package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/ca/sim"
	"github.com/pvmux/pvmux-go/pkg/convert"
	"github.com/pvmux/pvmux-go/pkg/log"
	"github.com/pvmux/pvmux-go/pkg/queue"
)

// testAccessor is a Subscriber backed by the production queue.
type testAccessor struct {
	async bool
	q     *queue.Queue[*ca.TimeValue]

	mu    sync.Mutex
	fails []error
}

func newTestAccessor(async bool) *testAccessor {
	return &testAccessor{async: async, q: queue.New[*ca.TimeValue](queue.DefaultCapacity)}
}

func (a *testAccessor) WantsUpdates() bool { return a.async }

func (a *testAccessor) Deliver(v *ca.TimeValue) bool { return a.q.PushOverwrite(v) }

func (a *testAccessor) Fail(err error) {
	a.mu.Lock()
	a.fails = append(a.fails, err)
	a.mu.Unlock()
	if a.async {
		a.q.PushErrorOverwrite(err)
	}
}

func (a *testAccessor) failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fails)
}

func (a *testAccessor) pop(t *testing.T) (*ca.TimeValue, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.q.Pop(ctx)
}

func (a *testAccessor) popFloat(t *testing.T) float64 {
	t.Helper()
	v, err := a.pop(t)
	require.NoError(t, err)
	return firstFloat(t, v)
}

func firstFloat(t *testing.T, v *ca.TimeValue) float64 {
	t.Helper()
	codec, err := convert.CodecFor(v.Type)
	require.NoError(t, err)
	xs, err := convert.Decode[float64](codec, v.Value, 0, 1)
	require.NoError(t, err)
	return xs[0]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingEvents) Log(e log.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) replays() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Data != nil && e.Data.Replay {
			n++
		}
	}
	return n
}

// newSimRegistry starts a simulated IOC with one double PV per name and a
// registry with all of them connected.
func newSimRegistry(t *testing.T, cfg Config, names ...string) (*sim.Server, *Registry) {
	t.Helper()
	srv := sim.New()
	t.Cleanup(func() { _ = srv.Close() })
	for i, name := range names {
		require.NoError(t, srv.AddPV(name, ca.FieldDouble, 1, sim.Values(sim.Floats(float64(i)+0.5)...)))
	}

	reg := New(srv, cfg)
	t.Cleanup(reg.Close)
	for _, name := range names {
		require.NoError(t, reg.AddChannel(name))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.WaitForAllConnected(ctx))
	return srv, reg
}

// mockTransport is a testify mock of ca.Transport.
type mockTransport struct {
	mock.Mock
}

var _ ca.Transport = (*mockTransport)(nil)

func (m *mockTransport) CreateChannel(name string, h ca.ConnectionHandler, user any) (ca.ChannelID, error) {
	args := m.Called(name, h, user)
	return args.Get(0).(ca.ChannelID), args.Error(1)
}

func (m *mockTransport) ClearChannel(id ca.ChannelID) error {
	return m.Called(id).Error(0)
}

func (m *mockTransport) State(id ca.ChannelID) ca.ConnState {
	return m.Called(id).Get(0).(ca.ConnState)
}

func (m *mockTransport) ElementCount(id ca.ChannelID) int {
	return m.Called(id).Int(0)
}

func (m *mockTransport) FieldType(id ca.ChannelID) ca.FieldType {
	return m.Called(id).Get(0).(ca.FieldType)
}

func (m *mockTransport) ReadAccess(id ca.ChannelID) bool {
	return m.Called(id).Bool(0)
}

func (m *mockTransport) WriteAccess(id ca.ChannelID) bool {
	return m.Called(id).Bool(0)
}

func (m *mockTransport) Subscribe(id ca.ChannelID, t ca.FieldType, count int, h ca.EventHandler, user any) (ca.EventID, error) {
	args := m.Called(id, t, count, h, user)
	return args.Get(0).(ca.EventID), args.Error(1)
}

func (m *mockTransport) ClearSubscription(ev ca.EventID) error {
	return m.Called(ev).Error(0)
}

func (m *mockTransport) Get(ctx context.Context, id ca.ChannelID, count int) (*ca.TimeValue, error) {
	args := m.Called(ctx, id, count)
	v, _ := args.Get(0).(*ca.TimeValue)
	return v, args.Error(1)
}

func (m *mockTransport) Put(ctx context.Context, id ca.ChannelID, count int, data []byte) error {
	return m.Called(ctx, id, count, data).Error(0)
}

func (m *mockTransport) FlushIO() error {
	return m.Called().Error(0)
}

func (m *mockTransport) Close() error {
	return m.Called().Error(0)
}

// connected programs m with a connected channel of the given type.
func (m *mockTransport) connected(id ca.ChannelID, t ca.FieldType, count int) {
	m.On("State", id).Return(ca.StateConnected)
	m.On("FieldType", id).Return(t)
	m.On("ElementCount", id).Return(count)
	m.On("ReadAccess", id).Return(true)
	m.On("WriteAccess", id).Return(true)
}

type mockHooks struct {
	mock.Mock
}

func (m *mockHooks) NotifyConnectionUp(channel string) { m.Called(channel) }

func (m *mockHooks) NotifyConnectionDown(channel string, reason error) { m.Called(channel, reason) }

func (m *mockHooks) NotifyException(reason error) { m.Called(reason) }
