package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/convert"
	"github.com/pvmux/pvmux-go/pkg/fault"
)

// newMockRegistry registers PV:A as channel 1 on a mock transport and
// returns the connection handler the registry installed.
func newMockRegistry(t *testing.T, hooks Hooks) (*mockTransport, *Registry, ca.ConnectionHandler) {
	t.Helper()
	m := &mockTransport{}
	var handler ca.ConnectionHandler
	m.On("CreateChannel", "PV:A", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			handler = args.Get(1).(ca.ConnectionHandler)
		}).
		Return(ca.ChannelID(1), nil).Once()
	m.On("FlushIO").Return(nil).Maybe()
	m.On("ClearChannel", ca.ChannelID(1)).Return(nil).Maybe()

	reg := New(m, Config{Hooks: hooks})
	require.NoError(t, reg.AddChannel("PV:A"))
	require.NotNil(t, handler)
	return m, reg, handler
}

func doubleValue(t *testing.T, x float64) *ca.TimeValue {
	t.Helper()
	v := ca.NewTimeValue(ca.FieldDouble, 1)
	codec, err := convert.CodecFor(ca.FieldDouble)
	require.NoError(t, err)
	require.NoError(t, convert.Encode(codec, v.Value, 0, []float64{x}))
	return v
}

func TestAddChannelRejected(t *testing.T) {
	m := &mockTransport{}
	m.On("CreateChannel", "BAD:NAME", mock.Anything, mock.Anything).
		Return(ca.ChannelID(0), ca.StatusBadString)

	reg := New(m, Config{})
	err := reg.AddChannel("BAD:NAME")

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "BAD:NAME", perr.Channel)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, ca.StatusBadString)
	assert.True(t, fault.IsRuntime(err))
	assert.Empty(t, reg.Channels())
	m.AssertExpectations(t)
}

func TestAddChannelTwice(t *testing.T) {
	m, reg, _ := newMockRegistry(t, nil)
	require.NoError(t, reg.AddChannel("PV:A"))

	m.AssertNumberOfCalls(t, "CreateChannel", 1)
	st, err := reg.State("PV:A")
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, st)
}

func TestCallbackForUnknownChannel(t *testing.T) {
	_, reg, handler := newMockRegistry(t, nil)

	assert.Panics(t, func() {
		handler(ca.ConnectionArgs{Chan: 99, Op: ca.OpConnUp, User: reg})
	})

	reg.Close()
	assert.NotPanics(t, func() {
		handler(ca.ConnectionArgs{Chan: 99, Op: ca.OpConnUp, User: reg})
		handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnDown, User: reg})
	})
}

func TestStaleConnectionUpIgnored(t *testing.T) {
	m, reg, handler := newMockRegistry(t, nil)
	m.On("State", ca.ChannelID(1)).Return(ca.StatePreviouslyConnected)

	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnUp, User: reg})

	st, _ := reg.State("PV:A")
	assert.Equal(t, StateConnecting, st)
	m.AssertNotCalled(t, "FieldType", ca.ChannelID(1))
}

func TestConnectionHooks(t *testing.T) {
	hooks := &mockHooks{}
	m, reg, handler := newMockRegistry(t, hooks)
	m.connected(1, ca.FieldDouble, 1)

	// Down before up is not a transition.
	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnDown, User: reg})
	hooks.AssertNotCalled(t, "NotifyConnectionDown", mock.Anything, mock.Anything)

	hooks.On("NotifyConnectionUp", "PV:A").Once()
	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnUp, User: reg})

	syncAcc := newTestAccessor(false)
	async := newTestAccessor(true)
	require.NoError(t, reg.Attach("PV:A", syncAcc))
	require.NoError(t, reg.Attach("PV:A", async))

	hooks.On("NotifyConnectionDown", "PV:A", mock.MatchedBy(func(err error) bool {
		return errors.Is(err, ErrDisconnected)
	})).Once()
	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnDown, User: reg})
	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnDown, User: reg})

	hooks.AssertExpectations(t)
	assert.Equal(t, 0, syncAcc.failures(), "sync accessors learn about the loss on their next read")
	assert.Equal(t, 1, async.failures())
}

func TestUnsupportedTypeRaisesException(t *testing.T) {
	hooks := &mockHooks{}
	m, reg, handler := newMockRegistry(t, hooks)
	m.connected(1, ca.FieldType(9), 4)

	hooks.On("NotifyException", mock.MatchedBy(func(err error) bool {
		return errors.Is(err, ErrUnsupportedType)
	})).Once()
	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnUp, User: reg})

	hooks.AssertExpectations(t)
	hooks.AssertNotCalled(t, "NotifyConnectionUp", "PV:A")

	info, err := reg.Info("PV:A")
	require.NoError(t, err)
	assert.True(t, info.Configured)
	assert.False(t, info.Supported)
	assert.Equal(t, 4, info.Count)

	assert.ErrorIs(t, reg.Configure("PV:A"), ErrUnsupportedType)
	_, err = reg.Acquire("PV:A")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestMonitorEventFiltering(t *testing.T) {
	m, reg, handler := newMockRegistry(t, nil)
	m.connected(1, ca.FieldDouble, 1)
	handler(ca.ConnectionArgs{Chan: 1, Op: ca.OpConnUp, User: reg})

	var (
		onEvent ca.EventHandler
		user    any
	)
	m.On("Subscribe", ca.ChannelID(1), ca.FieldDouble, 1, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onEvent = args.Get(3).(ca.EventHandler)
			user = args.Get(4)
		}).
		Return(ca.EventID(5), nil).Once()
	m.On("ClearSubscription", ca.EventID(5)).Return(nil).Maybe()

	a := newTestAccessor(true)
	require.NoError(t, reg.Attach("PV:A", a))
	require.NoError(t, reg.ActivateAll())
	require.NotNil(t, onEvent)

	onEvent(ca.EventArgs{Chan: 1, User: user, Type: ca.FieldDouble, Count: 1, Status: ca.StatusGetFail})
	onEvent(ca.EventArgs{Chan: 1, User: subscriptionTag{reg: reg, gen: 0}, Type: ca.FieldDouble, Count: 1,
		Status: ca.StatusNormal, Data: doubleValue(t, 1)})

	wrong := ca.NewTimeValue(ca.FieldLong, 1)
	onEvent(ca.EventArgs{Chan: 1, User: user, Type: ca.FieldLong, Count: 1, Status: ca.StatusNormal, Data: wrong})
	assert.Equal(t, 0, a.q.Len())

	v := doubleValue(t, 4.25)
	onEvent(ca.EventArgs{Chan: 1, User: user, Type: ca.FieldDouble, Count: 1, Status: ca.StatusNormal, Data: v})
	clear(v.Value)

	assert.Equal(t, 4.25, a.popFloat(t))
	stored, ok := reg.Value("PV:A")
	require.True(t, ok)
	assert.Equal(t, 4.25, firstFloat(t, stored))

	m.AssertExpectations(t)
}
