package registry

import (
	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/convert"
)

// State is the registry-level connection state of a channel.
type State uint8

const (
	// StateUnconnected indicates the channel has not been requested yet.
	StateUnconnected State = iota

	// StateConnecting indicates the first connection is pending.
	StateConnecting

	// StateConnected indicates a live connection.
	StateConnected

	// StateLost indicates the connection went down. The transport keeps
	// retrying it.
	StateLost
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "UNCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Subscriber is an accessor attached to a channel. The registry calls
// Deliver and Fail with its lock held, so neither may block or call back
// into the registry.
type Subscriber interface {
	// WantsUpdates reports whether the accessor consumes monitor updates.
	WantsUpdates() bool

	// Deliver hands over a private copy of a new value. It reports whether
	// an older undelivered value was discarded to make room.
	Deliver(v *ca.TimeValue) (overwritten bool)

	// Fail queues a terminal failure for the reader.
	Fail(err error)
}

// Hooks receives channel lifecycle notifications. Hooks are called after
// the registry lock is released, from the goroutine that caused the
// change.
type Hooks interface {
	NotifyConnectionUp(channel string)
	NotifyConnectionDown(channel string, reason error)
	NotifyException(reason error)
}

// Channel is one physical channel and the accessors layered on it. All
// fields are guarded by the registry lock.
type Channel struct {
	name  string
	id    ca.ChannelID
	state State

	// Frozen while configured.
	configured bool
	typ        ca.FieldType
	count      int
	readable   bool
	writable   bool
	codec      convert.Codec
	codecErr   error

	value        *ca.TimeValue
	initialValue bool

	sub        ca.EventID
	subGen     uint64
	subscribed bool
	wantSub    bool

	accessors []Subscriber

	users        int
	clearPending bool
}

func (ch *Channel) asyncAccessors() int {
	n := 0
	for _, a := range ch.accessors {
		if a.WantsUpdates() {
			n++
		}
	}
	return n
}

func (ch *Channel) info() Info {
	return Info{
		Name:         ch.name,
		State:        ch.state,
		Configured:   ch.configured,
		Type:         ch.typ,
		Count:        ch.count,
		Readable:     ch.readable,
		Writable:     ch.writable,
		Supported:    ch.configured && ch.codecErr == nil,
		Subscribed:   ch.subscribed,
		Accessors:    len(ch.accessors),
		HasValue:     ch.value != nil,
		InitialValue: ch.initialValue,
	}
}

// Info is a snapshot of a channel.
type Info struct {
	Name       string
	State      State
	Configured bool
	Type       ca.FieldType
	Count      int
	Readable   bool
	Writable   bool

	// Supported is false for configured channels whose type has no codec.
	Supported bool

	Subscribed   bool
	Accessors    int
	HasValue     bool
	InitialValue bool
}

// subscriptionTag is the user context of a monitor. The generation
// distinguishes a renewed subscription from callbacks of its predecessor.
type subscriptionTag struct {
	reg *Registry
	gen uint64
}
