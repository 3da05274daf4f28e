package log

import (
	"time"

	"github.com/pvmux/pvmux-go/pkg/ca"
)

// Event is one entry of the channel event log.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event was recorded (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the backend open episode (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Channel is the process variable name, if the event concerns one.
	Channel string `cbor:"5,keyasint,omitempty"`

	// Path is the register path, for accessor events.
	Path string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange  *StateChangeEvent  `cbor:"10,keyasint,omitempty"`
	Data         *DataEvent         `cbor:"11,keyasint,omitempty"`
	Subscription *SubscriptionEvent `cbor:"12,keyasint,omitempty"`
	Error        *ErrorEventData    `cbor:"13,keyasint,omitempty"`
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerCallback is the transport callback dispatcher.
	LayerCallback Layer = 0
	// LayerRegistry is the channel registry.
	LayerRegistry Layer = 1
	// LayerAccessor is a register accessor.
	LayerAccessor Layer = 2
	// LayerBackend is the device backend lifecycle.
	LayerBackend Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerCallback:
		return "CALLBACK"
	case LayerRegistry:
		return "REGISTRY"
	case LayerAccessor:
		return "ACCESSOR"
	case LayerBackend:
		return "BACKEND"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryState        Category = 0
	CategoryData         Category = 1
	CategorySubscription Category = 2
	CategoryError        Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryData:
		return "DATA"
	case CategorySubscription:
		return "SUBSCRIPTION"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures channel and backend lifecycle transitions.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityChannel  StateEntity = 0
	StateEntityBackend  StateEntity = 1
	StateEntityRecovery StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityChannel:
		return "CHANNEL"
	case StateEntityBackend:
		return "BACKEND"
	case StateEntityRecovery:
		return "RECOVERY"
	default:
		return "UNKNOWN"
	}
}

// DataEvent captures one value update and its fan-out.
type DataEvent struct {
	Type     ca.FieldType `cbor:"1,keyasint"`
	Count    int          `cbor:"2,keyasint"`
	Stamp    time.Time    `cbor:"3,keyasint"`
	Severity int16        `cbor:"4,keyasint,omitempty"`
	Status   int16        `cbor:"5,keyasint,omitempty"`

	// Delivered is the number of accessors the value was queued for.
	Delivered int `cbor:"6,keyasint"`

	// Overwritten counts accessors whose oldest queued value was dropped.
	Overwritten int `cbor:"7,keyasint,omitempty"`

	// Replay marks a synthetic delivery to a newly attached accessor.
	Replay bool `cbor:"8,keyasint,omitempty"`
}

// SubscriptionEvent captures monitor lifecycle changes.
type SubscriptionEvent struct {
	Action    SubscriptionAction `cbor:"1,keyasint"`
	Accessors int                `cbor:"2,keyasint"`
	Reason    string             `cbor:"3,keyasint,omitempty"`
}

// SubscriptionAction is what happened to a monitor.
type SubscriptionAction uint8

const (
	SubscriptionActivated   SubscriptionAction = 0
	SubscriptionDeactivated SubscriptionAction = 1
	SubscriptionRenewed     SubscriptionAction = 2
)

// String returns the action name.
func (a SubscriptionAction) String() string {
	switch a {
	case SubscriptionActivated:
		return "ACTIVATED"
	case SubscriptionDeactivated:
		return "DEACTIVATED"
	case SubscriptionRenewed:
		return "RENEWED"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures failures at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the Channel Access status code, if any.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
