package ca

import "context"

// ConnectionArgs is passed to a ConnectionHandler.
type ConnectionArgs struct {
	Chan ChannelID
	Op   Op
	User any
}

// EventArgs is passed to an EventHandler. Data is owned by the transport and
// is only valid until the handler returns.
type EventArgs struct {
	Chan   ChannelID
	User   any
	Type   FieldType
	Count  int
	Status Status
	Data   *TimeValue
}

// ConnectionHandler receives connection state changes of a channel.
type ConnectionHandler func(ConnectionArgs)

// EventHandler receives monitor updates of a subscription.
type EventHandler func(EventArgs)

// Transport is the client side of the Channel Access protocol.
//
// CreateChannel, ClearChannel, Subscribe, ClearSubscription and FlushIO do
// not block on the network and never call a handler before returning. Get
// and Put block until the server answers or ctx is done; expiry of ctx is
// reported as StatusTimeout.
type Transport interface {
	// CreateChannel starts connecting to the named process variable. The
	// handler is called with OpConnUp each time the channel connects and
	// with OpConnDown each time it disconnects.
	CreateChannel(name string, h ConnectionHandler, user any) (ChannelID, error)

	// ClearChannel releases the channel and all of its subscriptions. Only
	// a callback already in progress may still run for id afterwards.
	ClearChannel(id ChannelID) error

	State(id ChannelID) ConnState
	ElementCount(id ChannelID) int
	FieldType(id ChannelID) FieldType
	ReadAccess(id ChannelID) bool
	WriteAccess(id ChannelID) bool

	// Subscribe installs a value monitor. The current value is delivered
	// once the subscription is established.
	Subscribe(id ChannelID, t FieldType, count int, h EventHandler, user any) (EventID, error)

	// ClearSubscription removes a monitor. Only a callback already in
	// progress may still run for ev afterwards.
	ClearSubscription(ev EventID) error

	Get(ctx context.Context, id ChannelID, count int) (*TimeValue, error)
	Put(ctx context.Context, id ChannelID, count int, data []byte) error

	// FlushIO sends any buffered requests.
	FlushIO() error

	Close() error
}
