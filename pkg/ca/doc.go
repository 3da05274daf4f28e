// Package ca defines the Channel Access client primitives consumed by the
// channel registry.
//
// The package does not implement the Channel Access wire protocol. It fixes
// the contract a protocol client library must satisfy: channel creation with
// an asynchronous connection callback, subscriptions with an asynchronous
// data callback, blocking get/put bounded by a context, and the status codes
// those operations return.
//
// # Callbacks
//
// Connection and data callbacks run on goroutines owned by the transport and
// may run concurrently with any application goroutine. A transport never
// invokes a callback synchronously from inside one of its own API calls, so a
// caller may hold its own locks while calling CreateChannel, Subscribe,
// ClearSubscription or ClearChannel.
//
// The TimeValue passed to an EventHandler is owned by the transport and is
// only valid for the duration of the call. Handlers that keep the data must
// call Clone.
//
// # Payload layout
//
// TimeValue.Value holds Count elements of the channel's FieldType in network
// byte order (big-endian). String elements occupy MaxStringSize bytes and are
// NUL padded.
package ca
