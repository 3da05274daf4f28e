package registry

import (
	"fmt"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/log"
)

// onConnection is the transport connection handler. It runs on a transport
// goroutine and never blocks beyond the registry lock.
func (r *Registry) onConnection(args ca.ConnectionArgs) {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channelForCallbackLocked(args.Chan)
	if ch == nil {
		return
	}
	switch args.Op {
	case ca.OpConnUp:
		r.connectionUpLocked(ch, &after)
	case ca.OpConnDown:
		r.connectionDownLocked(ch, &after)
	}
	r.broadcastLocked()
}

// channelForCallbackLocked resolves a channel handed back by the transport.
// A miss on an open registry means the registry and the transport disagree
// about which channels exist, which cannot be recovered from.
func (r *Registry) channelForCallbackLocked(id ca.ChannelID) *Channel {
	ch, ok := r.byID[id]
	if ok {
		return ch
	}
	if r.closed {
		return nil
	}
	panic(fmt.Sprintf("registry: callback for unknown channel id %d", id))
}

func (r *Registry) connectionUpLocked(ch *Channel, after *deferred) {
	// A stale notification; the matching down event follows.
	if r.transport.State(ch.id) != ca.StateConnected {
		return
	}
	from := ch.state
	ch.state = StateConnected
	r.stateEvent(after, ch, from, StateConnected, "")

	changed := r.configureLocked(ch)
	name := ch.name

	if ch.codecErr != nil {
		if ch.subscribed {
			r.clearSubscriptionLocked(ch, after, "unsupported type")
		}
		err := ch.codecErr
		r.emit(after, errorEvent(ch, err, "configure"))
		if r.hooks != nil {
			after.add(func() { r.hooks.NotifyException(err) })
		}
		return
	}

	switch {
	case ch.subscribed && changed:
		r.clearSubscriptionLocked(ch, after, "channel redefined")
		if ch.asyncAccessors() > 0 {
			if err := r.subscribeLocked(ch, after, log.SubscriptionRenewed); err != nil {
				r.emit(after, errorEvent(ch, err, "resubscribe"))
			}
		}
	case !ch.subscribed && ch.wantSub && ch.asyncAccessors() > 0:
		if err := r.subscribeLocked(ch, after, log.SubscriptionActivated); err != nil {
			r.emit(after, errorEvent(ch, err, "subscribe"))
		}
	}

	if r.hooks != nil {
		after.add(func() { r.hooks.NotifyConnectionUp(name) })
	}
}

func (r *Registry) connectionDownLocked(ch *Channel, after *deferred) {
	if ch.state != StateConnected {
		return
	}
	ch.state = StateLost
	ch.configured = false
	ch.initialValue = false

	reason := fmt.Errorf("%w: %s", ErrDisconnected, ch.name)
	for _, a := range ch.accessors {
		if a.WantsUpdates() {
			a.Fail(reason)
		}
	}
	r.stateEvent(after, ch, StateConnected, StateLost, "connection down")

	if r.hooks != nil {
		name := ch.name
		after.add(func() { r.hooks.NotifyConnectionDown(name, reason) })
	}
}

// onEvent is the transport monitor handler. args.Data is copied before the
// handler returns.
func (r *Registry) onEvent(args ca.EventArgs) {
	var after deferred
	defer after.run()

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channelForCallbackLocked(args.Chan)
	if ch == nil {
		return
	}
	tag, _ := args.User.(subscriptionTag)
	if !ch.subscribed || tag.gen != ch.subGen || ch.state != StateConnected {
		return
	}
	if !args.Status.OK() {
		r.logger.Warn("monitor update with error status", "channel", ch.name, "status", args.Status.Error())
		r.emit(&after, errorEvent(ch, args.Status, "monitor"))
		return
	}
	if args.Data == nil {
		return
	}
	if err := args.Data.Validate(); err != nil || args.Data.Type != ch.typ {
		r.logger.Warn("malformed monitor update", "channel", ch.name, "type", args.Data.Type.String(), "count", args.Data.Count)
		return
	}

	ch.value = args.Data.Clone()
	ch.initialValue = true

	delivered, overwritten := 0, 0
	for _, a := range ch.accessors {
		if !a.WantsUpdates() {
			continue
		}
		if a.Deliver(ch.value.Clone()) {
			overwritten++
		}
		delivered++
	}
	r.emit(&after, dataEvent(ch, ch.value, delivered, overwritten, false))
	r.broadcastLocked()
}

func errorEvent(ch *Channel, err error, context string) log.Event {
	e := log.Event{
		Layer:    log.LayerCallback,
		Category: log.CategoryError,
		Channel:  ch.name,
		Error: &log.ErrorEventData{
			Layer:   log.LayerRegistry,
			Message: err.Error(),
			Context: context,
		},
	}
	if st, ok := err.(ca.Status); ok {
		code := st.Code()
		e.Error.Code = &code
	}
	return e
}
