package registry

import (
	"context"
	"fmt"
	"strings"
)

// WaitForAllConnected blocks until every registered channel is connected.
// When ctx ends first it returns a *ConnectTimeoutError naming the channels
// still unconnected.
func (r *Registry) WaitForAllConnected(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrRegistryClosed
		}
		var missing []string
		for _, name := range r.sortedNamesLocked() {
			if r.channels[name].state != StateConnected {
				missing = append(missing, name)
			}
		}
		changed := r.changed
		r.mu.Unlock()

		if len(missing) == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return &ConnectTimeoutError{Channels: missing}
		}
	}
}

// WaitForInitialValues blocks until every subscribed channel has received
// its first value since the subscription was made.
func (r *Registry) WaitForInitialValues(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrRegistryClosed
		}
		var missing []string
		for _, name := range r.sortedNamesLocked() {
			ch := r.channels[name]
			if ch.subscribed && !ch.initialValue {
				missing = append(missing, name)
			}
		}
		changed := r.changed
		r.mu.Unlock()

		if len(missing) == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrInitialValueTimeout, strings.Join(missing, ", "))
		}
	}
}
