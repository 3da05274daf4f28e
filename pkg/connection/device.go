package connection

import (
	"context"
	"errors"
)

// ErrNotFunctional is returned by a supervised connect attempt when the
// device raised an exception before the attempt completed.
var ErrNotFunctional = errors.New("device not functional after open")

// Device is the lifecycle a Manager drives. *backend.Backend implements it.
type Device interface {
	Open(ctx context.Context) error
	ActivateAsyncRead(ctx context.Context) error
	IsFunctional() bool
	OnException(fn func(error))
}

// Supervise returns a manager that opens d and activates async reads on
// every (re)connect. An exception raised by d starts the reconnect loop.
// The caller still calls Connect for the first attempt.
func Supervise(d Device, cfg ManagerConfig) *Manager {
	m := NewManagerWithConfig(func(ctx context.Context) error {
		if err := d.Open(ctx); err != nil {
			return err
		}
		if err := d.ActivateAsyncRead(ctx); err != nil {
			return err
		}
		if !d.IsFunctional() {
			return ErrNotFunctional
		}
		return nil
	}, cfg)

	d.OnException(func(reason error) {
		m.logger.Warn("device exception, scheduling reconnect", "error", reason)
		m.NotifyConnectionLost()
	})
	m.StartReconnectLoop()
	return m
}
