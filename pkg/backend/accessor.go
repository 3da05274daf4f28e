package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/catalogue"
	"github.com/pvmux/pvmux-go/pkg/convert"
	"github.com/pvmux/pvmux-go/pkg/fault"
	"github.com/pvmux/pvmux-go/pkg/queue"
	"github.com/pvmux/pvmux-go/pkg/registry"
	"github.com/pvmux/pvmux-go/pkg/version"
)

// binding is the registry side of an accessor. It is attached to the
// registry of the current episode and moved to the next one by Open.
type binding struct {
	b       *Backend
	path    string
	channel string
	async   bool
	q       *queue.Queue[*ca.TimeValue]

	mu     sync.Mutex
	reg    *registry.Registry
	closed bool

	// Failure waiting for the next synchronous operation. Guarded by fmu,
	// which is taken under the registry lock.
	fmu     sync.Mutex
	pending error
}

var _ registry.Subscriber = (*binding)(nil)

func (s *binding) WantsUpdates() bool { return s.async }

func (s *binding) Deliver(v *ca.TimeValue) bool { return s.q.PushOverwrite(v) }

func (s *binding) Fail(err error) {
	if s.async {
		s.q.PushErrorOverwrite(err)
		return
	}
	s.fmu.Lock()
	if s.pending == nil {
		s.pending = err
	}
	s.fmu.Unlock()
}

func (s *binding) takeFailure() error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	err := s.pending
	s.pending = nil
	return err
}

func (s *binding) attach(reg *registry.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := reg.Attach(s.channel, s); err != nil {
		return err
	}
	s.reg = reg
	return nil
}

// rebind moves s to reg, discarding everything queued for the previous
// episode.
func (s *binding) rebind(reg *registry.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.reg = nil
	s.q.Drain()
	s.takeFailure()
	if err := reg.Attach(s.channel, s); err != nil {
		return err
	}
	s.reg = reg
	return nil
}

func (s *binding) registry() *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

func (s *binding) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	reg := s.reg
	s.reg = nil
	s.mu.Unlock()

	if reg != nil {
		reg.Detach(s.channel, s)
	}
	s.b.forget(s)
}

// Accessor reads and writes a range of one register as values of type T.
//
// An accessor created with AccessWaitForNewData receives monitor updates in
// a bounded queue; Read blocks until one arrives. A slow reader only sees
// the most recent updates. Other accessors read synchronously from the
// server.
type Accessor[T convert.UserType] struct {
	s       *binding
	info    catalogue.RegisterInfo
	n      int
	offset int
	modes  catalogue.AccessModes

	mu      sync.Mutex
	version version.Token
}

// GetAccessor creates an accessor for n elements of the register at path,
// starting at element offset. n == 0 selects the whole register. The
// accessor is attached immediately; with async delivery active and a value
// already known it is readable right away.
func GetAccessor[T convert.UserType](b *Backend, path string, n, offset int, modes catalogue.AccessModes) (*Accessor[T], error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	reg, _, err := b.session()
	if err != nil {
		return nil, err
	}
	info, err := b.catalogue.Get(path)
	if err != nil {
		return nil, err
	}
	if modes.Has(catalogue.AccessRaw) {
		return nil, fmt.Errorf("%w: %s", ErrRawMode, info.Path)
	}
	if !info.Configured || !info.Usable {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnusableRegister, info.Path, info.Type)
	}
	if n < 0 || offset < 0 || n+offset > info.Elements || (n == 0 && offset > 0) {
		return nil, fmt.Errorf("%w: %d elements at offset %d, %s has %d",
			ErrInvalidRange, n, offset, info.Path, info.Elements)
	}
	if n == 0 {
		n = info.Elements
	}

	s := &binding{
		b:       b,
		path:    info.Path,
		channel: info.Channel,
		async:   modes.Has(catalogue.AccessWaitForNewData),
		q:       queue.New[*ca.TimeValue](b.cfg.QueueCapacity),
	}
	b.track(s)
	if err := s.attach(reg); err != nil {
		b.forget(s)
		return nil, err
	}
	return &Accessor[T]{
		s:      s,
		info:   info,
		n:      n,
		offset: offset,
		modes:  modes,
	}, nil
}

// Read returns the next value. With AccessWaitForNewData it blocks until an
// update arrives, ctx is done or Interrupt is called; otherwise it fetches
// the current value from the server.
func (a *Accessor[T]) Read(ctx context.Context) ([]T, version.Token, error) {
	_, start, err := a.s.b.session()
	if err != nil {
		return nil, version.Token{}, err
	}
	if !a.info.Readable {
		return nil, version.Token{}, fmt.Errorf("%w: %s", ErrNotReadable, a.info.Path)
	}

	var v *ca.TimeValue
	if a.s.async {
		v, err = a.s.q.Pop(ctx)
	} else {
		v, err = a.get(ctx)
	}
	if err != nil {
		return nil, version.Token{}, a.fail(err)
	}
	return a.decode(v, start)
}

// ReadNonBlocking returns the next queued update without waiting. ok is
// false when none is queued. Accessors without AccessWaitForNewData always
// read from the server.
func (a *Accessor[T]) ReadNonBlocking(ctx context.Context) (xs []T, tok version.Token, ok bool, err error) {
	if !a.s.async {
		xs, tok, err = a.Read(ctx)
		return xs, tok, err == nil, err
	}
	_, start, err := a.s.b.session()
	if err != nil {
		return nil, version.Token{}, false, err
	}
	v, ok, err := a.s.q.TryPop()
	if err != nil {
		return nil, version.Token{}, false, a.fail(err)
	}
	if !ok {
		return nil, a.Version(), false, nil
	}
	xs, tok, err = a.decode(v, start)
	return xs, tok, err == nil, err
}

// Write sends xs to the server. A partial accessor reads the whole array
// first so the elements outside its range are written back unchanged. A
// timed out or rejected write returns false without an error.
func (a *Accessor[T]) Write(ctx context.Context, xs []T) (bool, error) {
	b := a.s.b
	if _, _, err := b.session(); err != nil {
		return false, err
	}
	if !a.info.Writable {
		return false, fmt.Errorf("%w: %s", ErrNotWriteable, a.info.Path)
	}
	if len(xs) != a.n {
		return false, fmt.Errorf("%w: %d values for %d elements", ErrLengthMismatch, len(xs), a.n)
	}

	h, err := a.acquire()
	if err != nil {
		return false, a.fail(err)
	}
	defer h.Release()
	if a.offset+a.n > h.Count {
		return false, fmt.Errorf("%w: %s now has %d elements", ErrInvalidRange, a.info.Path, h.Count)
	}

	ictx, cancel := context.WithTimeout(ctx, b.cfg.IOTimeout)
	defer cancel()

	// Partiality follows the current definition, which a reconnect may
	// have grown.
	raw := make([]byte, h.Count*h.Codec.ElementSize())
	if a.offset != 0 || a.n != h.Count {
		cur, err := b.transport.Get(ictx, h.ID, h.Count)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			b.logger.Warn("read before partial write failed", "path", a.info.Path, "error", err)
			return false, nil
		}
		copy(raw, cur.Value)
	}
	if err := convert.Encode(h.Codec, raw, a.offset, xs); err != nil {
		return false, err
	}
	if err := b.transport.Put(ictx, h.ID, h.Count, raw); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		b.logger.Warn("write failed", "path", a.info.Path, "channel", h.Name, "error", err)
		return false, nil
	}

	a.mu.Lock()
	a.version = version.NewToken()
	a.mu.Unlock()
	return true, nil
}

// Interrupt releases a blocked Read with queue.ErrInterrupted once all
// queued updates have been read.
func (a *Accessor[T]) Interrupt() {
	a.s.q.Interrupt()
}

// Close detaches the accessor. Closing the last updating accessor of a
// channel clears its subscription. Close is idempotent.
func (a *Accessor[T]) Close() {
	a.s.close()
}

// Version returns the version of the last value read or written.
func (a *Accessor[T]) Version() version.Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Path returns the register path.
func (a *Accessor[T]) Path() string { return a.info.Path }

// Len returns the number of elements read and written.
func (a *Accessor[T]) Len() int { return a.n }

// Offset returns the index of the first element accessed.
func (a *Accessor[T]) Offset() int { return a.offset }

// IsReadable reports whether the channel grants read access.
func (a *Accessor[T]) IsReadable() bool { return a.info.Readable }

// IsWriteable reports whether the channel grants write access.
func (a *Accessor[T]) IsWriteable() bool { return a.info.Writable }

// IsReadOnly reports whether the register can be read but not written.
func (a *Accessor[T]) IsReadOnly() bool { return a.info.Readable && !a.info.Writable }

// AccessModes returns the modes the accessor was created with.
func (a *Accessor[T]) AccessModes() catalogue.AccessModes { return a.modes }

func (a *Accessor[T]) acquire() (*registry.Handle, error) {
	if err := a.s.takeFailure(); err != nil {
		return nil, err
	}
	reg := a.s.registry()
	if reg == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrDisconnected, a.s.channel)
	}
	return reg.Acquire(a.s.channel)
}

func (a *Accessor[T]) get(ctx context.Context) (*ca.TimeValue, error) {
	h, err := a.acquire()
	if err != nil {
		return nil, err
	}
	defer h.Release()

	ictx, cancel := context.WithTimeout(ctx, a.s.b.cfg.IOTimeout)
	defer cancel()
	v, err := a.s.b.transport.Get(ictx, h.ID, h.Count)
	switch {
	case err == nil:
		return v, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ca.StatusTimeout):
		return nil, fmt.Errorf("%w: %s", ErrReadTimeout, a.info.Path)
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, a.info.Path, err)
	}
}

func (a *Accessor[T]) decode(v *ca.TimeValue, start version.Token) ([]T, version.Token, error) {
	codec, err := convert.CodecFor(v.Type)
	if err != nil {
		return nil, version.Token{}, a.fail(fmt.Errorf("%w: %s: %w", ErrReadFailed, a.info.Path, err))
	}
	if v.Count < a.offset+a.n {
		return nil, version.Token{}, a.fail(fmt.Errorf("%w: %s: %d elements received, %d needed",
			ErrReadFailed, a.info.Path, v.Count, a.offset+a.n))
	}
	xs, err := convert.Decode[T](codec, v.Value, a.offset, a.n)
	if err != nil {
		return nil, version.Token{}, err
	}

	tok := version.Clamp(a.s.b.mapper.Version(v.Stamp), start)
	a.mu.Lock()
	a.version = tok
	a.mu.Unlock()
	return xs, tok, nil
}

// fail reports runtime failures to the backend so every sibling accessor
// fails too.
func (a *Accessor[T]) fail(err error) error {
	if fault.IsRuntime(err) {
		a.s.b.SetException(err)
	}
	return err
}
