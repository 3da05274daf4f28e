// Package sim provides an in-memory IOC implementing ca.Transport.
//
// Callbacks are delivered on a single dispatcher goroutine owned by the
// server, the way a Channel Access client library delivers them on its
// auxiliary thread. The payload passed to an event handler lives in a buffer
// the dispatcher reuses and zeroes after every call, so a handler that keeps
// the payload without cloning it sees garbage.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/convert"
)

// Write records one put accepted by the server.
type Write struct {
	Name  string
	Count int
	Data  []byte
}

type pv struct {
	name     string
	value    *ca.TimeValue
	readable bool
	writable bool
	online   bool
}

type channel struct {
	id        ca.ChannelID
	name      string
	handler   ca.ConnectionHandler
	user      any
	connected bool
	wasUp     bool
}

type subscription struct {
	id      ca.EventID
	chanID  ca.ChannelID
	typ     ca.FieldType
	count   int
	handler ca.EventHandler
	user    any
}

// Server is a simulated IOC.
type Server struct {
	mu       sync.Mutex
	pvs      map[string]*pv
	channels map[ca.ChannelID]*channel
	subs     map[ca.EventID]*subscription
	nextID   uint64
	rejected map[string]bool
	paused   bool
	ioDelay  time.Duration
	failPuts bool
	writes   []Write
	closed   bool

	qmu     sync.Mutex
	qcond   *sync.Cond
	jobs    []func()
	qclosed bool
	done    chan struct{}

	// Dispatcher-owned payload buffer.
	scratch ca.TimeValue
}

var _ ca.Transport = (*Server)(nil)

// New starts a server with no process variables.
func New() *Server {
	s := &Server{
		pvs:      make(map[string]*pv),
		channels: make(map[ca.ChannelID]*channel),
		subs:     make(map[ca.EventID]*subscription),
		rejected: make(map[string]bool),
		done:     make(chan struct{}),
	}
	s.qcond = sync.NewCond(&s.qmu)
	go s.dispatch()
	return s
}

// PVOption configures a process variable.
type PVOption func(*pv) error

// ReadOnly denies write access.
func ReadOnly() PVOption {
	return func(p *pv) error {
		p.writable = false
		return nil
	}
}

// WriteOnly denies read access.
func WriteOnly() PVOption {
	return func(p *pv) error {
		p.readable = false
		return nil
	}
}

// Values sets the initial elements.
func Values(vs ...convert.Value) PVOption {
	return func(p *pv) error {
		return encode(p.value, vs)
	}
}

// Floats wraps numbers for Set and Values.
func Floats(xs ...float64) []convert.Value {
	out := make([]convert.Value, len(xs))
	for i, x := range xs {
		out[i] = convert.OfFloat(x)
	}
	return out
}

// Strings wraps strings for Set and Values.
func Strings(xs ...string) []convert.Value {
	out := make([]convert.Value, len(xs))
	for i, x := range xs {
		out[i] = convert.OfString(x)
	}
	return out
}

func encode(v *ca.TimeValue, vs []convert.Value) error {
	if len(vs) > v.Count {
		return fmt.Errorf("%w: %d values for %d elements", ca.StatusBadCount, len(vs), v.Count)
	}
	codec, err := convert.CodecFor(v.Type)
	if err != nil {
		return err
	}
	for i, x := range vs {
		if err := codec.Put(v.Value, i, x); err != nil {
			return err
		}
	}
	return nil
}

// AddPV defines a process variable. Channels already waiting for name
// connect immediately.
func (s *Server) AddPV(name string, t ca.FieldType, count int, opts ...PVOption) error {
	if !t.Valid() || count < 1 {
		return fmt.Errorf("sim: invalid definition for %s: %s[%d]", name, t, count)
	}
	p := &pv{
		name:     name,
		value:    ca.NewTimeValue(t, count),
		readable: true,
		writable: true,
		online:   true,
	}
	p.value.Stamp = ca.TimeStampFrom(time.Now())
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return fmt.Errorf("sim: %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pvs[name]; ok {
		return fmt.Errorf("sim: process variable %s already defined", name)
	}
	s.pvs[name] = p
	s.bringUpLocked(p)
	return nil
}

// RejectNames makes CreateChannel fail for the given names.
func (s *Server) RejectNames(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.rejected[n] = true
	}
}

// SetIODelay delays every Get and Put by d.
func (s *Server) SetIODelay(d time.Duration) {
	s.mu.Lock()
	s.ioDelay = d
	s.mu.Unlock()
}

// FailPuts makes Put return StatusPutFail.
func (s *Server) FailPuts(fail bool) {
	s.mu.Lock()
	s.failPuts = fail
	s.mu.Unlock()
}

// Writes returns all accepted puts in order.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Value returns a copy of the current value of name.
func (s *Server) Value(name string) (*ca.TimeValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pvs[name]
	if !ok {
		return nil, false
	}
	return p.value.Clone(), true
}

// Set updates name and posts monitor events. A zero stamp selects the
// current time.
func (s *Server) Set(name string, stamp time.Time, vs ...convert.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pvs[name]
	if !ok {
		return fmt.Errorf("sim: unknown process variable %s", name)
	}
	next := p.value.Clone()
	if err := encode(next, vs); err != nil {
		return err
	}
	if stamp.IsZero() {
		stamp = time.Now()
	}
	next.Stamp = ca.TimeStampFrom(stamp)
	p.value = next
	s.postMonitorsLocked(p)
	return nil
}

// Disconnect takes name offline.
func (s *Server) Disconnect(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pvs[name]
	if !ok {
		return fmt.Errorf("sim: unknown process variable %s", name)
	}
	p.online = false
	s.bringDownLocked(p)
	return nil
}

// Reconnect brings name back online.
func (s *Server) Reconnect(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pvs[name]
	if !ok {
		return fmt.Errorf("sim: unknown process variable %s", name)
	}
	p.online = true
	s.bringUpLocked(p)
	return nil
}

// Redefine changes the type and length of name. Connected clients see a
// disconnect followed by a connect with the new definition.
func (s *Server) Redefine(name string, t ca.FieldType, count int) error {
	if !t.Valid() || count < 1 {
		return fmt.Errorf("sim: invalid definition for %s: %s[%d]", name, t, count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pvs[name]
	if !ok {
		return fmt.Errorf("sim: unknown process variable %s", name)
	}
	s.bringDownLocked(p)
	p.value = ca.NewTimeValue(t, count)
	p.value.Stamp = ca.TimeStampFrom(time.Now())
	s.bringUpLocked(p)
	return nil
}

// Pause takes the whole IOC offline, or back online.
func (s *Server) Pause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return
	}
	s.paused = paused
	for _, p := range s.pvs {
		if paused {
			s.bringDownLocked(p)
		} else {
			s.bringUpLocked(p)
		}
	}
}

func (s *Server) bringUpLocked(p *pv) {
	if !p.online || s.paused {
		return
	}
	for _, ch := range s.channels {
		if ch.name != p.name || ch.connected {
			continue
		}
		ch.connected = true
		ch.wasUp = true
		s.postConn(ch, ca.OpConnUp)
		for _, sub := range s.subs {
			if sub.chanID == ch.id {
				s.postEvent(sub, p.value.Clone())
			}
		}
	}
}

func (s *Server) bringDownLocked(p *pv) {
	for _, ch := range s.channels {
		if ch.name == p.name && ch.connected {
			ch.connected = false
			s.postConn(ch, ca.OpConnDown)
		}
	}
}

func (s *Server) postMonitorsLocked(p *pv) {
	for _, sub := range s.subs {
		ch := s.channels[sub.chanID]
		if ch != nil && ch.name == p.name && ch.connected {
			s.postEvent(sub, p.value.Clone())
		}
	}
}

func (s *Server) connectedPV(id ca.ChannelID) (*channel, *pv, error) {
	ch, ok := s.channels[id]
	if !ok {
		return nil, nil, ca.StatusBadChannel
	}
	if !ch.connected {
		return ch, nil, ca.StatusDisconnected
	}
	return ch, s.pvs[ch.name], nil
}

// CreateChannel implements ca.Transport.
func (s *Server) CreateChannel(name string, h ca.ConnectionHandler, user any) (ca.ChannelID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ca.StatusChannelClosed
	}
	if name == "" || s.rejected[name] {
		return 0, ca.StatusBadString
	}
	s.nextID++
	ch := &channel{id: ca.ChannelID(s.nextID), name: name, handler: h, user: user}
	s.channels[ch.id] = ch
	if p, ok := s.pvs[name]; ok && p.online && !s.paused {
		ch.connected = true
		ch.wasUp = true
		s.postConn(ch, ca.OpConnUp)
	}
	return ch.id, nil
}

// ClearChannel implements ca.Transport.
func (s *Server) ClearChannel(id ca.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return ca.StatusBadChannel
	}
	delete(s.channels, id)
	for evID, sub := range s.subs {
		if sub.chanID == id {
			delete(s.subs, evID)
		}
	}
	return nil
}

// State implements ca.Transport.
func (s *Server) State(id ca.ChannelID) ca.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	switch {
	case !ok:
		return ca.StateClosed
	case ch.connected:
		return ca.StateConnected
	case ch.wasUp:
		return ca.StatePreviouslyConnected
	default:
		return ca.StateNeverConnected
	}
}

// ElementCount implements ca.Transport.
func (s *Server) ElementCount(id ca.ChannelID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, p, err := s.connectedPV(id); err == nil {
		return p.value.Count
	}
	return 0
}

// FieldType implements ca.Transport.
func (s *Server) FieldType(id ca.ChannelID) ca.FieldType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, p, err := s.connectedPV(id); err == nil {
		return p.value.Type
	}
	return ca.FieldInvalid
}

// ReadAccess implements ca.Transport.
func (s *Server) ReadAccess(id ca.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, p, err := s.connectedPV(id)
	return err == nil && p.readable
}

// WriteAccess implements ca.Transport.
func (s *Server) WriteAccess(id ca.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, p, err := s.connectedPV(id)
	return err == nil && p.writable
}

// Subscribe implements ca.Transport. Only the native type is supported.
func (s *Server) Subscribe(id ca.ChannelID, t ca.FieldType, count int, h ca.EventHandler, user any) (ca.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, p, err := s.connectedPV(id)
	if err != nil {
		return 0, err
	}
	if t != p.value.Type {
		return 0, ca.StatusBadType
	}
	if count < 0 || count > p.value.Count {
		return 0, ca.StatusBadCount
	}
	s.nextID++
	sub := &subscription{id: ca.EventID(s.nextID), chanID: id, typ: t, count: count, handler: h, user: user}
	s.subs[sub.id] = sub
	s.postEvent(sub, p.value.Clone())
	return sub.id, nil
}

// ClearSubscription implements ca.Transport.
func (s *Server) ClearSubscription(ev ca.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ev]; !ok {
		return ca.StatusBadChannel
	}
	delete(s.subs, ev)
	return nil
}

func (s *Server) waitIO(ctx context.Context) error {
	s.mu.Lock()
	d := s.ioDelay
	s.mu.Unlock()

	if d == 0 {
		if ctx.Err() != nil {
			return ca.StatusTimeout
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ca.StatusTimeout
	}
}

// Get implements ca.Transport. count 0 selects the native count.
func (s *Server) Get(ctx context.Context, id ca.ChannelID, count int) (*ca.TimeValue, error) {
	if err := s.waitIO(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, p, err := s.connectedPV(id)
	if err != nil {
		return nil, err
	}
	if !p.readable {
		return nil, ca.StatusNoReadAccess
	}
	if count == 0 {
		count = p.value.Count
	}
	if count < 0 || count > p.value.Count {
		return nil, ca.StatusBadCount
	}
	v := p.value.Clone()
	v.Count = count
	v.Value = v.Value[:count*v.Type.ElementSize()]
	return v, nil
}

// Put implements ca.Transport. The first count elements are replaced.
func (s *Server) Put(ctx context.Context, id ca.ChannelID, count int, data []byte) error {
	if err := s.waitIO(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, p, err := s.connectedPV(id)
	if err != nil {
		return err
	}
	if !p.writable {
		return ca.StatusNoWriteAccess
	}
	if s.failPuts {
		return ca.StatusPutFail
	}
	size := p.value.Type.ElementSize()
	if count < 1 || count > p.value.Count || len(data) != count*size {
		return ca.StatusBadCount
	}

	next := p.value.Clone()
	copy(next.Value, data)
	next.Stamp = ca.TimeStampFrom(time.Now())
	p.value = next
	s.writes = append(s.writes, Write{Name: ch.name, Count: count, Data: append([]byte(nil), data...)})
	s.postMonitorsLocked(p)
	return nil
}

// FlushIO implements ca.Transport.
func (s *Server) FlushIO() error {
	return nil
}

// Close stops the dispatcher. Pending callbacks are discarded.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.qmu.Lock()
	if s.qclosed {
		s.qmu.Unlock()
		return nil
	}
	s.qclosed = true
	s.jobs = nil
	s.qcond.Broadcast()
	s.qmu.Unlock()

	<-s.done
	return nil
}
