// Package queue provides the bounded notification queue between a transport
// callback and an accessor reader.
//
// Producers never block: pushing into a full queue discards the oldest
// entry. A consumer blocks in Pop until an entry arrives, the context is
// done or Interrupt is called.
package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the queue length used by accessors.
const DefaultCapacity = 3

// ErrInterrupted is returned by Pop after Interrupt.
var ErrInterrupted = errors.New("read interrupted")

type entry[T any] struct {
	val T
	err error
}

// Queue is a fixed-capacity FIFO with overwrite-oldest semantics. Each entry
// is either a value or an error.
type Queue[T any] struct {
	mu          sync.Mutex
	items       []entry[T]
	head        int
	n           int
	dropped     uint64
	interrupted bool
	notify      chan struct{}
}

// New creates a queue holding up to capacity entries. capacity < 1 selects
// DefaultCapacity.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{
		items:  make([]entry[T], capacity),
		notify: make(chan struct{}, 1),
	}
}

// PushOverwrite appends v, discarding the oldest entry when full. It
// reports whether an entry was discarded.
func (q *Queue[T]) PushOverwrite(v T) bool {
	return q.push(entry[T]{val: v})
}

// PushErrorOverwrite appends a failure entry, discarding the oldest entry
// when full. Pop returns err when it reaches the entry.
func (q *Queue[T]) PushErrorOverwrite(err error) bool {
	return q.push(entry[T]{err: err})
}

func (q *Queue[T]) push(e entry[T]) bool {
	q.mu.Lock()
	dropped := false
	if q.n == len(q.items) {
		q.items[q.head] = entry[T]{}
		q.head = (q.head + 1) % len(q.items)
		q.n--
		q.dropped++
		dropped = true
	}
	q.items[(q.head+q.n)%len(q.items)] = e
	q.n++
	q.mu.Unlock()

	q.wake()
	return dropped
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest entry, blocking while the queue is
// empty. A pending interrupt is consumed only once the queue is empty, so
// no queued entry is lost to it.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		v, ok, err := q.TryPop()
		if ok || err != nil {
			return v, err
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the oldest entry without blocking. ok is false when the
// queue was empty; err is ErrInterrupted if an interrupt was pending.
func (q *Queue[T]) TryPop() (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		if q.interrupted {
			q.interrupted = false
			return v, false, ErrInterrupted
		}
		return v, false, nil
	}
	e := q.items[q.head]
	q.items[q.head] = entry[T]{}
	q.head = (q.head + 1) % len(q.items)
	q.n--
	if e.err != nil {
		return v, true, e.err
	}
	return e.val, true, nil
}

// Interrupt releases a blocked or the next Pop with ErrInterrupted once
// all queued entries have been consumed.
func (q *Queue[T]) Interrupt() {
	q.mu.Lock()
	q.interrupted = true
	q.mu.Unlock()
	q.wake()
}

// Drain discards all entries and any pending interrupt. It returns the
// number of entries discarded.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.n
	clear(q.items)
	q.head = 0
	q.n = 0
	q.interrupted = false
	return n
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// Dropped returns how many entries were discarded by overwrites.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
