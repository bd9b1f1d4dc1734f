// Package queue provides a fixed-capacity, goroutine-safe hand-off queue
// between the capture and dispatch stages of the audio pipeline.
//
// The queue is a ring buffer guarded by a single mutex with two condition
// variables (not-empty, not-full). Overflow behavior is chosen once at
// construction:
//
//   - BlockProducer: a full queue rejects (or, in blocking mode, parks) the
//     producer until a consumer makes room.
//   - DiscardOldest: a full queue evicts its oldest item to admit the new
//     one. Push never blocks under this policy.
//
// Stop is the cooperative shutdown signal. After Stop, pushes fail and pops
// drain whatever is left before reporting ErrClosed.
package queue

import (
	"errors"
	"fmt"
	"sync"
)

// Common errors returned by the queue.
var (
	ErrClosed = errors.New("queue: closed")
	ErrFull   = errors.New("queue: full")
	ErrEmpty  = errors.New("queue: empty")
)

// Policy selects what Push does when the queue is full.
type Policy int

const (
	// BlockProducer rejects or parks the producer while the queue is full.
	BlockProducer Policy = iota
	// DiscardOldest evicts the longest-queued item to admit a new one.
	DiscardOldest
)

// String returns the config name of the policy.
func (p Policy) String() string {
	switch p {
	case BlockProducer:
		return "block-producer"
	case DiscardOldest:
		return "discard-oldest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a config name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block-producer", "block":
		return BlockProducer, nil
	case "discard-oldest", "discard", "":
		return DiscardOldest, nil
	default:
		return 0, fmt.Errorf("queue: unknown overflow policy %q", s)
	}
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithEvictHandler registers fn to receive items evicted under
// DiscardOldest. fn runs on the pushing goroutine after the queue lock is
// released, so it may safely touch other locks.
func WithEvictHandler[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) {
		q.onEvict = fn
	}
}

// Queue is a bounded FIFO of T.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items   []T
	head    int
	tail    int
	count   int
	stopped bool
	policy  Policy

	evicted uint64
	onEvict func(T)
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int, policy Policy, opts ...Option[T]) (*Queue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", capacity)
	}
	if policy != BlockProducer && policy != DiscardOldest {
		return nil, fmt.Errorf("queue: invalid policy %d", int(policy))
	}

	q := &Queue[T]{
		items:  make([]T, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)

	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Push appends item to the tail of the queue.
//
// On a stopped queue Push fails with ErrClosed. On a full queue the
// behavior depends on the policy: DiscardOldest evicts the head and
// succeeds; BlockProducer returns ErrFull when block is false, or waits for
// room (or Stop, which yields ErrClosed) when block is true.
func (q *Queue[T]) Push(item T, block bool) error {
	q.mu.Lock()

	if q.stopped {
		q.mu.Unlock()
		return ErrClosed
	}

	var (
		old      T
		hasEvict bool
	)

	if q.count == len(q.items) {
		switch q.policy {
		case DiscardOldest:
			old = q.items[q.head]
			var zero T
			q.items[q.head] = zero
			q.head = (q.head + 1) % len(q.items)
			q.count--
			q.evicted++
			hasEvict = true

		default:
			if !block {
				q.mu.Unlock()
				return ErrFull
			}
			for q.count == len(q.items) && !q.stopped {
				q.notFull.Wait()
			}
			if q.stopped {
				q.mu.Unlock()
				return ErrClosed
			}
		}
	}

	q.items[q.tail] = item
	q.tail = (q.tail + 1) % len(q.items)
	q.count++

	q.notEmpty.Signal()
	onEvict := q.onEvict
	q.mu.Unlock()

	if hasEvict && onEvict != nil {
		onEvict(old)
	}
	return nil
}

// Pop removes and returns the head of the queue.
//
// An empty, stopped queue yields ErrClosed. An empty, open queue yields
// ErrEmpty when block is false; otherwise Pop waits until an item arrives or
// the queue is stopped while still empty (ErrClosed).
func (q *Queue[T]) Pop(block bool) (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		if q.stopped {
			return zero, ErrClosed
		}
		if !block {
			return zero, ErrEmpty
		}
		for q.count == 0 && !q.stopped {
			q.notEmpty.Wait()
		}
		if q.count == 0 {
			return zero, ErrClosed
		}
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--

	q.notFull.Signal()
	return item, nil
}

// Stop closes the queue and wakes every waiting producer and consumer.
// It is safe to call Stop more than once.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Destroy stops the queue and releases its backing storage. Call it only
// once every producer and consumer goroutine has observed Stop and exited.
func (q *Queue[T]) Destroy() {
	q.mu.Lock()
	q.stopped = true
	q.items = nil
	q.head, q.tail, q.count = 0, 0, 0
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity (0 after Destroy).
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Policy returns the overflow policy.
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Stopped reports whether Stop has been called.
func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Evicted returns how many items DiscardOldest has dropped so far.
func (q *Queue[T]) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
