// Package buffer tracks in-flight asynchronous operations up to a fixed
// capacity.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/your-org/sentry-envelope-transport/internal/promise"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// ErrBufferFull rejects Add when the buffer is at capacity. The producer is
// not invoked in that case.
var ErrBufferFull = errors.New("buffer: not adding task because buffer limit was reached")

// Buffer is an unordered set of unsettled promises bounded by a capacity.
// Every tracked promise removes itself on settlement.
type Buffer[T any] struct {
	capacity int
	clock    clock.Clock

	mu       sync.Mutex
	tasks    map[*promise.Promise[T]]struct{}
	reserved int
}

// Option configures a Buffer.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the clock used for drain timeouts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New creates a buffer holding at most capacity in-flight tasks.
func New[T any](capacity int, opts ...Option) *Buffer[T] {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		capacity: capacity,
		clock:    o.clock,
		tasks:    make(map[*promise.Promise[T]]struct{}),
	}
}

// Capacity returns the configured capacity.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Len returns the number of operations that have not settled yet.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks) + b.reserved
}

// Add starts the operation returned by producer and tracks it until it
// settles. When the buffer is full the returned promise is rejected with
// ErrBufferFull and producer is never called. A producer that panics or
// returns nil yields a promise rejected with promise.ErrPanic.
func (b *Buffer[T]) Add(producer func() *promise.Promise[T]) *promise.Promise[T] {
	b.mu.Lock()
	if len(b.tasks)+b.reserved >= b.capacity {
		b.mu.Unlock()
		return promise.Reject[T](ErrBufferFull)
	}
	b.reserved++
	b.mu.Unlock()

	task := b.produce(producer)

	b.mu.Lock()
	b.reserved--
	b.tasks[task] = struct{}{}
	b.mu.Unlock()

	task.Finally(func() {
		b.remove(task)
	})

	return task
}

// produce runs producer, turning a panic or a nil result into a rejected
// promise so the reserved slot is always converted into a tracked task.
func (b *Buffer[T]) produce(producer func() *promise.Promise[T]) (task *promise.Promise[T]) {
	defer func() {
		if r := recover(); r != nil {
			task = promise.Reject[T](fmt.Errorf("%w: %v", promise.ErrPanic, r))
		}
	}()

	task = producer()
	if task == nil {
		return promise.Reject[T](fmt.Errorf("%w: producer returned no task", promise.ErrPanic))
	}
	return task
}

func (b *Buffer[T]) remove(task *promise.Promise[T]) {
	b.mu.Lock()
	delete(b.tasks, task)
	b.mu.Unlock()
}

// Drain resolves true once every operation tracked at call time has settled,
// ignoring individual failures. With a positive timeout it resolves false if
// the timer fires first; unsettled operations stay tracked and keep running.
func (b *Buffer[T]) Drain(timeout time.Duration) *promise.Promise[bool] {
	b.mu.Lock()
	pending := make([]*promise.Promise[T], 0, len(b.tasks))
	for task := range b.tasks {
		pending = append(pending, task)
	}
	b.mu.Unlock()

	if len(pending) == 0 {
		return promise.Resolve(true)
	}

	return promise.New(func(resolve func(bool), _ func(error)) {
		var timer *clock.Timer
		if timeout > 0 {
			timer = b.clock.AfterFunc(timeout, func() {
				resolve(false)
			})
		}

		var remaining atomic.Int64
		remaining.Store(int64(len(pending)))
		for _, task := range pending {
			task.Finally(func() {
				if remaining.Add(-1) == 0 {
					if timer != nil {
						timer.Stop()
					}
					resolve(true)
				}
			})
		}
	})
}
