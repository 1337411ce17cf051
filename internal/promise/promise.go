// Package promise implements a small deferred result handle.
//
// A Promise settles exactly once, either resolved with a value or rejected
// with an error. Continuations registered with Then, Chain, Handle, Catch or
// Finally never run inline: they are queued on a shared trampoline and run in
// registration order once the promise settles, including when the promise was
// already settled at registration time.
//
// The trampoline is shared by every promise in the process: whichever
// goroutine settles a promise while the queue is idle runs all queued
// continuations, including those of unrelated promises. Continuations must
// therefore not block; a slow continuation delays every other pending one.
package promise

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPanic wraps a value recovered from a panicking executor or continuation.
var ErrPanic = errors.New("promise: panic")

// State is the settlement state of a Promise.
type State int

const (
	Pending State = iota
	Resolved
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Promise is a synchronously resolvable handle for a value of type T.
type Promise[T any] struct {
	mu       sync.Mutex
	state    State
	value    T
	err      error
	handlers []func()
	done     chan struct{}
}

func newPending[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// New runs executor synchronously and returns the promise it settles. A panic
// inside executor rejects the promise.
func New[T any](executor func(resolve func(T), reject func(error))) (p *Promise[T]) {
	p = newPending[T]()
	defer func() {
		if r := recover(); r != nil {
			p.reject(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()
	executor(p.resolve, p.reject)
	return p
}

// Resolve returns a promise already resolved with v.
func Resolve[T any](v T) *Promise[T] {
	p := newPending[T]()
	p.resolve(v)
	return p
}

// Reject returns a promise already rejected with err.
func Reject[T any](err error) *Promise[T] {
	p := newPending[T]()
	p.reject(err)
	return p
}

// FromResult converts a (value, error) pair into a settled promise.
func FromResult[T any](v T, err error) *Promise[T] {
	if err != nil {
		return Reject[T](err)
	}
	return Resolve(v)
}

func (p *Promise[T]) resolve(v T) {
	p.settle(Resolved, v, nil)
}

func (p *Promise[T]) reject(err error) {
	var zero T
	p.settle(Rejected, zero, err)
}

func (p *Promise[T]) settle(state State, v T, err error) {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.value = v
	p.err = err
	handlers := p.handlers
	p.handlers = nil
	close(p.done)
	p.mu.Unlock()

	for _, h := range handlers {
		loop.schedule(h)
	}
}

// subscribe queues fn to run after settlement.
func (p *Promise[T]) subscribe(fn func()) {
	p.mu.Lock()
	if p.state == Pending {
		p.handlers = append(p.handlers, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	loop.schedule(fn)
}

// follow settles p the same way src settles. Used to flatten nested promises.
func (p *Promise[T]) follow(src *Promise[T]) {
	src.subscribe(func() {
		v, err, _ := src.Result()
		p.settle(src.State(), v, err)
	})
}

// State reports the current state.
func (p *Promise[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the settled value and error. The boolean is false while the
// promise is still pending.
func (p *Promise[T]) Result() (T, error, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err, p.state != Pending
}

// Done is closed once the promise settles.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		v, err, _ := p.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Catch derives a promise that recovers from rejection through fn. A resolved
// p passes its value through unchanged.
func (p *Promise[T]) Catch(fn func(error) (T, error)) *Promise[T] {
	return Handle(p, Resolve[T], func(err error) *Promise[T] {
		return FromResult(fn(err))
	})
}

// Finally derives a promise that runs fn after p settles and then settles the
// same way p did.
func (p *Promise[T]) Finally(fn func()) *Promise[T] {
	return Handle(p,
		func(v T) *Promise[T] {
			fn()
			return Resolve(v)
		},
		func(err error) *Promise[T] {
			fn()
			return Reject[T](err)
		},
	)
}

// Handle is the general continuation: exactly one of onResolved or onRejected
// runs after p settles, and the derived promise adopts the state of the
// promise it returns.
func Handle[T, U any](p *Promise[T], onResolved func(T) *Promise[U], onRejected func(error) *Promise[U]) *Promise[U] {
	next := newPending[U]()
	p.subscribe(func() {
		v, err, _ := p.Result()
		inner, perr := invoke(func() *Promise[U] {
			if p.State() == Rejected {
				return onRejected(err)
			}
			return onResolved(v)
		})
		switch {
		case perr != nil:
			next.reject(perr)
		case inner == nil:
			var zero U
			next.resolve(zero)
		default:
			next.follow(inner)
		}
	})
	return next
}

// Then maps a resolved value through fn. Rejections pass through.
func Then[T, U any](p *Promise[T], fn func(T) (U, error)) *Promise[U] {
	return Handle(p, func(v T) *Promise[U] {
		return FromResult(fn(v))
	}, Reject[U])
}

// Chain is Then for continuations that return another promise; the derived
// promise settles when the returned one does.
func Chain[T, U any](p *Promise[T], fn func(T) *Promise[U]) *Promise[U] {
	return Handle(p, fn, Reject[U])
}

func invoke[U any](fn func() *Promise[U]) (res *Promise[U], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(), nil
}
