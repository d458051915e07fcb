package actor

import (
	"context"
	"sync"

	"github.com/kyoto-spv/kyoto/fn"
)

// Future is the read side of a Promise: the handle an Ask caller holds while
// waiting for an actor's reply.
type Future[R any] interface {
	// Await blocks until the promise is completed or ctx is done,
	// whichever happens first.
	Await(ctx context.Context) fn.Result[R]
}

// Promise is the write side: whoever ends up producing the eventual result
// (normally an actor's own goroutine) calls Complete exactly once.
type Promise[R any] interface {
	Complete(result fn.Result[R])
	Future() Future[R]
}

// promiseImpl is a single-assignment, channel-backed Promise/Future pair.
type promiseImpl[R any] struct {
	once sync.Once
	done chan struct{}
	val  fn.Result[R]
}

// NewPromise creates an uncompleted Promise.
func NewPromise[R any]() Promise[R] {
	return &promiseImpl[R]{done: make(chan struct{})}
}

// Complete fulfills the promise. Only the first call has any effect;
// subsequent calls are silently ignored, matching the "exactly once" contract
// an actor's processing loop relies on.
func (p *promiseImpl[R]) Complete(result fn.Result[R]) {
	p.once.Do(func() {
		p.val = result
		close(p.done)
	})
}

// Future returns the Future half of this promise.
func (p *promiseImpl[R]) Future() Future[R] {
	return (*futureImpl[R])(p)
}

type futureImpl[R any] promiseImpl[R]

// Await implements Future.
func (f *futureImpl[R]) Await(ctx context.Context) fn.Result[R] {
	select {
	case <-f.done:
		return f.val
	case <-ctx.Done():
		return fn.Err[R](ctx.Err())
	}
}
