package event

import (
	"context"
	"sync"
)

// Future is a single-resolution completion signal. The first call to Resolve
// or Reject wins; later calls are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates a pending future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with value. It reports whether this call won.
func (f *Future[T]) Resolve(value T) bool {
	won := false
	f.once.Do(func() {
		f.value = value
		close(f.done)
		won = true
	})
	return won
}

// Reject completes the future with err. It reports whether this call won.
func (f *Future[T]) Reject(err error) bool {
	won := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the future is resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Pending reports whether the future has not completed yet.
func (f *Future[T]) Pending() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

// Then runs fn on its own goroutine once the future completes.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
}
