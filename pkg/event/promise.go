package event

// ReplayLimit is how many past events a promise keeps for late listeners.
const ReplayLimit = 128

// Promise is what every transport call returns: a Future that completes exactly
// once, next to an Emitter that keeps delivering events for the lifetime of the
// call. Completing the future never detaches listeners. The emitter replays up
// to ReplayLimit past events, so listeners attached after the call returned
// still see everything it emitted.
type Promise[T any] struct {
	*Future[T]
	events *Emitter
}

// NewPromise creates a pending promise with its own emitter.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{
		Future: NewFuture[T](),
		events: NewReplayEmitter(ReplayLimit),
	}
}

// Rejected returns a promise that has already failed with err.
func Rejected[T any](err error) *Promise[T] {
	p := NewPromise[T]()
	p.Reject(err)
	return p
}

// Events returns the emitter attached to this call.
func (p *Promise[T]) Events() *Emitter {
	return p.events
}

// On is a shortcut for Events().On that returns the promise for chaining.
func (p *Promise[T]) On(event string, fn Listener) *Promise[T] {
	p.events.On(event, fn)
	return p
}

// Once is a shortcut for Events().Once that returns the promise for chaining.
func (p *Promise[T]) Once(event string, fn Listener) *Promise[T] {
	p.events.Once(event, fn)
	return p
}
