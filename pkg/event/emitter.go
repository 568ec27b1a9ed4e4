// Package event provides the completion and event-stream primitives returned by
// every transport call: a single-resolution Future and a multi-event Emitter,
// composed in Promise.
package event

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Listener receives the arguments of a named event.
type Listener func(args ...any)

// AnyListener receives every event together with its name.
type AnyListener func(event string, args ...any)

// ListenerID identifies a registration so it can be removed later.
type ListenerID uint64

// Wildcard is the trailing segment that matches every event sharing a prefix,
// e.g. "EXECUTION_REPORT:*".
const Wildcard = "*"

type registration struct {
	// mu serializes deliveries to one listener on replaying emitters.
	mu    sync.Mutex
	id    ListenerID
	event string
	// events is set by ManyOf and holds the events that have not fired yet.
	events map[string]bool
	fn     Listener
	anyFn  AnyListener
	// remaining < 0 means unlimited.
	remaining int
}

type emission struct {
	event string
	args  []any
}

// Emitter is a goroutine-safe publish/subscribe channel for named events.
// Listeners run synchronously on the emitting goroutine, outside the lock.
type Emitter struct {
	mu     sync.Mutex
	nextID atomic.Uint64
	named  []*registration
	any    []*registration

	historyLimit int
	history      []emission
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// NewReplayEmitter creates an emitter that remembers its last limit emissions
// and replays them to every listener added later, oldest first. A listener
// never observes a live event before the replayed ones.
func NewReplayEmitter(limit int) *Emitter {
	return &Emitter{historyLimit: max(limit, 0)}
}

func (e *Emitter) replays() bool {
	return e.historyLimit > 0
}

func (e *Emitter) add(reg *registration, anyListener bool) ListenerID {
	reg.id = ListenerID(e.nextID.Add(1))

	e.mu.Lock()
	var backlog []emission
	keep := true
	for _, em := range e.history {
		if anyListener {
			backlog = append(backlog, em)
			continue
		}
		if reg.matches(em.event) {
			backlog = append(backlog, em)
			if keep = reg.consume(em.event); !keep {
				break
			}
		}
	}
	if keep {
		if anyListener {
			e.any = append(e.any, reg)
		} else {
			e.named = append(e.named, reg)
		}
	}
	if len(backlog) > 0 {
		// Held across the unlock so live emissions queue behind the backlog.
		reg.mu.Lock()
	}
	e.mu.Unlock()

	if len(backlog) > 0 {
		defer reg.mu.Unlock()
		for _, em := range backlog {
			reg.call(em.event, em.args)
		}
	}
	return reg.id
}

// On adds a listener for event until it is removed.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	return e.add(&registration{event: event, fn: fn, remaining: -1}, false)
}

// OnAny adds a listener that fires for every event.
func (e *Emitter) OnAny(fn AnyListener) ListenerID {
	return e.add(&registration{anyFn: fn, remaining: -1}, true)
}

// OffAny removes a listener added with OnAny.
func (e *Emitter) OffAny(id ListenerID) {
	e.mu.Lock()
	e.any = removeID(e.any, id)
	e.mu.Unlock()
}

// Once adds a listener that is removed after its first invocation.
func (e *Emitter) Once(event string, fn Listener) ListenerID {
	return e.Many(event, 1, fn)
}

// Many adds a listener that is removed after n invocations.
// A non-positive n registers nothing and returns an id that never fires.
func (e *Emitter) Many(event string, n int, fn Listener) ListenerID {
	if n <= 0 {
		return ListenerID(e.nextID.Add(1))
	}
	return e.add(&registration{event: event, fn: fn, remaining: n}, false)
}

// ManyOf adds a listener that fires at most once for each of events and is
// removed once every one of them has fired.
func (e *Emitter) ManyOf(events []string, fn Listener) ListenerID {
	pending := make(map[string]bool, len(events))
	for _, ev := range events {
		pending[ev] = true
	}
	if len(pending) == 0 {
		return ListenerID(e.nextID.Add(1))
	}
	return e.add(&registration{events: pending, fn: fn, remaining: -1}, false)
}

// RemoveListener removes the named-event listener with the given id.
// For a ManyOf listener only event is dropped from its set.
func (e *Emitter) RemoveListener(event string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, reg := range e.named {
		if reg.id != id {
			continue
		}
		if reg.events != nil {
			delete(reg.events, event)
			if len(reg.events) > 0 {
				return
			}
		} else if reg.event != event {
			return
		}
		e.named = append(e.named[:i:i], e.named[i+1:]...)
		return
	}
}

// RemoveAllListeners removes the listeners of the given events, or every
// listener (including OnAny listeners) when no event is given. The latter also
// drops the replay history.
func (e *Emitter) RemoveAllListeners(events ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(events) == 0 {
		e.named = nil
		e.any = nil
		e.history = nil
		return
	}

	drop := make(map[string]bool, len(events))
	for _, ev := range events {
		drop[ev] = true
	}

	kept := e.named[:0:0]
	for _, reg := range e.named {
		if reg.events != nil {
			for ev := range drop {
				delete(reg.events, ev)
			}
			if len(reg.events) > 0 {
				kept = append(kept, reg)
			}
			continue
		}
		if !drop[reg.event] {
			kept = append(kept, reg)
		}
	}
	e.named = kept
}

// ListenerCount returns how many named listeners would fire for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, reg := range e.named {
		if reg.matches(event) {
			n++
		}
	}
	return n
}

// Emit invokes every listener of event, then every OnAny listener, and returns
// how many listeners ran.
func (e *Emitter) Emit(event string, args ...any) int {
	e.mu.Lock()
	if e.replays() {
		e.history = append(e.history, emission{event: event, args: args})
		if len(e.history) > e.historyLimit {
			e.history = slices.Clone(e.history[len(e.history)-e.historyLimit:])
		}
	}

	var fire []*registration
	kept := e.named[:0]
	for _, reg := range e.named {
		if !reg.matches(event) {
			kept = append(kept, reg)
			continue
		}
		fire = append(fire, reg)
		if reg.consume(event) {
			kept = append(kept, reg)
		}
	}
	clear(e.named[len(kept):])
	e.named = kept
	fire = append(fire, e.any...)
	e.mu.Unlock()

	for _, reg := range fire {
		if e.replays() {
			reg.mu.Lock()
			reg.call(event, args)
			reg.mu.Unlock()
			continue
		}
		reg.call(event, args)
	}
	return len(fire)
}

func (r *registration) call(event string, args []any) {
	if r.anyFn != nil {
		r.anyFn(event, args...)
		return
	}
	r.fn(args...)
}

// consume records one delivery of event and reports whether the registration
// stays active.
func (r *registration) consume(event string) bool {
	if r.events != nil {
		delete(r.events, event)
		return len(r.events) > 0
	}
	if r.remaining > 0 {
		r.remaining--
		return r.remaining != 0
	}
	return true
}

func (r *registration) matches(event string) bool {
	if r.anyFn != nil {
		return true
	}
	if r.events != nil {
		return r.events[event]
	}
	if r.event == event {
		return true
	}
	if prefix, ok := strings.CutSuffix(r.event, Wildcard); ok {
		return strings.HasPrefix(event, prefix)
	}
	return false
}

func removeID(regs []*registration, id ListenerID) []*registration {
	for i, reg := range regs {
		if reg.id == id {
			return append(regs[:i:i], regs[i+1:]...)
		}
	}
	return regs
}
