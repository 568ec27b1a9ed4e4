// Package circuitbreaker stops REST calls to a backend that keeps failing.
package circuitbreaker

import (
	"sync"
	"time"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config of zero FailThreshold disables the breaker.
type Config struct {
	FailThreshold    int           `json:"fail_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// Breaker opens after FailThreshold consecutive failures, refuses calls for
// Timeout, then lets calls through half-open until SuccessThreshold successes
// close it again. Any failure while half-open reopens it.
type Breaker struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	counts    Counts
}

// Counts are cumulative call outcomes.
type Counts struct {
	Requests     int64
	Successes    int64
	Failures     int64
	Refused      int64
	StateChanges int32
}

func New(config Config) *Breaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &Breaker{config: config, now: time.Now}
}

// Enabled reports whether the breaker can ever open.
func (b *Breaker) Enabled() bool {
	return b.config.FailThreshold > 0
}

// Allow reports whether a call may proceed. An open breaker turns half-open
// once Timeout has passed.
func (b *Breaker) Allow() bool {
	if !b.Enabled() {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.Requests++
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			b.counts.Refused++
			return false
		}
		b.transitionTo(StateHalfOpen)
	}
	return true
}

// Record feeds the outcome of an allowed call and reports whether it moved
// the breaker to another state.
func (b *Breaker) Record(success bool) (changed bool) {
	if !b.Enabled() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	before := b.counts.StateChanges
	defer func() { changed = b.counts.StateChanges != before }()

	if success {
		b.counts.Successes++
	} else {
		b.counts.Failures++
	}

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailThreshold {
			b.open()
		}
	case StateHalfOpen:
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateOpen:
		// outcome of a call allowed before the breaker opened
		if !success {
			b.openedAt = b.now()
		}
	}
	return
}

// must be called with b.mu held.
func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
}

// must be called with b.mu held.
func (b *Breaker) transitionTo(state State) {
	if b.state == state {
		return
	}
	b.state = state
	b.failures = 0
	b.successes = 0
	b.counts.StateChanges++
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}
