// Package session tracks the authentication lifecycle of a websocket connection.
package session

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"blinktrade/pkg/core"
)

// State represents the lifecycle state of a Session.
type State int

const (
	// StateDisconnected indicates no connection, before Connect or after teardown.
	StateDisconnected State = iota
	// StateUnauthenticated indicates an open connection without a login.
	StateUnauthenticated
	// StateAuthenticating indicates a login request is in flight.
	StateAuthenticating
	// StateAuthenticated indicates a successful login.
	StateAuthenticated
	// StateLoggedOut indicates a logout on a connection that is still open.
	StateLoggedOut
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Connected reports whether the state implies an open connection.
func (s State) Connected() bool {
	return s != StateDisconnected
}

var (
	// ErrLoginInProgress is returned when a login is attempted while another is in flight.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrAlreadyAuthenticated is returned when logging in twice on one session.
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
)

// Session is the authentication state machine of one websocket connection.
// Sessions are safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	state     State
	username  string
	profile   core.Message
	logger    zerolog.Logger
	createdAt time.Time
	lastUsed  time.Time
}

// New creates a disconnected session.
func New(logger zerolog.Logger) *Session {
	now := time.Now()
	return &Session{
		state:     StateDisconnected,
		logger:    logger,
		createdAt: now,
		lastUsed:  now,
	}
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	s.lastUsed = time.Now()
	s.logger.Debug().
		Stringer("from", from).
		Stringer("to", to).
		Msg("session state changed")
}

// Open records that the connection is established.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected {
		return fmt.Errorf("open session in state %s", s.state)
	}
	s.transition(StateUnauthenticated)
	return nil
}

// BeginLogin moves the session to authenticating. Logging in is allowed on a
// fresh connection and after a logout.
func (s *Session) BeginLogin(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnauthenticated, StateLoggedOut:
	case StateAuthenticating:
		return ErrLoginInProgress
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	default:
		return core.ErrNotConnected
	}

	s.username = username
	s.transition(StateAuthenticating)
	return nil
}

// CompleteLogin stores profile and moves the session to authenticated.
// It is a no-op unless a login is in flight.
func (s *Session) CompleteLogin(profile core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticating {
		return
	}
	s.profile = maps.Clone(profile)
	s.transition(StateAuthenticated)
	s.logger.Info().Str("username", s.username).Msg("logged in")
}

// FailLogin returns an in-flight login to unauthenticated.
func (s *Session) FailLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticating {
		return
	}
	s.transition(StateUnauthenticated)
}

// Logout moves an authenticated session to logged out and drops the profile.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return core.ErrNotAuthenticated
	}
	s.profile = nil
	s.transition(StateLoggedOut)
	s.logger.Info().Str("username", s.username).Msg("logged out")
	return nil
}

// Close records that the connection is gone. It is terminal for the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	s.profile = nil
	s.transition(StateDisconnected)
}

// RequireConnected returns core.ErrNotConnected unless the connection is open.
func (s *Session) RequireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Connected() {
		return core.ErrNotConnected
	}
	s.lastUsed = time.Now()
	return nil
}

// RequireAuthenticated returns an error unless the session is authenticated.
func (s *Session) RequireAuthenticated() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateAuthenticated:
		s.lastUsed = time.Now()
		return nil
	case StateDisconnected:
		return core.ErrNotConnected
	default:
		return core.ErrNotAuthenticated
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Profile returns a copy of the profile captured at login.
func (s *Session) Profile() (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateAuthenticated || s.profile == nil {
		return nil, false
	}
	return maps.Clone(s.profile), true
}

// Username returns the user of the last login attempt.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// CreatedAt returns the timestamp when the session was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastUsed returns the timestamp of the last state change or checked call.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}
