package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinktrade/pkg/core"
)

func authenticated(t *testing.T) *Session {
	t.Helper()

	s := New(zerolog.Nop())
	require.NoError(t, s.Open())
	require.NoError(t, s.BeginLogin("alice"))
	s.CompleteLogin(core.Message{"UserID": int64(90000001), "Username": "alice"})
	require.Equal(t, StateAuthenticated, s.State())
	return s
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateUnauthenticated, "UNAUTHENTICATED"},
		{StateAuthenticating, "AUTHENTICATING"},
		{StateAuthenticated, "AUTHENTICATED"},
		{StateLoggedOut, "LOGGED_OUT"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewSession(t *testing.T) {
	s := New(zerolog.Nop())

	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.CreatedAt().IsZero())
	assert.ErrorIs(t, s.RequireConnected(), core.ErrNotConnected)
	assert.ErrorIs(t, s.RequireAuthenticated(), core.ErrNotConnected)
	assert.ErrorIs(t, s.BeginLogin("alice"), core.ErrNotConnected)
}

func TestSession_LastUsed(t *testing.T) {
	s := New(zerolog.Nop())
	created := s.LastUsed()
	assert.Equal(t, s.CreatedAt(), created)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Open())
	opened := s.LastUsed()
	assert.True(t, opened.After(created))

	time.Sleep(2 * time.Millisecond)
	assert.ErrorIs(t, s.RequireAuthenticated(), core.ErrNotAuthenticated)
	assert.Equal(t, opened, s.LastUsed(), "failed checks do not count as use")

	require.NoError(t, s.RequireConnected())
	assert.True(t, s.LastUsed().After(opened))
}

func TestSession_Open(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.Open())
	assert.Equal(t, StateUnauthenticated, s.State())
	assert.NoError(t, s.RequireConnected())
	assert.ErrorIs(t, s.RequireAuthenticated(), core.ErrNotAuthenticated)
	assert.Error(t, s.Open())
}

func TestSession_LoginFlow(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Open())

	require.NoError(t, s.BeginLogin("alice"))
	assert.Equal(t, StateAuthenticating, s.State())
	assert.ErrorIs(t, s.BeginLogin("alice"), ErrLoginInProgress)
	assert.ErrorIs(t, s.RequireAuthenticated(), core.ErrNotAuthenticated)

	s.CompleteLogin(core.Message{"UserID": int64(1)})
	assert.Equal(t, StateAuthenticated, s.State())
	assert.NoError(t, s.RequireAuthenticated())
	assert.ErrorIs(t, s.BeginLogin("alice"), ErrAlreadyAuthenticated)
	assert.Equal(t, "alice", s.Username())
}

func TestSession_FailLogin(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Open())
	require.NoError(t, s.BeginLogin("alice"))

	s.FailLogin()
	assert.Equal(t, StateUnauthenticated, s.State())

	_, ok := s.Profile()
	assert.False(t, ok)

	require.NoError(t, s.BeginLogin("alice"))
}

func TestSession_CompleteLoginIgnoredOutsideLogin(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Open())

	s.CompleteLogin(core.Message{"UserID": int64(1)})
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestSession_Profile(t *testing.T) {
	s := authenticated(t)

	profile, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, "alice", profile.String("Username"))

	profile["Username"] = "mallory"
	again, _ := s.Profile()
	assert.Equal(t, "alice", again.String("Username"))
}

func TestSession_Logout(t *testing.T) {
	s := authenticated(t)

	require.NoError(t, s.Logout())
	assert.Equal(t, StateLoggedOut, s.State())
	assert.NoError(t, s.RequireConnected())
	assert.ErrorIs(t, s.RequireAuthenticated(), core.ErrNotAuthenticated)
	assert.ErrorIs(t, s.Logout(), core.ErrNotAuthenticated)

	_, ok := s.Profile()
	assert.False(t, ok)

	require.NoError(t, s.BeginLogin("alice"))
}

func TestSession_Close(t *testing.T) {
	s := authenticated(t)

	s.Close()
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.RequireAuthenticated(), core.ErrNotConnected)

	_, ok := s.Profile()
	assert.False(t, ok)

	s.Close()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ConcurrentChecks(t *testing.T) {
	s := authenticated(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 100 {
				_ = s.RequireAuthenticated()
				_, _ = s.Profile()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, StateAuthenticated, s.State())
}
