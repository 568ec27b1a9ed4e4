// Package signer produces the nonce and signature headers required by the
// BlinkTrade trade endpoint.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Header names sent with every signed request.
const (
	HeaderAPIKey    = "APIKey"
	HeaderNonce     = "Nonce"
	HeaderSignature = "Signature"
)

// Nonce is a strictly increasing source seeded from the wall clock.
type Nonce struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewNonce creates a nonce source seeded with the current time.
func NewNonce() *Nonce {
	return &Nonce{now: time.Now}
}

// Next returns a value greater than every value returned before. It tracks the
// clock in nanoseconds but never goes backwards when the clock does.
func (n *Nonce) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	v := n.now().UnixNano()
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	return v
}

// Signer holds one API key pair.
type Signer struct {
	key    string
	secret []byte
	nonce  *Nonce
}

func New(key, secret string) *Signer {
	return &Signer{key: key, secret: []byte(secret), nonce: NewNonce()}
}

// Sign returns the hex HMAC-SHA256 of msg keyed by the secret.
func (s *Signer) Sign(msg string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

// Headers returns a fresh set of authentication headers.
func (s *Signer) Headers() map[string]string {
	nonce := strconv.FormatInt(s.nonce.Next(), 10)
	return map[string]string{
		HeaderAPIKey:    s.key,
		HeaderNonce:     nonce,
		HeaderSignature: s.Sign(nonce),
	}
}

// Verify reports whether signature matches nonce under secret.
func Verify(secret, nonce, signature string) bool {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(nonce))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
