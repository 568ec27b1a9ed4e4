package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an exchange error.
type ErrorType int

// Error type constants categorize errors for proper handling.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeAuthentication indicates rejected credentials or a failed login.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates the server refused the request parameters.
	ErrorTypeBadRequest
	// ErrorTypeServerError indicates a server-side error.
	ErrorTypeServerError
	// ErrorTypeRejected indicates an order was rejected by the exchange.
	ErrorTypeRejected
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"AUTHENTICATION",
		"BAD_REQUEST",
		"SERVER_ERROR",
		"REJECTED",
	}[t]
}

// Sentinel errors for client-side conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed transport.
	ErrClientClosed = errors.New("client is closed")
	// ErrNotConnected is returned when the websocket is not connected.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrNotAuthenticated is returned for session calls made before a successful login.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrNoCredentials is returned when a REST trade call has no API key configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrUnknownSubscription is returned when unsubscribing an id that is not live.
	ErrUnknownSubscription = errors.New("unknown subscription")
	// ErrUnsubscribed rejects a subscription cancelled before its first update.
	ErrUnsubscribed = errors.New("subscription cancelled")
	// ErrCircuitOpen is returned by REST calls while the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrDuplicateRequest is returned when a request id or ClOrdID is already in flight.
	ErrDuplicateRequest = errors.New("request id already in flight")
)

// ExchangeError carries an error reported by the BlinkTrade backend.
// Raw holds the server payload exactly as received.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP or envelope status, zero for websocket errors.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific error code, when present.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// NeedSecondFactor is set when a login must be resubmitted with a second factor.
	NeedSecondFactor bool `json:"need_second_factor"`
	// Raw contains the original server payload.
	Raw Message `json:"raw,omitempty"`
	// Exchange identifies which exchange returned this error.
	Exchange string `json:"exchange"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for ExchangeError.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.Exchange, e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Type, e.StatusCode, e.Message)
}

// WithCode sets the error code and returns the error for chaining.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithRaw attaches the server payload and returns the error for chaining.
func (e *ExchangeError) WithRaw(raw Message) *ExchangeError {
	e.Raw = raw
	return e
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(errorType ErrorType, statusCode int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Exchange:   ExchangeName,
		Timestamp:  time.Now(),
	}
}

// NeedsSecondFactor reports whether err is a login rejection that asks for a second factor.
func NeedsSecondFactor(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.NeedSecondFactor
	}
	return false
}

// IsAuthenticationError returns true if the error is an authentication failure.
func IsAuthenticationError(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Type == ErrorTypeAuthentication
	}
	return false
}

// IsRejected returns true if the error is an order rejection.
func IsRejected(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Type == ErrorTypeRejected
	}
	return false
}
