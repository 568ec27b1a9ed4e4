package core

import "errors"

// ErrorCode represents a stable, machine-readable error identifier.
type ErrorCode string

// Error code constants.
const (
	// ErrCodeNetwork indicates a network connectivity failure.
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"
	// ErrCodeAuth indicates a failed login or a rejected signature.
	ErrCodeAuth ErrorCode = "AUTH_ERROR"
	// ErrCodeSecondFactor indicates the login must be retried with a second factor.
	ErrCodeSecondFactor ErrorCode = "SECOND_FACTOR_REQUIRED"
	// ErrCodeServerError indicates the server reported an error.
	ErrCodeServerError ErrorCode = "SERVER_ERROR"
	// ErrCodeOrderRejected indicates an order or cancel was rejected.
	ErrCodeOrderRejected ErrorCode = "ORDER_REJECTED"
	// ErrCodeBadEnvelope indicates the response envelope could not be understood.
	ErrCodeBadEnvelope ErrorCode = "BAD_ENVELOPE"
)

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
