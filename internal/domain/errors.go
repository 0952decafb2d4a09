package domain

import (
	"errors"
	"fmt"
)

// Error codes carried by the two workflow error classes.
const (
	CodeTimeout      = "timeout"
	CodeUnavailable  = "unavailable"
	CodeNotConfirmed = "not_confirmed"
	CodeReverted     = "reverted"
	CodeRejected     = "rejected"
)

// OperationalError means the step could not make progress for a transient
// reason. It always yields STALLED and is eligible for retry and
// reconciliation without limit.
type OperationalError struct {
	Code    string
	Message string
	Err     error
}

func (e *OperationalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OperationalError) Unwrap() error { return e.Err }

func Operational(code, message string, cause error) *OperationalError {
	return &OperationalError{Code: code, Message: message, Err: cause}
}

// CorrectnessError means an external system explicitly rejected the request.
// It always yields FAILED, which is terminal and never retried automatically.
type CorrectnessError struct {
	Code    string
	Message string
}

func (e *CorrectnessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Correctness(code, message string) *CorrectnessError {
	return &CorrectnessError{Code: code, Message: message}
}

func IsOperational(err error) bool {
	var oe *OperationalError
	return errors.As(err, &oe)
}

func AsOperational(err error) (*OperationalError, bool) {
	var oe *OperationalError
	ok := errors.As(err, &oe)
	return oe, ok
}

func AsCorrectness(err error) (*CorrectnessError, bool) {
	var ce *CorrectnessError
	ok := errors.As(err, &ce)
	return ce, ok
}
