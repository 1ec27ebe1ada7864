package assetdb

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Execution errors
	ErrTimeout          = errors.New("operation timed out")
	ErrRetriesExhausted = errors.New("query failed after retries")
	ErrDeadlockGuard    = errors.New("blocking call issued from inside the database worker")
	ErrBridgeClosed     = errors.New("worker bridge is shut down")

	// Pool errors
	ErrPoolDraining = errors.New("connection pool is resetting")
	ErrPoolClosed   = errors.New("connection pool is closed")

	// Transaction errors
	ErrTxNotActive  = errors.New("transaction token is not registered")
	ErrNestedBegin  = errors.New("explicit BEGIN/COMMIT statements are not allowed, use WithTransaction")
	ErrCommitFailed = errors.New("transaction commit failed")

	// Recovery errors
	ErrResetFailed       = errors.New("database reset failed")
	ErrRecoveryThrottled = errors.New("recovery attempted too recently")

	// Caller errors
	ErrInvalidInput  = errors.New("invalid caller-supplied input")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Lifecycle errors
	ErrManagerClosed = errors.New("manager is closed")
)

// ErrorCode is the stable machine-readable code carried by failure Results.
type ErrorCode string

const (
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeDBError      ErrorCode = "DB_ERROR"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeResetFailed  ErrorCode = "RESET_FAILED"
)

// codeForError maps an internal error to the boundary taxonomy. Anything not
// explicitly classified is a generic database error; callers are never shown
// internal recovery mechanics.
func codeForError(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNestedBegin):
		return CodeInvalidInput
	case errors.Is(err, ErrResetFailed):
		return CodeResetFailed
	default:
		return CodeDBError
	}
}

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// Common error checking helpers

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsDeadlockGuard checks if an error is the worker re-entry guard
func IsDeadlockGuard(err error) bool {
	return errors.Is(err, ErrDeadlockGuard)
}

// IsPoolDraining checks if an error means the pool rejected work during a reset
func IsPoolDraining(err error) bool {
	return errors.Is(err, ErrPoolDraining)
}

// IsInvalidInput checks if an error was caused by caller-supplied input
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsResetFailed checks if an error came from a failed hard reset
func IsResetFailed(err error) bool {
	return errors.Is(err, ErrResetFailed)
}

// IsRetriesExhausted checks if an error means the locked-retry budget ran out
func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
