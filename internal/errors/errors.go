// Package errors provides error codes and typed errors for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Scheduler errors
	ErrRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
	ErrSchedulerStopped   ErrorCode = "SCHEDULER_STOPPED"
	ErrUnknownService     ErrorCode = "UNKNOWN_SERVICE"

	// Sync errors
	ErrSyncRecoverable    ErrorCode = "SYNC_RECOVERABLE"
	ErrSyncFatal          ErrorCode = "SYNC_FATAL"
	ErrSyncInProgress     ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncRetryExhausted ErrorCode = "SYNC_RETRY_EXHAUSTED"
	ErrConflictUnresolved ErrorCode = "CONFLICT_UNRESOLVED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code ErrorCode) bool {
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		switch v := e.(type) {
		case *AppError:
			if v.Code == code {
				return true
			}
		case *MaxRetriesExceededError:
			if code == ErrMaxRetriesExceeded {
				return true
			}
		}
	}
	return false
}

// CodeOf returns the outermost error code in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	var maxErr *MaxRetriesExceededError
	if stderrors.As(err, &maxErr) {
		return ErrMaxRetriesExceeded
	}
	return ErrInternal
}

// MaxRetriesExceededError is returned when a throttled call ran out of attempts.
type MaxRetriesExceededError struct {
	Operation string
	Attempts  int
	LastErr   error
}

// Error implements the error interface.
func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("[%s] %s gave up after %d attempts: %v",
		ErrMaxRetriesExceeded, e.Operation, e.Attempts, e.LastErr)
}

// Unwrap returns the last error seen before giving up.
func (e *MaxRetriesExceededError) Unwrap() error {
	return e.LastErr
}

// Recoverable marks err as a transient sync failure that may be retried later.
func Recoverable(message string, err error) *AppError {
	return Wrap(ErrSyncRecoverable, message, err)
}

// Fatal marks err as a permanent sync failure.
func Fatal(message string, err error) *AppError {
	return Wrap(ErrSyncFatal, message, err)
}

// IsRecoverable reports whether err was classified as recoverable.
// A fatal classification anywhere in the chain wins over a recoverable one.
func IsRecoverable(err error) bool {
	if err == nil || Is(err, ErrSyncFatal) {
		return false
	}
	return Is(err, ErrSyncRecoverable)
}
