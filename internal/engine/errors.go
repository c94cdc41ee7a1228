package engine

import (
	"errors"
	"fmt"
)

// ErrCancelled is the terminal error delivered to a Cursor destroyed
// without a caller-supplied cause.
var ErrCancelled = errors.New("statement cancelled")

// PrestoError is a non-retryable (or retry-budget-exhausted) error
// reported in a 200 response body's `error` object.
type PrestoError struct {
	Code    string // errorName
	Type    string // errorType
	Message string
	Info    any // failureInfo, if present
}

func (e *PrestoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// transientPrestoErrors are the Presto error codes worth a full query
// restart rather than a fatal stream error.
var transientPrestoErrors = map[string]bool{
	"SERVER_STARTING_UP":       true,
	"HIVE_METASTORE_ERROR":     true,
	"TOO_MANY_REQUESTS_FAILED": true,
	"PAGE_TRANSPORT_TIMEOUT":   true,
}

// composeCancelError joins a user-supplied destroy cause with any error
// from the cancellation DELETE.
func composeCancelError(cause, deleteErr error) error {
	switch {
	case cause == nil && deleteErr == nil:
		return ErrCancelled
	case cause == nil:
		return deleteErr
	case deleteErr == nil:
		return cause
	default:
		return errors.Join(cause, deleteErr)
	}
}
