// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown               = "UNKNOWN_ERROR"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeTimeout               = "TIMEOUT_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeConfigError           = "CONFIG_ERROR"
	CodeCheckpointContention  = "CHECKPOINT_CONTENTION"
	CodeSpatialQueryFailed    = "SPATIAL_QUERY_FAILED"
	CodeVolumeUnavailable     = "VOLUME_UNAVAILABLE"
	CodeChunkedGraphError     = "CHUNKEDGRAPH_ERROR"
	CodeUpsertConflict        = "UPSERT_CONFLICT"
	CodeSchemaMismatch        = "SCHEMA_MISMATCH"
	CodeMonitorTimeout        = "MONITOR_TIMEOUT"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
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

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrDatabaseError        = New(CodeDatabaseError, "database error")
	ErrInvalidInput         = New(CodeInvalidInput, "invalid input")
	ErrTimeout              = New(CodeTimeout, "operation timeout")
	ErrNotFound             = New(CodeNotFound, "resource not found")
	ErrConfigError          = New(CodeConfigError, "configuration error")
	ErrCheckpointContention = New(CodeCheckpointContention, "checkpoint updated concurrently")
	ErrSpatialQueryFailed   = New(CodeSpatialQueryFailed, "spatial query failed")
	ErrVolumeUnavailable    = New(CodeVolumeUnavailable, "segmentation volume unavailable")
	ErrChunkedGraphError    = New(CodeChunkedGraphError, "chunked graph lookup failed")
	ErrUpsertConflict       = New(CodeUpsertConflict, "segmentation upsert conflict")
	ErrSchemaMismatch       = New(CodeSchemaMismatch, "annotation/segmentation schema mismatch")
	ErrMonitorTimeout       = New(CodeMonitorTimeout, "completion monitor timed out waiting for chunks")
)

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCheckpointContention checks if the error is a checkpoint write conflict.
func IsCheckpointContention(err error) bool {
	return errors.Is(err, ErrCheckpointContention)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsRetryable reports whether a failed task handler should be retried by the
// task runtime rather than dead-lettered. Checkpoint contention, transient
// database errors, volume unavailability and chunked-graph lookup failures
// are retried; invalid input, schema mismatches and not-found are not, since
// retrying them cannot change the outcome.
func IsRetryable(err error) bool {
	switch GetErrorCode(err) {
	case CodeCheckpointContention, CodeDatabaseError, CodeVolumeUnavailable,
		CodeChunkedGraphError, CodeTimeout, CodeUpsertConflict:
		return true
	case CodeInvalidInput, CodeSchemaMismatch, CodeNotFound, CodeConfigError:
		return false
	default:
		return true
	}
}
