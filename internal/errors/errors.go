package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a spendcat error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrEmptyInput         ErrorCode = "EMPTY_INPUT"         // 400
	ErrLabelMismatch      ErrorCode = "LABEL_MISMATCH"      // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"      // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrNoModel            ErrorCode = "NO_MODEL"            // 409
	ErrInsufficientData   ErrorCode = "INSUFFICIENT_DATA"   // 422
	ErrRetrainingFailed   ErrorCode = "RETRAINING_FAILED"   // 500
	ErrArtifactCorruption ErrorCode = "ARTIFACT_CORRUPTION" // 500
	ErrCancelled          ErrorCode = "CANCELLED"           // 499
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// SpendError represents a structured error with code, status, and details.
// Cause holds the underlying error, if any, and is reachable via errors.Unwrap.
type SpendError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *SpendError) Error() string {
	if e.Cause != nil && e.Code == ErrRetrainingFailed {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SpendError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SpendError {
	return &SpendError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewEmptyInput creates a 400 error for blank prediction input.
func NewEmptyInput() *SpendError {
	return &SpendError{
		Code:    ErrEmptyInput,
		Status:  400,
		Message: "text must not be empty or whitespace",
	}
}

// NewLabelMismatch creates a 400 error for malformed training input.
func NewLabelMismatch(msg string) *SpendError {
	return &SpendError{
		Code:    ErrLabelMismatch,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(what string) *SpendError {
	return &SpendError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", what),
		Details: map[string]any{"identifier": what},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *SpendError {
	return &SpendError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *SpendError {
	return &SpendError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewNoModel creates a 409 error when inference is attempted before any training run.
func NewNoModel() *SpendError {
	return &SpendError{
		Code:    ErrNoModel,
		Status:  409,
		Message: "no trained model; run retrain first",
	}
}

// NewInsufficientData creates a 422 error when a model cannot be fit.
func NewInsufficientData(msg string) *SpendError {
	return &SpendError{
		Code:    ErrInsufficientData,
		Status:  422,
		Message: msg,
	}
}

// NewRetrainingFailed wraps the cause of a failed retrain.
func NewRetrainingFailed(cause error) *SpendError {
	return &SpendError{
		Code:    ErrRetrainingFailed,
		Status:  500,
		Message: "retraining failed; active model unchanged",
		Cause:   cause,
	}
}

// NewArtifactCorruption creates an error for an artifact that fails its integrity check.
func NewArtifactCorruption(version int, reason string) *SpendError {
	return &SpendError{
		Code:    ErrArtifactCorruption,
		Status:  500,
		Message: fmt.Sprintf("artifact v%d failed integrity check: %s", version, reason),
		Details: map[string]any{"version": version},
	}
}

// NewCancelled creates an error for an operation aborted by its context.
func NewCancelled(operation string) *SpendError {
	return &SpendError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details and Cause for logging.
func NewInternal(err error) *SpendError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SpendError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		Cause:   err,
	}
}

// Is checks if an error, or any error it wraps, is a SpendError with the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var sErr *SpendError
		if !stderrors.As(err, &sErr) {
			return false
		}
		if sErr.Code == code {
			return true
		}
		err = sErr.Cause
	}
	return false
}
