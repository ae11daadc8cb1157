package errors

import (
	"fmt"
	"testing"
)

func TestSpendError_Error(t *testing.T) {
	err := &SpendError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "correction not found",
	}

	expected := "NOT_FOUND: correction not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("category is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "category is required" {
		t.Errorf("Message = %q, want %q", err.Message, "category is required")
	}
}

func TestNewEmptyInput(t *testing.T) {
	err := NewEmptyInput()
	if err.Code != ErrEmptyInput {
		t.Errorf("Code = %q, want %q", err.Code, ErrEmptyInput)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("v3")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Details["identifier"] != "v3" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "v3")
	}
}

func TestNewArtifactCorruption(t *testing.T) {
	err := NewArtifactCorruption(4, "checksum mismatch")

	if err.Code != ErrArtifactCorruption {
		t.Errorf("Code = %q, want %q", err.Code, ErrArtifactCorruption)
	}
	if err.Details["version"] != 4 {
		t.Errorf("Details[version] = %v, want 4", err.Details["version"])
	}
	if err.Message != "artifact v4 failed integrity check: checksum mismatch" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewRetrainingFailed(t *testing.T) {
	cause := NewInsufficientData("need at least 2 categories, got 1")
	err := NewRetrainingFailed(cause)

	if err.Code != ErrRetrainingFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrRetrainingFailed)
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the cause")
	}
	want := "RETRAINING_FAILED: retraining failed; active model unchanged: INSUFFICIENT_DATA: need at least 2 categories, got 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		originalErr := fmt.Errorf("database connection failed")
		err := NewInternal(originalErr)

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		err := NewNoModel()
		if !Is(err, ErrNoModel) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		err := NewNotFound("test")
		if Is(err, ErrConflict) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-SpendError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrNotFound) {
			t.Error("Is() = true, want false for non-SpendError")
		}
	})

	t.Run("wrapped SpendError", func(t *testing.T) {
		inner := NewNotFound("test")
		wrapped := fmt.Errorf("items[0]: %w", inner)
		if !Is(wrapped, ErrNotFound) {
			t.Error("Is() = false, want true for wrapped SpendError")
		}
		if Is(wrapped, ErrConflict) {
			t.Error("Is() = true, want false for wrong code on wrapped SpendError")
		}
	})

	t.Run("cause chain", func(t *testing.T) {
		err := NewRetrainingFailed(NewLabelMismatch("3 labels for 4 rows"))
		if !Is(err, ErrRetrainingFailed) {
			t.Error("Is(RETRAINING_FAILED) = false, want true")
		}
		if !Is(err, ErrLabelMismatch) {
			t.Error("Is(LABEL_MISMATCH) = false, want true for cause")
		}
	})
}
