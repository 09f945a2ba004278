package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrAlreadyAssigned, "handoff already claimed")
	want := "[ALREADY_ASSIGNED] handoff already claimed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := errors.New("row not updated")
	wrapped := NewError(ErrInternalError, "pickup failed").WithCause(cause)
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should match its cause via errors.Is")
	}
}

func TestErrorCodeExtraction(t *testing.T) {
	err := NewError(ErrCapacityExceeded, "agent full").WithRetryable(true)

	if got := GetErrorCode(err); got != ErrCapacityExceeded {
		t.Errorf("GetErrorCode = %q, want %q", got, ErrCapacityExceeded)
	}
	if !IsRetryable(err) {
		t.Error("capacity errors should be retryable")
	}
	if !IsCode(err, ErrCapacityExceeded) {
		t.Error("IsCode should match the error's code")
	}

	// Extraction works through wrapping.
	wrapped := fmt.Errorf("dispatch: %w", err)
	if got := GetErrorCode(wrapped); got != ErrCapacityExceeded {
		t.Errorf("GetErrorCode through wrap = %q, want %q", got, ErrCapacityExceeded)
	}

	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("plain errors should yield an empty code")
	}
}

func TestUnauthorizedNotRetryable(t *testing.T) {
	err := NewError(ErrUnauthorized, "not the assigned agent")
	if IsRetryable(err) {
		t.Error("unauthorized must never be retryable")
	}
}
