package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrDependencyCycle, "task-3 closes a cycle")
	expected := "[DEPENDENCY_CYCLE] task-3 closes a cycle"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestError_FormatWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrPersistence, "failed to save checkpoint").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match the cause")
	}
	expected := "[PERSISTENCE] failed to save checkpoint: disk full"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewError(ErrPersistence, "transient").WithRetryable(true)
	if !IsRetryable(retryable) {
		t.Error("expected retryable error")
	}
	if IsRetryable(NewError(ErrDuplicateTask, "task-1 exists")) {
		t.Error("validation errors must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	inner := NewError(ErrInvalidTransition, "PENDING -> RUNNING")
	wrapped := fmt.Errorf("start task: %w", inner)

	if GetErrorCode(wrapped) != ErrInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION, got %s", GetErrorCode(wrapped))
	}
	if !IsCode(wrapped, ErrInvalidTransition) {
		t.Error("IsCode should see through wrapping")
	}
}
