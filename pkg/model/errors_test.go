package model

import (
	"errors"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "run 'run_123' not found"}
	want := "NOT_FOUND: run 'run_123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("run", "run_abc")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "run 'run_abc' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "run 'run_abc' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("Invalid request",
		FieldError{Field: "tasks[0].name", Message: "required"},
		FieldError{Field: "mutexes[1].name", Message: "duplicate"},
	)
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "run",
		ID:     "run_123",
		From:   "COMPLETED",
		To:     "RUNNING",
	}
	want := "invalid run state transition: COMPLETED → RUNNING (entity run_123)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKernelError_Is(t *testing.T) {
	err := NewKernelError(ErrAdmissionRejected, "utilization %.2f", 1.5)
	tests := []struct {
		name   string
		target error
		want   bool
	}{
		{"sentinel", ErrAdmission, true},
		{"other code", ErrCapacity, false},
		{"same message", &KernelError{Code: ErrAdmissionRejected, Message: "utilization 1.50"}, true},
		{"other message", &KernelError{Code: ErrAdmissionRejected, Message: "x"}, false},
		{"api error", &APIError{Code: ErrAdmissionRejected}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
	if got := err.Error(); got != "ADMISSION_REJECTED: utilization 1.50" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFatalError_Error(t *testing.T) {
	tests := []struct {
		err  *FatalError
		want string
	}{
		{&FatalError{Code: ErrMemoryFault, Task: 2, Reason: "stacking error"},
			"kernel halted: MEMORY_PROTECTION_FAULT: task 2: stacking error"},
		{&FatalError{Code: ErrIntegrity, Task: -1, Reason: "idle faulted"},
			"kernel halted: KERNEL_INTEGRITY_VIOLATION: idle faulted"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
