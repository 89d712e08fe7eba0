package model

import "fmt"

// ErrorCode represents a structured error code.
type ErrorCode string

// Kernel error codes.
const (
	ErrAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrCapacityExhausted ErrorCode = "CAPACITY_EXHAUSTED"
	ErrInvalidRegion     ErrorCode = "INVALID_REGION"
	ErrMemoryFault       ErrorCode = "MEMORY_PROTECTION_FAULT"
	ErrIntegrity         ErrorCode = "KERNEL_INTEGRITY_VIOLATION"
	ErrInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrInvalidState      ErrorCode = "INVALID_STATE"
)

// API error codes.
const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// KernelError is a recoverable failure returned by a kernel call.
// The call that returned it made no state change.
type KernelError struct {
	Code    ErrorCode
	Message string
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another KernelError with the same code. A target with an empty
// message matches any message, so the Err* sentinels below work with errors.Is.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewKernelError creates a KernelError with a formatted message.
func NewKernelError(code ErrorCode, format string, args ...any) *KernelError {
	return &KernelError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrAdmission = &KernelError{Code: ErrAdmissionRejected}
	ErrCapacity  = &KernelError{Code: ErrCapacityExhausted}
	ErrRegion    = &KernelError{Code: ErrInvalidRegion}
	ErrArgument  = &KernelError{Code: ErrInvalidArgument}
	ErrState     = &KernelError{Code: ErrInvalidState}
)

// FatalError describes a condition the kernel cannot recover from. It is
// handed to the platform's halt path, never returned to the calling task.
type FatalError struct {
	Code   ErrorCode
	Task   int // slot of the offending task, -1 if none
	Reason string
}

func (e *FatalError) Error() string {
	if e.Task < 0 {
		return fmt.Sprintf("kernel halted: %s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("kernel halted: %s: task %d: %s", e.Code, e.Task, e.Reason)
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// APIError is a structured error returned by the HTTP API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}
