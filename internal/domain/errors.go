package domain

import (
	"errors"
	"fmt"
)

type ErrorType int

const (
	ErrorTypeValidation ErrorType = iota
	ErrorTypeNotFound
	ErrorTypeUnavailable
	ErrorTypeRejection
	ErrorTypeStorage
	ErrorTypeInternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeUnavailable:
		return "unavailable"
	case ErrorTypeRejection:
		return "rejection"
	case ErrorTypeStorage:
		return "storage"
	default:
		return "internal"
	}
}

type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrClosed         = errors.New("store closed")
)

func NewValidationError(message string, details map[string]interface{}) Error {
	return Error{Type: ErrorTypeValidation, Message: message, Details: details}
}

func NewNotFoundError(kind, id string) Error {
	return Error{
		Type:    ErrorTypeNotFound,
		Message: kind + " not found",
		Details: map[string]interface{}{"id": id},
	}
}

// NewUnavailableError marks a transient infrastructure failure. Callers must
// retry on their next tick without advancing checkpoints or marking
// operations terminal.
func NewUnavailableError(target string, err error) Error {
	return Error{
		Type:    ErrorTypeUnavailable,
		Message: target + " unavailable",
		Details: map[string]interface{}{"error": err.Error()},
	}
}

// NewRejectionError marks a business-rule rejection. It is terminal: the
// reason is recorded verbatim and the command is never retried.
func NewRejectionError(reason string) Error {
	return Error{Type: ErrorTypeRejection, Message: reason}
}

func NewStorageError(op string, err error) Error {
	return Error{
		Type:    ErrorTypeStorage,
		Message: "store operation failed: " + op,
		Details: map[string]interface{}{"error": err.Error()},
	}
}

func NewInternalError(message string, err error) Error {
	details := map[string]interface{}{}
	if err != nil {
		details["error"] = err.Error()
	}
	return Error{Type: ErrorTypeInternal, Message: message, Details: details}
}

func typeOf(err error) (ErrorType, bool) {
	var e Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return 0, false
}

func IsUnavailable(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeUnavailable
}

func IsRejection(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeRejection
}

func IsNotFound(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeNotFound
}

func IsValidation(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeValidation
}

// RejectionReason extracts the engine's reason from a rejection error, or ""
// when err is not one.
func RejectionReason(err error) string {
	var e Error
	if errors.As(err, &e) && e.Type == ErrorTypeRejection {
		return e.Message
	}
	return ""
}
