package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a service failure for the HTTP boundary and for
// retry-policy decisions. None of these kinds is retried in-process.
type ErrorKind int

const (
	// KindValidation rejects bad input synchronously (bad amount, unknown
	// category, unknown kind).
	KindValidation ErrorKind = iota
	// KindNotFound surfaces an unknown holder/account/transaction.
	KindNotFound
	// KindPermission surfaces a closed correction window or a wrong role.
	// Never silently downgraded.
	KindPermission
	// KindConsistency surfaces an insufficient-balance condition; no partial
	// mutation is applied.
	KindConsistency
	// KindOrchestration marks a failed reset-pipeline stage. Recorded as an
	// ERROR marker and rethrown to the scheduler for its own retry policy.
	KindOrchestration
)

// ServiceError carries the taxonomy kind alongside the message.
type ServiceError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewValidationError builds a KindValidation error.
func NewValidationError(format string, args ...any) error {
	return &ServiceError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NewNotFoundError builds a KindNotFound error.
func NewNotFoundError(format string, args ...any) error {
	return &ServiceError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// NewPermissionError builds a KindPermission error.
func NewPermissionError(format string, args ...any) error {
	return &ServiceError{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

// NewConsistencyError builds a KindConsistency error.
func NewConsistencyError(format string, args ...any) error {
	return &ServiceError{Kind: KindConsistency, Msg: fmt.Sprintf(format, args...)}
}

// NewOrchestrationError wraps a failed pipeline stage.
func NewOrchestrationError(stage string, err error) error {
	return &ServiceError{Kind: KindOrchestration, Msg: fmt.Sprintf("reset stage %s failed", stage), Err: err}
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// HTTPStatus maps an error to the status code the handlers respond with.
func HTTPStatus(err error) int {
	var se *ServiceError
	if !errors.As(err, &se) {
		return 500
	}
	switch se.Kind {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindPermission:
		return 403
	case KindConsistency:
		return 409
	default:
		return 500
	}
}
