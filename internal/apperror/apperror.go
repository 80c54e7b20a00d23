package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure returned by the catalog and reservation services.
type Kind string

const (
	KindValidation              Kind = "VALIDATION_ERROR"
	KindPermissionDenied        Kind = "PERMISSION_DENIED"
	KindNotFound                Kind = "NOT_FOUND"
	KindBookUnavailable         Kind = "BOOK_UNAVAILABLE"
	KindInvalidReservationState Kind = "INVALID_RESERVATION_STATE"
	KindInfrastructure          Kind = "INFRASTRUCTURE_ERROR"

	// Raised only by the login path, never by catalog or reservation code.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
)

// Error is the single failure type surfaced by the service layer.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel values such as
// ErrBookUnavailable work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons. Only Kind is compared.
var (
	ErrValidation              = &Error{Kind: KindValidation}
	ErrPermissionDenied        = &Error{Kind: KindPermissionDenied}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrBookUnavailable         = &Error{Kind: KindBookUnavailable}
	ErrInvalidReservationState = &Error{Kind: KindInvalidReservationState}
	ErrInfrastructure          = &Error{Kind: KindInfrastructure}
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated}
)

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func BookUnavailable(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBookUnavailable, Message: fmt.Sprintf(format, args...)}
}

func InvalidReservationState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidReservationState, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthenticated, Message: fmt.Sprintf(format, args...)}
}

// Infrastructure wraps a storage or lock failure.
func Infrastructure(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInfrastructure, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidID reports a malformed identifier.
func InvalidID(entity string, err error) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("invalid %s id", entity), Err: err}
}

// KindOf returns the kind of err, or KindInfrastructure for errors that did
// not originate in this package.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInfrastructure
}

func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
