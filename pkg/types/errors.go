package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable classification of a terminal request error.
type ErrorKind string

const (
	KindSelection        ErrorKind = "selection_error"
	KindHardware         ErrorKind = "hardware_error"
	KindResource         ErrorKind = "resource_error"
	KindModelAcquisition ErrorKind = "model_acquisition_error"
	KindLoad             ErrorKind = "load_error"
	KindRuntime          ErrorKind = "runtime_error"
	KindGuardianBlocked  ErrorKind = "guardian_blocked"
	KindInvalidInput     ErrorKind = "invalid_input"
	// KindBusy signals execution admission overflow or timeout.
	KindBusy ErrorKind = "too_busy"
)

// Error is a classified, terminal request error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Errorf builds a classified error. cause may be nil.
func Errorf(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Code returns the stable machine-readable code.
func (e *Error) Code() string { return string(e.Kind) }

// StatusCode maps the kind onto an HTTP status for transports.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindSelection:
		return http.StatusNotFound
	case KindHardware:
		return http.StatusNotImplemented
	case KindResource:
		return http.StatusInsufficientStorage
	case KindModelAcquisition:
		return http.StatusBadGateway
	case KindGuardianBlocked:
		return http.StatusUnavailableForLegalReasons
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsGuardianBlocked reports whether err is a guardian rejection.
func IsGuardianBlocked(err error) bool { return IsKind(err, KindGuardianBlocked) }

// IsBusy reports whether err indicates backpressure.
func IsBusy(err error) bool { return IsKind(err, KindBusy) }
