package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindIsolationViolation Kind = "isolation_violation"
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindUpstream           Kind = "upstream"
	KindDegraded           Kind = "degraded"
	KindInternal           Kind = "internal"
)

// Error carries enough context for a caller to choose between retrying and
// showing a user-facing message.
type Error struct {
	Kind      Kind
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session %s)", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, sessionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
}

func Newf(kind Kind, op string, sessionID string, format string, args ...interface{}) *Error {
	return New(kind, op, sessionID, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost *Error in the chain, or
// KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
