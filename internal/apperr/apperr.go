package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindConfig    Kind = "config"
	KindNetwork   Kind = "network"
	KindServer    Kind = "server"
	KindModel     Kind = "model"
	KindPayload   Kind = "payload"
	KindInput     Kind = "input"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindUnknown   Kind = "unknown"
)

// Error is the single error value surfaced by the relay components. Only the
// message text is meant for humans; Kind drives HTTP status mapping.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap annotates err. An err that already is an *Error keeps its original kind.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// UserMessage renders err without the kind/op prefix.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var target *Error
	if !errors.As(err, &target) {
		return err.Error()
	}
	if target.Cause != nil {
		return fmt.Sprintf("%s: %v", target.Message, target.Cause)
	}
	return target.Message
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInput, KindPayload:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindModel, KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
