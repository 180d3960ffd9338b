package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported to clients.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "UNAUTHENTICATED"
	KindNotAuthorized   ErrorKind = "NOT_AUTHORIZED"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindValidation      ErrorKind = "VALIDATION_ERROR"
	KindTransientStore  ErrorKind = "TRANSIENT_STORE_ERROR"
	KindBadRequest      ErrorKind = "BAD_REQUEST"
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindInternal        ErrorKind = "INTERNAL_ERROR"
)

// Error is a classified failure. Two errors match with errors.Is when the
// target carries the same kind and no message of its own, so the sentinels
// below can be used to test any error of that kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrNotAuthorized   = &Error{Kind: KindNotAuthorized}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrTransientStore  = &Error{Kind: KindTransientStore}
	ErrBadRequest      = &Error{Kind: KindBadRequest}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
)

func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthenticated(message string, err error) *Error {
	return NewError(KindUnauthenticated, message, err)
}

func NotAuthorized(message string) *Error {
	return NewError(KindNotAuthorized, message, nil)
}

func NotFound(message string) *Error {
	return NewError(KindNotFound, message, nil)
}

func Validation(message string) *Error {
	return NewError(KindValidation, message, nil)
}

func BadRequest(message string) *Error {
	return NewError(KindBadRequest, message, nil)
}

// TransientStore wraps a persistence failure that may succeed on retry.
func TransientStore(message string, err error) *Error {
	return NewError(KindTransientStore, message, err)
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns text that is safe to send to a client. Causes of
// store and internal failures are not exposed.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindTransientStore:
		return "storage temporarily unavailable"
	default:
		return string(e.Kind)
	}
}
