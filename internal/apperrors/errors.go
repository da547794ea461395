package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies failures crossing component boundaries.
type Kind string

const (
	KindStorage      Kind = "storage"
	KindProvider     Kind = "provider"
	KindValidation   Kind = "validation"
	KindNotification Kind = "notification"
	KindQuota        Kind = "quota"
	KindNotFound     Kind = "not_found"
)

// Error is the standard error wrapper for the application.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return string(e.Kind) + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: KindStorage}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New wraps err with a kind and operation name. A nil err still yields an error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindStorage, op, err)
}

func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindProvider, op, err)
}

func Notification(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindNotification, op, err)
}

// Validation builds a validation error from a formatted message.
func Validation(op, format string, args ...any) error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether any *Error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
