// Package apperr defines the error classes every handler converts failures into.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrCollaborator  = errors.New("external service failed")
	ErrQuotaExceeded = errors.New("upload limit reached")
	ErrBanned        = errors.New("subject is banned")
)

// Validation returns an ErrValidation carrying a message fit for the actor.
func Validation(format string, args ...any) error {
	return &classified{class: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(format string, args ...any) error {
	return &classified{class: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Collaborator wraps a failure from messaging, storage or the config store.
func Collaborator(op string, cause error) error {
	return &classified{class: ErrCollaborator, msg: op, cause: cause}
}

type classified struct {
	class error
	msg   string
	cause error
}

func (e *classified) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.class, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.class, e.msg)
}

func (e *classified) Unwrap() []error {
	if e.cause != nil {
		return []error{e.class, e.cause}
	}
	return []error{e.class}
}

// UserMessage turns any error into the short text shown to the actor.
func UserMessage(err error) string {
	var c *classified
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "This action is not available."
	case errors.Is(err, ErrBanned):
		return "Your account is blocked."
	case errors.Is(err, ErrQuotaExceeded):
		return "Upload limit reached. Invite friends or delete old files to free slots."
	case errors.As(err, &c) && errors.Is(err, ErrNotFound):
		return "Not found: " + c.msg + "."
	case errors.As(err, &c) && !errors.Is(err, ErrCollaborator):
		return c.msg
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrCollaborator):
		return "Service is temporarily unavailable, try again later."
	default:
		return "Something went wrong, try again later."
	}
}
