// Package apperr classifies domain failures so transports can map them to
// status codes without knowing every concrete error type.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind is the category of a domain failure.
type Kind int

const (
	// KindInternal is any failure that is not a client mistake.
	KindInternal Kind = iota
	// KindValidation reports a malformed request shape.
	KindValidation
	// KindNotFound reports an unknown identifier.
	KindNotFound
	// KindConflict reports a request that collides with current state.
	KindConflict
	// KindUnauthorized reports a missing or invalid credential.
	KindUnauthorized
	// KindForbidden reports a valid credential with insufficient role.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Reason is a stable machine-readable
// token surfaced to clients, Message is human readable.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches another *Error with identical fields, so copies of sentinel
// values declared with New still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return *t == *e
}

// New returns a classified error.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Validation returns a KindValidation error with the generic reason.
func Validation(message string) *Error {
	return New(KindValidation, "validation", message)
}

// Classified is implemented by typed domain errors that carry their own kind.
type Classified interface {
	error
	Kind() Kind
	Reason() string
}

// KindOf walks the error chain and returns the first classification found.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	kind, _ := Classify(err)
	return kind
}

// Classify returns the kind and reason of err.
func Classify(err error) (Kind, string) {
	if err == nil {
		return KindInternal, ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.Kind(), c.Reason()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Reason
	}
	return KindInternal, "internal"
}

// Message returns the client-facing message for err. Internal errors never
// leak their text.
func Message(err error) string {
	var c Classified
	if errors.As(err, &c) {
		return c.Error()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
