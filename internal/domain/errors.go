package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a business or storage failure. Kinds are HTTP-agnostic;
// the transport layer maps them to status codes.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: quiz, question, attempt, or answer is absent.
	KindNotFound
	// KindInvalidInput: missing required selection/text or malformed payload.
	KindInvalidInput
	// KindForbidden: acting on another user's attempt or missing role.
	KindForbidden
	// KindAlreadyFinished: re-finishing or writing into a closed attempt.
	KindAlreadyFinished
	// KindConflict: storage-level uniqueness race, retryable by the caller.
	KindConflict
	// KindInternal: unexpected storage or collaborator failure.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindForbidden:
		return "forbidden"
	case KindAlreadyFinished:
		return "already_finished"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// ClientFault reports whether the kind is a 4xx-equivalent failure.
func (k Kind) ClientFault() bool {
	switch k {
	case KindNotFound, KindInvalidInput, KindForbidden, KindAlreadyFinished, KindConflict:
		return true
	}
	return false
}

// Error is the typed failure crossing component boundaries. Reason is a
// short human-readable explanation; Err carries the underlying cause for
// logging and is never shown to callers of the HTTP surface.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error with a formatted reason.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a typed kind and reason to an underlying error.
func Wrap(err error, kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the machine-readable reason, falling back to the plain
// error text for untyped errors.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
