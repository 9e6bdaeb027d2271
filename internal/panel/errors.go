package panel

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a client does not exist on the panel. Delete
// paths treat it as success; lookup paths surface it to the caller.
var ErrNotFound = errors.New("client not found on panel")

// ErrAlreadyExists reports that the panel refused a create because the
// email is already taken. The orchestrator decides whether that counts as
// success (replay) or as a conflict (fresh create racing another key).
var ErrAlreadyExists = errors.New("client already exists on panel")

type ErrorKind string

const (
	// KindUnreachable covers network failures and timeouts. Transient:
	// the operation is safe to retry later.
	KindUnreachable ErrorKind = "unreachable"
	// KindRejected means the panel answered and explicitly refused.
	// Terminal: never auto-retried.
	KindRejected ErrorKind = "rejected"
	// KindAuth means the session could not be (re)established.
	KindAuth ErrorKind = "auth"
	// KindConfig means the panel's own configuration is unusable, for
	// example an inbound with no resolvable connect host. Terminal until
	// an operator fixes the panel.
	KindConfig ErrorKind = "config_invalid"
)

// Error is a classified panel failure. Op names the adapter operation,
// Server the panel it was issued against.
type Error struct {
	Kind   ErrorKind
	Server string
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Server, e.Op, e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Server, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Server, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the failure is worth retrying: network
// trouble and auth trouble are; explicit rejections are not.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindUnreachable || pe.Kind == KindAuth
	}
	return false
}

func IsRejected(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindRejected
	}
	return false
}

// Reason returns the panel-supplied rejection message, if any.
func Reason(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}
