package live

import "errors"

// ErrAuthenticationRequired is returned when an inbound event arrives on a
// connection with no authenticated identity. The event is rejected with no
// side effects.
var ErrAuthenticationRequired = errors.New("authentication required")

// ErrAuthenticationFailed is returned by OnConnect when the presented token
// does not verify. This is the only error that terminates a connection.
var ErrAuthenticationFailed = errors.New("authentication failed")

// DeniedError is an authorization or moderation refusal. It is surfaced to
// the requesting connection only, never broadcast, and never terminates the
// connection.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

func denied(reason string) error { return &DeniedError{Reason: reason} }
