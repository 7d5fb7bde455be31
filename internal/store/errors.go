// Package store holds the shared error contract for the expiring key-value
// store backing presence, viewership, and typing state.
package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the shared store cannot be reached or an
// operation times out. Callers treat it as a soft failure and degrade to
// empty or zero results; presence is an enhancement, not a dependency for
// core messaging, so this is never a reason to terminate a connection.
var ErrUnavailable = errors.New("store unavailable")

// Unavailable wraps a store error so callers can match ErrUnavailable with
// errors.Is while keeping the underlying cause in the message.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
