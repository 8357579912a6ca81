package queue

import (
	"errors"
	"fmt"

	"quarantine/internal/services"
)

var (
	// ErrNotFound reports an unknown entry id.
	ErrNotFound = fmt.Errorf("%w: queue entry", services.ErrNotFound)
	// ErrInvalidTransition reports a transition the entry's current state does not allow.
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrCorrupt reports a persisted document that could not be validated.
	ErrCorrupt = errors.New("queue store corrupt")
	// ErrLockTimeout reports that the cross-process store lock was not acquired in time.
	ErrLockTimeout = errors.New("queue lock timeout")
)

func invalidTransition(id string, from State, op string) error {
	return fmt.Errorf("%w: %s on %s entry %s", ErrInvalidTransition, op, from, id)
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
