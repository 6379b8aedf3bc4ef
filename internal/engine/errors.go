package engine

import "errors"

var (
	// ErrEventNotFound means the referenced event id does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrAlreadyRegistered means the participant already holds a registration
	// for this event, whatever its status.
	ErrAlreadyRegistered = errors.New("participant already registered for this event")
	// ErrEventNotOpen means the event is completed, cancelled, or locked
	// against new signups.
	ErrEventNotOpen = errors.New("event is not open for registration")
	// ErrNotRegistered means no registration exists for the participant.
	ErrNotRegistered = errors.New("participant is not registered for this event")
	// ErrTransactionFailed wraps lock-acquisition timeouts and unexpected
	// store failures. The whole operation rolled back; callers may retry.
	ErrTransactionFailed = errors.New("registration transaction failed")
)
