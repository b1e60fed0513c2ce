package action

import "errors"

// Domain errors for the action package. Check with errors.Is().
var (
	// ErrUnknownType is returned when an action type is not in the closed set.
	ErrUnknownType = errors.New("action: unknown type")

	// ErrInvalidAction is returned when action validation fails.
	ErrInvalidAction = errors.New("action: invalid")

	// ErrNotConfigured is returned when the collaborator an action needs
	// was not wired into the dispatcher.
	ErrNotConfigured = errors.New("action: collaborator not configured")

	// ErrCancelled is returned when the context is cancelled while an
	// action is waiting out its delay.
	ErrCancelled = errors.New("action: cancelled")
)
