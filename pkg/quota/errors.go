package quota

import "errors"

var (
	// ErrMissingUserID is returned when a call carries no authenticated user
	ErrMissingUserID = errors.New("user id is required")

	// ErrInvalidConfig is returned for an unusable Config
	ErrInvalidConfig = errors.New("invalid quota config")

	// ErrQueueFull is returned when a background reset cannot be buffered
	ErrQueueFull = errors.New("reset queue full")

	// ErrQueueClosed is returned after the reset queue has been closed
	ErrQueueClosed = errors.New("reset queue closed")
)
