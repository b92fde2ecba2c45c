package paddle

import "errors"

var (
	// ErrInvalidJSON is returned when the webhook body is not a JSON event envelope
	ErrInvalidJSON = errors.New("invalid JSON body")

	// ErrMissingUserID is returned when an event carries no userId in custom_data.
	// Such events are acknowledged but cannot be attributed to a user.
	ErrMissingUserID = errors.New("missing userId in custom_data")
)
