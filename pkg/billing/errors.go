package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrUserNotFound is returned when no record exists for a user
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned by CreateUser for an existing user
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidStatus is returned for an unparseable persisted status
	ErrInvalidStatus = errors.New("invalid subscription status")

	// ErrInvalidCounter is returned for an increment on an unknown column
	ErrInvalidCounter = errors.New("invalid counter")

	// ErrNoSubscription is returned when a user has no subscription to act on
	ErrNoSubscription = errors.New("no subscription for user")

	// ErrSubscriptionNotActive is returned when a cancellation is requested for
	// a subscription that is neither ACTIVE nor TRIALING
	ErrSubscriptionNotActive = errors.New("subscription is not active")

	// ErrStorage wraps failures of the underlying UserStore
	ErrStorage = errors.New("billing storage failure")
)
