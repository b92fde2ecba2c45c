package billing

import (
	"fmt"
	"strings"
)

// SubscriptionStatus is the lifecycle state of a user's subscription.
//
// The zero value is StatusUnknown so that an event whose provider status could
// not be mapped is never mistaken for a real state.
type SubscriptionStatus int

const (
	// StatusUnknown marks a provider status with no mapping. It is never persisted.
	StatusUnknown SubscriptionStatus = iota
	StatusNone
	StatusTrialing
	StatusActive
	StatusPastDue
	StatusPaused
	StatusCanceled
)

var statusNames = [...]string{
	StatusUnknown:  "UNKNOWN",
	StatusNone:     "NONE",
	StatusTrialing: "TRIALING",
	StatusActive:   "ACTIVE",
	StatusPastDue:  "PAST_DUE",
	StatusPaused:   "PAUSED",
	StatusCanceled: "CANCELED",
}

// String returns the persisted name of the status.
func (s SubscriptionStatus) String() string {
	if s < StatusUnknown || int(s) >= len(statusNames) {
		return statusNames[StatusUnknown]
	}
	return statusNames[s]
}

// Known reports whether s can be persisted.
func (s SubscriptionStatus) Known() bool {
	return s > StatusUnknown && int(s) < len(statusNames)
}

// MarshalText implements encoding.TextMarshaler.
func (s SubscriptionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSubscriptionStatus parses a persisted status name. An empty value is NONE.
func ParseSubscriptionStatus(v string) (SubscriptionStatus, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return StatusNone, nil
	}
	for i := StatusNone; int(i) < len(statusNames); i++ {
		if statusNames[i] == v {
			return i, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}
