package billing

import "time"

// UserBillingRecord is the subset of a user row owned by billing and quota.
type UserBillingRecord struct {
	// UserID is the primary key. Immutable.
	UserID string `json:"userId"`

	// PaddleCustomerID and PaddleSubscriptionID are set together.
	// The subscription id is cleared on final cancellation; the customer id is kept.
	PaddleCustomerID     *string `json:"paddleCustomerId"`
	PaddleSubscriptionID *string `json:"paddleSubscriptionId"`

	// PaddlePlanID is the purchased price id.
	PaddlePlanID *string `json:"paddlePlanId"`

	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`

	// SubscriptionEndsAt is when access should be considered expired.
	SubscriptionEndsAt *time.Time `json:"subscriptionEndsAt"`

	// CancellationScheduled is only meaningful while ACTIVE or TRIALING.
	CancellationScheduled bool `json:"cancellationScheduled"`

	APICallCountDaily int64      `json:"apiCallCountDaily"`
	APICallCountTotal int64      `json:"apiCallCountTotal"`
	LastAPICallReset  *time.Time `json:"lastApiCallReset"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUserBillingRecord returns the record a user starts with at signup.
func NewUserBillingRecord(userID string, now time.Time) *UserBillingRecord {
	return &UserBillingRecord{
		UserID:             userID,
		SubscriptionStatus: StatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsPremium reports whether the user is exempt from the daily cap.
// Only ACTIVE counts; TRIALING users are capped like free users.
func (r *UserBillingRecord) IsPremium() bool {
	return r.SubscriptionStatus == StatusActive
}

// Clone returns a deep copy of r.
func (r *UserBillingRecord) Clone() *UserBillingRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.PaddleCustomerID = clonePtr(r.PaddleCustomerID)
	c.PaddleSubscriptionID = clonePtr(r.PaddleSubscriptionID)
	c.PaddlePlanID = clonePtr(r.PaddlePlanID)
	c.SubscriptionEndsAt = clonePtr(r.SubscriptionEndsAt)
	c.LastAPICallReset = clonePtr(r.LastAPICallReset)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
