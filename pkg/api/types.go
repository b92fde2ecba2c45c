package api

import "time"

// ProfileResponse is the body of GET /api/user/profile
type ProfileResponse struct {
	ID                    string     `json:"id"`
	MemberSince           time.Time  `json:"memberSince"`
	IsPremium             bool       `json:"isPremium"`
	PremiumPlanID         *string    `json:"premiumPlanId"`
	PremiumExpiry         *time.Time `json:"premiumExpiry"`
	SubscriptionStatus    *string    `json:"subscriptionStatus"`
	CancellationScheduled bool       `json:"cancellationScheduled"`
	Usage                 Usage      `json:"usage"`
}

// Usage reports the daily and lifetime call counters
type Usage struct {
	APICalls          APICallUsage `json:"apiCalls"`
	TotalAPICallCount int64        `json:"totalApiCallCount"`
}

// APICallUsage is the daily counter. Limit is null for premium users.
type APICallUsage struct {
	Current int64  `json:"current"`
	Limit   *int64 `json:"limit"`
	Period  string `json:"period"` // always "Daily"
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
