package api

import (
	"errors"
	"net/http"

	"github.com/mihaimyh/paddlequota/internal/httputil"
	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
)

const (
	msgNotAuthenticated     = "Not authenticated"
	msgUserNotFound         = "User not found"
	msgProfileFailed        = "Failed to fetch profile data"
	msgIncrementFailed      = "Failed to update usage"
	msgNoSubscription       = "Subscription details not found for user."
	msgSubscriptionInactive = "Subscription is not active or already canceled."
	msgCancelFailed         = "Internal server error during cancellation request."
	msgCancelScheduled      = "Subscription cancellation scheduled."
	periodDaily             = "Daily"
)

// Handler provides the authenticated user endpoints
type Handler struct {
	config Config
}

// GetProfile returns the user's subscription and usage. A counter left over
// from a previous day is reported as zero.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}

	p, err := h.config.Tracker.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		h.config.Logger.Error("failed to fetch profile", billing.F("user_id", userID), billing.F("error", err))
		h.writeError(w, http.StatusInternalServerError, msgProfileFailed)
		return
	}

	h.writeJSON(w, http.StatusOK, newProfileResponse(p))
}

func newProfileResponse(p *quota.Profile) ProfileResponse {
	resp := ProfileResponse{
		ID:                    p.UserID,
		MemberSince:           p.MemberSince,
		IsPremium:             p.Premium,
		PremiumPlanID:         p.PlanID,
		PremiumExpiry:         p.EndsAt,
		CancellationScheduled: p.CancellationScheduled,
		Usage: Usage{
			APICalls: APICallUsage{
				Current: p.DailyCount,
				Limit:   p.DailyLimit,
				Period:  periodDaily,
			},
			TotalAPICallCount: p.TotalCount,
		},
	}
	if p.Status != billing.StatusNone {
		status := p.Status.String()
		resp.SubscriptionStatus = &status
	}
	return resp
}

// IncrementUsage records one billable call for the user.
func (h *Handler) IncrementUsage(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}

	if _, err := h.config.Tracker.Increment(r.Context(), userID); err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		h.writeError(w, http.StatusInternalServerError, msgIncrementFailed)
		return
	}

	h.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// CancelSubscription marks the user's live subscription as cancelling at
// period end. The provider-side cancellation is not requested here.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}

	err := h.config.Reconciler.ScheduleCancellation(r.Context(), userID)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, successResponse{Success: true, Message: msgCancelScheduled})
	case errors.Is(err, billing.ErrUserNotFound), errors.Is(err, billing.ErrNoSubscription):
		h.writeError(w, http.StatusNotFound, msgNoSubscription)
	case errors.Is(err, billing.ErrSubscriptionNotActive):
		h.writeError(w, http.StatusBadRequest, msgSubscriptionInactive)
	default:
		h.config.Logger.Error("failed to schedule cancellation", billing.F("user_id", userID), billing.F("error", err))
		h.writeError(w, http.StatusInternalServerError, msgCancelFailed)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	if err := httputil.WriteJSON(w, code, data); err != nil {
		h.config.Logger.Debug("failed to write response", billing.F("error", err))
	}
}
