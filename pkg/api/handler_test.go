package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
	"github.com/mihaimyh/paddlequota/storage/memory"
)

const testUserID = "user123"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type failingStore struct {
	*memory.Storage
}

func (failingStore) FindByUserID(context.Context, string) (*billing.UserBillingRecord, error) {
	return nil, errors.New("connection refused")
}

func newTestHandler(t *testing.T, store billing.UserStore) (*Handler, *quota.Tracker) {
	t.Helper()
	tracker, err := quota.NewTracker(store, quota.Config{
		DailyLimit: 100,
		Location:   time.UTC,
		Clock:      billing.ClockFunc(func() time.Time { return testNow }),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })

	h, err := NewHandler(Config{
		Tracker:    tracker,
		Reconciler: billing.NewReconciler(store, nil, nil),
		GetUserID:  FromHeader("X-User-ID"),
	})
	require.NoError(t, err)
	return h, tracker
}

func call(handler http.HandlerFunc, method, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func userRecord(status billing.SubscriptionStatus) *billing.UserBillingRecord {
	rec := billing.NewUserBillingRecord(testUserID, testNow.Add(-72*time.Hour))
	rec.SubscriptionStatus = status
	return rec
}

func TestNewHandler_Validate(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.Error(t, err)
}

func TestHandler_GetProfile_FreeUserWithStaleCounter(t *testing.T) {
	store := memory.New()
	rec := userRecord(billing.StatusNone)
	rec.APICallCountDaily = 42
	rec.APICallCountTotal = 300
	yesterday := testNow.Add(-24 * time.Hour)
	rec.LastAPICallReset = &yesterday
	store.Put(rec)
	h, tracker := newTestHandler(t, store)

	w := call(h.GetProfile, http.MethodGet, testUserID)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"id": "user123",
		"memberSince": "2024-05-29T12:00:00Z",
		"isPremium": false,
		"premiumPlanId": null,
		"premiumExpiry": null,
		"subscriptionStatus": null,
		"cancellationScheduled": false,
		"usage": {
			"apiCalls": {"current": 0, "limit": 100, "period": "Daily"},
			"totalApiCallCount": 300
		}
	}`, w.Body.String())

	require.NoError(t, tracker.Flush(context.Background()))
	stored, err := store.FindByUserID(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Zero(t, stored.APICallCountDaily)
	assert.True(t, stored.LastAPICallReset.Equal(testNow))
}

func TestHandler_GetProfile_Premium(t *testing.T) {
	store := memory.New()
	rec := userRecord(billing.StatusActive)
	plan := "pri_monthly"
	ends := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	rec.PaddlePlanID = &plan
	rec.SubscriptionEndsAt = &ends
	rec.LastAPICallReset = &testNow
	rec.APICallCountDaily = 7
	store.Put(rec)
	h, _ := newTestHandler(t, store)

	w := call(h.GetProfile, http.MethodGet, testUserID)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ProfileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsPremium)
	assert.Equal(t, "pri_monthly", *resp.PremiumPlanID)
	assert.True(t, resp.PremiumExpiry.Equal(ends))
	assert.Equal(t, "ACTIVE", *resp.SubscriptionStatus)
	assert.Nil(t, resp.Usage.APICalls.Limit)
	assert.Equal(t, int64(7), resp.Usage.APICalls.Current)
}

func TestHandler_GetProfile_Errors(t *testing.T) {
	h, _ := newTestHandler(t, memory.New())

	w := call(h.GetProfile, http.MethodGet, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Not authenticated"}`, w.Body.String())

	w = call(h.GetProfile, http.MethodGet, "ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"User not found"}`, w.Body.String())

	h, _ = newTestHandler(t, failingStore{memory.New()})
	w = call(h.GetProfile, http.MethodGet, testUserID)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch profile data"}`, w.Body.String())
}

func TestHandler_IncrementUsage(t *testing.T) {
	store := memory.New()
	store.Put(userRecord(billing.StatusNone))
	h, _ := newTestHandler(t, store)

	w := call(h.IncrementUsage, http.MethodPost, testUserID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	rec, err := store.FindByUserID(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.APICallCountTotal)

	assert.Equal(t, http.StatusUnauthorized, call(h.IncrementUsage, http.MethodPost, "").Code)

	w = call(h.IncrementUsage, http.MethodPost, "ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"User not found"}`, w.Body.String())

	h, _ = newTestHandler(t, failingStore{memory.New()})
	w = call(h.IncrementUsage, http.MethodPost, testUserID)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to update usage"}`, w.Body.String())
}

func TestHandler_CancelSubscription(t *testing.T) {
	subID := "sub_1"
	tests := []struct {
		name     string
		record   *billing.UserBillingRecord
		wantCode int
		wantBody string
	}{
		{
			name: "active",
			record: func() *billing.UserBillingRecord {
				r := userRecord(billing.StatusActive)
				r.PaddleSubscriptionID = &subID
				return r
			}(),
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"message":"Subscription cancellation scheduled."}`,
		},
		{
			name: "trialing",
			record: func() *billing.UserBillingRecord {
				r := userRecord(billing.StatusTrialing)
				r.PaddleSubscriptionID = &subID
				return r
			}(),
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"message":"Subscription cancellation scheduled."}`,
		},
		{
			name:     "no subscription",
			record:   userRecord(billing.StatusNone),
			wantCode: http.StatusNotFound,
			wantBody: `{"error":"Subscription details not found for user."}`,
		},
		{
			name: "past due",
			record: func() *billing.UserBillingRecord {
				r := userRecord(billing.StatusPastDue)
				r.PaddleSubscriptionID = &subID
				return r
			}(),
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Subscription is not active or already canceled."}`,
		},
		{
			name:     "unknown user",
			wantCode: http.StatusNotFound,
			wantBody: `{"error":"Subscription details not found for user."}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			if tt.record != nil {
				store.Put(tt.record)
			}
			h, _ := newTestHandler(t, store)

			w := call(h.CancelSubscription, http.MethodPost, testUserID)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			if tt.wantCode == http.StatusOK {
				rec, err := store.FindByUserID(context.Background(), testUserID)
				require.NoError(t, err)
				assert.True(t, rec.CancellationScheduled)
			}
		})
	}
}

func TestFromBearerJWT(t *testing.T) {
	secret := []byte("jwt-secret")
	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	extract := FromBearerJWT(secret)
	request := func(header string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return req
	}

	valid := sign(jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": testUserID, "exp": time.Now().Add(time.Hour).Unix()})
	assert.Equal(t, testUserID, extract(request("Bearer "+valid)))
	assert.Equal(t, testUserID, extract(request("bearer "+valid)))

	expired := sign(jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": testUserID, "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := sign(jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": testUserID})
	wrongAlg := sign(jwt.SigningMethodHS512, secret, jwt.MapClaims{"sub": testUserID})
	noSub := sign(jwt.SigningMethodHS256, secret, jwt.MapClaims{})

	for _, header := range []string{"", valid, "Basic " + valid, "Bearer " + expired, "Bearer " + wrongKey,
		"Bearer " + wrongAlg, "Bearer " + noSub, "Bearer garbage"} {
		assert.Empty(t, extract(request(header)), header)
	}
}
