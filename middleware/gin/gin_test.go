package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
	"github.com/mihaimyh/paddlequota/storage/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gongin.SetMode(gongin.TestMode)
}

func setupRouter(t *testing.T, store *memory.Storage, block bool) *gongin.Engine {
	t.Helper()
	tracker, err := quota.NewTracker(store, quota.Config{
		DailyLimit: 1,
		Location:   time.UTC,
		Clock:      billing.ClockFunc(func() time.Time { return testNow }),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })

	r := gongin.New()
	r.Use(Middleware(Config{Tracker: tracker, GetUserID: FromHeader("X-User-ID"), BlockOnLimit: block}))
	r.GET("/api/test", func(c *gongin.Context) {
		res, ok := c.Get(ResultKey)
		require.True(t, ok)
		c.JSON(http.StatusOK, gongin.H{"premium": res.(*quota.IncrementResult).Premium})
	})
	return r
}

func putUser(store *memory.Storage, userID string, status billing.SubscriptionStatus) {
	rec := billing.NewUserBillingRecord(userID, testNow)
	rec.SubscriptionStatus = status
	reset := testNow.Add(-time.Minute)
	rec.LastAPICallReset = &reset
	store.Put(rec)
}

func get(r http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_CountsCalls(t *testing.T) {
	store := memory.New()
	putUser(store, "user1", billing.StatusNone)
	r := setupRouter(t, store, true)

	w := get(r, "user1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"premium":false}`, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Quota-Daily-Used"))

	w = get(r, "user1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	rec, err := store.FindByUserID(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.APICallCountDaily)
	assert.Equal(t, int64(2), rec.APICallCountTotal)
}

func TestMiddleware_Premium(t *testing.T) {
	store := memory.New()
	putUser(store, "user1", billing.StatusActive)
	r := setupRouter(t, store, true)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(r, "user1").Code)
	}
}

func TestMiddleware_Errors(t *testing.T) {
	r := setupRouter(t, memory.New(), false)

	w := get(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Not authenticated"}`, w.Body.String())

	w = get(r, "ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"User not found"}`, w.Body.String())
}

func TestFromContext(t *testing.T) {
	c, _ := gongin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, FromContext("UserID")(c))
	c.Set("UserID", "user1")
	assert.Equal(t, "user1", FromContext("UserID")(c))
}
