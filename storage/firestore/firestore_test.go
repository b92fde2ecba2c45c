package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

const testProjectID = "test-project"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// setupTestStorage connects to the Firestore emulator, skipping when it is not configured.
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, Config{
		UsersCollection:         fmt.Sprintf("test_users_%d", time.Now().UnixNano()),
		WebhookEventsCollection: fmt.Sprintf("test_events_%d", time.Now().UnixNano()),
		Clock:                   billing.ClockFunc(func() time.Time { return fixedNow }),
	})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestUpdates(t *testing.T) {
	ends := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got := updates(billing.Update{
		PaddleSubscriptionID:  billing.Null[string](),
		SubscriptionStatus:    billing.Null[billing.SubscriptionStatus](),
		SubscriptionEndsAt:    billing.Set(ends),
		CancellationScheduled: billing.Set(false),
	})

	want := []firestore.Update{
		{Path: fieldSubscriptionID, Value: nil},
		{Path: fieldStatus, Value: "NONE"},
		{Path: fieldEndsAt, Value: ends},
		{Path: fieldCancellationScheduled, Value: false},
	}
	assert.Equal(t, want, got)
	assert.Empty(t, updates(billing.Update{}))
}

func TestDecodeRecord(t *testing.T) {
	rec, err := decodeRecord("u1", map[string]interface{}{
		fieldCustomerID:            "cus_1",
		fieldSubscriptionID:        nil,
		fieldStatus:                "CANCELED",
		fieldEndsAt:                fixedNow,
		fieldCancellationScheduled: false,
		fieldDaily:                 int64(4),
		fieldTotal:                 float64(12),
		fieldCreatedAt:             fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", *rec.PaddleCustomerID)
	assert.Nil(t, rec.PaddleSubscriptionID)
	assert.Equal(t, billing.StatusCanceled, rec.SubscriptionStatus)
	assert.True(t, rec.SubscriptionEndsAt.Equal(fixedNow))
	assert.Equal(t, int64(4), rec.APICallCountDaily)
	assert.Equal(t, int64(12), rec.APICallCountTotal)
	assert.Nil(t, rec.LastAPICallReset)

	_, err = decodeRecord("u1", map[string]interface{}{fieldStatus: "EXPIRED"})
	assert.ErrorIs(t, err, billing.ErrInvalidStatus)
}

func TestCounterField(t *testing.T) {
	f, err := counterField(billing.CounterDaily)
	require.NoError(t, err)
	assert.Equal(t, fieldDaily, f)

	_, err = counterField("bogus")
	assert.ErrorIs(t, err, billing.ErrInvalidCounter)
}

func TestStorage_UserLifecycle(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	_, err := s.FindByUserID(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrUserNotFound)

	_, err = s.CreateUser(ctx, "u1")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrUserExists)

	require.NoError(t, s.UpsertByUserID(ctx, "u1", billing.Update{
		PaddleCustomerID:     billing.Set("cus_1"),
		PaddleSubscriptionID: billing.Set("sub_1"),
		SubscriptionStatus:   billing.Set(billing.StatusActive),
	}))

	n, err := s.UpdateWhereSubscription(ctx, "u1", "sub_old", billing.Update{
		SubscriptionStatus: billing.Set(billing.StatusCanceled),
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.UpdateWhereSubscription(ctx, "u1", "sub_1", billing.Update{
		SubscriptionStatus:   billing.Set(billing.StatusCanceled),
		PaddleSubscriptionID: billing.Null[string](),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := s.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, rec.SubscriptionStatus)
	assert.Nil(t, rec.PaddleSubscriptionID)
	assert.Equal(t, "cus_1", *rec.PaddleCustomerID)
}

func TestStorage_UpsertCreatesMissingUser(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertByUserID(ctx, "u2", billing.Update{CancellationScheduled: billing.Set(true)}))

	rec, err := s.FindByUserID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusNone, rec.SubscriptionStatus)
	assert.True(t, rec.CancellationScheduled)
	assert.Zero(t, rec.APICallCountTotal)
}

func TestStorage_AtomicIncrement(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	err := s.AtomicIncrement(ctx, "ghost", billing.Inc(billing.CounterTotal, 1))
	assert.ErrorIs(t, err, billing.ErrUserNotFound)

	_, err = s.CreateUser(ctx, "u1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AtomicIncrement(ctx, "u1",
			billing.Inc(billing.CounterTotal, 1), billing.Inc(billing.CounterDaily, 1)))
	}

	rec, err := s.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.APICallCountDaily)
	assert.Equal(t, int64(3), rec.APICallCountTotal)
}

func TestStorage_RecordWebhookEvent(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	assert.Error(t, s.RecordWebhookEvent(ctx, &billing.WebhookEventRecord{}))
	require.NoError(t, s.RecordWebhookEvent(ctx, &billing.WebhookEventRecord{
		ID:         "evt-audit-1",
		Provider:   "paddle",
		Outcome:    "applied",
		ReceivedAt: fixedNow,
	}))

	snap, err := s.client.Collection(s.webhookEventsCollection).Doc("evt-audit-1").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "applied", snap.Data()["outcome"])
}
