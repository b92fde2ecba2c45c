package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var columns = []string{
	"user_id", "paddle_customer_id", "paddle_subscription_id", "paddle_plan_id",
	"subscription_status", "subscription_ends_at", "cancellation_scheduled",
	"api_call_count_daily", "api_call_count_total", "last_api_call_reset", "created_at", "updated_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	s, err := NewWithDB(db, Config{Clock: billing.ClockFunc(func() time.Time { return fixedNow })})
	require.NoError(t, err)
	return s, mock
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)

	_, err = NewWithDB(nil, Config{})
	assert.Error(t, err)
}

func TestStorage_CreateUser(t *testing.T) {
	s, mock := newMockStorage(t)
	query := regexp.QuoteMeta(`INSERT INTO users (user_id, subscription_status, created_at, updated_at)`)

	mock.ExpectExec(query).WithArgs("u1", "NONE", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	rec, err := s.CreateUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusNone, rec.SubscriptionStatus)
	assert.True(t, rec.CreatedAt.Equal(fixedNow))

	mock.ExpectExec(query).WithArgs("u1", "NONE", fixedNow).WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = s.CreateUser(context.Background(), "u1")
	assert.ErrorIs(t, err, billing.ErrUserExists)
}

func TestStorage_FindByUserID(t *testing.T) {
	s, mock := newMockStorage(t)
	query := regexp.QuoteMeta(`FROM users WHERE user_id = $1`)
	ends := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(query).WithArgs("u1").WillReturnRows(sqlmock.NewRows(columns).AddRow(
		"u1", "cus_1", "sub_1", nil,
		"ACTIVE", ends, true,
		int64(3), int64(40), nil, fixedNow, fixedNow,
	))

	rec, err := s.FindByUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "cus_1", *rec.PaddleCustomerID)
	assert.Equal(t, "sub_1", *rec.PaddleSubscriptionID)
	assert.Nil(t, rec.PaddlePlanID)
	assert.Equal(t, billing.StatusActive, rec.SubscriptionStatus)
	assert.True(t, rec.SubscriptionEndsAt.Equal(ends))
	assert.True(t, rec.CancellationScheduled)
	assert.Equal(t, int64(3), rec.APICallCountDaily)
	assert.Equal(t, int64(40), rec.APICallCountTotal)
	assert.Nil(t, rec.LastAPICallReset)
}

func TestStorage_FindByUserIDNotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE user_id = $1`)).
		WithArgs("ghost").WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.FindByUserID(context.Background(), "ghost")
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}

func TestStorage_FindByUserIDQueryError(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE user_id = $1`)).
		WithArgs("u1").WillReturnError(errors.New("connection refused"))

	_, err := s.FindByUserID(context.Background(), "u1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, billing.ErrUserNotFound)
}

func TestStorage_UpsertByUserID(t *testing.T) {
	s, mock := newMockStorage(t)

	query := regexp.QuoteMeta(`INSERT INTO users (user_id, paddle_customer_id, paddle_subscription_id, ` +
		`paddle_plan_id, subscription_status, subscription_ends_at, cancellation_scheduled, created_at, updated_at) ` +
		`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) ` +
		`ON CONFLICT (user_id) DO UPDATE SET paddle_customer_id = EXCLUDED.paddle_customer_id`)
	mock.ExpectExec(query).
		WithArgs("u1", "cus_1", "sub_1", nil, "ACTIVE", nil, false, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertByUserID(context.Background(), "u1", billing.Update{
		PaddleCustomerID:      billing.Set("cus_1"),
		PaddleSubscriptionID:  billing.Set("sub_1"),
		PaddlePlanID:          billing.Null[string](),
		SubscriptionStatus:    billing.Set(billing.StatusActive),
		SubscriptionEndsAt:    billing.SetPtr[time.Time](nil),
		CancellationScheduled: billing.Set(false),
	})
	require.NoError(t, err)
}

func TestStorage_UpsertDailyReset(t *testing.T) {
	s, mock := newMockStorage(t)

	query := regexp.QuoteMeta(`INSERT INTO users (user_id, api_call_count_daily, last_api_call_reset, created_at, updated_at)`)
	mock.ExpectExec(query).
		WithArgs("u1", int64(0), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertByUserID(context.Background(), "u1", billing.Update{
		APICallCountDaily: billing.Set[int64](0),
		LastAPICallReset:  billing.Set(fixedNow),
	})
	require.NoError(t, err)
}

func TestStorage_UpsertError(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(errors.New("deadlock detected"))

	err := s.UpsertByUserID(context.Background(), "u1", billing.Update{CancellationScheduled: billing.Set(true)})
	assert.ErrorContains(t, err, "deadlock detected")
}

func TestStorage_UpdateWhereSubscription(t *testing.T) {
	s, mock := newMockStorage(t)

	query := regexp.QuoteMeta(`UPDATE users SET paddle_subscription_id = $3, paddle_plan_id = $4, ` +
		`subscription_status = $5, cancellation_scheduled = $6, updated_at = $7 ` +
		`WHERE user_id = $1 AND paddle_subscription_id = $2`)
	cancel := billing.Update{
		SubscriptionStatus:    billing.Set(billing.StatusCanceled),
		CancellationScheduled: billing.Set(false),
		PaddleSubscriptionID:  billing.Null[string](),
		PaddlePlanID:          billing.Null[string](),
	}

	mock.ExpectExec(query).
		WithArgs("u1", "sub_1", nil, nil, "CANCELED", false, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := s.UpdateWhereSubscription(context.Background(), "u1", "sub_1", cancel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec(query).
		WithArgs("u1", "sub_old", nil, nil, "CANCELED", false, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	n, err = s.UpdateWhereSubscription(context.Background(), "u1", "sub_old", cancel)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStorage_AtomicIncrement(t *testing.T) {
	s, mock := newMockStorage(t)

	query := regexp.QuoteMeta(`UPDATE users SET api_call_count_daily = api_call_count_daily + $2, ` +
		`api_call_count_total = api_call_count_total + $3, updated_at = $4 WHERE user_id = $1`)
	mock.ExpectExec(query).
		WithArgs("u1", int64(1), int64(1), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AtomicIncrement(context.Background(), "u1",
		billing.Inc(billing.CounterTotal, 1), billing.Inc(billing.CounterDaily, 1))
	require.NoError(t, err)

	totalOnly := regexp.QuoteMeta(`UPDATE users SET api_call_count_total = api_call_count_total + $2, ` +
		`updated_at = $3 WHERE user_id = $1`)
	mock.ExpectExec(totalOnly).
		WithArgs("ghost", int64(1), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.AtomicIncrement(context.Background(), "ghost", billing.Inc(billing.CounterTotal, 1))
	assert.ErrorIs(t, err, billing.ErrUserNotFound)

	err = s.AtomicIncrement(context.Background(), "u1", billing.Inc("bogus", 1))
	assert.ErrorIs(t, err, billing.ErrInvalidCounter)
}

func TestStorage_RecordWebhookEvent(t *testing.T) {
	s, mock := newMockStorage(t)
	processed := fixedNow.Add(time.Second)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO billing_webhook_events`)).
		WithArgs("0b7c5f6e-3d3c-4a57-9a8e-6f1f2f0f0d11", "paddle", "evt_1", "subscription.created", "u1",
			`{"event_type":"subscription.created"}`, true, "applied", nil, nil, fixedNow, processed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordWebhookEvent(context.Background(), &billing.WebhookEventRecord{
		ID:              "0b7c5f6e-3d3c-4a57-9a8e-6f1f2f0f0d11",
		Provider:        "paddle",
		ProviderEventID: "evt_1",
		EventType:       "subscription.created",
		UserID:          "u1",
		Payload:         []byte(`{"event_type":"subscription.created"}`),
		SignatureValid:  true,
		Outcome:         "applied",
		ReceivedAt:      fixedNow,
		ProcessedAt:     &processed,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO billing_webhook_events`)).
		WithArgs("id-2", "paddle", nil, nil, nil, nil, false, "unauthorized", nil, nil, fixedNow, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = s.RecordWebhookEvent(context.Background(), &billing.WebhookEventRecord{
		ID:         "id-2",
		Provider:   "paddle",
		Outcome:    "unauthorized",
		ReceivedAt: fixedNow,
	})
	require.NoError(t, err)

	assert.Error(t, s.RecordWebhookEvent(context.Background(), nil))
}
