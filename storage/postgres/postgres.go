// Package postgres provides a PostgreSQL implementation of the billing.UserStore
// and billing.EventLog interfaces on database/sql with the pgx driver.
// Conditional writes and counter increments are single statements, so no
// explicit transactions are needed.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/storage/postgres/migrations"
)

const userColumns = `user_id, paddle_customer_id, paddle_subscription_id, paddle_plan_id,
	subscription_status, subscription_ends_at, cancellation_scheduled,
	api_call_count_daily, api_call_count_total, last_api_call_reset, created_at, updated_at`

// Storage implements billing.UserStore and billing.EventLog using PostgreSQL
type Storage struct {
	db     *sql.DB
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// RunMigrations applies the embedded schema on New
	RunMigrations bool

	// Logger receives migration progress (optional)
	Logger billing.Logger

	// Clock stamps created_at and updated_at (default: wall clock)
	Clock billing.Clock
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		RunMigrations:   true,
	}
}

// New opens a connection pool, verifies it and optionally migrates the schema.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	db, err := sql.Open("pgx", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	if config.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(config.MaxConnLifetime)
	}
	if config.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(config.MaxConnIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.RunMigrations {
		if err := migrations.Up(db, config.Logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	s, err := NewWithDB(db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. The schema must already exist.
func NewWithDB(db *sql.DB, config Config) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if config.Clock == nil {
		config.Clock = billing.SystemClock{}
	}
	return &Storage{db: db, config: config}, nil
}

// Close closes the connection pool
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks if the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser implements billing.UserStore
func (s *Storage) CreateUser(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rec := billing.NewUserBillingRecord(userID, s.config.Clock.Now())

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, subscription_status, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (user_id) DO NOTHING`,
		userID, rec.SubscriptionStatus.String(), rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if n == 0 {
		return nil, billing.ErrUserExists
	}
	return rec, nil
}

// FindByUserID implements billing.UserStore
func (s *Storage) FindByUserID(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	var (
		rec                       billing.UserBillingRecord
		customerID, subID, planID sql.NullString
		status                    string
		endsAt, lastReset         sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID).Scan(
		&rec.UserID, &customerID, &subID, &planID,
		&status, &endsAt, &rec.CancellationScheduled,
		&rec.APICallCountDaily, &rec.APICallCountTotal, &lastReset, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if rec.SubscriptionStatus, err = billing.ParseSubscriptionStatus(status); err != nil {
		return nil, err
	}
	rec.PaddleCustomerID = nullString(customerID)
	rec.PaddleSubscriptionID = nullString(subID)
	rec.PaddlePlanID = nullString(planID)
	rec.SubscriptionEndsAt = nullTime(endsAt)
	rec.LastAPICallReset = nullTime(lastReset)
	return &rec, nil
}

// UpsertByUserID implements billing.UserStore
func (s *Storage) UpsertByUserID(ctx context.Context, userID string, u billing.Update) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	now := s.config.Clock.Now()
	sets := assignments(u)

	cols := []string{"user_id"}
	args := []interface{}{userID}
	updates := make([]string, 0, len(sets)+1)
	for _, a := range sets {
		args = append(args, a.value)
		cols = append(cols, a.column)
		updates = append(updates, a.column+" = EXCLUDED."+a.column)
	}
	args = append(args, now)
	nowArg := "$" + strconv.Itoa(len(args))
	updates = append(updates, "updated_at = EXCLUDED.updated_at")

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	query := `INSERT INTO users (` + strings.Join(cols, ", ") + `, created_at, updated_at)
		VALUES (` + strings.Join(placeholders, ", ") + `, ` + nowArg + `, ` + nowArg + `)
		ON CONFLICT (user_id) DO UPDATE SET ` + strings.Join(updates, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdateWhereSubscription implements billing.UserStore
func (s *Storage) UpdateWhereSubscription(ctx context.Context, userID, subscriptionID string,
	u billing.Update) (int64, error) {
	args := []interface{}{userID, subscriptionID}
	sets := make([]string, 0, 8)
	for _, a := range assignments(u) {
		args = append(args, a.value)
		sets = append(sets, a.column+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, s.config.Clock.Now())
	sets = append(sets, "updated_at = $"+strconv.Itoa(len(args)))

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+`
			WHERE user_id = $1 AND paddle_subscription_id = $2`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription: %w", err)
	}
	return n, nil
}

// AtomicIncrement implements billing.UserStore
func (s *Storage) AtomicIncrement(ctx context.Context, userID string, incs ...billing.CounterIncrement) error {
	amounts := map[billing.Counter]int64{}
	for _, inc := range incs {
		if !inc.Counter.Valid() {
			return fmt.Errorf("%w: %q", billing.ErrInvalidCounter, inc.Counter)
		}
		amounts[inc.Counter] += inc.Amount
	}

	args := []interface{}{userID}
	sets := make([]string, 0, 3)
	for _, c := range []billing.Counter{billing.CounterDaily, billing.CounterTotal} {
		amount, ok := amounts[c]
		if !ok {
			continue
		}
		args = append(args, amount)
		sets = append(sets, fmt.Sprintf("%s = %s + $%d", c, c, len(args)))
	}
	args = append(args, s.config.Clock.Now())
	sets = append(sets, "updated_at = $"+strconv.Itoa(len(args)))

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE user_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	if n == 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// RecordWebhookEvent implements billing.EventLog
func (s *Storage) RecordWebhookEvent(ctx context.Context, rec *billing.WebhookEventRecord) error {
	if rec == nil {
		return fmt.Errorf("invalid webhook event")
	}
	var payload interface{}
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	var processedAt interface{}
	if rec.ProcessedAt != nil {
		processedAt = *rec.ProcessedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_webhook_events
			(id, provider, provider_event_id, event_type, user_id, payload, signature_valid,
			 outcome, reason, processing_error, received_at, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Provider, optional(rec.ProviderEventID), optional(rec.EventType), optional(rec.UserID),
		payload, rec.SignatureValid, rec.Outcome, optional(rec.Reason), optional(rec.ProcessingError),
		rec.ReceivedAt, processedAt)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

type assignment struct {
	column string
	value  interface{}
}

// assignments lists the columns written by u in a fixed order. Null strings and
// times become SQL NULL; null status, flag and counter reset to their zero values.
func assignments(u billing.Update) []assignment {
	var out []assignment
	add := func(column string, set bool, value interface{}) {
		if set {
			out = append(out, assignment{column: column, value: value})
		}
	}

	add("paddle_customer_id", u.PaddleCustomerID.IsSet(), patchValue(u.PaddleCustomerID))
	add("paddle_subscription_id", u.PaddleSubscriptionID.IsSet(), patchValue(u.PaddleSubscriptionID))
	add("paddle_plan_id", u.PaddlePlanID.IsSet(), patchValue(u.PaddlePlanID))
	if u.SubscriptionStatus.IsSet() {
		status, ok := u.SubscriptionStatus.Value()
		if !ok {
			status = billing.StatusNone
		}
		add("subscription_status", true, status.String())
	}
	add("subscription_ends_at", u.SubscriptionEndsAt.IsSet(), patchValue(u.SubscriptionEndsAt))
	if u.CancellationScheduled.IsSet() {
		v, _ := u.CancellationScheduled.Value()
		add("cancellation_scheduled", true, v)
	}
	if u.APICallCountDaily.IsSet() {
		v, _ := u.APICallCountDaily.Value()
		add(string(billing.CounterDaily), true, v)
	}
	add("last_api_call_reset", u.LastAPICallReset.IsSet(), patchValue(u.LastAPICallReset))
	return out
}

func patchValue[T any](p billing.Patch[T]) interface{} {
	if v, ok := p.Value(); ok {
		return v
	}
	return nil
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
