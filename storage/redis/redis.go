// Package redis provides a Redis implementation of the billing.UserStore and
// billing.EventLog interfaces. Users are stored as hashes; conditional writes
// and counter increments run as Lua scripts so each is a single atomic step.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// Hash fields of a user record. Counter fields use the billing.Counter names.
const (
	fieldUserID                = "user_id"
	fieldCustomerID            = "paddle_customer_id"
	fieldSubscriptionID        = "paddle_subscription_id"
	fieldPlanID                = "paddle_plan_id"
	fieldStatus                = "subscription_status"
	fieldEndsAt                = "subscription_ends_at"
	fieldCancellationScheduled = "cancellation_scheduled"
	fieldLastReset             = "last_api_call_reset"
	fieldCreatedAt             = "created_at"
	fieldUpdatedAt             = "updated_at"
)

// Storage implements billing.UserStore and billing.EventLog using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "paddlequota:")
	KeyPrefix string

	// MaxWebhookEvents caps the audit list; older entries are trimmed (default: 10000)
	MaxWebhookEvents int64

	// Clock stamps created_at and updated_at (default: wall clock)
	Clock billing.Clock
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:        "paddlequota:",
		MaxWebhookEvents: 10000,
		Clock:            billing.SystemClock{},
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	defaults := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.MaxWebhookEvents <= 0 {
		config.MaxWebhookEvents = defaults.MaxWebhookEvents
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts compiles the Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// ARGV: field/value pairs
	s.scripts["create"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		for i = 1, #ARGV, 2 do
			redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
		end
		return 1
	`)

	// ARGV: subscription id, number of set pairs, set pairs..., fields to delete...
	s.scripts["updateWhereSubscription"] = redis.NewScript(`
		local current = redis.call('HGET', KEYS[1], 'paddle_subscription_id')
		if current ~= ARGV[1] then
			return 0
		end
		local n = tonumber(ARGV[2])
		local i = 3
		for _ = 1, n do
			redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
			i = i + 2
		end
		while i <= #ARGV do
			redis.call('HDEL', KEYS[1], ARGV[i])
			i = i + 1
		end
		return 1
	`)

	// ARGV: field/amount pairs..., updated_at
	s.scripts["increment"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return -1
		end
		for i = 1, #ARGV - 1, 2 do
			redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
		end
		redis.call('HSET', KEYS[1], 'updated_at', ARGV[#ARGV])
		return 1
	`)
}

// CreateUser implements billing.UserStore
func (s *Storage) CreateUser(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rec := billing.NewUserBillingRecord(userID, s.config.Clock.Now())

	args := make([]interface{}, 0, 2*len(s.signupDefaults(rec)))
	for f, v := range s.signupDefaults(rec) {
		args = append(args, f, v)
	}
	created, err := s.scripts["create"].Run(ctx, s.client, []string{s.userKey(userID)}, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if created == 0 {
		return nil, billing.ErrUserExists
	}
	return rec, nil
}

// FindByUserID implements billing.UserStore
func (s *Storage) FindByUserID(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, billing.ErrUserNotFound
	}
	return decodeRecord(userID, fields)
}

// UpsertByUserID implements billing.UserStore
func (s *Storage) UpsertByUserID(ctx context.Context, userID string, u billing.Update) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	now := s.config.Clock.Now()
	key := s.userKey(userID)
	set, del := encodeUpdate(u)
	set[fieldUpdatedAt] = formatTime(now)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for f, v := range s.signupDefaults(billing.NewUserBillingRecord(userID, now)) {
			pipe.HSetNX(ctx, key, f, v)
		}
		pipe.HSet(ctx, key, set)
		if len(del) > 0 {
			pipe.HDel(ctx, key, del...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdateWhereSubscription implements billing.UserStore
func (s *Storage) UpdateWhereSubscription(ctx context.Context, userID, subscriptionID string,
	u billing.Update) (int64, error) {
	set, del := encodeUpdate(u)
	set[fieldUpdatedAt] = formatTime(s.config.Clock.Now())

	args := make([]interface{}, 0, 2+2*len(set)+len(del))
	args = append(args, subscriptionID, len(set))
	for f, v := range set {
		args = append(args, f, v)
	}
	for _, f := range del {
		args = append(args, f)
	}

	matched, err := s.scripts["updateWhereSubscription"].Run(ctx, s.client, []string{s.userKey(userID)}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription: %w", err)
	}
	return matched, nil
}

// AtomicIncrement implements billing.UserStore
func (s *Storage) AtomicIncrement(ctx context.Context, userID string, incs ...billing.CounterIncrement) error {
	args := make([]interface{}, 0, 2*len(incs)+1)
	for _, inc := range incs {
		if !inc.Counter.Valid() {
			return fmt.Errorf("%w: %q", billing.ErrInvalidCounter, inc.Counter)
		}
		args = append(args, string(inc.Counter), inc.Amount)
	}
	args = append(args, formatTime(s.config.Clock.Now()))

	res, err := s.scripts["increment"].Run(ctx, s.client, []string{s.userKey(userID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	if res < 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// RecordWebhookEvent implements billing.EventLog. Events are kept newest first
// in a list capped at MaxWebhookEvents.
func (s *Storage) RecordWebhookEvent(ctx context.Context, rec *billing.WebhookEventRecord) error {
	if rec == nil {
		return fmt.Errorf("invalid webhook event")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	key := s.webhookEventsKey()
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.config.MaxWebhookEvents-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// WebhookEvents returns up to limit recorded events, newest first.
func (s *Storage) WebhookEvents(ctx context.Context, limit int64) ([]billing.WebhookEventRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.webhookEventsKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	out := make([]billing.WebhookEventRecord, 0, len(raw))
	for _, r := range raw {
		var rec billing.WebhookEventRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook event: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) userKey(userID string) string {
	return s.config.KeyPrefix + "user:" + userID
}

func (s *Storage) webhookEventsKey() string {
	return s.config.KeyPrefix + "webhook_events"
}

// signupDefaults are written only when the hash does not exist yet.
func (s *Storage) signupDefaults(rec *billing.UserBillingRecord) map[string]interface{} {
	return map[string]interface{}{
		fieldUserID:                  rec.UserID,
		fieldStatus:                  rec.SubscriptionStatus.String(),
		fieldCancellationScheduled:   "0",
		string(billing.CounterDaily): 0,
		string(billing.CounterTotal): 0,
		fieldCreatedAt:               formatTime(rec.CreatedAt),
		fieldUpdatedAt:               formatTime(rec.UpdatedAt),
	}
}

// encodeUpdate splits u into fields to set and fields to delete. Null strings
// and times are deleted; null status, flag and counter reset to their zero values.
func encodeUpdate(u billing.Update) (map[string]interface{}, []string) {
	set := make(map[string]interface{})
	var del []string

	encodePatch(set, &del, fieldCustomerID, u.PaddleCustomerID, func(v string) interface{} { return v })
	encodePatch(set, &del, fieldSubscriptionID, u.PaddleSubscriptionID, func(v string) interface{} { return v })
	encodePatch(set, &del, fieldPlanID, u.PaddlePlanID, func(v string) interface{} { return v })
	encodePatch(set, &del, fieldEndsAt, u.SubscriptionEndsAt, func(v time.Time) interface{} { return formatTime(v) })
	encodePatch(set, &del, fieldLastReset, u.LastAPICallReset, func(v time.Time) interface{} { return formatTime(v) })

	if u.SubscriptionStatus.IsSet() {
		status, ok := u.SubscriptionStatus.Value()
		if !ok {
			status = billing.StatusNone
		}
		set[fieldStatus] = status.String()
	}
	if u.CancellationScheduled.IsSet() {
		v, _ := u.CancellationScheduled.Value()
		set[fieldCancellationScheduled] = formatBool(v)
	}
	if u.APICallCountDaily.IsSet() {
		v, _ := u.APICallCountDaily.Value()
		set[string(billing.CounterDaily)] = v
	}
	return set, del
}

func encodePatch[T any](set map[string]interface{}, del *[]string, field string, p billing.Patch[T],
	enc func(T) interface{}) {
	if !p.IsSet() {
		return
	}
	if v, ok := p.Value(); ok {
		set[field] = enc(v)
		return
	}
	*del = append(*del, field)
}

func decodeRecord(userID string, fields map[string]string) (*billing.UserBillingRecord, error) {
	rec := &billing.UserBillingRecord{UserID: userID}
	var err error

	rec.PaddleCustomerID = optString(fields, fieldCustomerID)
	rec.PaddleSubscriptionID = optString(fields, fieldSubscriptionID)
	rec.PaddlePlanID = optString(fields, fieldPlanID)
	rec.CancellationScheduled = fields[fieldCancellationScheduled] == "1"

	if rec.SubscriptionStatus, err = billing.ParseSubscriptionStatus(fields[fieldStatus]); err != nil {
		return nil, err
	}
	if rec.APICallCountDaily, err = parseInt(fields, string(billing.CounterDaily)); err != nil {
		return nil, err
	}
	if rec.APICallCountTotal, err = parseInt(fields, string(billing.CounterTotal)); err != nil {
		return nil, err
	}
	if rec.SubscriptionEndsAt, err = parseTime(fields, fieldEndsAt); err != nil {
		return nil, err
	}
	if rec.LastAPICallReset, err = parseTime(fields, fieldLastReset); err != nil {
		return nil, err
	}
	created, err := parseTime(fields, fieldCreatedAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(fields, fieldUpdatedAt)
	if err != nil {
		return nil, err
	}
	if created != nil {
		rec.CreatedAt = *created
	}
	if updated != nil {
		rec.UpdatedAt = *updated
	}
	return rec, nil
}

func optString(fields map[string]string, field string) *string {
	v, ok := fields[field]
	if !ok {
		return nil
	}
	return &v
}

func parseInt(fields map[string]string, field string) (int64, error) {
	v, ok := fields[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return n, nil
}

func parseTime(fields map[string]string, field string) (*time.Time, error) {
	v, ok := fields[field]
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
