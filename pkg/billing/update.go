package billing

import "time"

// Patch is a single column write: untouched, set to a value, or set to null.
// The zero value leaves the column untouched.
type Patch[T any] struct {
	set   bool
	value *T
}

// Set returns a patch writing v.
func Set[T any](v T) Patch[T] {
	return Patch[T]{set: true, value: &v}
}

// Null returns a patch clearing the column.
func Null[T any]() Patch[T] {
	return Patch[T]{set: true}
}

// SetPtr writes *p, or null when p is nil.
func SetPtr[T any](p *T) Patch[T] {
	if p == nil {
		return Null[T]()
	}
	return Set(*p)
}

// IsSet reports whether the patch writes anything.
func (p Patch[T]) IsSet() bool { return p.set }

// IsNull reports whether the patch clears the column.
func (p Patch[T]) IsNull() bool { return p.set && p.value == nil }

// Value returns the written value; ok is false for untouched and null patches.
func (p Patch[T]) Value() (v T, ok bool) {
	if p.value == nil {
		return v, false
	}
	return *p.value, true
}

// Ptr returns a copy of the written value, or nil.
func (p Patch[T]) Ptr() *T {
	return clonePtr(p.value)
}

// Update is a partial write of a UserBillingRecord.
type Update struct {
	PaddleCustomerID      Patch[string]
	PaddleSubscriptionID  Patch[string]
	PaddlePlanID          Patch[string]
	SubscriptionStatus    Patch[SubscriptionStatus]
	SubscriptionEndsAt    Patch[time.Time]
	CancellationScheduled Patch[bool]
	APICallCountDaily     Patch[int64]
	LastAPICallReset      Patch[time.Time]
}

// IsEmpty reports whether u writes no column.
func (u Update) IsEmpty() bool {
	return !u.PaddleCustomerID.IsSet() &&
		!u.PaddleSubscriptionID.IsSet() &&
		!u.PaddlePlanID.IsSet() &&
		!u.SubscriptionStatus.IsSet() &&
		!u.SubscriptionEndsAt.IsSet() &&
		!u.CancellationScheduled.IsSet() &&
		!u.APICallCountDaily.IsSet() &&
		!u.LastAPICallReset.IsSet()
}

// ApplyTo writes the set fields of u onto rec.
func (u Update) ApplyTo(rec *UserBillingRecord) {
	if u.PaddleCustomerID.IsSet() {
		rec.PaddleCustomerID = u.PaddleCustomerID.Ptr()
	}
	if u.PaddleSubscriptionID.IsSet() {
		rec.PaddleSubscriptionID = u.PaddleSubscriptionID.Ptr()
	}
	if u.PaddlePlanID.IsSet() {
		rec.PaddlePlanID = u.PaddlePlanID.Ptr()
	}
	if u.SubscriptionStatus.IsSet() {
		rec.SubscriptionStatus = StatusNone
		if s, ok := u.SubscriptionStatus.Value(); ok {
			rec.SubscriptionStatus = s
		}
	}
	if u.SubscriptionEndsAt.IsSet() {
		rec.SubscriptionEndsAt = u.SubscriptionEndsAt.Ptr()
	}
	if u.CancellationScheduled.IsSet() {
		v, _ := u.CancellationScheduled.Value()
		rec.CancellationScheduled = v
	}
	if u.APICallCountDaily.IsSet() {
		v, _ := u.APICallCountDaily.Value()
		rec.APICallCountDaily = v
	}
	if u.LastAPICallReset.IsSet() {
		rec.LastAPICallReset = u.LastAPICallReset.Ptr()
	}
}

// Counter names an atomically incremented usage column.
type Counter string

const (
	CounterDaily Counter = "api_call_count_daily"
	CounterTotal Counter = "api_call_count_total"
)

// Valid reports whether c is a known counter.
func (c Counter) Valid() bool {
	return c == CounterDaily || c == CounterTotal
}

// CounterIncrement adds Amount to one counter.
type CounterIncrement struct {
	Counter Counter
	Amount  int64
}

// Inc is shorthand for CounterIncrement{Counter: c, Amount: n}.
func Inc(c Counter, n int64) CounterIncrement {
	return CounterIncrement{Counter: c, Amount: n}
}
