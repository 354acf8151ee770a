// Package transition is the status table shared by webhook ingestion and
// reconciliation. It depends only on upstream fields, never on local history.
package transition

import (
	"time"

	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
)

// Upstream is the authoritative processor state for one ledger row.
type Upstream struct {
	Recurring         bool
	Status            string
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	CanceledAt        *time.Time
	EndedAt           *time.Time
}

// Target is the local state implied by an Upstream.
type Target struct {
	Status  ledgerdomain.Status
	EndedAt *time.Time
}

// Resolve maps upstream state to a target. ok is false when the upstream
// status implies no change.
func Resolve(u Upstream) (Target, bool) {
	if !u.Recurring {
		switch processordomain.PaymentIntentStatus(u.Status) {
		case processordomain.PaymentIntentStatusSucceeded:
			return Target{Status: ledgerdomain.StatusCompleted}, true
		case processordomain.PaymentIntentStatusCanceled:
			return Target{Status: ledgerdomain.StatusCancelled, EndedAt: firstSet(u.CanceledAt, u.EndedAt)}, true
		default:
			return Target{}, false
		}
	}

	switch processordomain.SubscriptionStatus(u.Status) {
	case processordomain.SubscriptionStatusCanceled, processordomain.SubscriptionStatusIncompleteExpired:
		return Target{Status: ledgerdomain.StatusCancelled, EndedAt: firstSet(u.CanceledAt, u.EndedAt)}, true
	case processordomain.SubscriptionStatusPaused:
		return Target{Status: ledgerdomain.StatusPaused}, true
	case processordomain.SubscriptionStatusActive:
		if u.CancelAtPeriodEnd {
			return Target{Status: ledgerdomain.StatusScheduledCancel, EndedAt: copyTime(u.CancelAt)}, true
		}
		return Target{Status: ledgerdomain.StatusActive}, true
	default:
		return Target{}, false
	}
}

// PreservesEndedAt reports statuses whose target leaves ended_at untouched.
func (t Target) PreservesEndedAt() bool {
	return t.Status == ledgerdomain.StatusPaused || t.Status == ledgerdomain.StatusCompleted
}

func FromSubscription(sub processordomain.Subscription) Upstream {
	return Upstream{
		Recurring:         true,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          sub.CancelAt,
		CanceledAt:        sub.CanceledAt,
		EndedAt:           sub.EndedAt,
	}
}

func FromPaymentIntent(intent processordomain.PaymentIntent) Upstream {
	return Upstream{
		Recurring:  false,
		Status:     string(intent.Status),
		CanceledAt: intent.CanceledAt,
	}
}

// Apply returns the entry with the target applied and whether anything drifted.
// ended_at is compared at second precision.
func Apply(entry ledgerdomain.Entry, target Target) (ledgerdomain.Entry, bool) {
	next := entry
	next.Status = target.Status
	if !target.PreservesEndedAt() {
		next.EndedAt = copyTime(target.EndedAt)
	}

	changed := next.Status != entry.Status || !sameSecond(next.EndedAt, entry.EndedAt)
	if !changed {
		return entry, false
	}
	return next, true
}

func sameSecond(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UTC().Truncate(time.Second).Equal(b.UTC().Truncate(time.Second))
}

func firstSet(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil && !v.IsZero() {
			return copyTime(v)
		}
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
