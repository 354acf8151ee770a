package transition

import (
	"testing"
	"time"

	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/stretchr/testify/require"
)

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestResolveTable(t *testing.T) {
	cancelAt := at(1_700_100_000)
	canceledAt := at(1_700_050_000)

	cases := []struct {
		name       string
		upstream   Upstream
		wantOK     bool
		wantStatus ledgerdomain.Status
		wantEnded  *time.Time
	}{
		{name: "intent_succeeded", upstream: Upstream{Status: "succeeded"}, wantOK: true, wantStatus: ledgerdomain.StatusCompleted},
		{name: "intent_canceled", upstream: Upstream{Status: "canceled", CanceledAt: canceledAt}, wantOK: true, wantStatus: ledgerdomain.StatusCancelled, wantEnded: canceledAt},
		{name: "intent_processing", upstream: Upstream{Status: "processing"}, wantOK: false},
		{name: "sub_canceled", upstream: Upstream{Recurring: true, Status: "canceled", CanceledAt: canceledAt}, wantOK: true, wantStatus: ledgerdomain.StatusCancelled, wantEnded: canceledAt},
		{name: "sub_incomplete_expired", upstream: Upstream{Recurring: true, Status: "incomplete_expired", EndedAt: canceledAt}, wantOK: true, wantStatus: ledgerdomain.StatusCancelled, wantEnded: canceledAt},
		{name: "sub_paused", upstream: Upstream{Recurring: true, Status: "paused"}, wantOK: true, wantStatus: ledgerdomain.StatusPaused},
		{name: "sub_scheduled_cancel", upstream: Upstream{Recurring: true, Status: "active", CancelAtPeriodEnd: true, CancelAt: cancelAt}, wantOK: true, wantStatus: ledgerdomain.StatusScheduledCancel, wantEnded: cancelAt},
		{name: "sub_active", upstream: Upstream{Recurring: true, Status: "active"}, wantOK: true, wantStatus: ledgerdomain.StatusActive},
		{name: "sub_past_due", upstream: Upstream{Recurring: true, Status: "past_due"}, wantOK: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first, ok := Resolve(tc.upstream)
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			require.Equal(t, tc.wantStatus, first.Status)
			if tc.wantEnded == nil {
				require.Nil(t, first.EndedAt)
			} else {
				require.NotNil(t, first.EndedAt)
				require.True(t, tc.wantEnded.Equal(*first.EndedAt))
			}

			second, _ := Resolve(tc.upstream)
			require.Equal(t, first, second)
		})
	}
}

func TestApplyDetectsDrift(t *testing.T) {
	ended := at(1_700_000_000)
	entry := ledgerdomain.Entry{Status: ledgerdomain.StatusActive, EndedAt: ended}

	// Reactivation clears ended_at.
	next, changed := Apply(entry, Target{Status: ledgerdomain.StatusActive})
	require.True(t, changed)
	require.Nil(t, next.EndedAt)

	// Sub-second differences are not drift.
	nearly := ended.Add(400 * time.Millisecond)
	scheduled := ledgerdomain.Entry{Status: ledgerdomain.StatusScheduledCancel, EndedAt: ended}
	_, changed = Apply(scheduled, Target{Status: ledgerdomain.StatusScheduledCancel, EndedAt: &nearly})
	require.False(t, changed)

	// Paused keeps any existing ended_at.
	paused := ledgerdomain.Entry{Status: ledgerdomain.StatusPaused, EndedAt: ended}
	_, changed = Apply(paused, Target{Status: ledgerdomain.StatusPaused})
	require.False(t, changed)

	// Completed without an end date is stable.
	done := ledgerdomain.Entry{Status: ledgerdomain.StatusCompleted}
	_, changed = Apply(done, Target{Status: ledgerdomain.StatusCompleted})
	require.False(t, changed)
}
