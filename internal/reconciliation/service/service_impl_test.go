package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/ledgertest"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/repository"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor/processortest"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	repo ledgerdomain.Repository
	fake *processortest.Client
	clk  *clock.FakeClock
	svc  reconciliationdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := ledgertest.OpenDB(t)
	node := ledgertest.NewNode(t)
	log := zap.NewNop()
	fake := processortest.New()
	clk := clock.NewFakeClock(now)
	repo := repository.Provide()

	svc := NewService(Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Config:     config.Config{},
		Repo:       repo,
		Processors: processor.NewRegistry(map[ledgerdomain.Mode]processordomain.Client{ledgerdomain.ModeTest: fake}),
		Settings:   settings.New(settings.Params{DB: conn, Log: log}),
	})
	return &fixture{db: conn, node: node, repo: repo, fake: fake, clk: clk, svc: svc}
}

func (f *fixture) insert(t *testing.T, entry ledgerdomain.Entry) ledgerdomain.Entry {
	t.Helper()
	entry.ID = f.node.Generate()
	if entry.Email == nil && entry.AccountID == nil {
		entry.Email = ledgertest.Ptr("donor@example.org")
	}
	if entry.StripeMode == "" {
		entry.StripeMode = ledgerdomain.ModeTest
	}
	if entry.Amount.IsZero() {
		entry.Amount = decimal.NewFromInt(25)
	}
	if entry.Kind == ledgerdomain.KindSponsorship {
		entry.BestieID = ledgertest.Ptr("bestie-1")
		entry.SponsorBestieID = ledgertest.Ptr("sb-1")
	}
	entry.CreatedAt = now.Add(-48 * time.Hour)
	entry.UpdatedAt = entry.CreatedAt
	require.NoError(t, f.repo.InsertEntry(context.Background(), f.db, &entry))
	return entry
}

func (f *fixture) reload(t *testing.T, entry ledgerdomain.Entry) *ledgerdomain.Entry {
	t.Helper()
	got, err := f.repo.FindEntryByID(context.Background(), f.db, entry.Kind, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func (f *fixture) changeCount(t *testing.T, jobID string) int {
	t.Helper()
	id, err := snowflake.ParseString(jobID)
	require.NoError(t, err)
	changes, err := f.repo.ListChangeLogs(context.Background(), f.db, id)
	require.NoError(t, err)
	return len(changes)
}

func TestRunScheduledCancelThenCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cancelAt := now.Add(20 * 24 * time.Hour)

	f.fake.PutSubscription(processordomain.Subscription{
		ID:                "sub_1",
		Status:            processordomain.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
		CancelAt:          &cancelAt,
	})
	entry := f.insert(t, ledgerdomain.Entry{
		Kind:                 ledgerdomain.KindSponsorship,
		Frequency:            ledgerdomain.FrequencyMonthly,
		Status:               ledgerdomain.StatusActive,
		StripeSubscriptionID: ledgertest.Ptr("sub_1"),
	})

	report, err := f.svc.Run(ctx, reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.JobStatusSuccess, report.Status)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, f.changeCount(t, report.JobID))

	got := f.reload(t, entry)
	require.Equal(t, ledgerdomain.StatusScheduledCancel, got.Status)
	require.NotNil(t, got.EndedAt)
	require.True(t, got.EndedAt.Equal(cancelAt))

	canceledAt := now.Add(time.Hour)
	f.fake.PutSubscription(processordomain.Subscription{
		ID:         "sub_1",
		Status:     processordomain.SubscriptionStatusCanceled,
		CanceledAt: &canceledAt,
	})

	report, err = f.svc.Run(ctx, reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.Cancelled)

	got = f.reload(t, entry)
	require.Equal(t, ledgerdomain.StatusCancelled, got.Status)
	require.True(t, got.EndedAt.Equal(canceledAt))
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.PutSubscription(processordomain.Subscription{ID: "sub_2", Status: processordomain.SubscriptionStatusPaused})
	f.insert(t, ledgerdomain.Entry{
		Kind:                 ledgerdomain.KindDonation,
		Frequency:            ledgerdomain.FrequencyMonthly,
		Status:               ledgerdomain.StatusActive,
		StripeSubscriptionID: ledgertest.Ptr("sub_2"),
	})

	first, err := f.svc.Run(ctx, reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Updated)

	second, err := f.svc.Run(ctx, reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, 0, second.Updated)
	require.Equal(t, 0, f.changeCount(t, second.JobID))
	require.Equal(t, reconciliationdomain.ActionUnchanged, second.Results[0].Action)
}

func TestRunPendingRowsResolveThroughSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := now.Add(-47 * time.Hour)

	f.fake.PutSubscription(processordomain.Subscription{ID: "sub_3", Status: processordomain.SubscriptionStatusActive, Created: created})
	f.fake.PutSession(processordomain.Session{
		ID:            "cs_monthly",
		Status:        processordomain.SessionStatusComplete,
		PaymentStatus: processordomain.PaymentStatusPaid,
		Subscription:  processordomain.RefID[processordomain.Subscription]("sub_3"),
		Customer:      processordomain.RefID[processordomain.Customer]("cus_9"),
	})
	f.fake.PutPaymentIntent(processordomain.PaymentIntent{ID: "pi_4", Status: processordomain.PaymentIntentStatusSucceeded, Created: created})
	f.fake.PutSession(processordomain.Session{
		ID:            "cs_once",
		Status:        processordomain.SessionStatusComplete,
		PaymentStatus: processordomain.PaymentStatusPaid,
		PaymentIntent: processordomain.RefID[processordomain.PaymentIntent]("pi_4"),
	})

	monthly := f.insert(t, ledgerdomain.Entry{
		Kind:                    ledgerdomain.KindDonation,
		Frequency:               ledgerdomain.FrequencyMonthly,
		Status:                  ledgerdomain.StatusPending,
		StripeCheckoutSessionID: ledgertest.Ptr("cs_monthly"),
	})
	once := f.insert(t, ledgerdomain.Entry{
		Kind:                    ledgerdomain.KindDonation,
		Frequency:               ledgerdomain.FrequencyOneTime,
		Status:                  ledgerdomain.StatusPending,
		StripeCheckoutSessionID: ledgertest.Ptr("cs_once"),
	})

	report, err := f.svc.Run(ctx, reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Updated)

	got := f.reload(t, monthly)
	require.Equal(t, ledgerdomain.StatusActive, got.Status)
	require.Equal(t, "sub_3", *got.StripeSubscriptionID)
	require.Equal(t, "cus_9", *got.StripeCustomerID)
	require.NotNil(t, got.StartedAt)

	got = f.reload(t, once)
	require.Equal(t, ledgerdomain.StatusCompleted, got.Status)
	require.Equal(t, "pi_4", *got.StripePaymentIntentID)
}

func TestRunExpiredSessionCancelsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.fake.PutSession(processordomain.Session{
		ID:            "cs_expired",
		Status:        processordomain.SessionStatusExpired,
		PaymentStatus: processordomain.PaymentStatusUnpaid,
	})
	f.fake.PutSession(processordomain.Session{
		ID:            "cs_open",
		Status:        processordomain.SessionStatusOpen,
		PaymentStatus: processordomain.PaymentStatusUnpaid,
	})
	expired := f.insert(t, ledgerdomain.Entry{
		Kind:                    ledgerdomain.KindDonation,
		Frequency:               ledgerdomain.FrequencyOneTime,
		Status:                  ledgerdomain.StatusPending,
		StripeCheckoutSessionID: ledgertest.Ptr("cs_expired"),
	})
	open := f.insert(t, ledgerdomain.Entry{
		Kind:                    ledgerdomain.KindDonation,
		Frequency:               ledgerdomain.FrequencyOneTime,
		Status:                  ledgerdomain.StatusPending,
		StripeCheckoutSessionID: ledgertest.Ptr("cs_open"),
	})

	report, err := f.svc.Run(context.Background(), reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Cancelled)
	require.Equal(t, 1, report.Skipped)

	got := f.reload(t, expired)
	require.Equal(t, ledgerdomain.StatusCancelled, got.Status)
	require.True(t, got.EndedAt.Equal(now))
	require.Equal(t, ledgerdomain.StatusPending, f.reload(t, open).Status)
}

func TestRunRecordsPerRowErrorsAndContinues(t *testing.T) {
	f := newFixture(t)

	f.fake.PutPaymentIntent(processordomain.PaymentIntent{ID: "pi_ok", Status: processordomain.PaymentIntentStatusCanceled, CanceledAt: &now})
	f.insert(t, ledgerdomain.Entry{
		Kind:                 ledgerdomain.KindDonation,
		Frequency:            ledgerdomain.FrequencyMonthly,
		Status:               ledgerdomain.StatusActive,
		StripeSubscriptionID: ledgertest.Ptr("sub_missing"),
	})
	f.insert(t, ledgerdomain.Entry{
		Kind:                  ledgerdomain.KindDonation,
		Frequency:             ledgerdomain.FrequencyOneTime,
		Status:                ledgerdomain.StatusActive,
		StripePaymentIntentID: ledgertest.Ptr("pi_ok"),
	})

	report, err := f.svc.Run(context.Background(), reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.JobStatusPartialFailure, report.Status)
	require.Equal(t, 2, report.Checked)
	require.Equal(t, 1, report.Updated)
	require.Len(t, report.Errors, 1)
	require.Equal(t, reconciliationdomain.ActionError, report.Results[0].Action)

	id, err := snowflake.ParseString(report.JobID)
	require.NoError(t, err)
	jobLog, err := f.repo.FindJobLog(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, jobLog)
	require.Equal(t, ledgerdomain.JobStatusPartialFailure, jobLog.Status)
	require.Equal(t, 1, jobLog.Errors)
	require.Len(t, jobLog.ErrorMessages, 1)
}

func TestRunBatchAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.PutSubscription(processordomain.Subscription{ID: "sub_c", Status: processordomain.SubscriptionStatusCanceled, CanceledAt: &now})
	for i := 0; i < 2; i++ {
		f.insert(t, ledgerdomain.Entry{
			Kind:                 ledgerdomain.KindDonation,
			Frequency:            ledgerdomain.FrequencyMonthly,
			Status:               ledgerdomain.StatusActive,
			StripeSubscriptionID: ledgertest.Ptr("sub_c"),
		})
	}
	sponsorship := f.insert(t, ledgerdomain.Entry{
		Kind:                 ledgerdomain.KindSponsorship,
		Frequency:            ledgerdomain.FrequencyMonthly,
		Status:               ledgerdomain.StatusActive,
		StripeSubscriptionID: ledgertest.Ptr("sub_c"),
	})

	first, err := f.svc.Run(ctx, reconciliationdomain.Request{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 2, first.Checked)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)
	require.Equal(t, ledgerdomain.StatusActive, f.reload(t, sponsorship).Status)

	second, err := f.svc.Run(ctx, reconciliationdomain.Request{BatchSize: 2, ResumeJobID: first.JobID})
	require.NoError(t, err)
	require.Equal(t, 1, second.Checked)
	require.False(t, second.HasMore)
	require.Equal(t, ledgerdomain.StatusCancelled, f.reload(t, sponsorship).Status)
}

func TestRunResumeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Run(ctx, reconciliationdomain.Request{ResumeJobID: "not-a-number"})
	require.ErrorIs(t, err, reconciliationdomain.ErrInvalidResume)

	_, err = f.svc.Run(ctx, reconciliationdomain.Request{ResumeJobID: "12345"})
	require.ErrorIs(t, err, reconciliationdomain.ErrResumeNotFound)

	first, err := f.svc.Run(ctx, reconciliationdomain.Request{})
	require.NoError(t, err)
	_, err = f.svc.Run(ctx, reconciliationdomain.Request{ResumeJobID: first.JobID, Mode: "live"})
	require.ErrorIs(t, err, reconciliationdomain.ErrModeMismatch)
}

func TestRunNeverCrossesModes(t *testing.T) {
	f := newFixture(t)
	f.insert(t, ledgerdomain.Entry{
		Kind:                 ledgerdomain.KindDonation,
		Frequency:            ledgerdomain.FrequencyMonthly,
		Status:               ledgerdomain.StatusActive,
		StripeMode:           ledgerdomain.ModeLive,
		StripeSubscriptionID: ledgertest.Ptr("sub_live"),
	})

	report, err := f.svc.Run(context.Background(), reconciliationdomain.Request{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Checked)
	require.Equal(t, 0, f.fake.CallCount("subscriptions.get"))

	_, err = f.svc.Run(context.Background(), reconciliationdomain.Request{Mode: "live"})
	require.True(t, errors.Is(err, processordomain.ErrModeNotConfigured))
}
