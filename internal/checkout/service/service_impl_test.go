package service

import (
	"context"
	"errors"
	"testing"
	"time"

	checkoutdomain "github.com/joshmstewart/bestdayministries-sub013/internal/checkout/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/identity"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/ledgertest"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/repository"
	"github.com/joshmstewart/bestdayministries-sub013/internal/newsletter"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor/processortest"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	svc        *Service
	fake       *processortest.Client
	newsletter *newsletter.Service
	repo       ledgerdomain.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn := ledgertest.OpenDB(t)
	node := ledgertest.NewNode(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := processortest.New()
	repo := repository.Provide()
	news := newsletter.NewService(newsletter.Params{DB: conn, Log: log, GenID: node, Clock: clk})

	svc := NewService(Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Config:     config.Config{Checkout: config.CheckoutURLs{SuccessURL: "https://example.org/ok", CancelURL: "https://example.org/cancel"}},
		Fees:       config.NewStaticCheckoutSettings(config.DefaultCheckoutSettings()),
		Repo:       repo,
		Processors: processor.NewRegistry(map[ledgerdomain.Mode]processordomain.Client{ledgerdomain.ModeTest: fake}),
		Settings:   settings.New(settings.Params{DB: conn, Log: log}),
		Identity:   identity.NewResolver(identity.Params{DB: conn, Log: log}),
		Newsletter: news,
	}).(*Service)

	return fixture{db: conn, svc: svc, fake: fake, newsletter: news, repo: repo}
}

func donationRequest() checkoutdomain.Request {
	return checkoutdomain.Request{
		Amount:         decimal.RequireFromString("10.00"),
		Frequency:      "one-time",
		Email:          "Donor@Example.org",
		CoverStripeFee: true,
	}
}

func countRows(t *testing.T, conn *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := conn.Raw(`SELECT COUNT(*) FROM ` + table).Scan(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestCreateSessionGuestDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, ledgerdomain.KindDonation, donationRequest())
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, ledgerdomain.ModeTest, res.Mode)
	require.Equal(t, "10.60", res.AmountCharged.StringFixed(2))

	sent := f.fake.LastSessionRequest
	require.Equal(t, int64(1060), sent.AmountCents)
	require.Equal(t, processordomain.SessionModePayment, sent.Mode)
	require.Equal(t, "10.00", sent.Metadata[processordomain.MetadataBaseAmount])
	require.Equal(t, "donor@example.org", sent.Metadata[processordomain.MetadataEmail])
	require.NotEmpty(t, sent.IdempotencyKey)

	entry, err := f.repo.FindEntryBySession(ctx, f.db, ledgerdomain.KindDonation, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, ledgerdomain.StatusPending, entry.Status)
	require.Nil(t, entry.AccountID)
	require.NotNil(t, entry.Email)
	require.Equal(t, "donor@example.org", *entry.Email)
	require.True(t, entry.AmountCharged.Valid)
	require.Equal(t, "10.60", entry.AmountCharged.Decimal.StringFixed(2))
}

func TestCreateSessionMonthlyUsesSubscriptionMode(t *testing.T) {
	f := newFixture(t)
	req := donationRequest()
	req.Frequency = "monthly"
	req.CoverStripeFee = false

	_, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, req)
	require.NoError(t, err)

	sent := f.fake.LastSessionRequest
	require.Equal(t, processordomain.SessionModeSubscription, sent.Mode)
	require.Equal(t, "month", sent.Interval)
	require.Equal(t, int64(1000), sent.AmountCents)
	require.Equal(t, "Monthly Donation", sent.ProductName)
}

func TestCreateSessionAccountHolderGetsDonorID(t *testing.T) {
	f := newFixture(t)
	node := ledgertest.NewNode(t)
	accountID := node.Generate()
	ledgertest.InsertProfile(t, f.db, accountID, "donor@example.org")

	res, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, donationRequest())
	require.NoError(t, err)

	entry, err := f.repo.FindEntryBySession(context.Background(), f.db, ledgerdomain.KindDonation, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, entry.AccountID)
	require.Equal(t, accountID, *entry.AccountID)
	require.Nil(t, entry.Email)
}

func TestCreateSessionIdempotentRetry(t *testing.T) {
	f := newFixture(t)
	req := donationRequest()
	req.IdempotencyKey = "retry-1"

	first, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, req)
	require.NoError(t, err)
	second, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, req)
	require.NoError(t, err)

	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, first.URL, second.URL)
	require.True(t, second.Duplicate)
	require.Equal(t, int64(1), countRows(t, f.db, "donations"))
}

func TestCreateSessionFingerprintReusedWithinMinute(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, donationRequest())
	require.NoError(t, err)
	second, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, donationRequest())
	require.NoError(t, err)

	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, int64(1), countRows(t, f.db, "donations"))
}

func TestCreateSessionValidationCollectsAllFields(t *testing.T) {
	f := newFixture(t)
	req := checkoutdomain.Request{
		Amount:    decimal.RequireFromString("1"),
		Frequency: "weekly",
		Email:     "not-an-email",
	}

	_, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindSponsorship, req)
	var verr *checkoutdomain.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)

	fields := map[string]string{}
	for _, fe := range verr.Errors {
		fields[fe.Field] = fe.Code
	}
	require.Equal(t, "min", fields["amount"])
	require.Equal(t, "oneof", fields["frequency"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "required", fields["bestie_id"])
	require.Equal(t, "required", fields["sponsor_bestie_id"])
	require.Equal(t, 0, f.fake.CallCount("checkout.sessions.create"))
}

func TestCreateSessionSponsorshipCarriesBestie(t *testing.T) {
	f := newFixture(t)
	req := donationRequest()
	req.Frequency = "monthly"
	req.BestieID = "bestie-1"
	req.SponsorBestieID = "sb-1"

	res, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindSponsorship, req)
	require.NoError(t, err)
	require.Equal(t, "sb-1", f.fake.LastSessionRequest.Metadata[processordomain.MetadataSponsorBestieID])

	entry, err := f.repo.FindEntryBySession(context.Background(), f.db, ledgerdomain.KindSponsorship, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "bestie-1", *entry.BestieID)
	require.Equal(t, "sb-1", *entry.SponsorBestieID)
}

func TestCreateSessionUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOn("checkout.sessions.create", &processordomain.UpstreamError{Op: "checkout.sessions.create", StatusCode: 500, Err: errors.New("boom")})

	_, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, donationRequest())
	require.ErrorIs(t, err, checkoutdomain.ErrCheckoutUnavailable)
	require.Equal(t, int64(0), countRows(t, f.db, "donations"))
}

func TestCreateSessionUnconfiguredMode(t *testing.T) {
	f := newFixture(t)
	ledgertest.SetStripeMode(t, f.db, "live")

	_, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, donationRequest())
	require.ErrorIs(t, err, checkoutdomain.ErrCheckoutUnavailable)
	require.Equal(t, 0, f.fake.CallCount("checkout.sessions.create"))
}

func TestCreateSessionNewsletterOptIn(t *testing.T) {
	f := newFixture(t)
	req := donationRequest()
	req.NewsletterOptIn = true

	_, err := f.svc.CreateSession(context.Background(), ledgerdomain.KindDonation, req)
	require.NoError(t, err)
	f.newsletter.Wait()

	require.Equal(t, int64(1), countRows(t, f.db, "newsletter_subscribers"))
}
