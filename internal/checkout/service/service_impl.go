package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	checkoutdomain "github.com/joshmstewart/bestdayministries-sub013/internal/checkout/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/identity"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/newsletter"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Fees       *config.CheckoutSettingsHolder
	Repo       ledgerdomain.Repository
	Processors *processor.Registry
	Settings   *settings.Store
	Identity   *identity.Resolver
	Newsletter *newsletter.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	urls       config.CheckoutURLs
	fees       *config.CheckoutSettingsHolder
	repo       ledgerdomain.Repository
	processors *processor.Registry
	settings   *settings.Store
	identity   *identity.Resolver
	newsletter *newsletter.Service
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("checkout.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		urls:       p.Config.Checkout,
		fees:       p.Fees,
		repo:       p.Repo,
		processors: p.Processors,
		settings:   p.Settings,
		identity:   p.Identity,
		newsletter: p.Newsletter,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) CreateSession(ctx context.Context, kind ledgerdomain.Kind, req checkoutdomain.Request) (*checkoutdomain.Result, error) {
	if !kind.Valid() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	req = req.Normalize()
	fees := s.fees.Get()
	if err := s.validateRequest(kind, req, fees); err != nil {
		return nil, err
	}

	mode, err := s.settings.ResolveMode(ctx, req.Mode)
	if err != nil {
		return nil, err
	}
	ctx = obscontext.WithMode(ctx, string(mode))
	log := s.log.With(
		zap.String("ledger_type", string(kind)),
		zap.String("stripe_mode", string(mode)),
		zap.String("frequency", req.Frequency),
	)

	client, err := s.processors.Client(mode)
	if err != nil {
		log.Error("processor client unavailable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", checkoutdomain.ErrCheckoutUnavailable, err)
	}

	frequency := ledgerdomain.Frequency(req.Frequency)
	charged := checkoutdomain.ChargedAmount(req.Amount, req.CoverStripeFee, fees.FixedFee, fees.PercentageFee)

	customer, err := s.resolveCustomer(ctx, client, req.Email)
	if err != nil {
		log.Warn("customer lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", checkoutdomain.ErrCheckoutUnavailable, err)
	}

	sessionReq := processordomain.SessionRequest{
		Mode:           processordomain.SessionModePayment,
		CustomerID:     customer.ID,
		AmountCents:    checkoutdomain.MinorUnits(charged),
		Currency:       fees.Currency,
		ProductName:    productName(kind, frequency, fees),
		SuccessURL:     s.urls.SuccessURL,
		CancelURL:      s.urls.CancelURL,
		Metadata:       sessionMetadata(kind, req),
		IdempotencyKey: s.idempotencyKey(kind, mode, req),
	}
	if frequency.Recurring() {
		sessionReq.Mode = processordomain.SessionModeSubscription
		sessionReq.Interval = "month"
	}

	session, err := client.CreateCheckoutSession(ctx, sessionReq)
	if err != nil {
		log.Warn("checkout session create failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", checkoutdomain.ErrCheckoutUnavailable, err)
	}
	log = log.With(zap.String("session_id", session.ID))

	result := &checkoutdomain.Result{
		SessionID:     session.ID,
		URL:           session.URL,
		Mode:          mode,
		AmountCharged: charged,
	}

	existing, err := s.repo.FindEntryBySession(ctx, s.db, kind, session.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info("checkout session already recorded")
		result.Duplicate = true
		s.recordMetric(ctx, mode, kind, frequency, true)
		return result, nil
	}

	payer, err := s.identity.Resolve(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sessionID := session.ID
	customerID := customer.ID
	entry := &ledgerdomain.Entry{
		ID:                      s.genID.Generate(),
		Kind:                    kind,
		Amount:                  req.Amount,
		AmountCharged:           decimal.NewNullDecimal(charged),
		Frequency:               frequency,
		Status:                  ledgerdomain.StatusPending,
		StripeCustomerID:        &customerID,
		StripeCheckoutSessionID: &sessionID,
		StripeMode:              mode,
		CoverStripeFee:          req.CoverStripeFee,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	entry.SetIdentity(payer)
	if kind == ledgerdomain.KindSponsorship {
		entry.BestieID = stringPtr(req.BestieID)
		entry.SponsorBestieID = stringPtr(req.SponsorBestieID)
	}

	if err := s.repo.InsertEntry(ctx, s.db, entry); err != nil {
		switch {
		case errors.Is(err, ledgerdomain.ErrDuplicateSession):
			log.Info("concurrent checkout recorded the session first")
			result.Duplicate = true
			s.recordMetric(ctx, mode, kind, frequency, true)
			return result, nil
		case errors.Is(err, ledgerdomain.ErrIdentityConstraint):
			log.Error("ledger identity constraint violated on checkout insert",
				zap.Bool("defect", true),
				zap.String("identity", payer.String()),
				zap.Error(err),
			)
			return nil, err
		default:
			return nil, err
		}
	}

	if req.NewsletterOptIn && s.newsletter != nil {
		s.newsletter.SubscribeAsync(ctx, req.Email, string(kind)+"_checkout")
	}

	log.Info("checkout session created", zap.String("entry_id", entry.ID.String()))
	s.recordMetric(ctx, mode, kind, frequency, false)
	return result, nil
}

func (s *Service) validateRequest(kind ledgerdomain.Kind, req checkoutdomain.Request, fees config.CheckoutSettings) error {
	verr := &checkoutdomain.ValidationError{}

	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			field := jsonFieldName(fe.Field())
			verr.Add(field, fe.Tag(), fieldMessage(field, fe.Tag(), fe.Param()))
		}
	}

	minAmount := decimal.NewFromFloat(fees.MinAmount)
	maxAmount := decimal.NewFromFloat(fees.MaxAmount)
	switch {
	case req.Amount.IsZero():
		verr.Add("amount", "required", "amount is required")
	case req.Amount.LessThan(minAmount):
		verr.Add("amount", "min", "amount must be at least "+minAmount.StringFixed(2))
	case req.Amount.GreaterThan(maxAmount):
		verr.Add("amount", "max", "amount must be at most "+maxAmount.StringFixed(2))
	}

	if kind == ledgerdomain.KindSponsorship {
		if req.BestieID == "" {
			verr.Add("bestie_id", "required", "bestie_id is required")
		}
		if req.SponsorBestieID == "" {
			verr.Add("sponsor_bestie_id", "required", "sponsor_bestie_id is required")
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// resolveCustomer searches by email before creating.
func (s *Service) resolveCustomer(ctx context.Context, client processordomain.Client, email string) (*processordomain.Customer, error) {
	customer, err := client.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}
	return client.CreateCustomer(ctx, email)
}

// idempotencyKey prefers the client key; otherwise it fingerprints the request
// within the current minute so quick retries reuse the same session.
func (s *Service) idempotencyKey(kind ledgerdomain.Kind, mode ledgerdomain.Mode, req checkoutdomain.Request) string {
	if req.IdempotencyKey != "" {
		return "checkout:" + string(mode) + ":" + req.IdempotencyKey
	}
	minute := s.clock.Now().Unix() / 60
	fingerprint := strings.Join([]string{
		string(kind),
		string(mode),
		req.Email,
		req.Amount.String(),
		req.Frequency,
		strconv.FormatBool(req.CoverStripeFee),
		req.BestieID,
		req.SponsorBestieID,
		strconv.FormatInt(minute, 10),
	}, "|")
	sum := sha256.Sum256([]byte(fingerprint))
	return "checkout:" + hex.EncodeToString(sum[:16])
}

func (s *Service) recordMetric(ctx context.Context, mode ledgerdomain.Mode, kind ledgerdomain.Kind, frequency ledgerdomain.Frequency, duplicate bool) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordCheckoutSession(ctx, string(mode), string(kind), string(frequency), duplicate)
}

func sessionMetadata(kind ledgerdomain.Kind, req checkoutdomain.Request) map[string]string {
	metadata := map[string]string{
		processordomain.MetadataBaseAmount: req.Amount.StringFixed(2),
		processordomain.MetadataFrequency:  req.Frequency,
		processordomain.MetadataCoverFee:   strconv.FormatBool(req.CoverStripeFee),
		processordomain.MetadataKind:       string(kind),
		processordomain.MetadataEmail:      req.Email,
	}
	if kind == ledgerdomain.KindSponsorship {
		metadata[processordomain.MetadataBestieID] = req.BestieID
		metadata[processordomain.MetadataSponsorBestieID] = req.SponsorBestieID
	}
	return metadata
}

func productName(kind ledgerdomain.Kind, frequency ledgerdomain.Frequency, fees config.CheckoutSettings) string {
	label := fees.DonationLabel
	if kind == ledgerdomain.KindSponsorship {
		label = fees.SponsorLabel
	}
	if frequency.Recurring() {
		return "Monthly " + label
	}
	return label
}

func jsonFieldName(field string) string {
	switch field {
	case "Frequency":
		return "frequency"
	case "Email":
		return "email"
	case "Mode":
		return "mode"
	case "IdempotencyKey":
		return "idempotency_key"
	case "BestieID":
		return "bestie_id"
	case "SponsorBestieID":
		return "sponsor_bestie_id"
	default:
		return strings.ToLower(field)
	}
}

func fieldMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return field + " must be one of: " + param
	case "max":
		return field + " must be at most " + param + " characters"
	default:
		return field + " is invalid"
	}
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
