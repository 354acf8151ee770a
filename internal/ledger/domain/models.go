// Package domain contains the ledger rows (donations and sponsorships) and the
// audit records written around them.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Kind selects the ledger table a row lives in.
type Kind string

const (
	KindDonation    Kind = "donation"
	KindSponsorship Kind = "sponsorship"
)

func (k Kind) Valid() bool {
	return k == KindDonation || k == KindSponsorship
}

// Mode is the processor environment a row belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeTest:
		return ModeTest, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", ErrInvalidMode
	}
}

type Frequency string

const (
	FrequencyOneTime Frequency = "one-time"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Recurring() bool { return f == FrequencyMonthly }

func (f Frequency) Valid() bool {
	return f == FrequencyOneTime || f == FrequencyMonthly
}

// Status is the local lifecycle state of a ledger row.
type Status string

const (
	StatusPending         Status = "pending"
	StatusCompleted       Status = "completed"
	StatusActive          Status = "active"
	StatusCancelled       Status = "cancelled"
	StatusScheduledCancel Status = "scheduled_cancel"
	StatusPaused          Status = "paused"
)

// ReconcilableStatuses are the settled states whose upstream object can still move.
var ReconcilableStatuses = []Status{StatusActive, StatusPaused, StatusScheduledCancel}

// Identity names the payer: an internal account or a raw email, never both.
type Identity struct {
	AccountID *snowflake.ID
	Email     *string
}

func AccountIdentity(id snowflake.ID) Identity {
	return Identity{AccountID: &id}
}

func EmailIdentity(email string) Identity {
	normalized := NormalizeEmail(email)
	return Identity{Email: &normalized}
}

// Validate enforces the exactly-one rule.
func (i Identity) Validate() error {
	hasAccount := i.AccountID != nil && *i.AccountID != 0
	hasEmail := i.Email != nil && strings.TrimSpace(*i.Email) != ""
	if hasAccount == hasEmail {
		return ErrIdentityConstraint
	}
	return nil
}

func (i Identity) String() string {
	if i.AccountID != nil {
		return "account:" + i.AccountID.String()
	}
	if i.Email != nil {
		return "email:" + *i.Email
	}
	return "none"
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Entry is one ledger row. Donations and sponsorships share the shape; the
// repository maps AccountID/Email onto donor_* or sponsor_* columns by Kind.
type Entry struct {
	ID                      snowflake.ID
	Kind                    Kind `gorm:"-"`
	AccountID               *snowflake.ID
	Email                   *string
	BestieID                *string
	SponsorBestieID         *string
	Amount                  decimal.Decimal
	AmountCharged           decimal.NullDecimal
	Frequency               Frequency
	Status                  Status
	StripeCustomerID        *string
	StripeCheckoutSessionID *string
	StripeSubscriptionID    *string
	StripePaymentIntentID   *string
	StripeMode              Mode
	CoverStripeFee          bool
	StartedAt               *time.Time
	EndedAt                 *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (e Entry) Identity() Identity {
	return Identity{AccountID: e.AccountID, Email: e.Email}
}

func (e *Entry) SetIdentity(identity Identity) {
	e.AccountID = identity.AccountID
	e.Email = identity.Email
}

// UpstreamReference returns the stored subscription or intent id, preferring
// the subscription for recurring rows.
func (e Entry) UpstreamReference() string {
	if e.Frequency.Recurring() && e.StripeSubscriptionID != nil && *e.StripeSubscriptionID != "" {
		return *e.StripeSubscriptionID
	}
	if e.StripePaymentIntentID != nil && *e.StripePaymentIntentID != "" {
		return *e.StripePaymentIntentID
	}
	if e.StripeSubscriptionID != nil && *e.StripeSubscriptionID != "" {
		return *e.StripeSubscriptionID
	}
	return ""
}

func (e Entry) Snapshot() Snapshot {
	return Snapshot{
		Status:                e.Status,
		EndedAt:               e.EndedAt,
		StripeSubscriptionID:  e.StripeSubscriptionID,
		StripePaymentIntentID: e.StripePaymentIntentID,
		StripeCustomerID:      e.StripeCustomerID,
	}
}

// Snapshot is the audited subset of a ledger row.
type Snapshot struct {
	Status                Status     `json:"status"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	StripeSubscriptionID  *string    `json:"stripe_subscription_id,omitempty"`
	StripePaymentIntentID *string    `json:"stripe_payment_intent_id,omitempty"`
	StripeCustomerID      *string    `json:"stripe_customer_id,omitempty"`
}

// Receipt is the audit record of a processed payment. A receipt linked to
// neither a sponsorship nor a donation is orphaned.
type Receipt struct {
	ID               snowflake.ID
	TransactionID    string
	SponsorEmail     string
	Amount           decimal.Decimal
	Frequency        Frequency
	StripeMode       Mode
	StripeCustomerID *string
	SponsorBestieID  *string
	SponsorshipID    *snowflake.ID
	DonationID       *snowflake.ID
	TransactionDate  time.Time
	CreatedAt        time.Time
}

func (r Receipt) Orphaned() bool {
	return r.SponsorshipID == nil && r.DonationID == nil
}

// TargetKind is the ledger table a receipt should link to.
func (r Receipt) TargetKind() Kind {
	if r.SponsorBestieID != nil && strings.TrimSpace(*r.SponsorBestieID) != "" {
		return KindSponsorship
	}
	return KindDonation
}

type JobStatus string

const (
	JobStatusSuccess        JobStatus = "success"
	JobStatusPartialFailure JobStatus = "partial_failure"
)

// JobLog is the single row written at the end of a reconciliation or recovery run.
type JobLog struct {
	ID            snowflake.ID
	JobName       string
	RanAt         time.Time
	CompletedAt   time.Time
	StripeMode    Mode
	TriggeredBy   *string
	Checked       int
	Updated       int
	Skipped       int
	Errors        int
	Status        JobStatus
	ErrorMessages datatypes.JSONSlice[string]
	Metadata      datatypes.JSONMap
}

type ChangeType string

const (
	ChangeTypeStatusCorrection ChangeType = "status_correction"
	ChangeTypeRecoveredCreate  ChangeType = "recovered_create"
	ChangeTypeRecoveredLink    ChangeType = "recovered_link"
	ChangeTypePlaceholderVoid  ChangeType = "placeholder_cancelled"
	ChangeTypeReceiptDeleted   ChangeType = "receipt_deleted"
)

// ChangeLog is one corrected row within a run.
type ChangeLog struct {
	ID              snowflake.ID
	JobLogID        snowflake.ID
	LedgerType      Kind
	DonationID      *snowflake.ID
	SponsorshipID   *snowflake.ID
	ChangeType      ChangeType
	BeforeState     datatypes.JSONType[Snapshot]
	AfterState      datatypes.JSONType[Snapshot]
	StripeReference *string
	StripeMode      Mode
	CreatedAt       time.Time
}

// SetLedgerRow points the change at the donation or sponsorship it touched.
func (c *ChangeLog) SetLedgerRow(kind Kind, id snowflake.ID) {
	c.LedgerType = kind
	rowID := id
	if kind == KindSponsorship {
		c.SponsorshipID = &rowID
		return
	}
	c.DonationID = &rowID
}

// WebhookLog is one processing step recorded by the webhook ingestor.
type WebhookLog struct {
	ID              snowflake.ID `json:"id"`
	EventID         string       `json:"event_id"`
	EventType       string       `json:"event_type"`
	StripeMode      Mode         `json:"stripe_mode"`
	SessionID       *string      `json:"session_id,omitempty"`
	SubscriptionID  *string      `json:"subscription_id,omitempty"`
	PaymentIntentID *string      `json:"payment_intent_id,omitempty"`
	Step            string       `json:"step"`
	Status          string       `json:"status"`
	Details         *string      `json:"details,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}
