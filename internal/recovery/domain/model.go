package domain

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

const JobName = "recovery"

const (
	DefaultLimit = 50
	MaxLimit     = 500

	// HeuristicWindow bounds how far a processor transaction may sit from the
	// local creation time and still match.
	HeuristicWindow = time.Hour
	// HeuristicAmountTolerance is in minor units, inclusive.
	HeuristicAmountTolerance = 100
	// DuplicateWindow is the span either side of a candidate checked for an
	// existing ledger row.
	DuplicateWindow = 24 * time.Hour
)

var (
	ErrNoMatch          = errors.New("no_matching_payment")
	ErrCandidateInvalid = errors.New("invalid_candidate")
	ErrInvalidResume    = errors.New("invalid_resume_job")
	ErrResumeNotFound   = errors.New("resume_job_not_found")
	ErrModeMismatch     = errors.New("resume_job_mode_mismatch")
)

type Strategy string

const (
	StrategySession   Strategy = "session"
	StrategyDirect    Strategy = "direct"
	StrategyHeuristic Strategy = "heuristic"
)

// Source says where a candidate came from.
type Source string

const (
	SourceReceipt     Source = "receipt"
	SourcePlaceholder Source = "placeholder"
	SourceOperator    Source = "operator"
)

type Action string

const (
	ActionCreate            Action = "create"
	ActionLink              Action = "link"
	ActionDeleteReceipt     Action = "delete_receipt"
	ActionCancelPlaceholder Action = "cancel_placeholder"
	ActionUpdatePlaceholder Action = "update_placeholder"
	ActionNone              Action = "none"
)

// Candidate is a payment that may be missing its ledger row. Operator
// supplied candidates may point at a receipt or a ledger row by id, or carry
// the payment details inline.
type Candidate struct {
	Source          Source            `json:"source,omitempty"`
	ReceiptID       string            `json:"receipt_id,omitempty"`
	EntryID         string            `json:"id,omitempty"`
	Kind            ledgerdomain.Kind `json:"ledger_type,omitempty"`
	Email           string            `json:"email,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Frequency       string            `json:"frequency,omitempty"`
	SessionID       string            `json:"stripe_checkout_session_id,omitempty"`
	SubscriptionID  string            `json:"stripe_subscription_id,omitempty"`
	PaymentIntentID string            `json:"stripe_payment_intent_id,omitempty"`
	CustomerID      string            `json:"stripe_customer_id,omitempty"`
	BestieID        string            `json:"bestie_id,omitempty"`
	SponsorBestieID string            `json:"sponsor_bestie_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Recurring uses the stored frequency, falling back to the reference shape.
func (c Candidate) Recurring() bool {
	switch ledgerdomain.Frequency(c.Frequency) {
	case ledgerdomain.FrequencyMonthly:
		return true
	case ledgerdomain.FrequencyOneTime:
		return false
	}
	return c.SubscriptionID != ""
}

// Request drives both Run and Diagnose. Without candidates the work queue is
// built from orphaned receipts and stale pending rows, starting after the
// cursor of ResumeJobID or, when that is empty, after the cursor of the last
// run in the mode if that run stopped early.
type Request struct {
	Mode        string      `json:"mode,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	ResumeJobID string      `json:"resume_job_id,omitempty"`
	Candidates  []Candidate `json:"donations,omitempty"`
	TriggeredBy string      `json:"-"`
}

// Attempt is one matching strategy tried for a candidate.
type Attempt struct {
	Strategy       Strategy `json:"strategy"`
	Matched        bool     `json:"matched"`
	Reference      string   `json:"stripe_reference,omitempty"`
	Detail         string   `json:"detail,omitempty"`
	Error          string   `json:"error,omitempty"`
	Ambiguous      bool     `json:"ambiguous,omitempty"`
	CandidateCount int      `json:"candidate_count,omitempty"`
}

// CandidateResult is the outcome of one recovery candidate.
type CandidateResult struct {
	Source          Source   `json:"source"`
	ReceiptID       string   `json:"receipt_id,omitempty"`
	EntryID         string   `json:"entry_id,omitempty"`
	DonationCreated bool     `json:"donationCreated"`
	DonationID      string   `json:"donationId,omitempty"`
	Linked          bool     `json:"linked"`
	Deleted         bool     `json:"deleted"`
	Cancelled       bool     `json:"cancelled"`
	Error           string   `json:"error,omitempty"`
	Strategy        Strategy `json:"strategy,omitempty"`
	Reference       string   `json:"stripe_reference,omitempty"`
	Ambiguous       bool     `json:"ambiguous,omitempty"`
	CandidateCount  int      `json:"candidate_count,omitempty"`
}

type Report struct {
	JobID      string                 `json:"job_id"`
	Mode       ledgerdomain.Mode      `json:"mode"`
	Status     ledgerdomain.JobStatus `json:"status"`
	Checked    int                    `json:"checked"`
	Created    int                    `json:"created"`
	Linked     int                    `json:"linked"`
	Deleted    int                    `json:"deleted"`
	Cancelled  int                    `json:"cancelled"`
	Skipped    int                    `json:"skipped"`
	Errors     []string               `json:"errors"`
	Results    []CandidateResult      `json:"results"`
	HasMore    bool                   `json:"has_more"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type IdentityView struct {
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

type DuplicateView struct {
	LedgerType ledgerdomain.Kind   `json:"ledger_type"`
	ID         string              `json:"id"`
	Status     ledgerdomain.Status `json:"status"`
	SessionID  string              `json:"stripe_checkout_session_id,omitempty"`
}

// CandidateDiagnosis explains what Run would do for one candidate.
type CandidateDiagnosis struct {
	Candidate    Candidate                 `json:"candidate"`
	Attempts     []Attempt                 `json:"attempts"`
	Strategy     Strategy                  `json:"strategy,omitempty"`
	Action       Action                    `json:"action"`
	Identity     *IdentityView             `json:"identity,omitempty"`
	Duplicate    *DuplicateView            `json:"duplicate,omitempty"`
	WebhookTrace []ledgerdomain.WebhookLog `json:"webhook_trace"`
	Error        string                    `json:"error,omitempty"`
}

type Diagnosis struct {
	Mode       ledgerdomain.Mode    `json:"mode"`
	Candidates []CandidateDiagnosis `json:"candidates"`
}

type Service interface {
	Run(ctx context.Context, req Request) (*Report, error)
	// Diagnose performs the same lookups as Run and writes nothing.
	Diagnose(ctx context.Context, req Request) (*Diagnosis, error)
}
