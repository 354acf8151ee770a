package domain

import (
	"context"
	"strings"

	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

// Request is the public checkout input for both donations and sponsorships.
type Request struct {
	Amount          decimal.Decimal `json:"amount"`
	Frequency       string          `json:"frequency" validate:"required,oneof=one-time monthly"`
	Email           string          `json:"email" validate:"required,email,max=254"`
	CoverStripeFee  bool            `json:"cover_stripe_fee"`
	Mode            string          `json:"mode,omitempty" validate:"omitempty,oneof=test live"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty" validate:"omitempty,max=200"`
	NewsletterOptIn bool            `json:"newsletter_opt_in"`

	BestieID        string `json:"bestie_id,omitempty" validate:"omitempty,max=100"`
	SponsorBestieID string `json:"sponsor_bestie_id,omitempty" validate:"omitempty,max=100"`
}

// Normalize trims inputs and lowercases the email.
func (r Request) Normalize() Request {
	r.Frequency = strings.ToLower(strings.TrimSpace(r.Frequency))
	r.Email = ledgerdomain.NormalizeEmail(r.Email)
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.BestieID = strings.TrimSpace(r.BestieID)
	r.SponsorBestieID = strings.TrimSpace(r.SponsorBestieID)
	return r
}

type Result struct {
	SessionID     string            `json:"session_id"`
	URL           string            `json:"url"`
	Mode          ledgerdomain.Mode `json:"mode"`
	AmountCharged decimal.Decimal   `json:"amount_charged"`
	Duplicate     bool              `json:"duplicate"`
}

type Service interface {
	CreateSession(ctx context.Context, kind ledgerdomain.Kind, req Request) (*Result, error)
}
