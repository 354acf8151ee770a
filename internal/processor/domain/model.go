// Package domain describes the processor resources the ledger core reads,
// independent of any SDK.
package domain

import (
	"strings"
	"time"
)

type Customer struct {
	ID    string
	Email string
}

type SessionMode string

const (
	SessionModePayment      SessionMode = "payment"
	SessionModeSubscription SessionMode = "subscription"
)

type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Session is a hosted checkout session.
type Session struct {
	ID            string
	URL           string
	Mode          SessionMode
	Status        SessionStatus
	PaymentStatus string
	Customer      Ref[Customer]
	CustomerEmail string
	Subscription  Ref[Subscription]
	PaymentIntent Ref[PaymentIntent]
	AmountTotal   int64
	Metadata      map[string]string
	Created       time.Time
}

func (s Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// NeverCompleted reports a session that expired without collecting payment.
func (s Session) NeverCompleted() bool {
	return s.Status == SessionStatusExpired && !s.Paid()
}

// Email prefers the customer details captured by the session.
func (s Session) Email() string {
	if email := strings.TrimSpace(s.CustomerEmail); email != "" {
		return email
	}
	if customer, ok := s.Customer.Object(); ok {
		return strings.TrimSpace(customer.Email)
	}
	if email := strings.TrimSpace(s.Metadata[MetadataEmail]); email != "" {
		return email
	}
	return ""
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

type Subscription struct {
	ID                string
	Status            SubscriptionStatus
	CustomerID        string
	Amount            int64
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	CanceledAt        *time.Time
	EndedAt           *time.Time
	Created           time.Time
	Metadata          map[string]string
}

type PaymentIntentStatus string

const (
	PaymentIntentStatusSucceeded             PaymentIntentStatus = "succeeded"
	PaymentIntentStatusCanceled              PaymentIntentStatus = "canceled"
	PaymentIntentStatusProcessing            PaymentIntentStatus = "processing"
	PaymentIntentStatusRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentIntentStatusRequiresAction        PaymentIntentStatus = "requires_action"
)

type PaymentIntent struct {
	ID         string
	Status     PaymentIntentStatus
	CustomerID string
	Amount     int64
	CanceledAt *time.Time
	Created    time.Time
	Metadata   map[string]string
}

// Metadata keys written on every checkout session.
const (
	MetadataBaseAmount      = "base_amount"
	MetadataFrequency       = "frequency"
	MetadataCoverFee        = "cover_stripe_fee"
	MetadataKind            = "ledger_type"
	MetadataEmail           = "donor_email"
	MetadataBestieID        = "bestie_id"
	MetadataSponsorBestieID = "sponsor_bestie_id"
)

// SessionRequest describes a checkout session to open.
type SessionRequest struct {
	Mode           SessionMode
	CustomerID     string
	AmountCents    int64
	Currency       string
	ProductName    string
	Interval       string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// TransactionKind classifies a stored processor reference by its prefix.
type TransactionKind string

const (
	TransactionSession       TransactionKind = "session"
	TransactionSubscription  TransactionKind = "subscription"
	TransactionPaymentIntent TransactionKind = "payment_intent"
	TransactionUnknown       TransactionKind = "unknown"
)

func ClassifyReference(id string) TransactionKind {
	id = strings.TrimSpace(id)
	switch {
	case strings.HasPrefix(id, "cs_"):
		return TransactionSession
	case strings.HasPrefix(id, "sub_"):
		return TransactionSubscription
	case strings.HasPrefix(id, "pi_"):
		return TransactionPaymentIntent
	default:
		return TransactionUnknown
	}
}
