package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/transition"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// match is the processor payment found for a candidate.
type match struct {
	strategy       recoverydomain.Strategy
	reference      string
	sessionID      string
	subscriptionID string
	intentID       string
	customerID     string
	email          string
	metadata       map[string]string
	upstream       transition.Upstream
	hasUpstream    bool
	neverCompleted bool
	amountCents    int64
	created        time.Time
	ambiguous      bool
	candidateCount int
}

type tier func(ctx context.Context, client processordomain.Client, cand recoverydomain.Candidate) (*match, recoverydomain.Attempt, error)

// findMatch runs the session, direct and heuristic tiers in order and stops
// at the first match. The returned error is the last upstream failure seen,
// set only when no tier matched.
func (s *Service) findMatch(ctx context.Context, client processordomain.Client, cand recoverydomain.Candidate) (*match, []recoverydomain.Attempt, error) {
	tiers := []tier{s.matchSession, s.matchDirect, s.matchHeuristic}
	attempts := make([]recoverydomain.Attempt, 0, len(tiers))

	var lastErr error
	for _, try := range tiers {
		m, attempt, err := try(ctx, client, cand)
		if err != nil {
			attempt.Error = err.Error()
			lastErr = err
		}
		attempts = append(attempts, attempt)
		if m != nil {
			return m, attempts, nil
		}
	}
	return nil, attempts, lastErr
}

func (s *Service) matchSession(ctx context.Context, client processordomain.Client, cand recoverydomain.Candidate) (*match, recoverydomain.Attempt, error) {
	attempt := recoverydomain.Attempt{Strategy: recoverydomain.StrategySession, Reference: cand.SessionID}
	if cand.SessionID == "" {
		attempt.Detail = "no checkout session stored"
		return nil, attempt, nil
	}

	session, err := client.GetCheckoutSession(ctx, cand.SessionID)
	if err != nil {
		if errors.Is(err, processordomain.ErrNotFound) {
			attempt.Detail = "checkout session not found"
			return nil, attempt, nil
		}
		return nil, attempt, err
	}

	m := &match{
		strategy:    recoverydomain.StrategySession,
		reference:   session.ID,
		sessionID:   session.ID,
		customerID:  session.Customer.ID(),
		email:       session.Email(),
		metadata:    session.Metadata,
		amountCents: session.AmountTotal,
		created:     session.Created,
	}

	if session.NeverCompleted() {
		m.neverCompleted = true
		attempt.Matched = true
		attempt.Detail = "session expired unpaid"
		return m, attempt, nil
	}

	if subID := session.Subscription.ID(); subID != "" {
		sub, ok := session.Subscription.Object()
		if !ok {
			if sub, err = client.GetSubscription(ctx, subID); err != nil {
				return nil, attempt, err
			}
		}
		applySubscription(m, *sub)
		attempt.Matched = true
		attempt.Detail = "subscription " + string(sub.Status)
		return m, attempt, nil
	}

	if intentID := session.PaymentIntent.ID(); intentID != "" {
		intent, ok := session.PaymentIntent.Object()
		if !ok {
			if intent, err = client.GetPaymentIntent(ctx, intentID); err != nil {
				return nil, attempt, err
			}
		}
		applyPaymentIntent(m, *intent)
		attempt.Matched = true
		attempt.Detail = "payment intent " + string(intent.Status)
		return m, attempt, nil
	}

	attempt.Detail = fmt.Sprintf("session %s without payment reference", session.Status)
	return nil, attempt, nil
}

func (s *Service) matchDirect(ctx context.Context, client processordomain.Client, cand recoverydomain.Candidate) (*match, recoverydomain.Attempt, error) {
	attempt := recoverydomain.Attempt{Strategy: recoverydomain.StrategyDirect}

	switch {
	case cand.Recurring() && cand.SubscriptionID != "":
		attempt.Reference = cand.SubscriptionID
		sub, err := client.GetSubscription(ctx, cand.SubscriptionID)
		if err != nil {
			if errors.Is(err, processordomain.ErrNotFound) {
				attempt.Detail = "subscription not found"
				return nil, attempt, nil
			}
			return nil, attempt, err
		}
		m := &match{strategy: recoverydomain.StrategyDirect}
		applySubscription(m, *sub)
		attempt.Matched = true
		attempt.Detail = "subscription " + string(sub.Status)
		return m, attempt, nil

	case !cand.Recurring() && cand.PaymentIntentID != "":
		attempt.Reference = cand.PaymentIntentID
		intent, err := client.GetPaymentIntent(ctx, cand.PaymentIntentID)
		if err != nil {
			if errors.Is(err, processordomain.ErrNotFound) {
				attempt.Detail = "payment intent not found"
				return nil, attempt, nil
			}
			return nil, attempt, err
		}
		m := &match{strategy: recoverydomain.StrategyDirect}
		applyPaymentIntent(m, *intent)
		attempt.Matched = true
		attempt.Detail = "payment intent " + string(intent.Status)
		return m, attempt, nil
	}

	attempt.Detail = "no direct reference for frequency " + cand.Frequency
	return nil, attempt, nil
}

func (s *Service) matchHeuristic(ctx context.Context, client processordomain.Client, cand recoverydomain.Candidate) (*match, recoverydomain.Attempt, error) {
	attempt := recoverydomain.Attempt{Strategy: recoverydomain.StrategyHeuristic}
	if cand.CreatedAt.IsZero() || !cand.Amount.IsPositive() {
		attempt.Detail = "candidate has no amount or timestamp"
		return nil, attempt, nil
	}

	customerID := cand.CustomerID
	if customerID == "" {
		if cand.Email == "" {
			attempt.Detail = "no customer id or email"
			return nil, attempt, nil
		}
		customer, err := client.FindCustomerByEmail(ctx, cand.Email)
		if err != nil {
			return nil, attempt, err
		}
		if customer == nil {
			attempt.Detail = "no processor customer for email"
			return nil, attempt, nil
		}
		customerID = customer.ID
	}
	attempt.Reference = customerID

	from := cand.CreatedAt.Add(-recoverydomain.HeuristicWindow)
	to := cand.CreatedAt.Add(recoverydomain.HeuristicWindow)
	target := cand.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	var found []*match
	if cand.Recurring() {
		subs, err := client.ListSubscriptions(ctx, customerID, from, to)
		if err != nil {
			return nil, attempt, err
		}
		for _, sub := range subs {
			if !withinWindow(sub.Created, from, to) || !withinTolerance(sub.Amount, target) {
				continue
			}
			m := &match{strategy: recoverydomain.StrategyHeuristic}
			applySubscription(m, sub)
			found = append(found, m)
		}
	} else {
		intents, err := client.ListPaymentIntents(ctx, customerID, from, to)
		if err != nil {
			return nil, attempt, err
		}
		for _, intent := range intents {
			if !withinWindow(intent.Created, from, to) || !withinTolerance(intent.Amount, target) {
				continue
			}
			m := &match{strategy: recoverydomain.StrategyHeuristic}
			applyPaymentIntent(m, intent)
			found = append(found, m)
		}
	}

	attempt.CandidateCount = len(found)
	if len(found) == 0 {
		attempt.Detail = "no transaction within window and tolerance"
		return nil, attempt, nil
	}

	m := found[0]
	if m.customerID == "" {
		m.customerID = customerID
	}
	m.candidateCount = len(found)
	attempt.Matched = true
	attempt.Reference = m.reference
	attempt.Detail = "matched by customer, amount and time"
	if len(found) > 1 {
		// Tie-break is unresolved: the first in processor order wins.
		m.ambiguous = true
		attempt.Ambiguous = true
		s.log.Warn("ambiguous heuristic match",
			zap.String("customer_id", customerID),
			zap.String("chosen", m.reference),
			zap.Int("candidate_count", len(found)),
		)
	}
	return m, attempt, nil
}

func applySubscription(m *match, sub processordomain.Subscription) {
	m.reference = sub.ID
	m.subscriptionID = sub.ID
	if sub.CustomerID != "" {
		m.customerID = sub.CustomerID
	}
	if m.amountCents == 0 {
		m.amountCents = sub.Amount
	}
	if m.created.IsZero() {
		m.created = sub.Created
	}
	if m.metadata == nil {
		m.metadata = sub.Metadata
	}
	m.upstream = transition.FromSubscription(sub)
	m.hasUpstream = true
	m.neverCompleted = sub.Status == processordomain.SubscriptionStatusIncompleteExpired
}

func applyPaymentIntent(m *match, intent processordomain.PaymentIntent) {
	m.reference = intent.ID
	m.intentID = intent.ID
	if intent.CustomerID != "" {
		m.customerID = intent.CustomerID
	}
	if m.amountCents == 0 {
		m.amountCents = intent.Amount
	}
	if m.created.IsZero() {
		m.created = intent.Created
	}
	if m.metadata == nil {
		m.metadata = intent.Metadata
	}
	m.upstream = transition.FromPaymentIntent(intent)
	m.hasUpstream = true
	m.neverCompleted = intent.Status == processordomain.PaymentIntentStatusCanceled
}

func withinWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func withinTolerance(amount, target int64) bool {
	diff := amount - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= recoverydomain.HeuristicAmountTolerance
}
