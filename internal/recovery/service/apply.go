package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/transition"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// plan is the action chosen for a matched candidate. Building it only reads.
type plan struct {
	action    recoverydomain.Action
	identity  *ledgerdomain.Identity
	duplicate *ledgerdomain.Entry
	target    transition.Target
	targetOK  bool
}

func (s *Service) plan(ctx context.Context, mode ledgerdomain.Mode, item workItem, m *match) (plan, error) {
	var p plan
	if m.hasUpstream && !m.neverCompleted {
		p.target, p.targetOK = transition.Resolve(m.upstream)
	}

	if item.entry != nil {
		id := item.entry.Identity()
		p.identity = &id
		if m.neverCompleted {
			p.action = recoverydomain.ActionCancelPlaceholder
		} else {
			p.action = recoverydomain.ActionUpdatePlaceholder
		}
		return p, nil
	}

	if m.neverCompleted {
		p.action = recoverydomain.ActionNone
		if item.receipt != nil {
			p.action = recoverydomain.ActionDeleteReceipt
		}
		return p, nil
	}

	cand := item.candidate
	email := firstNonEmpty(cand.Email, ledgerdomain.NormalizeEmail(m.email))
	if email == "" {
		return p, fmt.Errorf("%w: no payer email", recoverydomain.ErrCandidateInvalid)
	}
	payer, err := s.identity.Resolve(ctx, email)
	if err != nil {
		return p, err
	}
	p.identity = &payer

	kind := cand.Kind
	if kind == "" {
		kind = ledgerdomain.KindDonation
	}
	if m.sessionID != "" {
		existing, err := s.repo.FindEntryBySession(ctx, s.db, kind, m.sessionID)
		if err != nil {
			return p, err
		}
		p.duplicate = existing
	}
	if p.duplicate == nil {
		existing, err := s.repo.FindDuplicate(ctx, s.db, ledgerdomain.DuplicateQuery{
			Kind:     kind,
			Mode:     mode,
			Email:    email,
			Identity: payer,
			Amount:   cand.Amount,
			From:     cand.CreatedAt.Add(-recoverydomain.DuplicateWindow),
			To:       cand.CreatedAt.Add(recoverydomain.DuplicateWindow),
		})
		if err != nil {
			return p, err
		}
		p.duplicate = existing
	}

	if p.duplicate != nil {
		p.action = recoverydomain.ActionLink
		return p, nil
	}
	p.action = recoverydomain.ActionCreate
	return p, nil
}

// recoverOne matches and applies a single candidate. Failures are returned in
// the result, never as an error.
func (s *Service) recoverOne(ctx context.Context, client processordomain.Client, jobID snowflake.ID, mode ledgerdomain.Mode, item workItem) (recoverydomain.CandidateResult, string) {
	result := recoverydomain.CandidateResult{
		Source:    item.candidate.Source,
		ReceiptID: item.candidate.ReceiptID,
		EntryID:   item.candidate.EntryID,
	}
	log := s.log.With(
		zap.String("job_id", jobID.String()),
		zap.String("source", string(item.candidate.Source)),
		zap.String("receipt_id", result.ReceiptID),
		zap.String("entry_id", result.EntryID),
	)

	fail := func(err error) (recoverydomain.CandidateResult, string) {
		result.Error = err.Error()
		if errors.Is(err, ledgerdomain.ErrIdentityConstraint) {
			log.Error("ledger identity constraint violated during recovery", zap.Bool("defect", true), zap.Error(err))
		} else {
			log.Warn("recovery candidate failed", zap.Error(err))
		}
		return result, obsmetrics.RecordOutcomeError
	}

	if item.err != nil {
		return fail(item.err)
	}

	m, _, err := s.findMatch(ctx, client, item.candidate)
	if m == nil {
		if err != nil {
			return fail(err)
		}
		result.Error = recoverydomain.ErrNoMatch.Error()
		log.Info("no processor payment matched")
		return result, obsmetrics.RecordOutcomeSkipped
	}
	result.Strategy = m.strategy
	result.Reference = m.reference
	result.Ambiguous = m.ambiguous
	result.CandidateCount = m.candidateCount

	p, err := s.plan(ctx, mode, item, m)
	if err != nil {
		return fail(err)
	}

	switch p.action {
	case recoverydomain.ActionCreate:
		entry, err := s.createEntry(ctx, jobID, mode, item, m, p)
		if err != nil {
			return fail(err)
		}
		result.DonationCreated = true
		result.DonationID = entry.ID.String()
		log.Info("ledger row recovered", zap.String("ledger_type", string(entry.Kind)), zap.String("donation_id", result.DonationID))
		return result, obsmetrics.RecordOutcomeCreated

	case recoverydomain.ActionLink:
		if err := s.linkDuplicate(ctx, jobID, mode, item, m, p.duplicate); err != nil {
			return fail(err)
		}
		result.Linked = true
		result.DonationID = p.duplicate.ID.String()
		return result, obsmetrics.RecordOutcomeLinked

	case recoverydomain.ActionDeleteReceipt:
		if err := s.deleteReceipt(ctx, jobID, mode, *item.receipt); err != nil {
			return fail(err)
		}
		result.Deleted = true
		log.Info("orphaned receipt deleted, payment never completed")
		return result, obsmetrics.RecordOutcomeDeleted

	case recoverydomain.ActionCancelPlaceholder:
		if err := s.cancelPlaceholder(ctx, jobID, mode, *item.entry, m); err != nil {
			return fail(err)
		}
		result.Cancelled = true
		result.DonationID = item.entry.ID.String()
		return result, obsmetrics.RecordOutcomeUpdated

	case recoverydomain.ActionUpdatePlaceholder:
		changed, err := s.updatePlaceholder(ctx, jobID, mode, *item.entry, m, p)
		if err != nil {
			return fail(err)
		}
		result.DonationID = item.entry.ID.String()
		if !changed {
			return result, obsmetrics.RecordOutcomeUnchanged
		}
		result.Linked = true
		return result, obsmetrics.RecordOutcomeLinked
	}

	return result, obsmetrics.RecordOutcomeSkipped
}

func (s *Service) createEntry(ctx context.Context, jobID snowflake.ID, mode ledgerdomain.Mode, item workItem, m *match, p plan) (*ledgerdomain.Entry, error) {
	cand := item.candidate
	now := s.clock.Now()

	kind := cand.Kind
	if kind == "" {
		kind = ledgerdomain.KindDonation
	}
	frequency := ledgerdomain.Frequency(cand.Frequency)
	if !frequency.Valid() {
		frequency = ledgerdomain.FrequencyOneTime
		if m.subscriptionID != "" {
			frequency = ledgerdomain.FrequencyMonthly
		}
	}

	entry := &ledgerdomain.Entry{
		ID:         s.genID.Generate(),
		Kind:       kind,
		Amount:     cand.Amount,
		Frequency:  frequency,
		Status:     ledgerdomain.StatusPending,
		StripeMode: mode,
		CreatedAt:  firstTime(cand.CreatedAt, m.created, now),
		UpdatedAt:  now,
	}
	entry.SetIdentity(*p.identity)
	if m.amountCents > 0 {
		entry.AmountCharged = decimal.NewNullDecimal(decimal.New(m.amountCents, -2))
	}
	if p.targetOK {
		entry.Status = p.target.Status
		entry.EndedAt = p.target.EndedAt
	}
	setString(&entry.StripeCheckoutSessionID, m.sessionID)
	setString(&entry.StripeSubscriptionID, m.subscriptionID)
	setString(&entry.StripePaymentIntentID, m.intentID)
	setString(&entry.StripeCustomerID, firstNonEmpty(m.customerID, cand.CustomerID))
	if !m.created.IsZero() {
		started := m.created.UTC()
		entry.StartedAt = &started
	}
	if kind == ledgerdomain.KindSponsorship {
		setString(&entry.BestieID, firstNonEmpty(cand.BestieID, m.metadata[processordomain.MetadataBestieID]))
		setString(&entry.SponsorBestieID, firstNonEmpty(cand.SponsorBestieID, m.metadata[processordomain.MetadataSponsorBestieID]))
	}

	change := s.newChange(jobID, mode, ledgerdomain.ChangeTypeRecoveredCreate, m.reference)
	change.SetLedgerRow(kind, entry.ID)
	change.AfterState = datatypes.NewJSONType(entry.Snapshot())

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertEntry(ctx, tx, entry); err != nil {
			return err
		}
		if item.receipt != nil {
			if err := s.repo.LinkReceipt(ctx, tx, item.receipt.ID, kind, entry.ID); err != nil {
				return err
			}
		}
		return s.repo.InsertChangeLog(ctx, tx, change)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) linkDuplicate(ctx context.Context, jobID snowflake.ID, mode ledgerdomain.Mode, item workItem, m *match, existing *ledgerdomain.Entry) error {
	if item.receipt == nil {
		return nil
	}
	change := s.newChange(jobID, mode, ledgerdomain.ChangeTypeRecoveredLink, m.reference)
	change.SetLedgerRow(existing.Kind, existing.ID)
	change.BeforeState = datatypes.NewJSONType(existing.Snapshot())
	change.AfterState = datatypes.NewJSONType(existing.Snapshot())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LinkReceipt(ctx, tx, item.receipt.ID, existing.Kind, existing.ID); err != nil {
			return err
		}
		return s.repo.InsertChangeLog(ctx, tx, change)
	})
}

func (s *Service) deleteReceipt(ctx context.Context, jobID snowflake.ID, mode ledgerdomain.Mode, receipt ledgerdomain.Receipt) error {
	change := s.newChange(jobID, mode, ledgerdomain.ChangeTypeReceiptDeleted, receipt.TransactionID)
	change.LedgerType = receipt.TargetKind()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeleteReceipt(ctx, tx, receipt.ID); err != nil {
			return err
		}
		return s.repo.InsertChangeLog(ctx, tx, change)
	})
}

func (s *Service) cancelPlaceholder(ctx context.Context, jobID snowflake.ID, mode ledgerdomain.Mode, entry ledgerdomain.Entry, m *match) error {
	now := s.clock.Now()
	next := entry
	next.Status = ledgerdomain.StatusCancelled
	next.EndedAt = &now
	next.UpdatedAt = now
	return s.writeEntryChange(ctx, jobID, mode, ledgerdomain.ChangeTypePlaceholderVoid, entry, next, m.reference)
}

func (s *Service) updatePlaceholder(ctx context.Context, jobID snowflake.ID, mode ledgerdomain.Mode, entry ledgerdomain.Entry, m *match, p plan) (bool, error) {
	next := entry
	changed := false
	if p.targetOK {
		next, changed = transition.Apply(entry, p.target)
	}
	if fillString(&next.StripeSubscriptionID, m.subscriptionID) {
		changed = true
	}
	if fillString(&next.StripePaymentIntentID, m.intentID) {
		changed = true
	}
	if fillString(&next.StripeCustomerID, m.customerID) {
		changed = true
	}
	if !changed {
		return false, nil
	}
	if next.StartedAt == nil && !m.created.IsZero() {
		started := m.created.UTC()
		next.StartedAt = &started
	}
	next.UpdatedAt = s.clock.Now()
	return true, s.writeEntryChange(ctx, jobID, mode, ledgerdomain.ChangeTypeRecoveredLink, entry, next, m.reference)
}

func (s *Service) writeEntryChange(ctx context.Context, jobID snowflake.ID, mode ledgerdomain.Mode, changeType ledgerdomain.ChangeType, before, after ledgerdomain.Entry, reference string) error {
	change := s.newChange(jobID, mode, changeType, reference)
	change.SetLedgerRow(after.Kind, after.ID)
	change.BeforeState = datatypes.NewJSONType(before.Snapshot())
	change.AfterState = datatypes.NewJSONType(after.Snapshot())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateEntry(ctx, tx, &after); err != nil {
			return err
		}
		return s.repo.InsertChangeLog(ctx, tx, change)
	})
}

func (s *Service) newChange(jobID snowflake.ID, mode ledgerdomain.Mode, changeType ledgerdomain.ChangeType, reference string) *ledgerdomain.ChangeLog {
	change := &ledgerdomain.ChangeLog{
		ID:         s.genID.Generate(),
		JobLogID:   jobID,
		ChangeType: changeType,
		StripeMode: mode,
		CreatedAt:  s.clock.Now(),
	}
	if reference != "" {
		ref := reference
		change.StripeReference = &ref
	}
	return change
}

func setString(dst **string, v string) {
	if v == "" {
		return
	}
	*dst = &v
}

// fillString sets dst when it is empty and reports whether it changed.
func fillString(dst **string, v string) bool {
	if v == "" || (*dst != nil && **dst != "") {
		return false
	}
	*dst = &v
	return true
}

func firstTime(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v.UTC()
		}
	}
	return time.Time{}
}
