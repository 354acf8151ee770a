package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/identity"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability/tracing"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reportarchive"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPendingThreshold = time.Hour
	webhookTraceLimit       = 50
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       ledgerdomain.Repository
	Processors *processor.Registry
	Settings   *settings.Store
	Identity   *identity.Resolver
	Archive    reportarchive.Archiver `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	pendingThreshold time.Duration
	repo             ledgerdomain.Repository
	processors       *processor.Registry
	settings         *settings.Store
	identity         *identity.Resolver
	archive          reportarchive.Archiver
	obsMetrics       *obsmetrics.Metrics
	jobMetrics       *obsmetrics.JobMetrics
}

func NewService(p Params) recoverydomain.Service {
	threshold := p.Config.Recovery.PendingThreshold
	if threshold <= 0 {
		threshold = defaultPendingThreshold
	}
	archive := p.Archive
	if archive == nil {
		archive = reportarchive.Nop()
	}
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("recovery.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		pendingThreshold: threshold,
		repo:             p.Repo,
		processors:       p.Processors,
		settings:         p.Settings,
		identity:         p.Identity,
		archive:          archive,
		obsMetrics:       p.ObsMetrics,
		jobMetrics:       obsmetrics.Jobs(),
	}
}

// workItem is a candidate plus the local record it came from, if any.
type workItem struct {
	candidate recoverydomain.Candidate
	receipt   *ledgerdomain.Receipt
	entry     *ledgerdomain.Entry
	// err is set when an operator candidate could not be loaded.
	err error
}

func (s *Service) Run(ctx context.Context, req recoverydomain.Request) (*recoverydomain.Report, error) {
	startedAt := s.clock.Now()
	start, mode, err := s.resolveStart(ctx, req)
	if err != nil {
		return nil, err
	}
	client, err := s.processors.Client(mode)
	if err != nil {
		return nil, err
	}

	jobID := s.genID.Generate()
	report := &recoverydomain.Report{
		JobID:   jobID.String(),
		Mode:    mode,
		Errors:  []string{},
		Results: []recoverydomain.CandidateResult{},
	}

	ctx = obscontext.WithMode(ctx, string(mode))
	ctx, span := otel.Tracer("ledger/recovery").Start(ctx, "recovery.run")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("stripe_mode", string(mode)),
		attribute.String("job_id", report.JobID),
	)...)
	log := s.log.With(zap.String("job_id", report.JobID), zap.String("stripe_mode", string(mode)))
	s.jobMetrics.IncJobRun(recoverydomain.JobName, string(mode))

	items, hasMore, err := s.workQueue(ctx, mode, req, start)
	if err != nil {
		s.jobMetrics.IncJobError(recoverydomain.JobName, err)
		return nil, err
	}
	log.Info("recovery started", zap.Int("candidates", len(items)), zap.Bool("resumed", *start != pagination.Cursor{}))

	next := *start
	for i, item := range items {
		if ctx.Err() != nil {
			hasMore = true
			log.Warn("recovery interrupted", zap.Int("remaining", len(items)-i))
			break
		}
		result, outcome := s.recoverOne(ctx, client, jobID, mode, item)
		report.Checked++
		report.Results = append(report.Results, result)

		switch outcome {
		case obsmetrics.RecordOutcomeError:
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", resultLabel(result), result.Error))
		case obsmetrics.RecordOutcomeCreated:
			report.Created++
		case obsmetrics.RecordOutcomeLinked:
			report.Linked++
		case obsmetrics.RecordOutcomeDeleted:
			report.Deleted++
		case obsmetrics.RecordOutcomeUpdated:
			report.Cancelled++
		default:
			report.Skipped++
		}
		s.jobMetrics.IncRecord(recoverydomain.JobName, outcome)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRecoveryOutcome(ctx, string(mode), outcome, string(result.Strategy))
		}
		next = advance(next, item)
	}

	if len(req.Candidates) == 0 {
		report.HasMore = hasMore
		report.NextCursor, err = pagination.EncodeCursor(next)
		if err != nil {
			return nil, err
		}
	}

	report.Status = ledgerdomain.JobStatusSuccess
	if len(report.Errors) > 0 {
		report.Status = ledgerdomain.JobStatusPartialFailure
		s.jobMetrics.IncPartialFailure(recoverydomain.JobName)
	}

	jobLog := &ledgerdomain.JobLog{
		ID:            jobID,
		JobName:       recoverydomain.JobName,
		RanAt:         startedAt,
		CompletedAt:   s.clock.Now(),
		StripeMode:    mode,
		TriggeredBy:   triggeredBy(ctx, req.TriggeredBy),
		Checked:       report.Checked,
		Updated:       report.Created + report.Linked + report.Deleted + report.Cancelled,
		Skipped:       report.Skipped,
		Errors:        len(report.Errors),
		Status:        report.Status,
		ErrorMessages: report.Errors,
		Metadata: datatypes.JSONMap{
			"results":   report.Results,
			"created":   report.Created,
			"linked":    report.Linked,
			"deleted":   report.Deleted,
			"cancelled": report.Cancelled,
			"operator":  len(req.Candidates) > 0,
			"cursor":    report.NextCursor,
			"has_more":  report.HasMore,
		},
	}
	if err := s.repo.InsertJobLog(ctx, s.db, jobLog); err != nil {
		s.jobMetrics.IncJobError(recoverydomain.JobName, err)
		log.Error("failed to write job log", zap.Error(err))
		return nil, err
	}
	s.jobMetrics.ObserveJobDuration(recoverydomain.JobName, s.clock.Now().Sub(startedAt))

	log.Info("recovery finished",
		zap.String("status", string(report.Status)),
		zap.Int("checked", report.Checked),
		zap.Int("created", report.Created),
		zap.Int("linked", report.Linked),
		zap.Int("deleted", report.Deleted),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("has_more", report.HasMore),
	)
	if err := s.archive.Put(ctx, recoverydomain.JobName, string(mode), report.JobID, report); err != nil {
		log.Warn("report archive failed", zap.Error(err))
	}
	return report, nil
}

func (s *Service) Diagnose(ctx context.Context, req recoverydomain.Request) (*recoverydomain.Diagnosis, error) {
	start, mode, err := s.resolveStart(ctx, req)
	if err != nil {
		return nil, err
	}
	client, err := s.processors.Client(mode)
	if err != nil {
		return nil, err
	}

	ctx = obscontext.WithMode(ctx, string(mode))
	ctx, span := otel.Tracer("ledger/recovery").Start(ctx, "recovery.diagnose")
	defer span.End()

	items, _, err := s.workQueue(ctx, mode, req, start)
	if err != nil {
		return nil, err
	}

	diagnosis := &recoverydomain.Diagnosis{Mode: mode, Candidates: make([]recoverydomain.CandidateDiagnosis, 0, len(items))}
	for _, item := range items {
		diagnosis.Candidates = append(diagnosis.Candidates, s.diagnoseOne(ctx, client, mode, item))
	}
	return diagnosis, nil
}

func (s *Service) diagnoseOne(ctx context.Context, client processordomain.Client, mode ledgerdomain.Mode, item workItem) recoverydomain.CandidateDiagnosis {
	out := recoverydomain.CandidateDiagnosis{
		Candidate:    item.candidate,
		Attempts:     []recoverydomain.Attempt{},
		Action:       recoverydomain.ActionNone,
		WebhookTrace: []ledgerdomain.WebhookLog{},
	}
	if item.err != nil {
		out.Error = item.err.Error()
		return out
	}

	m, attempts, err := s.findMatch(ctx, client, item.candidate)
	out.Attempts = attempts

	reference := item.candidate.SessionID
	if reference == "" && m != nil {
		reference = firstNonEmpty(m.sessionID, m.reference)
	}
	if reference == "" {
		reference = firstNonEmpty(item.candidate.SubscriptionID, item.candidate.PaymentIntentID)
	}
	if reference != "" {
		trace, traceErr := s.repo.ListWebhookLogs(ctx, s.db, reference, webhookTraceLimit)
		if traceErr != nil {
			s.log.Warn("webhook trace lookup failed", zap.String("reference", reference), zap.Error(traceErr))
		} else if trace != nil {
			out.WebhookTrace = trace
		}
	}

	if m == nil {
		out.Error = recoverydomain.ErrNoMatch.Error()
		if err != nil {
			out.Error = err.Error()
		}
		return out
	}
	out.Strategy = m.strategy

	p, err := s.plan(ctx, mode, item, m)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Action = p.action
	if p.identity != nil {
		out.Identity = identityView(*p.identity)
	}
	if p.duplicate != nil {
		out.Duplicate = &recoverydomain.DuplicateView{
			LedgerType: p.duplicate.Kind,
			ID:         p.duplicate.ID.String(),
			Status:     p.duplicate.Status,
			SessionID:  derefString(p.duplicate.StripeCheckoutSessionID),
		}
	}
	return out
}

// resolveStart picks the mode and the cursor the work queue starts after. An
// explicit resume job wins; otherwise a run continues where the last run in
// the mode stopped if that run left work behind, and starts over when it did
// not.
func (s *Service) resolveStart(ctx context.Context, req recoverydomain.Request) (*pagination.Cursor, ledgerdomain.Mode, error) {
	resumeID := strings.TrimSpace(req.ResumeJobID)
	if resumeID == "" {
		mode, err := s.settings.ResolveMode(ctx, req.Mode)
		if err != nil {
			return nil, "", err
		}
		if len(req.Candidates) > 0 {
			return &pagination.Cursor{}, mode, nil
		}
		previous, err := s.repo.FindLatestJobLog(ctx, s.db, recoverydomain.JobName, mode)
		if err != nil {
			return nil, "", err
		}
		if previous == nil {
			return &pagination.Cursor{}, mode, nil
		}
		if more, _ := previous.Metadata["has_more"].(bool); !more {
			return &pagination.Cursor{}, mode, nil
		}
		raw, _ := previous.Metadata["cursor"].(string)
		cursor, err := pagination.DecodeCursor(raw)
		if err != nil {
			s.log.Warn("ignoring unreadable recovery cursor", zap.String("job_id", previous.ID.String()), zap.Error(err))
			return &pagination.Cursor{}, mode, nil
		}
		return cursor, mode, nil
	}

	id, err := snowflake.ParseString(resumeID)
	if err != nil {
		return nil, "", recoverydomain.ErrInvalidResume
	}
	previous, err := s.repo.FindJobLog(ctx, s.db, id)
	if err != nil {
		return nil, "", err
	}
	if previous == nil || previous.JobName != recoverydomain.JobName {
		return nil, "", recoverydomain.ErrResumeNotFound
	}

	mode := previous.StripeMode
	if strings.TrimSpace(req.Mode) != "" {
		requested, err := ledgerdomain.ParseMode(req.Mode)
		if err != nil {
			return nil, "", err
		}
		if requested != mode {
			return nil, "", recoverydomain.ErrModeMismatch
		}
	}

	raw, _ := previous.Metadata["cursor"].(string)
	cursor, err := pagination.DecodeCursor(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", recoverydomain.ErrInvalidResume, err)
	}
	return cursor, mode, nil
}

// workQueue builds the candidates for a run: operator supplied ones when
// present, else orphaned receipts followed by stale pending rows, each after
// the start cursor. The bool reports rows left beyond the limit.
func (s *Service) workQueue(ctx context.Context, mode ledgerdomain.Mode, req recoverydomain.Request, start *pagination.Cursor) ([]workItem, bool, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = recoverydomain.DefaultLimit
	}
	if limit > recoverydomain.MaxLimit {
		limit = recoverydomain.MaxLimit
	}

	if len(req.Candidates) > 0 {
		candidates := req.Candidates
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		items := make([]workItem, 0, len(candidates))
		for _, cand := range candidates {
			items = append(items, s.loadOperatorCandidate(ctx, mode, cand))
		}
		return items, false, nil
	}

	receipts, err := s.repo.ListOrphanedReceipts(ctx, s.db, mode, snowflake.ID(start.ReceiptID), limit+1)
	if err != nil {
		return nil, false, err
	}
	receipts, page := pagination.BuildPageInfo(receipts, limit, func(r ledgerdomain.Receipt) pagination.Cursor {
		return pagination.Cursor{ReceiptID: r.ID.Int64()}
	})
	items := make([]workItem, 0, limit)
	for i := range receipts {
		receipt := receipts[i]
		items = append(items, workItem{candidate: candidateFromReceipt(receipt), receipt: &receipt})
	}
	if page.HasMore {
		return items, true, nil
	}

	olderThan := s.clock.Now().Add(-s.pendingThreshold)
	after := map[ledgerdomain.Kind]int64{
		ledgerdomain.KindDonation:    start.DonationID,
		ledgerdomain.KindSponsorship: start.SponsorshipID,
	}
	for _, kind := range []ledgerdomain.Kind{ledgerdomain.KindDonation, ledgerdomain.KindSponsorship} {
		remaining := limit - len(items)
		entries, err := s.repo.ListStalePending(ctx, s.db, kind, mode, olderThan, snowflake.ID(after[kind]), remaining+1)
		if err != nil {
			return nil, false, err
		}
		hasMore := len(entries) > remaining
		if hasMore {
			entries = entries[:remaining]
		}
		for i := range entries {
			entry := entries[i]
			items = append(items, workItem{candidate: candidateFromEntry(entry), entry: &entry})
		}
		if hasMore {
			return items, true, nil
		}
	}
	return items, false, nil
}

// advance moves the cursor past the local row an item came from.
func advance(cursor pagination.Cursor, item workItem) pagination.Cursor {
	switch {
	case item.receipt != nil:
		cursor.ReceiptID = item.receipt.ID.Int64()
	case item.entry != nil && item.entry.Kind == ledgerdomain.KindSponsorship:
		cursor.SponsorshipID = item.entry.ID.Int64()
	case item.entry != nil:
		cursor.DonationID = item.entry.ID.Int64()
	}
	return cursor
}

func (s *Service) loadOperatorCandidate(ctx context.Context, mode ledgerdomain.Mode, cand recoverydomain.Candidate) workItem {
	cand.Source = recoverydomain.SourceOperator
	cand.Email = ledgerdomain.NormalizeEmail(cand.Email)

	switch {
	case cand.ReceiptID != "":
		id, err := snowflake.ParseString(cand.ReceiptID)
		if err != nil {
			return workItem{candidate: cand, err: fmt.Errorf("%w: receipt id", recoverydomain.ErrCandidateInvalid)}
		}
		receipt, err := s.repo.FindReceiptByID(ctx, s.db, id)
		if err != nil {
			return workItem{candidate: cand, err: err}
		}
		if receipt == nil {
			return workItem{candidate: cand, err: fmt.Errorf("%w: receipt %s not found", recoverydomain.ErrCandidateInvalid, cand.ReceiptID)}
		}
		if receipt.StripeMode != mode {
			return workItem{candidate: cand, err: fmt.Errorf("%w: receipt belongs to %s mode", recoverydomain.ErrCandidateInvalid, receipt.StripeMode)}
		}
		return workItem{candidate: candidateFromReceipt(*receipt), receipt: receipt}

	case cand.EntryID != "":
		id, err := snowflake.ParseString(cand.EntryID)
		if err != nil {
			return workItem{candidate: cand, err: fmt.Errorf("%w: ledger row id", recoverydomain.ErrCandidateInvalid)}
		}
		kind := cand.Kind
		if kind == "" {
			kind = ledgerdomain.KindDonation
		}
		entry, err := s.repo.FindEntryByID(ctx, s.db, kind, id)
		if err != nil {
			return workItem{candidate: cand, err: err}
		}
		if entry == nil {
			return workItem{candidate: cand, err: fmt.Errorf("%w: %s %s not found", recoverydomain.ErrCandidateInvalid, kind, cand.EntryID)}
		}
		if entry.StripeMode != mode {
			return workItem{candidate: cand, err: fmt.Errorf("%w: row belongs to %s mode", recoverydomain.ErrCandidateInvalid, entry.StripeMode)}
		}
		if entry.Status != ledgerdomain.StatusPending {
			// Settled rows are reconciliation's job; the lookup still runs
			// so Diagnose can report on them.
			fromRow := candidateFromEntry(*entry)
			fromRow.Source = recoverydomain.SourceOperator
			return workItem{candidate: fromRow}
		}
		return workItem{candidate: candidateFromEntry(*entry), entry: entry}
	}

	if cand.Kind == "" {
		cand.Kind = ledgerdomain.KindDonation
	}
	if !cand.Kind.Valid() {
		return workItem{candidate: cand, err: ledgerdomain.ErrInvalidKind}
	}
	if cand.Email == "" && cand.CustomerID == "" && cand.SessionID == "" && cand.SubscriptionID == "" && cand.PaymentIntentID == "" {
		return workItem{candidate: cand, err: fmt.Errorf("%w: no email or processor reference", recoverydomain.ErrCandidateInvalid)}
	}
	return workItem{candidate: cand}
}

func candidateFromReceipt(receipt ledgerdomain.Receipt) recoverydomain.Candidate {
	cand := recoverydomain.Candidate{
		Source:          recoverydomain.SourceReceipt,
		ReceiptID:       receipt.ID.String(),
		Kind:            receipt.TargetKind(),
		Email:           ledgerdomain.NormalizeEmail(receipt.SponsorEmail),
		Amount:          receipt.Amount,
		Frequency:       string(receipt.Frequency),
		CustomerID:      derefString(receipt.StripeCustomerID),
		SponsorBestieID: derefString(receipt.SponsorBestieID),
		CreatedAt:       receipt.TransactionDate,
	}
	if cand.CreatedAt.IsZero() {
		cand.CreatedAt = receipt.CreatedAt
	}
	switch processordomain.ClassifyReference(receipt.TransactionID) {
	case processordomain.TransactionSession:
		cand.SessionID = receipt.TransactionID
	case processordomain.TransactionSubscription:
		cand.SubscriptionID = receipt.TransactionID
	case processordomain.TransactionPaymentIntent:
		cand.PaymentIntentID = receipt.TransactionID
	}
	return cand
}

func candidateFromEntry(entry ledgerdomain.Entry) recoverydomain.Candidate {
	return recoverydomain.Candidate{
		Source:          recoverydomain.SourcePlaceholder,
		EntryID:         entry.ID.String(),
		Kind:            entry.Kind,
		Email:           derefString(entry.Email),
		Amount:          entry.Amount,
		Frequency:       string(entry.Frequency),
		SessionID:       derefString(entry.StripeCheckoutSessionID),
		SubscriptionID:  derefString(entry.StripeSubscriptionID),
		PaymentIntentID: derefString(entry.StripePaymentIntentID),
		CustomerID:      derefString(entry.StripeCustomerID),
		BestieID:        derefString(entry.BestieID),
		SponsorBestieID: derefString(entry.SponsorBestieID),
		CreatedAt:       entry.CreatedAt,
	}
}

func resultLabel(result recoverydomain.CandidateResult) string {
	switch {
	case result.ReceiptID != "":
		return "receipt " + result.ReceiptID
	case result.EntryID != "":
		return "row " + result.EntryID
	default:
		return string(result.Source) + " candidate"
	}
}

func identityView(id ledgerdomain.Identity) *recoverydomain.IdentityView {
	view := &recoverydomain.IdentityView{}
	if id.AccountID != nil {
		view.AccountID = id.AccountID.String()
	}
	if id.Email != nil {
		view.Email = *id.Email
	}
	return view
}

func triggeredBy(ctx context.Context, explicit string) *string {
	if v := strings.TrimSpace(explicit); v != "" {
		return &v
	}
	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorID == "" {
		return nil
	}
	v := actorID
	if actorType != "" {
		v = actorType + ":" + actorID
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
