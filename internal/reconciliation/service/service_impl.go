package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability/tracing"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reportarchive"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/joshmstewart/bestdayministries-sub013/internal/transition"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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
	Archive    reportarchive.Archiver `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	batchSize  int
	repo       ledgerdomain.Repository
	processors *processor.Registry
	settings   *settings.Store
	archive    reportarchive.Archiver
	obsMetrics *obsmetrics.Metrics
	jobMetrics *obsmetrics.JobMetrics
}

func NewService(p Params) reconciliationdomain.Service {
	archive := p.Archive
	if archive == nil {
		archive = reportarchive.Nop()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		batchSize:  p.Config.Scheduler.BatchSize,
		repo:       p.Repo,
		processors: p.Processors,
		settings:   p.Settings,
		archive:    archive,
		obsMetrics: p.ObsMetrics,
		jobMetrics: obsmetrics.Jobs(),
	}
}

// run carries the mutable state of one invocation.
type run struct {
	id     snowflake.ID
	mode   ledgerdomain.Mode
	client processordomain.Client
	report *reconciliationdomain.Report
}

func (s *Service) Run(ctx context.Context, req reconciliationdomain.Request) (*reconciliationdomain.Report, error) {
	startedAt := s.clock.Now()

	cursor, mode, err := s.resolveStart(ctx, req)
	if err != nil {
		return nil, err
	}
	client, err := s.processors.Client(mode)
	if err != nil {
		return nil, err
	}
	batchSize := s.resolveBatchSize(req.BatchSize)

	r := &run{
		id:     s.genID.Generate(),
		mode:   mode,
		client: client,
		report: &reconciliationdomain.Report{
			Mode:    mode,
			Errors:  []string{},
			Results: []reconciliationdomain.RecordResult{},
		},
	}
	r.report.JobID = r.id.String()

	ctx = obscontext.WithMode(ctx, string(mode))
	ctx, span := otel.Tracer("ledger/reconciliation").Start(ctx, "reconciliation.run")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("stripe_mode", string(mode)),
		attribute.Int("batch_size", batchSize),
		attribute.String("job_id", r.report.JobID),
	)...)

	log := s.log.With(
		zap.String("job_id", r.report.JobID),
		zap.String("stripe_mode", string(mode)),
	)
	log.Info("reconciliation started", zap.Int("batch_size", batchSize), zap.String("resume_job_id", req.ResumeJobID))
	s.jobMetrics.IncJobRun(reconciliationdomain.JobName, string(mode))

	next, hasMore, err := s.processBatch(ctx, r, *cursor, batchSize)
	if err != nil {
		s.jobMetrics.IncJobError(reconciliationdomain.JobName, err)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "reconciliation listing failed")
		return nil, err
	}

	r.report.HasMore = hasMore
	encoded, err := pagination.EncodeCursor(next)
	if err != nil {
		return nil, err
	}
	if hasMore {
		r.report.NextCursor = encoded
	}
	r.report.Status = ledgerdomain.JobStatusSuccess
	if len(r.report.Errors) > 0 {
		r.report.Status = ledgerdomain.JobStatusPartialFailure
		s.jobMetrics.IncPartialFailure(reconciliationdomain.JobName)
	}

	jobLog := &ledgerdomain.JobLog{
		ID:            r.id,
		JobName:       reconciliationdomain.JobName,
		RanAt:         startedAt,
		CompletedAt:   s.clock.Now(),
		StripeMode:    mode,
		TriggeredBy:   triggeredBy(ctx, req),
		Checked:       r.report.Checked,
		Updated:       r.report.Updated,
		Skipped:       r.report.Skipped,
		Errors:        len(r.report.Errors),
		Status:        r.report.Status,
		ErrorMessages: r.report.Errors,
		Metadata: datatypes.JSONMap{
			"results":       r.report.Results,
			"cancelled":     r.report.Cancelled,
			"cursor":        encoded,
			"has_more":      hasMore,
			"batch_size":    batchSize,
			"resume_job_id": req.ResumeJobID,
		},
	}
	if err := s.repo.InsertJobLog(ctx, s.db, jobLog); err != nil {
		s.jobMetrics.IncJobError(reconciliationdomain.JobName, err)
		log.Error("failed to write job log", zap.Error(err))
		return nil, err
	}

	s.jobMetrics.ObserveJobDuration(reconciliationdomain.JobName, s.clock.Now().Sub(startedAt))
	span.SetAttributes(
		attribute.Int("checked", r.report.Checked),
		attribute.Int("updated", r.report.Updated),
		attribute.Int("errors", len(r.report.Errors)),
	)
	log.Info("reconciliation finished",
		zap.String("status", string(r.report.Status)),
		zap.Int("checked", r.report.Checked),
		zap.Int("updated", r.report.Updated),
		zap.Int("cancelled", r.report.Cancelled),
		zap.Int("skipped", r.report.Skipped),
		zap.Int("errors", len(r.report.Errors)),
		zap.Bool("has_more", hasMore),
	)

	if err := s.archive.Put(ctx, reconciliationdomain.JobName, string(mode), r.report.JobID, r.report); err != nil {
		log.Warn("report archive failed", zap.Error(err))
	}
	return r.report, nil
}

// resolveStart picks the mode and the cursor, honouring a previous job when resuming.
func (s *Service) resolveStart(ctx context.Context, req reconciliationdomain.Request) (*pagination.Cursor, ledgerdomain.Mode, error) {
	resumeID := strings.TrimSpace(req.ResumeJobID)
	if resumeID == "" {
		mode, err := s.settings.ResolveMode(ctx, req.Mode)
		if err != nil {
			return nil, "", err
		}
		return &pagination.Cursor{}, mode, nil
	}

	id, err := snowflake.ParseString(resumeID)
	if err != nil {
		return nil, "", reconciliationdomain.ErrInvalidResume
	}
	previous, err := s.repo.FindJobLog(ctx, s.db, id)
	if err != nil {
		return nil, "", err
	}
	if previous == nil || previous.JobName != reconciliationdomain.JobName {
		return nil, "", reconciliationdomain.ErrResumeNotFound
	}

	mode := previous.StripeMode
	if strings.TrimSpace(req.Mode) != "" {
		requested, err := ledgerdomain.ParseMode(req.Mode)
		if err != nil {
			return nil, "", err
		}
		if requested != mode {
			return nil, "", reconciliationdomain.ErrModeMismatch
		}
	}

	raw, _ := previous.Metadata["cursor"].(string)
	cursor, err := pagination.DecodeCursor(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", reconciliationdomain.ErrInvalidResume, err)
	}
	return cursor, mode, nil
}

func (s *Service) resolveBatchSize(requested int) int {
	size := requested
	if size <= 0 {
		size = s.batchSize
	}
	if size <= 0 {
		size = reconciliationdomain.DefaultBatchSize
	}
	if size > reconciliationdomain.MaxBatchSize {
		size = reconciliationdomain.MaxBatchSize
	}
	return size
}

// processBatch walks donations then sponsorships by id until batchSize rows
// have been checked.
func (s *Service) processBatch(ctx context.Context, r *run, cursor pagination.Cursor, batchSize int) (pagination.Cursor, bool, error) {
	next := cursor

	donations, err := s.repo.ListReconcilable(ctx, s.db, ledgerdomain.KindDonation, r.mode, snowflake.ID(cursor.DonationID), batchSize+1)
	if err != nil {
		return next, false, err
	}
	donations, page := pagination.BuildPageInfo(donations, batchSize, func(e ledgerdomain.Entry) pagination.Cursor {
		return pagination.Cursor{DonationID: e.ID.Int64()}
	})
	for _, entry := range donations {
		if err := ctx.Err(); err != nil {
			return next, true, nil
		}
		s.reconcileEntry(ctx, r, entry)
		next.DonationID = entry.ID.Int64()
	}
	if page.HasMore {
		return next, true, nil
	}

	remaining := batchSize - len(donations)
	sponsorships, err := s.repo.ListReconcilable(ctx, s.db, ledgerdomain.KindSponsorship, r.mode, snowflake.ID(cursor.SponsorshipID), remaining+1)
	if err != nil {
		return next, false, err
	}
	hasMore := len(sponsorships) > remaining
	if hasMore {
		sponsorships = sponsorships[:remaining]
	}
	for _, entry := range sponsorships {
		if err := ctx.Err(); err != nil {
			return next, true, nil
		}
		s.reconcileEntry(ctx, r, entry)
		next.SponsorshipID = entry.ID.Int64()
	}
	return next, hasMore, nil
}

// upstreamState is what the processor says about one row.
type upstreamState struct {
	reference      string
	upstream       transition.Upstream
	subscriptionID string
	intentID       string
	customerID     string
	startedAt      *time.Time
	// sessionVoid marks a checkout that expired without payment.
	sessionVoid bool
}

func (s *Service) reconcileEntry(ctx context.Context, r *run, entry ledgerdomain.Entry) {
	r.report.Checked++
	result := reconciliationdomain.RecordResult{
		LedgerType: entry.Kind,
		ID:         entry.ID.String(),
		OldStatus:  entry.Status,
	}
	log := s.log.With(
		zap.String("job_id", r.report.JobID),
		zap.String("ledger_type", string(entry.Kind)),
		zap.String("entry_id", entry.ID.String()),
	)

	state, skipReason, err := s.fetchUpstream(ctx, r.client, entry)
	if err != nil {
		s.recordError(r, &result, err)
		log.Warn("upstream lookup failed", zap.Error(err))
		return
	}
	if state != nil {
		result.Reference = state.reference
	}
	if skipReason != "" {
		result.Action = reconciliationdomain.ActionSkipped
		result.Reason = skipReason
		r.report.Skipped++
		r.report.Results = append(r.report.Results, result)
		s.jobMetrics.IncRecord(reconciliationdomain.JobName, obsmetrics.RecordOutcomeSkipped)
		return
	}

	target, ok := transition.Target{}, false
	if state.sessionVoid {
		now := s.clock.Now()
		target, ok = transition.Target{Status: ledgerdomain.StatusCancelled, EndedAt: &now}, true
	} else {
		target, ok = transition.Resolve(state.upstream)
	}

	next := entry
	changed := false
	if ok {
		next, changed = transition.Apply(entry, target)
	}
	if fillReferences(&next, state) {
		changed = true
	}
	if !changed {
		result.Action = reconciliationdomain.ActionUnchanged
		result.NewStatus = entry.Status
		if !ok {
			result.Reason = "no_transition:" + state.upstream.Status
		}
		r.report.Results = append(r.report.Results, result)
		s.jobMetrics.IncRecord(reconciliationdomain.JobName, obsmetrics.RecordOutcomeUnchanged)
		return
	}

	next.UpdatedAt = s.clock.Now()
	if err := s.persistCorrection(ctx, r, entry, next, state.reference); err != nil {
		if errors.Is(err, ledgerdomain.ErrIdentityConstraint) {
			log.Error("ledger identity constraint violated on reconciliation update",
				zap.Bool("defect", true),
				zap.Error(err),
			)
		} else {
			log.Warn("failed to persist correction", zap.Error(err))
		}
		s.recordError(r, &result, err)
		return
	}

	result.Action = reconciliationdomain.ActionUpdated
	result.NewStatus = next.Status
	result.EndedAt = next.EndedAt
	r.report.Updated++
	if next.Status == ledgerdomain.StatusCancelled && entry.Status != ledgerdomain.StatusCancelled {
		r.report.Cancelled++
	}
	r.report.Results = append(r.report.Results, result)
	s.jobMetrics.IncRecord(reconciliationdomain.JobName, obsmetrics.RecordOutcomeUpdated)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerCorrection(ctx, string(r.mode), string(entry.Kind), string(next.Status))
	}
	log.Info("ledger row corrected",
		zap.String("from", string(entry.Status)),
		zap.String("to", string(next.Status)),
		zap.String("stripe_reference", state.reference),
	)
}

// fetchUpstream returns the processor state for entry, or a skip reason when
// there is nothing authoritative to compare against yet.
func (s *Service) fetchUpstream(ctx context.Context, client processordomain.Client, entry ledgerdomain.Entry) (*upstreamState, string, error) {
	if entry.Status == ledgerdomain.StatusPending {
		return s.fetchFromSession(ctx, client, entry)
	}

	ref := entry.UpstreamReference()
	state := &upstreamState{reference: ref}
	switch processordomain.ClassifyReference(ref) {
	case processordomain.TransactionSubscription:
		sub, err := client.GetSubscription(ctx, ref)
		if err != nil {
			return state, "", err
		}
		state.upstream = transition.FromSubscription(*sub)
	case processordomain.TransactionPaymentIntent:
		intent, err := client.GetPaymentIntent(ctx, ref)
		if err != nil {
			return state, "", err
		}
		state.upstream = transition.FromPaymentIntent(*intent)
	default:
		return state, "unrecognized_reference", nil
	}
	return state, "", nil
}

func (s *Service) fetchFromSession(ctx context.Context, client processordomain.Client, entry ledgerdomain.Entry) (*upstreamState, string, error) {
	if entry.StripeCheckoutSessionID == nil || *entry.StripeCheckoutSessionID == "" {
		return nil, "missing_session", nil
	}
	sessionID := *entry.StripeCheckoutSessionID
	state := &upstreamState{reference: sessionID}

	session, err := client.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return state, "", err
	}
	state.customerID = session.Customer.ID()

	if session.NeverCompleted() {
		state.sessionVoid = true
		return state, "", nil
	}

	if subID := session.Subscription.ID(); subID != "" {
		sub, ok := session.Subscription.Object()
		if !ok {
			if sub, err = client.GetSubscription(ctx, subID); err != nil {
				return state, "", err
			}
		}
		state.reference = subID
		state.subscriptionID = subID
		state.upstream = transition.FromSubscription(*sub)
		state.startedAt = timePtr(sub.Created)
		return state, "", nil
	}

	if intentID := session.PaymentIntent.ID(); intentID != "" {
		intent, ok := session.PaymentIntent.Object()
		if !ok {
			if intent, err = client.GetPaymentIntent(ctx, intentID); err != nil {
				return state, "", err
			}
		}
		state.reference = intentID
		state.intentID = intentID
		state.upstream = transition.FromPaymentIntent(*intent)
		state.startedAt = timePtr(intent.Created)
		return state, "", nil
	}

	return state, "session_" + string(session.Status), nil
}

// fillReferences copies identifiers discovered upstream onto the row.
func fillReferences(entry *ledgerdomain.Entry, state *upstreamState) bool {
	changed := false
	if state.subscriptionID != "" && (entry.StripeSubscriptionID == nil || *entry.StripeSubscriptionID != state.subscriptionID) {
		id := state.subscriptionID
		entry.StripeSubscriptionID = &id
		changed = true
	}
	if state.intentID != "" && (entry.StripePaymentIntentID == nil || *entry.StripePaymentIntentID != state.intentID) {
		id := state.intentID
		entry.StripePaymentIntentID = &id
		changed = true
	}
	if state.customerID != "" && entry.StripeCustomerID == nil {
		id := state.customerID
		entry.StripeCustomerID = &id
		changed = true
	}
	if changed && entry.StartedAt == nil && state.startedAt != nil {
		entry.StartedAt = state.startedAt
	}
	return changed
}

func (s *Service) persistCorrection(ctx context.Context, r *run, before, after ledgerdomain.Entry, reference string) error {
	change := &ledgerdomain.ChangeLog{
		ID:          s.genID.Generate(),
		JobLogID:    r.id,
		ChangeType:  ledgerdomain.ChangeTypeStatusCorrection,
		BeforeState: datatypes.NewJSONType(before.Snapshot()),
		AfterState:  datatypes.NewJSONType(after.Snapshot()),
		StripeMode:  r.mode,
		CreatedAt:   s.clock.Now(),
	}
	change.SetLedgerRow(after.Kind, after.ID)
	if reference != "" {
		change.StripeReference = &reference
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateEntry(ctx, tx, &after); err != nil {
			return err
		}
		return s.repo.InsertChangeLog(ctx, tx, change)
	})
}

func (s *Service) recordError(r *run, result *reconciliationdomain.RecordResult, err error) {
	message := fmt.Sprintf("%s %s: %v", result.LedgerType, result.ID, err)
	result.Action = reconciliationdomain.ActionError
	result.Error = err.Error()
	r.report.Errors = append(r.report.Errors, message)
	r.report.Results = append(r.report.Results, *result)
	s.jobMetrics.IncRecord(reconciliationdomain.JobName, obsmetrics.RecordOutcomeError)
}

func triggeredBy(ctx context.Context, req reconciliationdomain.Request) *string {
	if v := strings.TrimSpace(req.TriggeredBy); v != "" {
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

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
