package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ratelimit"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobReconcile   = "scheduled_reconciliation"
	reconcileActor = "scheduler"
	lockKeyFormat  = "ledger:scheduler:%s:%s"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Settings       *settings.Store
	Reconciliation reconciliationdomain.Service
	Locker         *ratelimit.Locker `optional:"true"`
	Config         Config            `optional:"true"`
}

type Scheduler struct {
	log            *zap.Logger
	cfg            Config
	genID          *snowflake.Node
	clock          clock.Clock
	settings       *settings.Store
	reconciliation reconciliationdomain.Service
	locker         *ratelimit.Locker
	jobMetrics     *obsmetrics.JobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Settings == nil || p.Reconciliation == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            p.Config.withDefaults(),
		genID:          p.GenID,
		clock:          p.Clock,
		settings:       p.Settings,
		reconciliation: p.Reconciliation,
		locker:         p.Locker,
		jobMetrics:     obsmetrics.Jobs(),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run, zap.Duration("timeout", timeout))

	err := fn(ctx)
	s.logJobFinish(ctx, run, err)
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the run's own Job Log already holds
	// whatever it finished.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.jobMetrics.IncJobTimeout(name)
	}
	s.jobMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobReconcile, s.cfg.ReconcileTimeout, s.ReconcileJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileEvery)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.ReconcileEvery)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.jobMetrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.ReconcileEvery)
	}
}

// ReconcileJob reads the processor mode fresh and runs one reconciliation
// batch for it.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	mode, err := s.settings.StripeMode(ctx)
	if err != nil {
		return err
	}
	ctx = obscontext.WithMode(ctx, string(mode))

	return s.withRunLock(ctx, fmt.Sprintf(lockKeyFormat, jobReconcile, mode), func(ctx context.Context) error {
		report, err := s.reconciliation.Run(ctx, reconciliationdomain.Request{
			Mode:        string(mode),
			BatchSize:   s.cfg.BatchSize,
			TriggeredBy: reconcileActor,
		})
		if err != nil {
			return err
		}
		s.logger(ctx).Info("scheduled reconciliation finished",
			zap.String("job_id", report.JobID),
			zap.String("status", string(report.Status)),
			zap.Int("checked", report.Checked),
			zap.Int("updated", report.Updated),
			zap.Bool("has_more", report.HasMore),
		)
		return nil
	})
}

// withRunLock keeps replicas from reconciling the same mode at once. Without
// redis every replica runs.
func (s *Scheduler) withRunLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if !s.locker.Enabled() {
		return fn(ctx)
	}
	lease, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if errors.Is(err, ratelimit.ErrLeaseHeld) {
		s.logger(ctx).Info("scheduler lock held elsewhere, skipping", zap.String("key", key))
		return nil
	}
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable, running unguarded", zap.String("key", key), zap.Error(err))
		return fn(ctx)
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}
