package scheduler

import (
	"context"
	"time"

	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	obslogger "github.com/joshmstewart/bestdayministries-sub013/internal/observability/logger"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
}

func (s *Scheduler) startJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun, fields ...zap.Field) {
	s.logger(ctx).Info("scheduler.job.start", append([]zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	}, fields...)...)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, err error, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
	}
	log := s.logger(ctx)
	if err != nil {
		log.Warn("scheduler.job.finish", append(append(base, fields...), zap.Error(err))...)
		return
	}
	log.Info("scheduler.job.finish", append(base, fields...)...)
}
