package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonCheckViolation       = "check_violation"
	JobReasonUnknown              = "unknown"
)

const (
	RecordOutcomeUpdated   = "updated"
	RecordOutcomeUnchanged = "unchanged"
	RecordOutcomeSkipped   = "skipped"
	RecordOutcomeError     = "error"
	RecordOutcomeCreated   = "created"
	RecordOutcomeLinked    = "linked"
	RecordOutcomeDeleted   = "deleted"
)

// reasoner lets domain errors name their own low-cardinality reason.
type reasoner interface {
	Reason() string
}

// JobMetrics captures reconciliation and recovery run health.
type JobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	records        *prometheus.CounterVec
	partialFailure *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton job metrics registry using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_job_runs_total",
		Help:        "Reconciliation and recovery runs by job and mode.",
		ConstLabels: constLabels,
	}, []string{"job", "stripe_mode"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ledger_job_duration_seconds",
		Help:        "Run latency; bounded by record count times processor latency.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_job_timeouts_total",
		Help:        "Runs cut short by their context deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_job_errors_total",
		Help:        "Per-record and run-level errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_job_records_total",
		Help:        "Records processed by job and outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	partialFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_job_partial_failures_total",
		Help:        "Runs that finished with at least one per-record error.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "ledger_scheduler_runloop_lag_seconds",
		Help:        "Scheduler tick lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobTimeouts, jobErrors, records, partialFailure, runLoopLag)

	return &JobMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		records:        records,
		partialFailure: partialFailure,
		runLoopLag:     runLoopLag,
	}
}

func (m *JobMetrics) IncJobRun(job, mode string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, mode).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) IncRecord(job, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(job, outcome).Inc()
}

func (m *JobMetrics) IncPartialFailure(job string) {
	if m == nil {
		return
	}
	m.partialFailure.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyJobReason maps an error to a metric label.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	var r reasoner
	if errors.As(err, &r) {
		if reason := r.Reason(); reason != "" {
			return reason
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	case hasPGCode(err, "23514"):
		return JobReasonCheckViolation
	default:
		return JobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
