package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/ledgertest"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeReconciliation struct {
	mu       sync.Mutex
	requests []reconciliationdomain.Request
	err      error
	block    bool
}

func (f *fakeReconciliation) Run(ctx context.Context, req reconciliationdomain.Request) (*reconciliationdomain.Report, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &reconciliationdomain.Report{JobID: "1", Mode: ledgerdomain.Mode(req.Mode), Status: ledgerdomain.JobStatusSuccess}, nil
}

func newTestScheduler(t *testing.T, recon reconciliationdomain.Service, cfg Config) (*Scheduler, *gorm.DB) {
	t.Helper()
	conn := ledgertest.OpenDB(t)
	sched, err := New(Params{
		Log:            zap.NewNop(),
		GenID:          ledgertest.NewNode(t),
		Clock:          clock.NewFakeClock(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)),
		Settings:       settings.New(settings.Params{DB: conn, Log: zap.NewNop()}),
		Reconciliation: recon,
		Config:         cfg,
	})
	require.NoError(t, err)
	return sched, conn
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconcileJobLoadsModeEveryTick(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	recon := &fakeReconciliation{}
	sched, conn := newTestScheduler(t, recon, Config{BatchSize: 25})

	require.NoError(t, sched.RunOnce(context.Background()))
	ledgertest.SetStripeMode(t, conn, "live")
	require.NoError(t, sched.RunOnce(context.Background()))

	require.Len(t, recon.requests, 2)
	require.Equal(t, "test", recon.requests[0].Mode)
	require.Equal(t, "live", recon.requests[1].Mode)
	for _, req := range recon.requests {
		require.Equal(t, 25, req.BatchSize)
		require.Equal(t, "scheduler", req.TriggeredBy)
	}
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	recon := &fakeReconciliation{block: true}
	sched, _ := newTestScheduler(t, recon, Config{ReconcileTimeout: 5 * time.Millisecond})

	require.NoError(t, sched.RunOnce(context.Background()))

	labels := map[string]string{
		"service": "ledger",
		"env":     "test",
		"job":     jobReconcile,
	}
	require.Equal(t, float64(1), getCounterValue(t, registry, "ledger_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "ledger",
		"env":     "test",
		"job":     jobReconcile,
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	require.Equal(t, float64(1), getCounterValue(t, registry, "ledger_job_errors_total", errorLabels))
}

func TestRunJobWrapsRunError(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	boom := errors.New("database unavailable")
	sched, _ := newTestScheduler(t, &fakeReconciliation{err: boom}, Config{})

	err := sched.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), jobReconcile)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ReconcileTimeout: time.Minute}.withDefaults()
	require.Equal(t, 6*time.Hour, cfg.ReconcileEvery)
	require.Equal(t, 200, cfg.BatchSize)
	require.Equal(t, 2*time.Minute, cfg.LockTTL)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetJobMetricsForTest()
	obsmetrics.JobsWithConfig(obsmetrics.Config{
		ServiceName: "ledger",
		Environment: "test",
	})
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetJobMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
