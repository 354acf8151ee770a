package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("stripe_mode", "live"),
		attribute.String("donor_email", "someone@example.com"),
		attribute.String("strategy", "heuristic"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "stripe_mode" && attrs[1].Key != "stripe_mode" {
		t.Fatalf("expected stripe_mode to be retained")
	}
	if attrs[0].Key != "strategy" && attrs[1].Key != "strategy" {
		t.Fatalf("expected strategy to be retained")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordCheckoutSession(context.Background(), "test", "donation", "monthly", false)
	m.RecordLedgerCorrection(context.Background(), "test", "donation", "cancelled")
	m.RecordRecoveryOutcome(context.Background(), "test", "created", "checkout_session")
}

func TestRecordRecoveryOutcomeExportsCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "ledger-test"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordRecoveryOutcome(ctx, "live", "created", "checkout_session")
	m.RecordRecoveryOutcome(ctx, "live", "created", "checkout_session")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != "ledger_recovery_outcomes_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 recovery outcomes, got %d", total)
	}
}
