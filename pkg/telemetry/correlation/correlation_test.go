package correlation

import (
	"context"
	"testing"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "01HZZZ")
	ctx, id := EnsureCorrelationID(ctx)
	if id != "01HZZZ" {
		t.Fatalf("expected existing id, got %q", id)
	}
	if ExtractCorrelationID(ctx) != "01HZZZ" {
		t.Fatalf("expected id on context")
	}
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	if len(id) != 26 {
		t.Fatalf("expected ulid, got %q", id)
	}
	if ExtractCorrelationID(ctx) != id {
		t.Fatalf("expected generated id on context")
	}
}
