package kit

import (
	"context"
	"testing"
)

func TestSourceDefault(t *testing.T) {
	if got := Source(context.Background()); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	ctx := WithSource(context.Background(), "banner")
	if got := Source(ctx); got != "banner" {
		t.Fatalf("expected banner, got %q", got)
	}
}

func TestSourceEmptyFallsBack(t *testing.T) {
	ctx := WithSource(context.Background(), "")
	if got := Source(ctx); got != "unknown" {
		t.Fatalf("expected unknown for empty source, got %q", got)
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_1")
	if got := RequestID(ctx); got != "req_1" {
		t.Fatalf("expected req_1, got %q", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
