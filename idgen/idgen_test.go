package idgen

import (
	"strings"
	"testing"
)

func TestRandomLength(t *testing.T) {
	gen := Random(8)
	id := gen()
	if len(id) != 8 {
		t.Fatalf("expected length 8, got %d (%q)", len(id), id)
	}
	if id == gen() {
		t.Fatal("two consecutive IDs should differ")
	}
}

func TestUUIDv7RoundTrip(t *testing.T) {
	id := New()
	parsed, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
	if parsed != id {
		t.Fatalf("expected %q, got %q", id, parsed)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("evt_", Random(4))
	id := gen()
	if !strings.HasPrefix(id, "evt_") {
		t.Fatalf("expected evt_ prefix, got %q", id)
	}
	if len(id) != len("evt_")+4 {
		t.Fatalf("unexpected length for %q", id)
	}
}

func TestCorrelationShape(t *testing.T) {
	gen := Correlation("cg")
	id := gen()
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		t.Fatalf("expected prefix-millis-suffix, got %q", id)
	}
	if parts[0] != "cg" {
		t.Fatalf("expected prefix cg, got %q", parts[0])
	}
	if len(parts[2]) != 6 {
		t.Fatalf("expected 6-char suffix, got %q", parts[2])
	}
	if id == gen() {
		t.Fatal("two consecutive correlation IDs should differ")
	}
}
