package canon_test

import (
	"testing"

	"github.com/sentinelrtgs/core/internal/canon"
)

func TestCanonicalizeKeyOrderIndependent(t *testing.T) {
	type m = map[string]any

	a := m{"b": 1, "a": 2, "c": m{"y": 1, "x": 2}}
	b := m{"c": m{"x": 2, "y": 1}, "a": 2, "b": 1}

	ca, err := canon.Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := canon.Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca != cb {
		t.Fatalf("expected canonical forms to match regardless of insertion order:\n%s\n%s", ca, cb)
	}
}

func TestZeroHashLength(t *testing.T) {
	if len(canon.Zero()) != 64 {
		t.Fatalf("expected 64-char zero hash, got %d", len(canon.Zero()))
	}
}

func TestLinkDeterministicAndSensitiveToInput(t *testing.T) {
	c1 := canon.Link("payload-a", canon.Zero())
	c2 := canon.Link("payload-a", canon.Zero())
	if c1 != c2 {
		t.Fatal("expected Link to be deterministic for identical inputs")
	}
	if len(c1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(c1))
	}

	c3 := canon.Link("payload-b", canon.Zero())
	if c1 == c3 {
		t.Fatal("expected different payloads to produce different hashes")
	}

	c4 := canon.Link("payload-a", c1)
	if c4 == c1 {
		t.Fatal("expected chaining on prev hash to change the result")
	}
}
