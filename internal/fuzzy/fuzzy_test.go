package fuzzy_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/fuzzy"
)

func TestSimilarityBounds(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"OSAMA BIN LADEN", "OSAMA BIN LADEN", 100},
		{"", "", 100},
		{"", "OSAMA", 0},
		{"OSAMA", "", 0},
	}
	for _, c := range cases {
		got := fuzzy.Similarity(c.a, c.b)
		if got != c.want {
			t.Errorf("Similarity(%q,%q) = %v, want %v", c.a, c.b, got, c.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("Similarity(%q,%q) = %v out of [0,100]", c.a, c.b, got)
		}
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a, b := "Osama Bin Laden", "Osama Binladen"
	if fuzzy.Similarity(a, b) != fuzzy.Similarity(b, a) {
		t.Fatal("expected Similarity to be symmetric")
	}
}

func TestLevenshteinBasic(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
	}
	for _, c := range cases {
		if got := fuzzy.Levenshtein(c.a, c.b); got != c.want {
			t.Errorf("Levenshtein(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestNormalizeStripsPunctuationAndCollapsesSpace(t *testing.T) {
	got := fuzzy.Normalize("  Osama   Bin-Laden! ")
	want := "OSAMA BINLADEN"
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once := fuzzy.Normalize("Jean-Paul O'Brien")
	twice := fuzzy.Normalize(once)
	if once != twice {
		t.Fatalf("expected Normalize to be idempotent: %q vs %q", once, twice)
	}
}

func TestBKTreeQueryFindsWithinRadius(t *testing.T) {
	entries := []domain.SanctionEntry{
		{ID: uuid.New(), Name: "Osama Bin Laden", NormalizedName: "OSAMA BIN LADEN", Source: domain.SourceOFAC, RiskScore: 100},
		{ID: uuid.New(), Name: "Jean Dupont", NormalizedName: "JEAN DUPONT", Source: domain.SourceEU, RiskScore: 60},
	}
	tree := fuzzy.NewBKTree(entries)

	got := tree.Query("OSAMA BIN LADEN", 0)
	if len(got) != 1 {
		t.Fatalf("expected exact match only, got %d results", len(got))
	}

	none := tree.Query("JEAN DUPONT", 2)
	if len(none) != 1 {
		t.Fatalf("expected to find Jean Dupont within radius 2, got %d", len(none))
	}
}
