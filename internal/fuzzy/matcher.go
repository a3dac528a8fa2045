// Package fuzzy implements the fuzzy name matcher (C4): Levenshtein
// similarity, a BK-tree prefilter over a curated high-risk subset, and a
// Postgres trigram similarity fallback over the full sanctions table. Both
// paths operate on the same Normalize'd form so their scores are
// comparable.
package fuzzy

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelrtgs/core/internal/domain"
)

// Algorithm names a Match's origin so callers/audits can tell which path
// produced it.
type Algorithm string

const (
	AlgorithmBKTree Algorithm = "bk_tree"
	AlgorithmDB     Algorithm = "db_trigram"
)

// Match is one candidate sanction hit.
type Match struct {
	Sanction  domain.SanctionEntry
	Score     float64
	Algorithm Algorithm
}

// MaxResults caps the merged, deduplicated result set (spec §4.4).
const MaxResults = 50

// Matcher finds fuzzy name matches against the sanctions table. The BK-tree
// held behind tree is refreshed atomically so readers never observe a
// partially rebuilt structure.
type Matcher struct {
	db   *pgxpool.Pool
	tree atomic.Pointer[BKTree]
}

// NewMatcher builds a Matcher with an empty BK-tree; call Refresh (or
// RefreshFromDB) before Find relies on the prefilter being populated.
func NewMatcher(db *pgxpool.Pool) *Matcher {
	m := &Matcher{db: db}
	m.tree.Store(NewBKTree(nil))
	return m
}

// Refresh atomically swaps in a freshly built BK-tree over entries. Safe to
// call concurrently with Find.
func (m *Matcher) Refresh(entries []domain.SanctionEntry) {
	m.tree.Store(NewBKTree(entries))
}

// RefreshFromDB loads the high-risk subset (risk_score >= minRiskScore, or
// any of the given flagged sources) and rebuilds the BK-tree from it. Called
// on startup and whenever sanctions ingestion completes (spec §9).
func (m *Matcher) RefreshFromDB(ctx context.Context, minRiskScore int, flaggedSources []domain.SanctionSource) error {
	rows, err := m.db.Query(ctx,
		`SELECT id, name, normalized_name, source, risk_score
		   FROM sanctions
		  WHERE risk_score >= $1 OR source = ANY($2)`,
		minRiskScore, sourcesToStrings(flaggedSources),
	)
	if err != nil {
		return fmt.Errorf("fuzzy: refresh query: %w", err)
	}
	defer rows.Close()

	var entries []domain.SanctionEntry
	for rows.Next() {
		var e domain.SanctionEntry
		var source string
		if err := rows.Scan(&e.ID, &e.Name, &e.NormalizedName, &source, &e.RiskScore); err != nil {
			return fmt.Errorf("fuzzy: scan: %w", err)
		}
		e.Source = domain.SanctionSource(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	m.Refresh(entries)
	return nil
}

func sourcesToStrings(sources []domain.SanctionSource) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

// thresholdToRadius derives the BK-tree query radius from a 0-100 similarity
// threshold and the query's length: ceil(len * (1 - threshold/100)). Because
// Similarity divides by the longer of the two lengths, an entry longer than
// the query can reach the threshold at a distance above this radius; the
// prefilter does not return such an entry, and only the DB fallback in Find
// can find it.
func thresholdToRadius(name string, thresholdPct int) int {
	n := len([]rune(name))
	if n == 0 {
		return 0
	}
	allowed := float64(n) * (1 - float64(thresholdPct)/100)
	if allowed < 0 {
		allowed = 0
	}
	return int(allowed + 0.999999) // ceil without importing math for one call
}

// Find returns every sanction whose normalized name scores at least
// thresholdPct similarity to name, merged from the BK-tree prefilter and the
// DB trigram fallback, deduplicated by sanction id (keeping the higher
// score), sorted descending by score, and capped to MaxResults.
func (m *Matcher) Find(ctx context.Context, name string, thresholdPct int) ([]Match, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return nil, nil
	}

	byID := make(map[string]Match)

	radius := thresholdToRadius(normalized, thresholdPct)
	tree := m.tree.Load()
	for _, c := range tree.Query(normalized, radius) {
		score := Similarity(normalized, c.entry.NormalizedName)
		if score < float64(thresholdPct) {
			continue
		}
		id := c.entry.ID.String()
		if existing, ok := byID[id]; !ok || score > existing.Score {
			byID[id] = Match{Sanction: c.entry, Score: score, Algorithm: AlgorithmBKTree}
		}
	}

	dbMatches, err := m.findDB(ctx, normalized, thresholdPct)
	if err != nil {
		return nil, fmt.Errorf("fuzzy: db fallback: %w", err)
	}
	for _, dm := range dbMatches {
		id := dm.Sanction.ID.String()
		if existing, ok := byID[id]; !ok || dm.Score > existing.Score {
			byID[id] = dm
		}
	}

	out := make([]Match, 0, len(byID))
	for _, mt := range byID {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	return out, nil
}

// findDB runs the Postgres trigram similarity fallback: pg_trgm's
// similarity() returns a 0-1 score, so threshold/100 is the matching
// predicate's bound. This widens coverage to the full table, independent of
// whatever subset the BK-tree was built from.
func (m *Matcher) findDB(ctx context.Context, normalized string, thresholdPct int) ([]Match, error) {
	rows, err := m.db.Query(ctx,
		`SELECT id, name, normalized_name, source, risk_score, similarity(normalized_name, $1) AS sim
		   FROM sanctions
		  WHERE similarity(normalized_name, $1) >= $2
		  ORDER BY sim DESC
		  LIMIT $3`,
		normalized, float64(thresholdPct)/100, MaxResults,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var e domain.SanctionEntry
		var source string
		var sim float64
		if err := rows.Scan(&e.ID, &e.Name, &e.NormalizedName, &source, &e.RiskScore, &sim); err != nil {
			return nil, err
		}
		e.Source = domain.SanctionSource(source)
		out = append(out, Match{Sanction: e, Score: sim * 100, Algorithm: AlgorithmDB})
	}
	return out, rows.Err()
}

// FindBatch runs Find for each name, returning a parallel slice of results.
func (m *Matcher) FindBatch(ctx context.Context, names []string, thresholdPct int) ([][]Match, error) {
	out := make([][]Match, len(names))
	for i, n := range names {
		matches, err := m.Find(ctx, n, thresholdPct)
		if err != nil {
			return nil, fmt.Errorf("fuzzy: batch item %d (%q): %w", i, n, err)
		}
		out[i] = matches
	}
	return out, nil
}
