package fuzzy

import "github.com/sentinelrtgs/core/internal/domain"

// BKTree indexes a curated subset of sanctions by Levenshtein distance,
// supporting radius queries without scanning the full table. Per spec §4.4
// it is built over the "high-risk" subset (risk_score >= 75, or a flagged
// source) and is read-mostly: refreshes swap a whole new tree under an
// atomic pointer, so concurrent readers see either the old or the new tree,
// never a partially built one.
type BKTree struct {
	root *bkNode
	size int
}

type bkNode struct {
	entry    domain.SanctionEntry
	children map[int]*bkNode
}

// NewBKTree builds a tree from the given entries. Entries are expected to
// already carry NormalizedName; the tree indexes on that field.
func NewBKTree(entries []domain.SanctionEntry) *BKTree {
	t := &BKTree{}
	for _, e := range entries {
		t.Insert(e)
	}
	return t
}

// Insert adds a single entry to the tree.
func (t *BKTree) Insert(e domain.SanctionEntry) {
	t.size++
	if t.root == nil {
		t.root = &bkNode{entry: e, children: map[int]*bkNode{}}
		return
	}
	node := t.root
	for {
		d := Levenshtein(node.entry.NormalizedName, e.NormalizedName)
		if d == 0 {
			// Duplicate normalized name in the high-risk subset; keep both
			// by chaining under distance 0 so neither is lost.
			if child, ok := node.children[0]; ok {
				node = child
				continue
			}
			node.children[0] = &bkNode{entry: e, children: map[int]*bkNode{}}
			return
		}
		child, ok := node.children[d]
		if !ok {
			node.children[d] = &bkNode{entry: e, children: map[int]*bkNode{}}
			return
		}
		node = child
	}
}

// Len returns the number of entries inserted.
func (t *BKTree) Len() int { return t.size }

// candidate pairs a sanction entry with its Levenshtein distance from the
// query string.
type candidate struct {
	entry domain.SanctionEntry
	dist  int
}

// Query returns every indexed entry whose Levenshtein distance from name is
// within radius (inclusive), using the triangle-inequality pruning that
// makes a BK-tree useful: a subtree rooted at distance d from the current
// node can only contain matches within [d-radius, d+radius] of the query.
func (t *BKTree) Query(name string, radius int) []candidate {
	if t.root == nil {
		return nil
	}
	var out []candidate
	var walk func(n *bkNode)
	walk = func(n *bkNode) {
		d := Levenshtein(n.entry.NormalizedName, name)
		if d <= radius {
			out = append(out, candidate{entry: n.entry, dist: d})
		}
		lo, hi := d-radius, d+radius
		for cd, child := range n.children {
			if cd >= lo && cd <= hi {
				walk(child)
			}
		}
	}
	walk(t.root)
	return out
}
