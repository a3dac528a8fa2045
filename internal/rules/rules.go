// Package rules implements the risk-tier decision engine (C5): it turns a
// set of fuzzy matches plus transfer context into a CLEARED, BLOCKED, or
// MANUAL_REVIEW decision using the fixed decision table from spec §4.5.
package rules

import (
	"github.com/shopspring/decimal"

	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/fuzzy"
)

// Decision is the rule engine's output.
type Decision string

const (
	DecisionCleared      Decision = "CLEARED"
	DecisionBlocked      Decision = "BLOCKED"
	DecisionManualReview Decision = "MANUAL_REVIEW"
)

// Thresholds configures the decision table and risk-add scoring. Every
// default named in spec §4.5/§6 is explicit here; callers wanting the
// defaults should use DefaultThresholds().
type Thresholds struct {
	HighRiskScore   int             // score >= this => BLOCKED outright
	MediumRiskScore int             // score >= this, below High => BLOCKED or MANUAL_REVIEW
	LowRiskScore    int             // any match >= this, with a large amount, => MANUAL_REVIEW
	AmountThreshold decimal.Decimal // "large amount" bound
	RiskAddBlockAt  int             // risk-adds >= this, combined with Medium score, => BLOCKED
}

// DefaultThresholds returns the configuration defaults named in spec §4.5
// and §6.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighRiskScore:   90,
		MediumRiskScore: 75,
		LowRiskScore:    50,
		AmountThreshold: decimal.NewFromInt(10000),
		RiskAddBlockAt:  5,
	}
}

// Engine decides transfer dispositions from the configured Thresholds.
type Engine struct {
	Thresholds Thresholds
}

// NewEngine builds an Engine with the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{Thresholds: t}
}

// Outcome is the decision plus the evidence that produced it, so callers
// (the compliance screener) can audit exactly what drove the call.
type Outcome struct {
	Decision  Decision
	Best      *fuzzy.Match
	RiskAdds  int
}

// Decide applies the decision table top-down; the first matching predicate
// wins (spec §4.5).
func (e *Engine) Decide(amount decimal.Decimal, matches []fuzzy.Match) Outcome {
	best := bestMatch(matches)
	if best == nil {
		return Outcome{Decision: DecisionCleared}
	}

	riskAdds := e.riskAdds(amount, *best)

	switch {
	case best.Score >= float64(e.Thresholds.HighRiskScore):
		return Outcome{Decision: DecisionBlocked, Best: best, RiskAdds: riskAdds}

	case best.Score >= float64(e.Thresholds.MediumRiskScore):
		if riskAdds >= e.Thresholds.RiskAddBlockAt {
			return Outcome{Decision: DecisionBlocked, Best: best, RiskAdds: riskAdds}
		}
		return Outcome{Decision: DecisionManualReview, Best: best, RiskAdds: riskAdds}

	case best.Score >= float64(e.Thresholds.LowRiskScore):
		if amount.GreaterThan(e.Thresholds.AmountThreshold) {
			return Outcome{Decision: DecisionManualReview, Best: best, RiskAdds: riskAdds}
		}
		return Outcome{Decision: DecisionCleared, Best: best, RiskAdds: riskAdds}

	default:
		return Outcome{Decision: DecisionCleared, Best: best, RiskAdds: riskAdds}
	}
}

// bestMatch returns the highest-scoring match, or nil if matches is empty.
func bestMatch(matches []fuzzy.Match) *fuzzy.Match {
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	return &best
}

// riskAdds sums the additive risk factors from spec §4.5: large amount
// (+2), OFAC/UN source (+3), EU source (+2), other source (+1), sanction
// risk_score >= 90 (+3) else >= 75 (+2).
func (e *Engine) riskAdds(amount decimal.Decimal, best fuzzy.Match) int {
	total := 0
	if amount.GreaterThan(e.Thresholds.AmountThreshold) {
		total += 2
	}
	switch best.Sanction.Source {
	case domain.SourceOFAC, domain.SourceUN:
		total += 3
	case domain.SourceEU:
		total += 2
	default:
		total += 1
	}
	switch {
	case best.Sanction.RiskScore >= 90:
		total += 3
	case best.Sanction.RiskScore >= 75:
		total += 2
	}
	return total
}
