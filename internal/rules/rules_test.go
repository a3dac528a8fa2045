package rules_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/fuzzy"
	"github.com/sentinelrtgs/core/internal/rules"
)

func match(score float64, source domain.SanctionSource, riskScore int) fuzzy.Match {
	return fuzzy.Match{
		Sanction: domain.SanctionEntry{ID: uuid.New(), Source: source, RiskScore: riskScore},
		Score:    score,
	}
}

func TestDecideNoMatchClears(t *testing.T) {
	e := rules.NewEngine(rules.DefaultThresholds())
	out := e.Decide(decimal.NewFromInt(500), nil)
	if out.Decision != rules.DecisionCleared {
		t.Fatalf("expected CLEARED, got %s", out.Decision)
	}
}

func TestDecideHighScoreBlocks(t *testing.T) {
	e := rules.NewEngine(rules.DefaultThresholds())
	out := e.Decide(decimal.NewFromInt(500), []fuzzy.Match{match(95, domain.SourceEU, 50)})
	if out.Decision != rules.DecisionBlocked {
		t.Fatalf("expected BLOCKED, got %s", out.Decision)
	}
}

func TestDecideMediumScoreLowRiskAddsManualReview(t *testing.T) {
	e := rules.NewEngine(rules.DefaultThresholds())
	// medium score (80), small amount, other source (+1), risk_score 40 (+0) => riskAdds=1 < 5
	out := e.Decide(decimal.NewFromInt(100), []fuzzy.Match{match(80, domain.SourceOther, 40)})
	if out.Decision != rules.DecisionManualReview {
		t.Fatalf("expected MANUAL_REVIEW, got %s", out.Decision)
	}
}

func TestDecideMediumScoreHighRiskAddsBlocks(t *testing.T) {
	e := rules.NewEngine(rules.DefaultThresholds())
	// medium score (80), large amount (+2), OFAC (+3), risk_score 95 (+3) => riskAdds=8 >= 5
	out := e.Decide(decimal.NewFromInt(20000), []fuzzy.Match{match(80, domain.SourceOFAC, 95)})
	if out.Decision != rules.DecisionBlocked {
		t.Fatalf("expected BLOCKED, got %s", out.Decision)
	}
	if out.RiskAdds < 5 {
		t.Fatalf("expected riskAdds >= 5, got %d", out.RiskAdds)
	}
}

func TestDecideLowScoreLargeAmountManualReview(t *testing.T) {
	e := rules.NewEngine(rules.DefaultThresholds())
	out := e.Decide(decimal.NewFromInt(20000), []fuzzy.Match{match(55, domain.SourceOther, 10)})
	if out.Decision != rules.DecisionManualReview {
		t.Fatalf("expected MANUAL_REVIEW, got %s", out.Decision)
	}
}

func TestDecideLowScoreSmallAmountClears(t *testing.T) {
	e := rules.NewEngine(rules.DefaultThresholds())
	out := e.Decide(decimal.NewFromInt(100), []fuzzy.Match{match(55, domain.SourceOther, 10)})
	if out.Decision != rules.DecisionCleared {
		t.Fatalf("expected CLEARED, got %s", out.Decision)
	}
}
