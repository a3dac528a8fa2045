// Package compliance implements the compliance screener (C6): it
// orchestrates the fuzzy matcher (C4) and rule engine (C5) against a
// transfer's debtor/creditor names, translates the resulting decision into
// a transfer-state transition, and audits the decision. It never sets a
// transfer to CLEARED — that invariant belongs to the ledger engine (C7)
// alone, since only C7's atomic posting guarantees CLEARED implies ledger
// entries exist (spec §4.6).
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelrtgs/core/internal/audit"
	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/fuzzy"
	"github.com/sentinelrtgs/core/internal/rules"
)

// EventPublisher is the subset of the event fan-out (C10) the screener
// needs. Defined locally, mirroring internal/ledger's EventPublisher, so
// this package doesn't need to know about websockets or subscription
// routing.
type EventPublisher interface {
	Publish(transfer domain.Transfer)
}

// Screener evaluates transfers for sanctions exposure and records manual
// review outcomes. Evaluate and ApplyManual each run inside their own
// transactional scope, independent of the ledger engine's posting
// transaction (spec §4.6).
type Screener struct {
	db      *pgxpool.Pool
	matcher *fuzzy.Matcher
	rules   *rules.Engine
	audit   *audit.Log
	events  EventPublisher

	// ThresholdPct is the fuzzy.levenshtein_threshold configuration value
	// (spec §6, default 85) passed to every Matcher.Find call.
	ThresholdPct int
}

// New builds a Screener. events may be nil, in which case the screener
// transitions transfer state without publishing (unit tests only; spec §4.10
// requires publish(transfer) after every committed transition, so
// production wiring must supply a real publisher).
func New(db *pgxpool.Pool, matcher *fuzzy.Matcher, engine *rules.Engine, auditLog *audit.Log, events EventPublisher, thresholdPct int) *Screener {
	return &Screener{db: db, matcher: matcher, rules: engine, audit: auditLog, events: events, ThresholdPct: thresholdPct}
}

func (s *Screener) publish(transfer domain.Transfer) {
	if s.events == nil {
		return
	}
	s.events.Publish(transfer)
}

// Result is what Evaluate/ApplyManual return: the decision that was made
// and the transfer state it produced.
type Result struct {
	TransferID uuid.UUID
	Decision   rules.Decision
	Status     domain.TransferStatus
	Best       *fuzzy.Match
}

// Evaluate screens transfer's debtor and creditor names (spec §4.6): it
// unions matches from both names, runs the rule engine, and transitions the
// transfer to BLOCKED_AML on a BLOCKED or MANUAL_REVIEW decision. A CLEARED
// decision leaves the transfer PENDING so the ledger engine may post it.
func (s *Screener) Evaluate(ctx context.Context, transfer domain.Transfer) (Result, error) {
	matches, err := s.collectMatches(ctx, transfer.DebtorName, transfer.CreditorName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrComplianceEngine, err)
	}

	outcome := s.rules.Decide(transfer.Amount, matches)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Result{}, fmt.Errorf("%w: begin: %v", domain.ErrComplianceEngine, err)
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM transfers WHERE transfer_id=$1 FOR UPDATE`, transfer.TransferID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, fmt.Errorf("%w: transfer %s not found", domain.ErrComplianceEngine, transfer.TransferID)
		}
		return Result{}, fmt.Errorf("%w: %v", domain.ErrComplianceEngine, err)
	}
	if domain.TransferStatus(status) != domain.StatusPending {
		return Result{}, fmt.Errorf("%w: transfer %s is %s, not PENDING", domain.ErrReplayViolation, transfer.TransferID, status)
	}

	result := Result{TransferID: transfer.TransferID, Decision: outcome.Decision, Status: domain.StatusPending, Best: outcome.Best}

	if outcome.Decision == rules.DecisionBlocked || outcome.Decision == rules.DecisionManualReview {
		if _, err := tx.Exec(ctx, `UPDATE transfers SET status='BLOCKED_AML' WHERE transfer_id=$1`, transfer.TransferID); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrComplianceEngine, err)
		}
		result.Status = domain.StatusBlockedAML
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: commit: %v", domain.ErrComplianceEngine, err)
	}

	s.audit.AppendBestEffort(ctx, "transfer", transfer.TransferID.String(), "COMPLIANCE_DECISION", decisionPayload(outcome, transfer.Amount.String()))

	if result.Status == domain.StatusBlockedAML {
		transfer.Status = domain.StatusBlockedAML
		s.publish(transfer)
	}

	return result, nil
}

// ApplyManual disposes of a BLOCKED_AML transfer per spec §4.6: it requires
// the transfer to currently be BLOCKED_AML (otherwise ErrReplayViolation,
// audited), transitions to PENDING on APPROVE (leaving C7 to post it) or to
// terminal REJECTED on REJECT, and records the reviewer and notes.
func (s *Screener) ApplyManual(ctx context.Context, decision domain.ReviewDecision) (Result, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Result{}, fmt.Errorf("%w: begin: %v", domain.ErrComplianceEngine, err)
	}
	defer tx.Rollback(ctx)

	var transfer domain.Transfer
	var status string
	if err := tx.QueryRow(ctx,
		`SELECT msg_id, source_account_id, destination_account_id, amount, currency, created_at, status
		   FROM transfers WHERE transfer_id=$1 FOR UPDATE`, decision.TransferID,
	).Scan(&transfer.MsgID, &transfer.SourceAccountID, &transfer.DestAccountID, &transfer.Amount, &transfer.Currency, &transfer.CreatedAt, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, fmt.Errorf("%w: transfer %s not found", domain.ErrComplianceEngine, decision.TransferID)
		}
		return Result{}, fmt.Errorf("%w: %v", domain.ErrComplianceEngine, err)
	}
	transfer.TransferID = decision.TransferID
	if domain.TransferStatus(status) != domain.StatusBlockedAML {
		s.audit.AppendBestEffort(ctx, "transfer", decision.TransferID.String(), "REVIEW_REPLAY_REJECTED", map[string]any{
			"attempted_decision": decision.Decision,
			"current_status":     status,
		})
		return Result{}, fmt.Errorf("%w: transfer %s is %s, not BLOCKED_AML", domain.ErrReplayViolation, decision.TransferID, status)
	}

	var newStatus domain.TransferStatus
	var action string
	switch decision.Decision {
	case domain.ReviewApprove:
		newStatus = domain.StatusPending
		action = "REVIEW_APPROVED"
		if _, err := tx.Exec(ctx, `UPDATE transfers SET status='PENDING' WHERE transfer_id=$1`, decision.TransferID); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrComplianceEngine, err)
		}
	case domain.ReviewReject:
		newStatus = domain.StatusRejected
		action = "REVIEW_REJECTED"
		if _, err := tx.Exec(ctx,
			`UPDATE transfers SET status='REJECTED', completed_at=$2 WHERE transfer_id=$1`,
			decision.TransferID, time.Now().UTC(),
		); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrComplianceEngine, err)
		}
	default:
		return Result{}, fmt.Errorf("%w: unknown review decision %q", domain.ErrValidation, decision.Decision)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: commit: %v", domain.ErrComplianceEngine, err)
	}

	s.audit.AppendBestEffort(ctx, "transfer", decision.TransferID.String(), action, map[string]any{
		"reviewer": decision.Reviewer,
		"notes":    decision.Notes,
	})

	// ApplyManual's REJECT path is terminal and has no ledger posting to
	// publish its own commit; APPROVE re-enters PENDING for C7 to post and
	// publish when it clears. Either way this transition itself committed,
	// so spec §4.10 requires a publish here too.
	transfer.Status = newStatus
	s.publish(transfer)

	return Result{TransferID: decision.TransferID, Status: newStatus}, nil
}

// collectMatches runs the fuzzy matcher once per screened name (spec §4.6
// extracts at minimum debtor and creditor names) and unions the results.
func (s *Screener) collectMatches(ctx context.Context, names ...string) ([]fuzzy.Match, error) {
	results, err := s.matcher.FindBatch(ctx, names, s.ThresholdPct)
	if err != nil {
		return nil, err
	}
	var all []fuzzy.Match
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func decisionPayload(outcome rules.Outcome, amount string) map[string]any {
	payload := map[string]any{
		"decision":  outcome.Decision,
		"amount":    amount,
		"risk_adds": outcome.RiskAdds,
	}
	if outcome.Best != nil {
		payload["best_match_sanction_id"] = outcome.Best.Sanction.ID.String()
		payload["best_match_score"] = outcome.Best.Score
		payload["best_match_source"] = outcome.Best.Sanction.Source
	}
	return payload
}
