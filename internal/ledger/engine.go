// Package ledger implements the payment/ledger engine (C7), folding in the
// idempotency gate (C3): the authoritative duplicate check is the unique
// index on transfers.msg_id, caught by the insert in step 3 below (spec
// §4.3).
//
// Engine.Post runs the whole contract in one call. The ingestion pipeline
// instead calls Engine.Admit (steps 1-3), screens the admitted transfer, and
// then calls Engine.PostPrepared (steps 4-10); PostPrepared also finishes a
// transfer that compliance has moved back to PENDING after a manual approval.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sentinelrtgs/core/internal/audit"
	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/metrics"
)

// EventPublisher is the subset of the event fan-out (C10) the ledger engine
// needs: publish a committed transfer's transition. Defined here (rather
// than imported from internal/events) so ledger doesn't need to know about
// websockets or subscription routing — it only needs "tell someone".
type EventPublisher interface {
	Publish(transfer domain.Transfer)
}

// RetryPolicy mirrors spec §6's payment.* configuration knobs.
type RetryPolicy struct {
	Attempts        int
	InitialBackoff  time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the defaults named in spec §4.7/§6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialBackoff: 100 * time.Millisecond, Multiplier: 2}
}

// Engine posts transfers against the ledger with pessimistic, deadlock-free
// locking and a bounded retry window for transient conflicts.
type Engine struct {
	db      *pgxpool.Pool
	audit   *audit.Log
	events  EventPublisher
	retry   RetryPolicy
	timeout time.Duration
}

// New builds an Engine. timeout bounds each posting transaction (spec
// payment.transaction_timeout, default 30s).
func New(db *pgxpool.Pool, auditLog *audit.Log, events EventPublisher, retry RetryPolicy, timeout time.Duration) *Engine {
	return &Engine{db: db, audit: auditLog, events: events, retry: retry, timeout: timeout}
}

// Response is what Post/PostPrepared return to their caller. It carries
// enough of the transfer row for a caller to build a complete domain.Transfer
// without a second round-trip — ingestion (C8) needs SourceAccountID/
// DestAccountID/CreatedAt to hand compliance (C6) a transfer that is more
// than an ID and a status.
type Response struct {
	TransferID      uuid.UUID
	SourceAccountID uuid.UUID
	DestAccountID   uuid.UUID
	CreatedAt       time.Time
	Status          domain.TransferStatus
	Duplicate       bool
}

// Post runs the full contract of spec §4.7 steps 1-10 for a brand-new
// TransferRequest: idempotency read, account/currency validation, pending
// insert, lock-ordered posting, and the post-commit publish hook.
func (e *Engine) Post(ctx context.Context, req domain.TransferRequest, actor string) (Response, error) {
	start := time.Now()

	// Step 1: idempotency read (best-effort fast path; the insert in step 3
	// is the authoritative check under concurrency).
	if existing, ok, err := e.findByMsgID(ctx, req.MsgID); err != nil {
		return Response{}, err
	} else if ok {
		e.audit.AppendBestEffort(ctx, "transfer", existing.TransferID.String(), "DUPLICATE_ATTEMPT", map[string]any{
			"msg_id": req.MsgID.String(),
		})
		metrics.RecordLedgerPost("duplicate", time.Since(start))
		return duplicateResponse(existing), nil
	}

	// Step 2: account existence and currency.
	source, dest, err := e.fetchAccountsByIBAN(ctx, req.Debtor.IBAN, req.Creditor.IBAN)
	if err != nil {
		metrics.RecordLedgerPost("rejected", time.Since(start))
		return Response{}, err
	}
	if source.Currency != req.Currency || dest.Currency != req.Currency {
		metrics.RecordLedgerPost("rejected", time.Since(start))
		return Response{}, fmt.Errorf("%w: currency mismatch", domain.ErrInvalidTransfer)
	}

	resp, err := e.retryingPost(ctx, func(ctx context.Context) (Response, error) {
		return e.attemptPost(ctx, req, source.AccountID, dest.AccountID)
	})
	metrics.RecordLedgerPost(outcomeLabel(resp, err), time.Since(start))
	return resp, err
}

// Admit runs spec §4.7 steps 1-3 only: idempotency read, account/currency
// validation, and a standalone insert of a new PENDING transfer. It is the
// entry point the ingestion pipeline (C8) uses ahead of compliance
// screening (C6), since C6.Evaluate needs a transfer row to lock and
// transition before C7.PostPrepared ever runs steps 4-10.
func (e *Engine) Admit(ctx context.Context, req domain.TransferRequest) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if existing, ok, err := e.findByMsgID(ctx, req.MsgID); err != nil {
		return Response{}, err
	} else if ok {
		e.audit.AppendBestEffort(ctx, "transfer", existing.TransferID.String(), "DUPLICATE_ATTEMPT", map[string]any{
			"msg_id": req.MsgID.String(),
		})
		return duplicateResponse(existing), nil
	}

	source, dest, err := e.fetchAccountsByIBAN(ctx, req.Debtor.IBAN, req.Creditor.IBAN)
	if err != nil {
		return Response{}, err
	}
	if source.Currency != req.Currency || dest.Currency != req.Currency {
		return Response{}, fmt.Errorf("%w: currency mismatch", domain.ErrInvalidTransfer)
	}

	transferID := uuid.New()
	var createdAt time.Time
	err = e.db.QueryRow(ctx,
		`INSERT INTO transfers(transfer_id, msg_id, source_account_id, destination_account_id,
			amount, currency, status, debtor_name, creditor_name, correlation_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,'PENDING',$7,$8,$9, now())
		 RETURNING created_at`,
		transferID, req.MsgID, source.AccountID, dest.AccountID, req.Amount, req.Currency,
		req.Debtor.Name, req.Creditor.Name, req.CorrelationID,
	).Scan(&createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			if existing, ok, rerr := e.findByMsgID(ctx, req.MsgID); rerr == nil && ok {
				e.audit.AppendBestEffort(ctx, "transfer", existing.TransferID.String(), "DUPLICATE_RACE", map[string]any{
					"msg_id": req.MsgID.String(),
				})
				return duplicateResponse(existing), nil
			}
			return Response{}, fmt.Errorf("%w: concurrent insert not yet visible", domain.ErrSerializationFailure)
		}
		return Response{}, classifiedOrRaw(err)
	}

	return Response{
		TransferID:      transferID,
		SourceAccountID: source.AccountID,
		DestAccountID:   dest.AccountID,
		CreatedAt:       createdAt,
		Status:          domain.StatusPending,
	}, nil
}

// PostPrepared finishes a transfer that is already PENDING (moved back from
// BLOCKED_AML by a compliance approval, per spec §4.7's post_prepared
// contract): it skips steps 1-3 and runs lock-ordered posting directly.
func (e *Engine) PostPrepared(ctx context.Context, transferID uuid.UUID) (Response, error) {
	start := time.Now()
	resp, err := e.retryingPost(ctx, func(ctx context.Context) (Response, error) {
		return e.attemptPostPrepared(ctx, transferID)
	})
	metrics.RecordLedgerPost(outcomeLabel(resp, err), time.Since(start))
	return resp, err
}

func outcomeLabel(resp Response, err error) string {
	switch {
	case err != nil:
		return "error"
	case resp.Duplicate:
		return "duplicate"
	default:
		return "cleared"
	}
}

// retryingPost wraps op in the retry loop from spec §4.7: up to
// e.retry.Attempts attempts, exponential backoff starting at
// e.retry.InitialBackoff, only for LockTimeout/DeadlockVictim/
// SerializationFailure. Any other error is permanent.
func (e *Engine) retryingPost(ctx context.Context, op func(context.Context) (Response, error)) (Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.InitialBackoff
	b.Multiplier = e.retry.Multiplier
	bounded := backoff.WithMaxRetries(b, uint64(e.retry.Attempts-1))

	var resp Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var opErr error
		resp, opErr = op(ctx)
		if opErr == nil {
			return nil
		}
		if retryKind := asRetryable(opErr); retryKind != nil {
			metrics.LedgerRetriesTotal.WithLabelValues(retryKind.Error()).Inc()
			slog.Warn("ledger post retrying", "attempt", attempt, "reason", retryKind)
			return opErr
		}
		return backoff.Permanent(opErr)
	}, bounded)

	if err != nil {
		// backoff.Retry unwraps a backoff.Permanent error before returning
		// it, so a non-retryable failure comes back exactly as raised by
		// op. Only a still-retryable-shaped error here means the attempt
		// budget ran out.
		if asRetryable(err) != nil {
			return Response{}, fmt.Errorf("%w: %v", domain.ErrRetryExhausted, err)
		}
		return resp, err
	}
	return resp, nil
}

func asRetryable(err error) error {
	switch {
	case errors.Is(err, domain.ErrLockTimeout):
		return domain.ErrLockTimeout
	case errors.Is(err, domain.ErrDeadlockVictim):
		return domain.ErrDeadlockVictim
	case errors.Is(err, domain.ErrSerializationFailure):
		return domain.ErrSerializationFailure
	default:
		return nil
	}
}

func (e *Engine) findByMsgID(ctx context.Context, msgID uuid.UUID) (domain.Transfer, bool, error) {
	var t domain.Transfer
	var status string
	err := e.db.QueryRow(ctx,
		`SELECT transfer_id, source_account_id, destination_account_id, created_at, status
		   FROM transfers WHERE msg_id=$1`, msgID,
	).Scan(&t.TransferID, &t.SourceAccountID, &t.DestAccountID, &t.CreatedAt, &status)
	switch {
	case err == nil:
		t.MsgID = msgID
		t.Status = domain.TransferStatus(status)
		return t, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Transfer{}, false, nil
	default:
		return domain.Transfer{}, false, err
	}
}

// duplicateResponse builds the Response for an idempotent replay: existing is
// the already-posted transfer found by msg_id.
func duplicateResponse(existing domain.Transfer) Response {
	return Response{
		TransferID:      existing.TransferID,
		SourceAccountID: existing.SourceAccountID,
		DestAccountID:   existing.DestAccountID,
		CreatedAt:       existing.CreatedAt,
		Status:          existing.Status,
		Duplicate:       true,
	}
}

func (e *Engine) fetchAccountsByIBAN(ctx context.Context, sourceIBAN, destIBAN string) (domain.Account, domain.Account, error) {
	source, err := e.fetchAccountByIBAN(ctx, sourceIBAN)
	if err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	dest, err := e.fetchAccountByIBAN(ctx, destIBAN)
	if err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	return source, dest, nil
}

func (e *Engine) fetchAccountByIBAN(ctx context.Context, iban string) (domain.Account, error) {
	var a domain.Account
	err := e.db.QueryRow(ctx,
		`SELECT account_id, iban, currency, balance FROM accounts WHERE iban=$1`, iban,
	).Scan(&a.AccountID, &a.IBAN, &a.Currency, &a.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("%w: iban %s", domain.ErrAccountNotFound, iban)
	}
	if err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// attemptPost is one try at steps 3-10 for a fresh TransferRequest.
func (e *Engine) attemptPost(ctx context.Context, req domain.TransferRequest, sourceID, destID uuid.UUID) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	defer tx.Rollback(ctx)

	transferID := uuid.New()
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO transfers(transfer_id, msg_id, source_account_id, destination_account_id,
			amount, currency, status, debtor_name, creditor_name, correlation_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,'PENDING',$7,$8,$9, now())
		 RETURNING created_at`,
		transferID, req.MsgID, sourceID, destID, req.Amount, req.Currency,
		req.Debtor.Name, req.Creditor.Name, req.CorrelationID,
	).Scan(&createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Step 3 race: a concurrent insert won. Re-read by msg_id.
			if existing, ok, rerr := e.findByMsgID(ctx, req.MsgID); rerr == nil && ok {
				e.audit.AppendBestEffort(ctx, "transfer", existing.TransferID.String(), "DUPLICATE_RACE", map[string]any{
					"msg_id": req.MsgID.String(),
				})
				return duplicateResponse(existing), nil
			}
			return Response{}, fmt.Errorf("%w: concurrent insert not yet visible", domain.ErrSerializationFailure)
		}
		return Response{}, classifiedOrRaw(err)
	}

	return e.postWithinTx(ctx, tx, transferID, sourceID, destID, req.Amount, createdAt)
}

// attemptPostPrepared is one try at steps 4-10 for a transfer already
// PENDING.
func (e *Engine) attemptPostPrepared(ctx context.Context, transferID uuid.UUID) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	defer tx.Rollback(ctx)

	var sourceID, destID uuid.UUID
	var amount decimal.Decimal
	var status string
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT source_account_id, destination_account_id, amount, created_at, status
		   FROM transfers WHERE transfer_id=$1`, transferID,
	).Scan(&sourceID, &destID, &amount, &createdAt, &status)
	if err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if domain.TransferStatus(status) != domain.StatusPending {
		return Response{}, fmt.Errorf("%w: transfer %s is %s, not PENDING", domain.ErrReplayViolation, transferID, status)
	}

	return e.postWithinTx(ctx, tx, transferID, sourceID, destID, amount, createdAt)
}

// postWithinTx runs steps 4-10 against an already-open transaction that has
// already inserted (or found) a PENDING transfer row.
func (e *Engine) postWithinTx(ctx context.Context, tx pgx.Tx, transferID, sourceID, destID uuid.UUID, amount decimal.Decimal, createdAt time.Time) (Response, error) {
	// Step 4: canonical lock order — lower account_id first — eliminates
	// the classic two-account deadlock.
	firstID, secondID := sourceID, destID
	if secondID.String() < firstID.String() {
		firstID, secondID = secondID, firstID
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM accounts WHERE account_id=$1 FOR UPDATE`, firstID); err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM accounts WHERE account_id=$1 FOR UPDATE`, secondID); err != nil {
		return Response{}, classifiedOrRaw(err)
	}

	var source, dest domain.Account
	source.AccountID = sourceID
	dest.AccountID = destID
	if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE account_id=$1`, sourceID).Scan(&source.Balance); err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE account_id=$1`, destID).Scan(&dest.Balance); err != nil {
		return Response{}, classifiedOrRaw(err)
	}

	// Step 5: funds check on the locked source.
	if source.Balance.LessThan(amount) {
		e.audit.AppendBestEffort(ctx, "transfer", transferID.String(), "INSUFFICIENT_FUNDS", map[string]any{
			"balance": source.Balance.String(), "amount": amount.String(),
		})
		if _, err := tx.Exec(ctx, `UPDATE transfers SET status='REJECTED', completed_at=now() WHERE transfer_id=$1`, transferID); err != nil {
			return Response{}, classifiedOrRaw(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return Response{}, classifiedOrRaw(err)
		}
		metrics.TransfersPostedTotal.WithLabelValues(string(domain.StatusRejected)).Inc()
		return Response{
				TransferID:      transferID,
				SourceAccountID: sourceID,
				DestAccountID:   destID,
				CreatedAt:       createdAt,
				Status:          domain.StatusRejected,
			},
			fmt.Errorf("%w: transfer %s", domain.ErrInsufficientFunds, transferID)
	}

	// Step 6: create ledger entries, then immediately re-verify zero-sum.
	debitID, creditID := uuid.New(), uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries(entry_id, transfer_id, account_id, entry_type, amount) VALUES ($1,$2,$3,'DEBIT',$4)`,
		debitID, transferID, sourceID, amount,
	); err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries(entry_id, transfer_id, account_id, entry_type, amount) VALUES ($1,$2,$3,'CREDIT',$4)`,
		creditID, transferID, destID, amount,
	); err != nil {
		return Response{}, classifiedOrRaw(err)
	}

	var creditSum, debitSum decimal.Decimal
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE transfer_id=$1 AND entry_type='CREDIT'`, transferID,
	).Scan(&creditSum); err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE transfer_id=$1 AND entry_type='DEBIT'`, transferID,
	).Scan(&debitSum); err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if !creditSum.Equal(debitSum) {
		e.audit.AppendBestEffort(ctx, "transfer", transferID.String(), "ATOMICITY_BREACH", map[string]any{
			"credit_sum": creditSum.String(), "debit_sum": debitSum.String(),
		})
		return Response{}, fmt.Errorf("%w: transfer %s", domain.ErrAtomicityBreach, transferID)
	}

	// Step 7: update balances.
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1 WHERE account_id=$2`, amount, sourceID); err != nil {
		return Response{}, classifiedOrRaw(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE account_id=$2`, amount, destID); err != nil {
		return Response{}, classifiedOrRaw(err)
	}

	// Step 8: finalize.
	if _, err := tx.Exec(ctx,
		`UPDATE transfers SET status='CLEARED', completed_at=now() WHERE transfer_id=$1`, transferID,
	); err != nil {
		return Response{}, classifiedOrRaw(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, classifiedOrRaw(err)
	}

	// Step 9: audit (independent scope, after commit so it never gates the
	// business commit and is never rolled back by a business failure).
	e.audit.AppendBestEffort(context.WithoutCancel(ctx), "transfer", transferID.String(), "CLEARED", map[string]any{
		"source_account_id": sourceID.String(),
		"dest_account_id":   destID.String(),
		"amount":            amount.String(),
	})

	// Step 10: post-commit publish. Best-effort; failures are logged and do
	// not roll back or retry the already-committed transfer.
	transfer := domain.Transfer{
		TransferID:      transferID,
		SourceAccountID: sourceID,
		DestAccountID:   destID,
		Amount:          amount,
		CreatedAt:       createdAt,
		Status:          domain.StatusCleared,
	}
	metrics.TransfersPostedTotal.WithLabelValues(string(domain.StatusCleared)).Inc()
	if e.events != nil {
		safePublish(e.events, transfer)
	}

	return Response{
		TransferID:      transferID,
		SourceAccountID: sourceID,
		DestAccountID:   destID,
		CreatedAt:       createdAt,
		Status:          domain.StatusCleared,
	}, nil
}

// safePublish isolates a panicking or misbehaving publisher from the
// posting path; publish failures are logged, not propagated (spec §4.7 step
// 10, §7 PublishFailure).
func safePublish(p EventPublisher, transfer domain.Transfer) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EventPublishFailuresTotal.WithLabelValues("transfers").Inc()
			slog.Error("event publish panicked", "transfer_id", transfer.TransferID, "panic", r)
		}
	}()
	p.Publish(transfer)
}

// classifiedOrRaw wraps err with its retryable classification if
// recognized, otherwise returns it unchanged.
func classifiedOrRaw(err error) error {
	if kind := classifyRetryable(err); kind != nil {
		return fmt.Errorf("%w: %v", kind, err)
	}
	return err
}
