// Package audit implements the tamper-evident hash-chained audit log (C2).
// Every Append runs in its own transactional scope, independent of whatever
// business transaction triggered it, so a business rollback never discards
// an audit record and a business commit never waits on one.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelrtgs/core/internal/canon"
	"github.com/sentinelrtgs/core/internal/domain"
)

// Log appends and verifies hash-chained audit records.
type Log struct {
	db *pgxpool.Pool
}

// New builds a Log over the given pool. The pool is assumed to be shared
// with the rest of the service; Append always opens its own transaction on
// it rather than accepting one from the caller, which is what guarantees
// independence from the enclosing business transaction.
func New(db *pgxpool.Pool) *Log {
	return &Log{db: db}
}

// Append canonicalizes payload, links it to the last curr_hash recorded for
// (entityType, entityID) (or canon.Zero() if this is the first record), and
// inserts the new row. Appends to the same entity are serialized by reading
// the latest row FOR UPDATE inside a READ COMMITTED transaction, so
// concurrent appends to the same chain cannot race on prev_hash.
func (l *Log) Append(ctx context.Context, entityType, entityID, action string, payload any) (domain.AuditRecord, error) {
	canonical, err := canon.Canonicalize(payload)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("%w: canonicalize: %v", domain.ErrAuditAppendFailure, err)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("%w: begin: %v", domain.ErrAuditAppendFailure, err)
	}
	defer tx.Rollback(ctx)

	prev := canon.Zero()
	var lastHash string
	err = tx.QueryRow(ctx,
		`SELECT curr_hash FROM audit_logs
		  WHERE entity_type=$1 AND entity_id=$2
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1
		  FOR UPDATE`,
		entityType, entityID,
	).Scan(&lastHash)
	switch {
	case err == nil:
		prev = lastHash
	case err == pgx.ErrNoRows:
		// genesis record for this chain
	default:
		return domain.AuditRecord{}, fmt.Errorf("%w: read last hash: %v", domain.ErrAuditAppendFailure, err)
	}

	curr := canon.Link(canonical, prev)
	rec := domain.AuditRecord{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Payload:    canonical,
		PrevHash:   prev,
		CurrHash:   curr,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_logs(id, entity_type, entity_id, action, payload, prev_hash, curr_hash, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.EntityType, rec.EntityID, rec.Action, rec.Payload, rec.PrevHash, rec.CurrHash, rec.CreatedAt,
	)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("%w: insert: %v", domain.ErrAuditAppendFailure, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("%w: commit: %v", domain.ErrAuditAppendFailure, err)
	}

	return rec, nil
}

// AppendBestEffort calls Append and, on failure, logs and swallows the
// error rather than propagating it into the business path — per spec §7,
// AuditAppendFailure is non-fatal to the business path, but callers that can
// tolerate a missing record (e.g. DUPLICATE_ATTEMPT bookkeeping) should
// still surface the signal for observability.
func (l *Log) AppendBestEffort(ctx context.Context, entityType, entityID, action string, payload any) {
	if _, err := l.Append(ctx, entityType, entityID, action, payload); err != nil {
		slog.Error("audit append failed", "entity_type", entityType, "entity_id", entityID, "action", action, "error", err)
	}
}

// Verify re-walks the chain for (entityType, entityID) chronologically and
// recomputes each curr_hash. It returns false on the first mismatch it
// finds, along with the sequence position (1-based) of the break, or 0 if
// the chain is intact (including the empty-chain case).
func (l *Log) Verify(ctx context.Context, entityType, entityID string) (ok bool, breakAt int, err error) {
	rows, err := l.db.Query(ctx,
		`SELECT payload, prev_hash, curr_hash FROM audit_logs
		  WHERE entity_type=$1 AND entity_id=$2
		  ORDER BY created_at ASC, id ASC`,
		entityType, entityID,
	)
	if err != nil {
		return false, 0, err
	}
	defer rows.Close()

	expectedPrev := canon.Zero()
	seq := 0
	for rows.Next() {
		seq++
		var payload, prevHash, currHash string
		if err := rows.Scan(&payload, &prevHash, &currHash); err != nil {
			return false, 0, err
		}
		if prevHash != expectedPrev {
			return false, seq, nil
		}
		if canon.Link(payload, prevHash) != currHash {
			return false, seq, nil
		}
		expectedPrev = currHash
	}
	if err := rows.Err(); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}
