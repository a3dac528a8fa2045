package ledger

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sentinelrtgs/core/internal/domain"
)

// classifyRetryable maps a pgx/Postgres error to one of the three
// transient conditions spec §4.7's retry loop is scoped to: lock timeout,
// deadlock victim, or serialization failure. Any other error is left
// unclassified (nil) and is not retried.
func classifyRetryable(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "40P01": // deadlock_detected
		return domain.ErrDeadlockVictim
	case "40001": // serialization_failure
		return domain.ErrSerializationFailure
	case "55P03": // lock_not_available
		return domain.ErrLockTimeout
	default:
		return nil
	}
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (23505), which is how the idempotency gate's insert-then-catch resolves a
// concurrent duplicate insert (spec §4.3).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
