package domain

import "errors"

// Error kinds surfaced by the settlement core (spec §7). Callers should use
// errors.Is against these sentinels rather than matching on message text.
var (
	ErrValidation         = errors.New("validation error")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidTransfer    = errors.New("invalid transfer")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAtomicityBreach    = errors.New("atomicity breach: non-zero-sum ledger entries")
	ErrRetryExhausted     = errors.New("retry budget exhausted")
	ErrReplayViolation    = errors.New("replay not permitted in current transfer state")
	ErrComplianceEngine   = errors.New("compliance engine error")
	ErrAuditAppendFailure = errors.New("audit append failure")
	ErrPublishFailure     = errors.New("event publish failure")
	ErrInvalidXML         = errors.New("invalid or schema-violating XML")
)

// The transient storage conditions the ledger engine's retry loop (spec
// §4.7) attempts again: lock timeout, deadlock victim, or serialization
// failure. Concrete driver errors are classified by the ledger package; this
// is the shared sentinel set.
var (
	ErrLockTimeout          = errors.New("lock timeout")
	ErrDeadlockVictim       = errors.New("deadlock victim")
	ErrSerializationFailure = errors.New("serialization failure")
)
