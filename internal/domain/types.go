// Package domain holds the data model shared across the settlement core:
// accounts, transfers, ledger entries, sanctions entries, and audit records.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus is the lifecycle state of a Transfer.
type TransferStatus string

const (
	StatusPending    TransferStatus = "PENDING"
	StatusBlockedAML TransferStatus = "BLOCKED_AML"
	StatusCleared    TransferStatus = "CLEARED"
	StatusRejected   TransferStatus = "REJECTED"
)

// Terminal reports whether a status cannot be further mutated.
func (s TransferStatus) Terminal() bool {
	return s == StatusCleared || s == StatusRejected
}

// EntryType distinguishes the two legs of a double-entry posting.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// SanctionSource enumerates the lists a SanctionEntry can be drawn from.
type SanctionSource string

const (
	SourceOFAC  SanctionSource = "OFAC"
	SourceUN    SanctionSource = "UN"
	SourceEU    SanctionSource = "EU"
	SourceOther SanctionSource = "other"
)

// Account is a ledger-holding party. Currency is immutable after creation;
// Balance mutation is only valid while the caller holds the row-exclusive
// lock acquired by the ledger engine's canonical lock order.
type Account struct {
	AccountID uuid.UUID
	IBAN      string
	Currency  string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Party is the abstract debtor/creditor tuple the ingestion layer extracts
// from a wire message. The core only ever screens and posts against these
// two roles; intermediary parties are out of scope (spec Non-goals).
type Party struct {
	IBAN string
	Name string
}

// TransferRequest is the internal projection of a parsed pacs.008 message,
// or an equivalent synchronous API call.
type TransferRequest struct {
	MsgID         uuid.UUID
	EndToEndID    string
	Debtor        Party
	Creditor      Party
	Amount        decimal.Decimal
	Currency      string
	CorrelationID string
}

// Transfer is the durable settlement record keyed by the externally supplied
// MsgID. Once Status is terminal, the record must not be mutated further.
type Transfer struct {
	TransferID      uuid.UUID
	MsgID           uuid.UUID
	SourceAccountID uuid.UUID
	DestAccountID   uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	Status          TransferStatus
	CreatedAt       time.Time
	CompletedAt     *time.Time
	DebtorName      string
	CreditorName    string
	CorrelationID   string
}

// LedgerEntry is one leg of a double-entry posting. For any TransferID, the
// sum of CREDIT amounts must equal the sum of DEBIT amounts.
type LedgerEntry struct {
	EntryID    uuid.UUID
	TransferID uuid.UUID
	AccountID  uuid.UUID
	EntryType  EntryType
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// SanctionEntry is one row of a screened watchlist. NormalizedName must use
// the exact normalization fuzzy.Normalize applies to screened names — the
// two are pinned to the same function so match scores are comparable.
type SanctionEntry struct {
	ID             uuid.UUID
	Name           string
	NormalizedName string
	Source         SanctionSource
	RiskScore      int
}

// AuditRecord is one link of the hash chain maintained per (EntityType,
// EntityID). Records are insert-only.
type AuditRecord struct {
	ID         uuid.UUID
	EntityType string
	EntityID   string
	Action     string
	Payload    string // canonical JSON
	PrevHash   string
	CurrHash   string
	CreatedAt  time.Time
}

// ReviewOutcome is an analyst's disposition of a BLOCKED_AML transfer.
type ReviewOutcome string

const (
	ReviewApprove ReviewOutcome = "APPROVE"
	ReviewReject  ReviewOutcome = "REJECT"
)

// ReviewDecision carries a compliance analyst's manual decision plus the
// attestation trail (who decided, and why) that the audit log records.
type ReviewDecision struct {
	TransferID uuid.UUID
	Decision   ReviewOutcome
	Reviewer   string
	Notes      string
}
