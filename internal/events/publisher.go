package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelrtgs/core/internal/domain"
)

// TransferSummary is the wire shape spec §6 defines for the real-time event
// channel: transfer_id, msg_id, status, amount, source_iban,
// destination_iban, created_at.
type TransferSummary struct {
	TransferID      uuid.UUID             `json:"transfer_id"`
	MsgID           uuid.UUID             `json:"msg_id"`
	Status          domain.TransferStatus `json:"status"`
	Amount          string                `json:"amount"`
	SourceIBAN      string                `json:"source_iban"`
	DestinationIBAN string                `json:"destination_iban"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Publisher adapts a Hub to the ledger.EventPublisher interface. It is only
// ever invoked after a successful commit (spec §4.7 step 10, §4.10): there
// is no path by which a rolled-back transaction reaches Publish. db is used
// only to resolve account IDs to IBANs for the wire summary; a lookup
// failure is logged and falls back to the raw account id, since publish is
// best-effort and must never hold up or fail the already-committed post.
type Publisher struct {
	hub *Hub
	db  *pgxpool.Pool
}

// NewPublisher builds a Publisher backed by hub, resolving IBANs via db.
func NewPublisher(hub *Hub, db *pgxpool.Pool) *Publisher {
	return &Publisher{hub: hub, db: db}
}

// Publish routes transfer's summary to the general transfers topic, and
// additionally to the compliance worklist topic when the transfer is
// BLOCKED_AML (spec §4.10).
func (p *Publisher) Publish(transfer domain.Transfer) {
	summary := TransferSummary{
		TransferID:      transfer.TransferID,
		MsgID:           transfer.MsgID,
		Status:          transfer.Status,
		Amount:          transfer.Amount.String(),
		SourceIBAN:      p.ibanFor(transfer.SourceAccountID),
		DestinationIBAN: p.ibanFor(transfer.DestAccountID),
		CreatedAt:       transfer.CreatedAt,
	}

	p.hub.BroadcastRaw(TopicTransfers, summary)
	if transfer.Status == domain.StatusBlockedAML {
		p.hub.BroadcastRaw(TopicComplianceWorklist, summary)
	}
}

func (p *Publisher) ibanFor(accountID uuid.UUID) string {
	var iban string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.db.QueryRow(ctx, `SELECT iban FROM accounts WHERE account_id=$1`, accountID).Scan(&iban); err != nil {
		slog.Warn("events: iban lookup failed, publishing account id instead", "account_id", accountID, "error", err)
		return accountID.String()
	}
	return iban
}
