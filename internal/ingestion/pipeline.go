package ingestion

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sentinelrtgs/core/internal/audit"
	"github.com/sentinelrtgs/core/internal/compliance"
	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/ledger"
	"github.com/sentinelrtgs/core/internal/metrics"
	"github.com/sentinelrtgs/core/internal/mq"
)

// Pipeline wires C8's flow (spec §4.8): parse/validate, admit (C3 +
// account validation), screen (C6), post (C7), and emit an outbound
// pacs.002 on every non-success path.
type Pipeline struct {
	ledger     *ledger.Engine
	compliance *compliance.Screener
	audit      *audit.Log
	outbound   *mq.Client
}

// New builds a Pipeline. outbound may be nil in tests that only exercise
// OnMessage's return value rather than the outbound side effect.
func New(ledgerEngine *ledger.Engine, screener *compliance.Screener, auditLog *audit.Log, outbound *mq.Client) *Pipeline {
	return &Pipeline{ledger: ledgerEngine, compliance: screener, audit: auditLog, outbound: outbound}
}

// SubmitResult is the outcome of running one message through the pipeline,
// returned to callers that need the settlement status rather than a bare
// ack/nack (spec §4.8's synchronous API call path).
type SubmitResult struct {
	TransferID uuid.UUID
	Status     domain.TransferStatus
	Duplicate  bool
}

// OnMessage runs one inbound pacs.008 message through the full pipeline. A
// nil return means the message was fully handled (including duplicates and
// business rejections, each of which already produced their own outbound
// report or silent acknowledgement) and should be acked. A non-nil return
// means the message could not be processed at all and should be
// dead-lettered by the caller (spec §7: ComplianceEngineError and
// unclassified storage errors are processing errors, not business
// outcomes).
func (p *Pipeline) OnMessage(ctx context.Context, wireBytes []byte) error {
	_, err := p.Submit(ctx, wireBytes)
	return err
}

// Submit runs one message through the pipeline and returns its settlement
// outcome, for the synchronous API-caller path (spec §4.8) alongside the
// queue consumer's OnMessage. A non-nil error means the message could not be
// processed at all (not a business rejection) and the caller should treat it
// as a processing failure rather than a settlement result.
func (p *Pipeline) Submit(ctx context.Context, wireBytes []byte) (SubmitResult, error) {
	req, err := ParseAndValidate(wireBytes)
	if err != nil {
		metrics.IngestionMessagesTotal.WithLabelValues("invalid_xml").Inc()
		p.auditInvalidXML(ctx, wireBytes, err)
		p.emitOutbound(ctx, StatusReport{Status: GroupStatusRejected, Reason: ReasonInvalidFileFormat})
		return SubmitResult{Status: domain.StatusRejected}, nil
	}

	admitted, err := p.ledger.Admit(ctx, req)
	if err != nil {
		metrics.IngestionMessagesTotal.WithLabelValues("admit_error").Inc()
		if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, domain.ErrInvalidTransfer) {
			p.emitOutbound(ctx, StatusReport{OriginalMsgID: req.MsgID.String(), OriginalE2EID: req.EndToEndID, Status: GroupStatusRejected, Reason: ReasonInvalidAccount})
			return SubmitResult{Status: domain.StatusRejected}, nil
		}
		return SubmitResult{}, err
	}
	if admitted.Duplicate {
		// Spec §4.8 step 3: duplicates are acknowledged silently, no
		// outbound report, no new ledger entries.
		metrics.IngestionMessagesTotal.WithLabelValues("duplicate").Inc()
		return SubmitResult{TransferID: admitted.TransferID, Status: admitted.Status, Duplicate: true}, nil
	}

	transfer := domain.Transfer{
		TransferID:      admitted.TransferID,
		MsgID:           req.MsgID,
		SourceAccountID: admitted.SourceAccountID,
		DestAccountID:   admitted.DestAccountID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Status:          domain.StatusPending,
		CreatedAt:       admitted.CreatedAt,
		DebtorName:      req.Debtor.Name,
		CreditorName:    req.Creditor.Name,
		CorrelationID:   req.CorrelationID,
	}

	result, err := p.compliance.Evaluate(ctx, transfer)
	if err != nil {
		metrics.IngestionMessagesTotal.WithLabelValues("compliance_error").Inc()
		return SubmitResult{}, err
	}
	if result.Status == domain.StatusBlockedAML {
		metrics.IngestionMessagesTotal.WithLabelValues("blocked_aml").Inc()
		p.emitOutbound(ctx, StatusReport{
			OriginalMsgID: req.MsgID.String(), OriginalE2EID: req.EndToEndID,
			Status: GroupStatusPending, Reason: ReasonSanctionsHold,
		})
		return SubmitResult{TransferID: admitted.TransferID, Status: domain.StatusBlockedAML}, nil
	}

	postResp, err := p.ledger.PostPrepared(ctx, admitted.TransferID)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			metrics.IngestionMessagesTotal.WithLabelValues("insufficient_funds").Inc()
			p.emitOutbound(ctx, StatusReport{
				OriginalMsgID: req.MsgID.String(), OriginalE2EID: req.EndToEndID,
				Status: GroupStatusRejected, Reason: ReasonInsufficientFunds,
			})
			return SubmitResult{TransferID: admitted.TransferID, Status: domain.StatusRejected}, nil
		}
		metrics.IngestionMessagesTotal.WithLabelValues("post_error").Inc()
		return SubmitResult{}, err
	}

	metrics.IngestionMessagesTotal.WithLabelValues("cleared").Inc()
	return SubmitResult{TransferID: admitted.TransferID, Status: postResp.Status}, nil
}

func (p *Pipeline) auditInvalidXML(ctx context.Context, wireBytes []byte, cause error) {
	entityID := uuid.New().String()
	p.audit.AppendBestEffort(ctx, "inbound_message", entityID, "INVALID_XML", map[string]any{
		"error":       cause.Error(),
		"byte_length": len(wireBytes),
	})
}

func (p *Pipeline) emitOutbound(ctx context.Context, report StatusReport) {
	if p.outbound == nil {
		return
	}
	body, err := MarshalPacs002(report)
	if err != nil {
		slog.Error("ingestion: marshal pacs.002 failed", "error", err)
		return
	}
	if err := p.outbound.PublishOutbound(ctx, body, report.OriginalMsgID); err != nil {
		metrics.IngestionMessagesTotal.WithLabelValues("outbound_publish_failed").Inc()
		slog.Error("ingestion: publish outbound pacs.002 failed", "error", err)
	}
}
