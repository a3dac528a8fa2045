// Package httpapi exposes the synchronous HTTP surface named in spec §4.8
// (the "API callers" path alongside the queue consumer) and §4.6's manual
// compliance review endpoint. Style follows the teacher's
// decodeJSON/writeJSON/httpStatusForErr handlers: sentinel errors mapped to
// status codes via errors.Is, never leaking internals on 5xx.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelrtgs/core/internal/compliance"
	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/ingestion"
)

// Handlers holds the dependencies the HTTP surface dispatches into.
type Handlers struct {
	pipeline *ingestion.Pipeline
	screener *compliance.Screener
}

// NewHandlers builds a Handlers.
func NewHandlers(pipeline *ingestion.Pipeline, screener *compliance.Screener) *Handlers {
	return &Handlers{pipeline: pipeline, screener: screener}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidXML):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrReplayViolation):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	// Don’t leak internals on 5xx.
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}

// transferResponse is the synchronous answer to POST /v1/transfers: the
// settlement result a polling caller would otherwise learn from
// /topic/transfers.
type transferResponse struct {
	TransferID uuid.UUID             `json:"transfer_id"`
	Status     domain.TransferStatus `json:"status"`
	Duplicate  bool                  `json:"duplicate"`
}

// PostTransfer is the synchronous API-caller path spec §4.8 mentions
// alongside the queue consumer: the body is one raw pacs.008 message, run
// through the same Pipeline.Submit the AMQP consumer uses.
func (h *Handlers) PostTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "could not read body")
		return
	}
	defer r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := h.pipeline.Submit(ctx, body)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}

	writeJSON(w, http.StatusOK, transferResponse{
		TransferID: result.TransferID,
		Status:     result.Status,
		Duplicate:  result.Duplicate,
	})
}

// reviewRequest is the JSON body of POST /v1/compliance/{transfer_id}/decision.
type reviewRequest struct {
	Decision domain.ReviewOutcome `json:"decision"`
	Reviewer string               `json:"reviewer"`
	Notes    string               `json:"notes"`
}

type reviewResponse struct {
	TransferID uuid.UUID             `json:"transfer_id"`
	Status     domain.TransferStatus `json:"status"`
}

// PostComplianceDecision implements apply_manual (spec §4.6) as
// POST /v1/compliance/{transfer_id}/decision.
func (h *Handlers) PostComplianceDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	transferID, ok := transferIDFromPath(r.URL.Path)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result, err := h.screener.ApplyManual(ctx, domain.ReviewDecision{
		TransferID: transferID,
		Decision:   req.Decision,
		Reviewer:   req.Reviewer,
		Notes:      req.Notes,
	})
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}

	writeJSON(w, http.StatusOK, reviewResponse{TransferID: result.TransferID, Status: result.Status})
}

// transferIDFromPath extracts {transfer_id} from
// /v1/compliance/{transfer_id}/decision.
func transferIDFromPath(path string) (uuid.UUID, bool) {
	trimmed := strings.TrimPrefix(path, "/v1/compliance/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[1] != "decision" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
