package httpapi

import (
	"net/http"
	"os"
	"strconv"

	"github.com/sentinelrtgs/core/internal/events"
	"github.com/sentinelrtgs/core/internal/metrics"
)

// Router builds the full HTTP surface (spec §4.8's synchronous API path,
// §4.6's manual review endpoint, operational /healthz and /metrics, and
// C10's /ws upgrade endpoint for the real-time event channel).
func Router(h *Handlers, hub *events.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/transfers", h.PostTransfer)             // POST
	mux.HandleFunc("/v1/compliance/", h.PostComplianceDecision) // POST /v1/compliance/{transfer_id}/decision
	mux.HandleFunc("/ws", events.ServeWS(hub))

	// Backpressure at the edge.
	// Prevents unbounded goroutine/pool queueing when DB is saturated.
	max := mustIntEnv("RTGS_HTTP_MAX_INFLIGHT", 64)
	return withConcurrencyLimit(mux, max)
}

func mustIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
		}
	})
}
