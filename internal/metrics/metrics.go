// Package metrics exposes the prometheus collectors the settlement core
// records against, following the promauto registration style of
// replay-api's pkg/infra/metrics/prometheus.go.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransfersPostedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtgs_transfers_posted_total",
			Help: "Total transfers reaching a terminal status, by status.",
		},
		[]string{"status"},
	)

	ComplianceDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtgs_compliance_decisions_total",
			Help: "Total compliance screening decisions, by decision.",
		},
		[]string{"decision"},
	)

	LedgerPostDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtgs_ledger_post_duration_seconds",
			Help:    "Duration of ledger posting attempts, including retries.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	LedgerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtgs_ledger_retries_total",
			Help: "Total retry attempts taken by the ledger posting loop, by reason.",
		},
		[]string{"reason"},
	)

	AuditAppendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtgs_audit_append_failures_total",
			Help: "Total audit log append failures.",
		},
	)

	AuditChainBreachesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtgs_audit_chain_breaches_total",
			Help: "Total hash-chain breaches detected by the scheduled verifier.",
		},
	)

	AuditVerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rtgs_audit_verify_duration_seconds",
			Help:    "Duration of a scheduled chain-verification sweep.",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	IngestionMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtgs_ingestion_messages_total",
			Help: "Total inbound pacs.008 messages processed, by outcome.",
		},
		[]string{"outcome"},
	)

	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtgs_event_publish_failures_total",
			Help: "Total event fan-out publish failures, by topic.",
		},
		[]string{"topic"},
	)
)

// Handler exposes the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLedgerPost observes the duration of a Post/PostPrepared call.
func RecordLedgerPost(outcome string, d time.Duration) {
	LedgerPostDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
