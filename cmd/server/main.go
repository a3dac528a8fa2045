package main

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinelrtgs/core/internal/audit"
	"github.com/sentinelrtgs/core/internal/compliance"
	"github.com/sentinelrtgs/core/internal/config"
	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/events"
	"github.com/sentinelrtgs/core/internal/fuzzy"
	"github.com/sentinelrtgs/core/internal/httpapi"
	"github.com/sentinelrtgs/core/internal/ingestion"
	"github.com/sentinelrtgs/core/internal/ledger"
	"github.com/sentinelrtgs/core/internal/mq"
	"github.com/sentinelrtgs/core/internal/rules"
	"github.com/sentinelrtgs/core/internal/store"
	"github.com/sentinelrtgs/core/internal/verifier"
)

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func main() {
	start := time.Now()
	cfg := config.Load()

	log.Printf("[startup] begin addr=%s migrate=%t", cfg.HTTP.Addr, cfg.DB.Migrate)

	cpu := runtime.GOMAXPROCS(0)
	maxConns := cfg.DB.MaxConns
	if maxConns <= 0 {
		maxConns = int32(clamp(cpu*4, 4, 50))
	}
	log.Printf("[startup] cpu=%d maxConns=%d", cpu, maxConns)

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	log.Printf("[startup] connecting to DB")
	pool, err := store.NewPool(startCtx, store.PoolConfig{
		DSN:               cfg.DB.DSN,
		MaxConns:          maxConns,
		MinConns:          1,
		HealthCheckPeriod: 10 * time.Second,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
	})
	if err != nil {
		log.Fatalf("[startup] db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.DB.Migrate {
		log.Printf("[startup] running migrations")
		if err := store.Migrate(startCtx, pool); err != nil {
			log.Fatalf("[startup] migrations failed: %v", err)
		}
		log.Printf("[startup] migrations complete")
	} else {
		log.Printf("[startup] migrations disabled")
	}

	// Event fan-out (C10): hub runs for the process lifetime; Run's ctx
	// cancellation is what drains it on shutdown.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	hub := events.NewHub()
	go hub.Run(runCtx)
	publisher := events.NewPublisher(hub, pool)

	auditLog := audit.New(pool)
	ledgerEngine := ledger.New(pool, auditLog, publisher, ledger.RetryPolicy{
		Attempts:       cfg.Payment.RetryAttempts,
		InitialBackoff: cfg.Payment.RetryInitialBackoff,
		Multiplier:     cfg.Payment.RetryMultiplier,
	}, cfg.Payment.TransactionTimeout)

	log.Printf("[startup] loading sanctions watchlist into fuzzy matcher")
	matcher := fuzzy.NewMatcher(pool)
	if err := matcher.RefreshFromDB(startCtx, cfg.Rules.MediumRiskThreshold, []domain.SanctionSource{
		domain.SourceOFAC, domain.SourceEU, domain.SourceUN,
	}); err != nil {
		log.Fatalf("[startup] sanctions refresh failed: %v", err)
	}

	rulesEngine := rules.NewEngine(rules.Thresholds{
		HighRiskScore:   cfg.Rules.HighRiskThreshold,
		MediumRiskScore: cfg.Rules.MediumRiskThreshold,
		LowRiskScore:    rules.DefaultThresholds().LowRiskScore,
		AmountThreshold: decimal.NewFromFloat(cfg.Rules.AmountThreshold),
		RiskAddBlockAt:  rules.DefaultThresholds().RiskAddBlockAt,
	})
	screener := compliance.New(pool, matcher, rulesEngine, auditLog, publisher, cfg.Fuzzy.LevenshteinThreshold)

	var outbound *mq.Client
	mqClient, err := mq.Dial(mq.Config{
		URL:                cfg.MQ.URL,
		InboundExchange:    cfg.MQ.InboundExchange,
		InboundQueue:       cfg.MQ.InboundQueue,
		InboundDLQ:         cfg.MQ.InboundDLQ,
		OutboundExchange:   cfg.MQ.OutboundExchange,
		OutboundRoutingKey: cfg.MQ.OutboundRoutingKey,
	})
	if err != nil {
		log.Printf("[startup] mq unavailable, running without queue consumer: %v", err)
	} else {
		outbound = mqClient
		defer mqClient.Close()
	}

	pipeline := ingestion.New(ledgerEngine, screener, auditLog, outbound)

	if mqClient != nil {
		go func() {
			handler := func(ctx context.Context, body []byte, _ string) error {
				return pipeline.OnMessage(ctx, body)
			}
			if err := mqClient.ConsumeInbound(runCtx, "settlement-core", handler); err != nil {
				log.Printf("[ingestion] consumer stopped: %v", err)
			}
		}()
	}

	chainVerifier := verifier.New(pool, auditLog, cfg.Audit.HourlyVerifyEnabled, cfg.Audit.DailyVerifyAt)
	go chainVerifier.RunHourly(runCtx)
	go chainVerifier.RunDaily(runCtx)

	h := httpapi.NewHandlers(pipeline, screener)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpapi.Router(h, hub),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf(
		"[startup] ready in %s, listening on %s",
		time.Since(start).Truncate(time.Millisecond),
		cfg.HTTP.Addr,
	)

	log.Fatal(srv.ListenAndServe())
}
