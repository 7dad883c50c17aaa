// Package main is the Vision Cortex launcher: loads configuration,
// wires the Event Bus, Entity Resolver, Scoring Engine, Alert Monitor,
// Playbook Router, Outreach Generator and Ingestor into an
// Orchestrator, starts adapter polling, and runs until a shutdown
// signal arrives.
//
// Exit codes (spec.md §6 "CLI surface"): 0 normal, 1 configuration
// error, 2 mirror permanently unreachable at startup.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/alert"
	"github.com/visioncortex/cortex/internal/config"
	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/enrichment"
	"github.com/visioncortex/cortex/internal/eventbus"
	"github.com/visioncortex/cortex/internal/ingest"
	"github.com/visioncortex/cortex/internal/orchestrator"
	"github.com/visioncortex/cortex/internal/outreach"
	"github.com/visioncortex/cortex/internal/playbook"
	"github.com/visioncortex/cortex/internal/resolver"
	"github.com/visioncortex/cortex/internal/scoring"
	"github.com/visioncortex/cortex/internal/telemetry"
)

const (
	exitOK             = 0
	exitConfigError    = 1
	exitMirrorFatal    = 2
	enrichmentTimeout  = 5 * time.Second
	shutdownGrace      = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Configuration ──────────────────────────────────────────────
	cfgPath := os.Getenv("CORTEX_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zap.NewExample().Error("configuration error", zap.Error(err))
		return exitConfigError
	}

	// ── Structured logger ──────────────────────────────────────────
	logger, err := telemetry.NewLogger(os.Getenv("CORTEX_ENV") == "development")
	if err != nil {
		return exitConfigError
	}
	defer logger.Sync()

	// ── OpenTelemetry ────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		if tp, err := telemetry.InitTracer(ctx, "cortex", endpoint); err != nil {
			logger.Warn("otel tracer init failed", zap.Error(err))
		} else {
			defer tp.Shutdown(ctx)
		}
		if mp, err := telemetry.InitMeterProvider(ctx, "cortex", endpoint); err != nil {
			logger.Warn("otel meter init failed", zap.Error(err))
		} else {
			defer mp.Shutdown(ctx)
		}
	}

	// ── Event Bus + external mirror ─────────────────────────────────
	mirror, err := eventbus.NewRedisMirror(cfg.RedisURL, eventbus.DefaultBackoffPolicy(), logger)
	if err != nil {
		logger.Error("event bus mirror unreachable at startup", zap.String("redis_url", cfg.RedisURL), zap.Error(err))
		return exitMirrorFatal
	}
	bus := eventbus.New(eventbus.Config{}, mirror, logger)

	// ── NATS (optional enrichment side channel) ─────────────────────
	var enrichRequester playbook.EnrichmentRequester
	if natsConn, err := nats.Connect(nats.DefaultURL); err != nil {
		logger.Warn("nats unavailable, playbook enrichment deferral disabled", zap.Error(err))
	} else {
		defer natsConn.Close()
		enrichRequester = enrichment.NewNATSRequester(natsConn, logger)
	}

	// ── Entity Resolver ──────────────────────────────────────────────
	var resolverOpts []resolver.Option
	if cfg.LLMResolverEnabled {
		resolverOpts = append(resolverOpts,
			resolver.WithLLMResolver(resolver.NewHTTPLLMResolverClient(cfg.LLMResolverBaseURL, cfg.LLMResolverModel), cfg.LLMResolverModel))
	}
	entityResolver := resolver.New(bus, logger, resolverOpts...)

	// ── Scoring Engine ───────────────────────────────────────────────
	scoringEngine := scoring.NewEngine(mergeWeights(cfg.ScoringWeights))

	// ── Alert Monitor ────────────────────────────────────────────────
	alertMonitor := alert.NewMonitor(bus, thresholdsFrom(cfg.AlertThresholds), logger)

	// ── Outreach Generator ───────────────────────────────────────────
	outreachStore := outreach.NewStore()
	outreachGenerator := outreach.NewGenerator(outreachStore)

	// ── Playbook Router ──────────────────────────────────────────────
	router := playbook.NewRouter(enrichRequester, outreachStore.ConversionByPlaybook, enrichmentTimeout)

	// ── Ingestor ─────────────────────────────────────────────────────
	// Source Adapters are a deployment-specific integration (each
	// points at a real upstream court-records site, regulatory
	// calendar or talent database) and are registered by the deploying
	// operator via ingestor.Register, not fabricated here.
	ingestor := ingest.New(bus, cfg.MaxSignalsPerBatch, logger)

	// ── Orchestrator ─────────────────────────────────────────────────
	orch := orchestrator.New(orchestrator.Options{
		Bus:               bus,
		Ingestor:          ingestor,
		Resolver:          entityResolver,
		Scoring:           scoringEngine,
		AlertMonitor:      alertMonitor,
		Router:            router,
		OutreachStore:     outreachStore,
		OutreachGenerator: outreachGenerator,
		DefaultChannel:    domain.Channel(cfg.DefaultOutreachChannel),
		ShutdownGrace:     shutdownGrace,
		Log:               logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("orchestrator start failed", zap.Error(err))
		return exitConfigError
	}
	logger.Info("cortex started", zap.String("redis_url", cfg.RedisURL))

	stopSweep := runSweepLoop(ctx, orch, cfg.AlertCheckInterval(), logger)
	defer stopSweep()

	waitForShutdownSignal()
	logger.Info("shutting down")
	orch.Shutdown()
	return exitOK
}

// mergeWeights overlays cfg's non-zero weight fields onto the
// documented scoring defaults (spec.md §6 "scoring_weights: optional
// override map").
func mergeWeights(override config.ScoringWeights) scoring.Weights {
	w := scoring.DefaultWeights()
	if override.Urgency != 0 {
		w.Urgency = override.Urgency
	}
	if override.FinancialStress != 0 {
		w.FinancialStress = override.FinancialStress
	}
	if override.OperationalDisruption != 0 {
		w.OperationalDisruption = override.OperationalDisruption
	}
	if override.CompetitiveThreat != 0 {
		w.CompetitiveThreat = override.CompetitiveThreat
	}
	if override.RegulatoryRisk != 0 {
		w.RegulatoryRisk = override.RegulatoryRisk
	}
	if override.Strategic != 0 {
		w.Strategic = override.Strategic
	}
	return w
}

func thresholdsFrom(in []int) []domain.Threshold {
	if len(in) == 0 {
		return domain.DefaultThresholds
	}
	out := make([]domain.Threshold, len(in))
	for i, t := range in {
		out[i] = domain.Threshold(t)
	}
	return out
}

// runSweepLoop runs the Alert Monitor's periodic sweep on
// alert_check_interval_hours, returning a stop function.
func runSweepLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, logger *zap.Logger) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				orch.SweepAlerts(ctx)
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
