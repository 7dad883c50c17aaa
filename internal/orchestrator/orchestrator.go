// Package orchestrator implements the Orchestrator (spec.md §4.I): the
// single process-level coordinator that wires the Ingestor, Entity
// Resolver, Scoring Engine, Alert Monitor, Playbook Router and
// Outreach Generator together over the event bus, and exposes the
// read-only query surface an external HTTP layer would call.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/alert"
	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/eventbus"
	"github.com/visioncortex/cortex/internal/ingest"
	"github.com/visioncortex/cortex/internal/outreach"
	"github.com/visioncortex/cortex/internal/playbook"
	"github.com/visioncortex/cortex/internal/resolver"
	"github.com/visioncortex/cortex/internal/scoring"
)

// provisionalDaysToWin is the placeholder days-to-win fed to the
// scoring pass that runs before the Playbook Router has produced a
// nominal window (spec.md §4.E Input.DaysToWin doc comment). Score and
// Priority are never recomputed after routing (spec.md §9 Open
// Question, resolved: "not recomputed; the provisional value is final
// for score") — only DaysToWin is taken from the route afterward.
const provisionalDaysToWin = 30

// resolvedPayload is the signal.resolved wire payload: the signal
// plus the canonical entity id the resolver attached it to.
type resolvedPayload struct {
	EntityID string
	Signal   domain.Signal
}

// Metrics is the get_metrics() query surface response (spec.md §4.I).
type Metrics struct {
	Entities  int
	Alerts    int
	Playbooks int
	Outreach  int
}

// Options bundles the already-constructed collaborators an
// Orchestrator wires together. Each collaborator owns its own state;
// the Orchestrator's own mutable state is two lifetime counters and
// the per-signal priority map used by SweepAlerts (spec.md §5 "No
// global singletons beyond the Orchestrator").
type Options struct {
	Bus               *eventbus.Bus
	Ingestor          *ingest.Ingestor
	Resolver          *resolver.Resolver
	Scoring           *scoring.Engine
	AlertMonitor      *alert.Monitor
	Router            *playbook.Router
	OutreachStore     *outreach.Store
	OutreachGenerator *outreach.Generator
	DefaultChannel    domain.Channel
	ShutdownGrace     time.Duration
	Log               *zap.Logger
}

// Orchestrator wires Components A-H and exposes the query surface and
// manual ingest path described in spec.md §4.I.
type Orchestrator struct {
	bus               *eventbus.Bus
	ingestor          *ingest.Ingestor
	resolver          *resolver.Resolver
	scoring           *scoring.Engine
	alertMonitor      *alert.Monitor
	router            *playbook.Router
	outreachStore     *outreach.Store
	outreachGenerator *outreach.Generator
	defaultChannel    domain.Channel
	shutdownGrace     time.Duration
	log               *zap.Logger

	playbookCount int64
	outreachCount int64

	// priorityOf tracks the last scored priority per signal id, so the
	// periodic Sweep can pass evaluateAgainst an up-to-date priority
	// for signals whose deadline was originally too far out to alert
	// on (spec.md §4.F "Monitor loop"). The Alert Monitor itself only
	// retains the last-seen signal body, not its scored priority.
	priorityMu sync.Mutex
	priorityOf map[string]domain.Priority
}

// New constructs an Orchestrator and wires its bus subscriptions. The
// Ingestor's adapters are not started until Start is called.
func New(opts Options) *Orchestrator {
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = domain.ChannelEmail
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		bus:               opts.Bus,
		ingestor:          opts.Ingestor,
		resolver:          opts.Resolver,
		scoring:           opts.Scoring,
		alertMonitor:      opts.AlertMonitor,
		router:            opts.Router,
		outreachStore:     opts.OutreachStore,
		outreachGenerator: opts.OutreachGenerator,
		defaultChannel:    opts.DefaultChannel,
		shutdownGrace:     opts.ShutdownGrace,
		log:               log,
		priorityOf:        make(map[string]domain.Priority),
	}
	o.wire()
	return o
}

// wire registers the single handle(event) per subscribed topic the
// Orchestrator owns (spec.md §3 "From event-emitter cascades to typed
// subscriptions"). No component subscribes to its own emissions: the
// only publisher of signal.ingested is the Ingestor (adapter-sourced
// signals); Ingest itself never republishes to this topic, so this
// subscription never re-enters processSignal for a manually-ingested
// signal.
func (o *Orchestrator) wire() {
	if o.bus == nil {
		return
	}
	o.bus.Subscribe(eventbus.TopicSignalIngested, func(ctx context.Context, ev eventbus.Event) error {
		s, ok := ev.Payload.(domain.Signal)
		if !ok {
			return fmt.Errorf("orchestrator: signal.ingested payload of unexpected type %T", ev.Payload)
		}
		_, err := o.processSignal(ctx, s)
		return err
	})
}

// Start starts the Ingestor's scheduled adapter polling.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.ingestor == nil {
		return nil
	}
	return o.ingestor.Start(ctx)
}

// Shutdown stops adapter polling, waiting up to the configured grace
// window for in-flight polls, then closes the bus (spec.md §4.I
// "Graceful shutdown"). Events still queued on the bus are not
// drained: bus shutdown lets running handler calls finish and drops
// the rest.
func (o *Orchestrator) Shutdown() {
	if o.ingestor != nil {
		o.ingestor.Shutdown(o.shutdownGrace)
	}
	if o.bus != nil {
		o.bus.Shutdown()
	}
}

// Ingest implements the manual-ingest query surface operation (spec.md
// §4.I): it normalizes and validates s itself (an adapter would
// normally do this), then runs resolve -> score -> route -> alert ->
// outreach synchronously and returns the resulting ScoredSignal. The
// pipeline stages themselves have all run when the call returns; the
// events those stages publish are delivered to bus subscribers
// asynchronously, and Ingest does not wait for those handlers.
//
// Ingest deliberately does not publish to signal.ingested: that topic
// is the Ingestor's raw-publish point for adapter-sourced signals, and
// the Orchestrator's own subscription on it (wire) is what drives the
// async pipeline for those. Republishing it here would hand this same
// signal to processSignal a second time through that subscription,
// double-incrementing the playbook/outreach counters and double-firing
// playbook.routed/outreach.generated, neither of which is idempotent.
// Instead it records a best-effort audit.log entry so external
// observers still see manual ingests go by.
func (o *Orchestrator) Ingest(ctx context.Context, s domain.Signal) (domain.ScoredSignal, error) {
	s.Normalize(time.Now())
	if err := s.Validate(); err != nil {
		return domain.ScoredSignal{}, err
	}

	if o.bus != nil {
		if _, err := o.bus.Publish(ctx, eventbus.TopicAuditLog, "signal.ingested.manual", map[string]string{"signal_id": s.ID}); err != nil {
			o.log.Warn("failed to publish manual ingest audit entry", zap.Error(err))
		}
	}

	return o.processSignal(ctx, s)
}

// processSignal runs the full resolve -> score -> route -> alert ->
// outreach pipeline for one normalized, validated signal, publishing
// each stage's event along the way. A failed publish on a critical
// topic (signal.resolved and later, spec.md §4.A criticalTopics) fails
// the whole operation rather than being swallowed; a failed publish on
// a non-critical topic (audit.log) is logged and dropped.
func (o *Orchestrator) processSignal(ctx context.Context, s domain.Signal) (domain.ScoredSignal, error) {
	entityID, err := o.resolver.Resolve(ctx, s)
	if err != nil {
		o.publishAudit(ctx, "resolver", s.ID, err)
		return domain.ScoredSignal{}, fmt.Errorf("orchestrator: resolve signal %s: %w", s.ID, err)
	}
	if err := o.publish(ctx, eventbus.TopicSignalResolved, "signal.resolved", resolvedPayload{EntityID: entityID, Signal: s}); err != nil {
		return domain.ScoredSignal{}, fmt.Errorf("orchestrator: publish signal.resolved for %s: %w", s.ID, err)
	}

	weights := o.scoring.Weights()
	now := time.Now()
	provisional := scoring.Score(scoring.Input{
		Triggers:    s.Triggers,
		ObservedAtU: s.ObservedAt.Unix(),
		NowU:        now.Unix(),
		DaysToWin:   provisionalDaysToWin,
	}, weights)

	route := o.router.Route(s, provisional.Score, s.Triggers)
	route.SignalID = s.ID

	// Score and Priority are the provisional pass's values, unchanged
	// by routing (spec.md §9 Open Question, resolved against
	// recomputation). Only DaysToWin is taken from the route, since
	// NominalDaysToWin is route metadata, not a scoring output.
	scored := domain.ScoredSignal{
		Signal:       s,
		EntityID:     entityID,
		Score:        provisional.Score,
		ProbToWin:    provisional.ProbToWin,
		DaysToWin:    route.NominalDaysToWin(),
		Priority:     provisional.Priority,
		PlaybookName: route.Playbook,
	}
	if err := o.publish(ctx, eventbus.TopicSignalScored, "signal.scored", scored); err != nil {
		return domain.ScoredSignal{}, fmt.Errorf("orchestrator: publish signal.scored for %s: %w", s.ID, err)
	}

	o.priorityMu.Lock()
	o.priorityOf[s.ID] = scored.Priority
	o.priorityMu.Unlock()

	if _, err := o.alertMonitor.Evaluate(ctx, entityID, scored); err != nil {
		o.publishAudit(ctx, "alert_monitor", s.ID, err)
		return scored, fmt.Errorf("orchestrator: evaluate alerts for %s: %w", s.ID, err)
	}

	atomic.AddInt64(&o.playbookCount, 1)
	if err := o.publish(ctx, eventbus.TopicPlaybookRouted, "playbook.routed", route); err != nil {
		return scored, fmt.Errorf("orchestrator: publish playbook.routed for %s: %w", s.ID, err)
	}

	if o.outreachGenerator != nil {
		deadline, derr := alert.ExtractDeadline(s)
		if derr != nil {
			deadline = now
		}
		msg, gerr := o.outreachGenerator.Generate(scored, o.defaultChannel, deadline, now)
		if gerr != nil {
			o.log.Debug("outreach generation skipped", zap.String("signal_id", s.ID), zap.Error(gerr))
		} else {
			atomic.AddInt64(&o.outreachCount, 1)
			if err := o.publish(ctx, eventbus.TopicOutreachGenerated, "outreach.generated", msg); err != nil {
				return scored, fmt.Errorf("orchestrator: publish outreach.generated for %s: %w", s.ID, err)
			}
		}
	}

	return scored, nil
}

// publish forwards to the bus, escalating a failure into a returned
// error for critical topics (spec.md §7) and otherwise logging and
// dropping it.
func (o *Orchestrator) publish(ctx context.Context, topic eventbus.Topic, eventType string, payload interface{}) error {
	if o.bus == nil {
		return nil
	}
	if _, err := o.bus.Publish(ctx, topic, eventType, payload); err != nil {
		if topic.IsCritical() {
			return err
		}
		o.log.Warn("publish failed", zap.String("topic", string(topic)), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) publishAudit(ctx context.Context, component, signalID string, cause error) {
	o.log.Error("pipeline stage failed", zap.String("component", component), zap.String("signal_id", signalID), zap.Error(cause))
	if o.bus == nil {
		return
	}
	_, _ = o.bus.Publish(ctx, eventbus.TopicAuditLog, "pipeline.failed", map[string]string{
		"component": component,
		"signal_id": signalID,
		"reason":    cause.Error(),
	})
}

// SearchEntities implements search_entities(query, limit) -> [Entity]
// (spec.md §4.I).
func (o *Orchestrator) SearchEntities(query string, limit int) []domain.Entity {
	return o.resolver.Search(query, limit)
}

// GetEntityTimeline implements get_entity_timeline(entity_id) ->
// [Signal] (spec.md §4.I).
func (o *Orchestrator) GetEntityTimeline(entityID string) ([]domain.Signal, bool) {
	e, ok := o.resolver.Get(entityID)
	if !ok {
		return nil, false
	}
	return e.Signals, true
}

// GetActiveAlerts implements get_active_alerts(priority?) -> [Alert],
// ordered by days_remaining ascending (spec.md §4.I). Pass "" for
// priority to return every active alert.
func (o *Orchestrator) GetActiveAlerts(priority domain.Priority) []domain.Alert {
	return o.alertMonitor.ActiveAlerts(priority)
}

// GetMetrics implements get_metrics() -> {entities, alerts, playbooks,
// outreach} (spec.md §4.I).
func (o *Orchestrator) GetMetrics() Metrics {
	return Metrics{
		Entities:  len(o.resolver.Search("", 0)),
		Alerts:    len(o.alertMonitor.ActiveAlerts("")),
		Playbooks: int(atomic.LoadInt64(&o.playbookCount)),
		Outreach:  int(atomic.LoadInt64(&o.outreachCount)),
	}
}

// SweepAlerts re-evaluates every outstanding signal against the
// current clock and garbage-collects alerts whose deadline has long
// passed (spec.md §4.F "Monitor loop" and "Cleanup"). Callers run this
// on the alert_check_interval_hours cadence.
func (o *Orchestrator) SweepAlerts(ctx context.Context) {
	o.alertMonitor.Sweep(ctx, func(signalID string) (string, domain.Priority) {
		o.priorityMu.Lock()
		priority := o.priorityOf[signalID]
		o.priorityMu.Unlock()

		for _, e := range o.resolver.Search("", 0) {
			for _, s := range e.Signals {
				if s.ID == signalID {
					return e.ID, priority
				}
			}
		}
		return "", priority
	})
	removed := o.alertMonitor.CollectGarbage(time.Now())
	if removed > 0 {
		o.log.Info("alert garbage collected", zap.Int("removed", removed))
	}
}
