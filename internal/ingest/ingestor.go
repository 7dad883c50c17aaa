// Package ingest implements the Ingestor (spec.md §4.C): owns the
// registered Source Adapters, schedules each on its own cadence,
// normalizes every emitted Signal and publishes it to signal.ingested.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/adapter"
	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/eventbus"
)

// registration pairs an adapter with its industry tag and an
// in-flight guard so concurrent polls of the same adapter are
// disallowed (spec.md §4.C "single in-flight poll per adapter").
type registration struct {
	adapter  adapter.Adapter
	industry string
	entryID  cron.EntryID
	inFlight int32
	failures int64
}

// Ingestor owns a set of Source Adapters grouped by industry tag and
// schedules each at its own cadence.
type Ingestor struct {
	mu            sync.Mutex
	registrations map[string]*registration // adapter name -> registration
	cron          *cron.Cron
	bus           *eventbus.Bus
	maxPerBatch   int
	log           *zap.Logger

	wg sync.WaitGroup
}

// New creates an Ingestor publishing to bus. maxPerBatch caps the
// number of signals emitted per poll (spec.md §6 max_signals_per_batch,
// default 100).
func New(bus *eventbus.Bus, maxPerBatch int, log *zap.Logger) *Ingestor {
	if maxPerBatch <= 0 {
		maxPerBatch = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		registrations: make(map[string]*registration),
		cron:          cron.New(cron.WithSeconds()),
		bus:           bus,
		maxPerBatch:   maxPerBatch,
		log:           log,
	}
}

// Register adds an adapter under an industry tag. Must be called
// before Start.
func (ig *Ingestor) Register(industry string, a adapter.Adapter) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	ig.registrations[a.Name()] = &registration{adapter: a, industry: industry}
}

// Start schedules every registered adapter at its declared cadence
// using independent timers (spec.md §4.C).
func (ig *Ingestor) Start(ctx context.Context) error {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	for name, reg := range ig.registrations {
		reg := reg
		sched := cron.ConstantDelaySchedule{Every: reg.adapter.Cadence()}
		id := ig.cron.Schedule(sched, cron.FuncJob(func() {
			ig.pollOne(ctx, reg)
		}))
		reg.entryID = id
		ig.log.Info("adapter scheduled", zap.String("adapter", name),
			zap.String("industry", reg.industry), zap.Duration("cadence", reg.adapter.Cadence()))
	}
	ig.cron.Start()
	return nil
}

// pollOne runs a single poll of reg.adapter, skipping if a poll for
// this adapter is already in flight.
func (ig *Ingestor) pollOne(ctx context.Context, reg *registration) {
	if !atomic.CompareAndSwapInt32(&reg.inFlight, 0, 1) {
		ig.log.Debug("skipping poll, already in flight", zap.String("adapter", reg.adapter.Name()))
		return
	}
	ig.wg.Add(1)
	defer func() {
		atomic.StoreInt32(&reg.inFlight, 0)
		ig.wg.Done()
	}()

	pollCtx, cancel := context.WithTimeout(ctx, reg.adapter.Cadence()*2)
	defer cancel()

	signals, err := reg.adapter.Poll(pollCtx)
	if err != nil {
		atomic.AddInt64(&reg.failures, 1)
		ig.log.Error("adapter poll failed", zap.String("adapter", reg.adapter.Name()), zap.Error(err))
		return
	}

	if len(signals) > ig.maxPerBatch {
		ig.log.Warn("adapter exceeded batch cap, truncating",
			zap.String("adapter", reg.adapter.Name()), zap.Int("emitted", len(signals)), zap.Int("cap", ig.maxPerBatch))
		signals = signals[:ig.maxPerBatch]
	}

	now := time.Now()
	for _, s := range signals {
		if err := ig.ingestOne(ctx, s, now); err != nil {
			// signal.ingested is a critical topic (spec.md §7): a
			// failed publish fails this signal's ingestion, tracked
			// the same way a failed Poll is.
			atomic.AddInt64(&reg.failures, 1)
			ig.log.Error("failed to ingest signal", zap.String("adapter", reg.adapter.Name()), zap.String("signal_id", s.ID), zap.Error(err))
		}
	}
}

// ingestOne normalizes and validates one raw signal, publishing it to
// signal.ingested on success or audit.log on validation failure
// (spec.md §4.C, §7).
func (ig *Ingestor) ingestOne(ctx context.Context, s domain.Signal, now time.Time) error {
	s.Normalize(now)

	if err := s.Validate(); err != nil {
		ig.log.Warn("dropping invalid signal", zap.Error(err))
		if ig.bus != nil {
			_, _ = ig.bus.Publish(ctx, eventbus.TopicAuditLog, "signal.rejected", map[string]string{
				"signal_id": s.ID,
				"reason":    err.Error(),
			})
		}
		return nil
	}

	if ig.bus == nil {
		return nil
	}
	if _, err := ig.bus.Publish(ctx, eventbus.TopicSignalIngested, "signal.ingested", s); err != nil {
		return err
	}
	return nil
}

// FailureCount reports the failure counter for a named adapter.
func (ig *Ingestor) FailureCount(adapterName string) int64 {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	if reg, ok := ig.registrations[adapterName]; ok {
		return atomic.LoadInt64(&reg.failures)
	}
	return 0
}

// Shutdown cancels all timers, awaits in-flight polls up to grace,
// then returns regardless (spec.md §4.C "cooperative... force-stop").
func (ig *Ingestor) Shutdown(grace time.Duration) {
	stopCtx := ig.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(grace):
	}

	done := make(chan struct{})
	go func() {
		ig.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		ig.log.Warn("ingestor shutdown grace window elapsed with polls still in flight")
	}
}
