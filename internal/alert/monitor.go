// Package alert implements the Alert Monitor (spec.md §4.F): deadline
// extraction, the T-30/14/7/2 threshold state machine, deduplication
// keyed on (signal id, threshold), acknowledgement and cleanup.
package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/eventbus"
)

// deadlineFields lists the recognized data-bag keys in precedence
// order (spec.md §4.F step 1).
var deadlineFields = []string{
	"deadline", "auction_date", "sale_date", "hearing_date", "pdufa_date",
	"buyout_deadline", "response_deadline", "expiration_date", "maturity_date",
}

// DeadlineParseError means no recognized deadline field parsed to a
// valid timestamp. Per spec.md §7 this is normal control flow:
// the signal is skipped silently, never surfaced as an audit event.
type DeadlineParseError struct {
	SignalID string
}

func (e *DeadlineParseError) Error() string {
	return fmt.Sprintf("alert: no recognized deadline for signal %s", e.SignalID)
}

// ExtractDeadline returns the first recognized deadline field from a
// signal's data bag that parses to a timestamp, in precedence order.
func ExtractDeadline(s domain.Signal) (time.Time, error) {
	for _, field := range deadlineFields {
		raw, ok := s.Data[field]
		if !ok {
			continue
		}
		if t, ok := parseTimestamp(raw); ok {
			return t, nil
		}
	}
	return time.Time{}, &DeadlineParseError{SignalID: s.ID}
}

func parseTimestamp(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type dedupeKey struct {
	signalID  string
	threshold domain.Threshold
}

// Monitor owns the alert dedupe set and the active-alert map
// (spec.md §5 "Shared state"); both are guarded by mu.
type Monitor struct {
	mu       sync.Mutex
	alerts   map[string]*domain.Alert   // alert id -> alert
	fired    map[dedupeKey]string       // (signal,threshold) -> alert id, retained forever
	outstand map[string]domain.Signal   // signal id -> last-seen scored signal data bag, for the periodic sweep
	thresholds []domain.Threshold

	bus *eventbus.Bus
	log *zap.Logger
}

// NewMonitor creates a Monitor watching the given thresholds (largest
// first), publishing to bus.
func NewMonitor(bus *eventbus.Bus, thresholds []domain.Threshold, log *zap.Logger) *Monitor {
	if len(thresholds) == 0 {
		thresholds = domain.DefaultThresholds
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		alerts:     make(map[string]*domain.Alert),
		fired:      make(map[dedupeKey]string),
		outstand:   make(map[string]domain.Signal),
		thresholds: thresholds,
		bus:        bus,
		log:        log,
	}
}

// priorityFor implements the priority rule from spec.md §4.F.
func priorityFor(threshold domain.Threshold, signalPriority domain.Priority) domain.Priority {
	switch threshold {
	case domain.Threshold2:
		return domain.PriorityCritical
	case domain.Threshold7:
		if signalPriority == domain.PriorityCritical {
			return domain.PriorityCritical
		}
		return domain.PriorityHigh
	case domain.Threshold14:
		if signalPriority == domain.PriorityCritical {
			return domain.PriorityHigh
		}
		return domain.PriorityMedium
	default: // 30
		return domain.PriorityMedium
	}
}

func actionItemsFor(threshold domain.Threshold) []string {
	switch threshold {
	case domain.Threshold2:
		return []string{"escalate to decision-maker immediately", "prepare final offer", "confirm closing logistics"}
	case domain.Threshold7:
		return []string{"schedule final call", "confirm terms in writing", "line up closing resources"}
	case domain.Threshold14:
		return []string{"send follow-up outreach", "validate financing path"}
	default: // 30
		return []string{"open file", "begin research", "initial outreach"}
	}
}

// Evaluate runs threshold detection for one scored signal (spec.md
// §4.F step 2), publishing alert.triggered for every newly-crossed
// threshold. It is idempotent per (signal id, threshold): repeated
// calls for the same pair never create a second alert.
func (m *Monitor) Evaluate(ctx context.Context, entityID string, scored domain.ScoredSignal) ([]domain.Alert, error) {
	s := scored.Signal
	deadline, err := ExtractDeadline(s)
	if err != nil {
		return nil, nil // DeadlineParseError: ignore silently, not an error condition
	}

	m.mu.Lock()
	m.outstand[s.ID] = s
	m.mu.Unlock()

	return m.evaluateAgainst(ctx, s, entityID, scored.Priority, deadline, time.Now())
}

func (m *Monitor) evaluateAgainst(ctx context.Context, s domain.Signal, entityID string, signalPriority domain.Priority, deadline, now time.Time) ([]domain.Alert, error) {
	daysRemaining := deadline.Sub(now).Hours() / 24.0
	if daysRemaining <= 0 {
		return nil, nil // past deadline: ignored (spec.md §8 boundary behavior)
	}

	var fired []domain.Alert
	for _, threshold := range m.thresholds {
		if !(daysRemaining <= float64(threshold)) {
			continue
		}

		m.mu.Lock()
		key := dedupeKey{signalID: s.ID, threshold: threshold}
		_, exists := m.fired[key]
		if exists {
			m.mu.Unlock()
			continue
		}

		a := domain.Alert{
			ID:            uuid.NewString(),
			SignalID:      s.ID,
			EntityID:      entityID,
			Deadline:      deadline,
			Threshold:     threshold,
			DaysRemaining: daysRemaining,
			Priority:      priorityFor(threshold, signalPriority),
			Message:       fmt.Sprintf("%s: %.0f day(s) remaining until deadline", s.Type, daysRemaining),
			ActionItems:   actionItemsFor(threshold),
			CreatedAt:     now,
		}
		m.fired[key] = a.ID
		m.alerts[a.ID] = &a
		m.mu.Unlock()

		// alert.triggered is a critical topic (spec.md §7): a failed
		// publish fails this evaluation rather than being dropped.
		if m.bus != nil {
			if _, err := m.bus.Publish(ctx, eventbus.TopicAlertTriggered, "alert.triggered", a); err != nil {
				return fired, fmt.Errorf("alert: publish alert.triggered for signal %s threshold %d: %w", s.ID, threshold, err)
			}
		}
		fired = append(fired, a)
	}
	return fired, nil
}

// Sweep re-evaluates every outstanding signal against the current
// clock (spec.md §4.F "Monitor loop"), so thresholds are crossed even
// for signals whose deadlines were more than 30 days out at ingestion.
func (m *Monitor) Sweep(ctx context.Context, resolveEntity func(signalID string) (string, domain.Priority)) {
	m.mu.Lock()
	signals := make([]domain.Signal, 0, len(m.outstand))
	for _, s := range m.outstand {
		signals = append(signals, s)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, s := range signals {
		deadline, err := ExtractDeadline(s)
		if err != nil {
			continue
		}
		entityID, priority := resolveEntity(s.ID)
		if _, err := m.evaluateAgainst(ctx, s, entityID, priority, deadline, now); err != nil {
			m.log.Error("sweep evaluate failed", zap.String("signal_id", s.ID), zap.Error(err))
		}
	}
}

// Acknowledge idempotently sets the acknowledged flag and emits
// alert.acknowledged at most once: the flag is set before publishing,
// so if that publish fails the error is returned and a later call
// does not publish again.
func (m *Monitor) Acknowledge(ctx context.Context, alertID string) error {
	m.mu.Lock()
	a, ok := m.alerts[alertID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert %s not found", alertID)
	}
	alreadyAcked := a.Acknowledged
	a.Acknowledged = true
	snapshot := *a
	m.mu.Unlock()

	if alreadyAcked {
		return nil
	}

	// alert.acknowledged is a critical topic (spec.md §7): a failed
	// publish fails the acknowledgement rather than being dropped.
	if m.bus != nil {
		if _, err := m.bus.Publish(ctx, eventbus.TopicAlertAcknowledged, "alert.acknowledged", snapshot); err != nil {
			return fmt.Errorf("alert: publish alert.acknowledged for %s: %w", alertID, err)
		}
	}
	return nil
}

// ActiveAlerts returns alerts matching priority (empty string = any),
// ordered ascending by days remaining (spec.md §4.I).
func (m *Monitor) ActiveAlerts(priority domain.Priority) []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if priority != "" && a.Priority != priority {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DaysRemaining != out[j].DaysRemaining {
			return out[i].DaysRemaining < out[j].DaysRemaining
		}
		if out[i].Threshold != out[j].Threshold {
			return out[i].Threshold < out[j].Threshold
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CollectGarbage removes alerts whose deadline is more than 30 days
// in the past, retaining their dedupe record to prevent late re-fire
// (spec.md §4.F Cleanup).
func (m *Monitor) CollectGarbage(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, a := range m.alerts {
		if now.Sub(a.Deadline) > 30*24*time.Hour {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed
}
