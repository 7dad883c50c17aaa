package adapter

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/domain"
)

// RegulatoryEvent is one upstream regulatory-calendar entry (an FDA
// PDUFA date, a clinical trial completion date, or similar).
type RegulatoryEvent struct {
	EventType string // "pdufa_date", "clinical_trial_completion", ...
	CompanyID string
	Company   string
	Ticker    string
	Date      time.Time
	Value     float64 // market-cap-at-risk or deal value, when known
}

// RegulatoryCalendarSource fetches the upcoming events for one poll.
type RegulatoryCalendarSource interface {
	Fetch(ctx context.Context) ([]RegulatoryEvent, error)
}

// RegulatoryCalendarAdapter emits pdufa_date / clinical_trial_completion
// signals (spec.md §4.B). It reuses the court-docket urgency formula
// since both are deadline-and-value shaped triggers; the regulatory
// date is simply a different source of "days to deadline".
type RegulatoryCalendarAdapter struct {
	source   RegulatoryCalendarSource
	cadence  time.Duration
	failures int64
	log      *zap.Logger
}

// NewRegulatoryCalendarAdapter wires a RegulatoryCalendarSource.
func NewRegulatoryCalendarAdapter(source RegulatoryCalendarSource, cadence time.Duration, log *zap.Logger) *RegulatoryCalendarAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegulatoryCalendarAdapter{source: source, cadence: cadence, log: log}
}

func (a *RegulatoryCalendarAdapter) Name() string           { return "regulatory_calendar" }
func (a *RegulatoryCalendarAdapter) Cadence() time.Duration { return a.cadence }
func (a *RegulatoryCalendarAdapter) FailureCount() int64    { return atomic.LoadInt64(&a.failures) }

func (a *RegulatoryCalendarAdapter) Poll(ctx context.Context) ([]domain.Signal, error) {
	events, err := a.source.Fetch(ctx)
	if err != nil {
		atomic.AddInt64(&a.failures, 1)
		a.log.Warn("regulatory calendar fetch failed", zap.Error(err))
		return nil, nil
	}

	now := time.Now()
	signals := make([]domain.Signal, 0, len(events))
	for _, e := range events {
		days := e.Date.Sub(now).Hours() / 24.0
		urgency := CourtDocketUrgency(days, e.Value)

		signals = append(signals, domain.Signal{
			ID:     "regcal:" + e.EventType + ":" + e.CompanyID,
			Type:   e.EventType,
			Source: a.Name(),
			Entity: domain.EntityDescriptor{
				Type: domain.EntityCompany,
				Name: e.Company,
				Identifiers: map[string]string{
					domain.IdentifierSECCIK: e.CompanyID,
				},
			},
			Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
				domain.TriggerUrgency:        urgency,
				domain.TriggerRegulatoryRisk: urgency,
			}),
			Data: domain.DataBag{
				"pdufa_date": e.Date.Format(time.RFC3339),
				"deadline":   e.Date.Format(time.RFC3339),
				"value":      e.Value,
				"ticker":     e.Ticker,
				"industry":   "life_sciences",
			},
			ObservedAt: now,
		})
	}
	return signals, nil
}
