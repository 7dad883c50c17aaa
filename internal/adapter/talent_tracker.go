package adapter

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/domain"
)

// SeniorityTier is the closed set of departure seniority levels.
type SeniorityTier string

const (
	SeniorityCSuite   SeniorityTier = "c_suite"
	SeniorityVP       SeniorityTier = "vp"
	SeniorityDirector SeniorityTier = "director"
	SeniorityOther    SeniorityTier = "other"
)

// seniorityMultiplier implements the table resolved in SPEC_FULL.md §12.
var seniorityMultiplier = map[SeniorityTier]float64{
	SeniorityCSuite:   1.0,
	SeniorityVP:       0.6,
	SeniorityDirector: 0.35,
	SeniorityOther:    0.15,
}

// signalTypeMultiplier implements the table resolved in SPEC_FULL.md §12.
var signalTypeMultiplier = map[string]float64{
	"c_suite_departure": 1.0,
	"talent_exodus":      0.9,
	"kol_move":           0.7,
	"competitor_poach":   0.6,
}

// exodusWindow is the rolling window over which 5+ departures count as
// an exodus (spec.md §9 Open Question, resolved in SPEC_FULL.md §12).
const exodusWindow = 90 * 24 * time.Hour

// Departure is one upstream talent-movement record.
type Departure struct {
	CompanyID   string
	Company     string
	PersonName  string
	Tier        SeniorityTier
	SignalType  string // "c_suite_departure", "kol_move", "competitor_poach"; talent_exodus is derived, not reported
	When        time.Time
}

// TalentSource fetches recent departures for one poll.
type TalentSource interface {
	Fetch(ctx context.Context) ([]Departure, error)
}

// TalentTrackerAdapter emits c_suite_departure, talent_exodus,
// kol_move, competitor_poach signals (spec.md §4.B).
type TalentTrackerAdapter struct {
	source   TalentSource
	cadence  time.Duration
	failures int64
	log      *zap.Logger

	// history retains departures per company across polls (the adapter
	// source itself is stateless, per spec.md §4.B, but exodus
	// detection needs a rolling window of recent history; the adapter
	// keeps it in memory and it is safe to lose on restart since it
	// only ever widens the 90-day lookback, never narrows correctness).
	history map[string][]Departure
}

// NewTalentTrackerAdapter wires a TalentSource.
func NewTalentTrackerAdapter(source TalentSource, cadence time.Duration, log *zap.Logger) *TalentTrackerAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &TalentTrackerAdapter{source: source, cadence: cadence, log: log, history: make(map[string][]Departure)}
}

func (a *TalentTrackerAdapter) Name() string           { return "talent_tracker" }
func (a *TalentTrackerAdapter) Cadence() time.Duration { return a.cadence }
func (a *TalentTrackerAdapter) FailureCount() int64    { return atomic.LoadInt64(&a.failures) }

// TalentUrgency implements the seniority × exodus × signal-type
// formula resolved in SPEC_FULL.md §12, scaled to [0,100].
func TalentUrgency(tier SeniorityTier, exodusCount int, signalType string) float64 {
	s := seniorityMultiplier[tier]
	if s == 0 {
		s = seniorityMultiplier[SeniorityOther]
	}
	t := signalTypeMultiplier[signalType]
	if t == 0 {
		t = signalTypeMultiplier["kol_move"]
	}

	exodus := 1.0
	if exodusCount > 5 {
		exodus = math.Min(1.0+0.15*float64(exodusCount-5), 2.0)
	}

	u := s * exodus * t * 100
	if u < 0 {
		return 0
	}
	if u > 100 {
		return 100
	}
	return u
}

// exodusCount returns the number of the given departures within the
// rolling window anchored at the newest departure's timestamp
// (spec.md §9 Open Question resolution).
func exodusCount(departures []Departure) int {
	if len(departures) == 0 {
		return 0
	}
	sorted := append([]Departure{}, departures...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].When.After(sorted[j].When) })
	newest := sorted[0].When
	cutoff := newest.Add(-exodusWindow)

	count := 0
	for _, d := range sorted {
		if !d.When.Before(cutoff) {
			count++
		}
	}
	return count
}

func (a *TalentTrackerAdapter) Poll(ctx context.Context) ([]domain.Signal, error) {
	departures, err := a.source.Fetch(ctx)
	if err != nil {
		atomic.AddInt64(&a.failures, 1)
		a.log.Warn("talent tracker fetch failed", zap.Error(err))
		return nil, nil
	}

	now := time.Now()
	var signals []domain.Signal
	seenExodus := make(map[string]bool)

	for _, d := range departures {
		a.history[d.CompanyID] = append(a.history[d.CompanyID], d)

		count := exodusCount(a.history[d.CompanyID])
		urgency := TalentUrgency(d.Tier, count, d.SignalType)

		signals = append(signals, domain.Signal{
			ID:     "talent:" + d.SignalType + ":" + d.CompanyID + ":" + d.PersonName + ":" + d.When.Format(time.RFC3339),
			Type:   d.SignalType,
			Source: a.Name(),
			Entity: domain.EntityDescriptor{
				Type: domain.EntityCompany,
				Name: d.Company,
				Identifiers: map[string]string{
					domain.IdentifierDUNS: d.CompanyID,
				},
			},
			Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
				domain.TriggerUrgency:           urgency,
				domain.TriggerOperationalDisruption: urgency,
			}),
			Data: domain.DataBag{
				"person_name":      d.PersonName,
				"seniority_tier":   string(d.Tier),
				"departure_count":  count,
			},
			ObservedAt: now,
		})

		if count >= 5 && !seenExodus[d.CompanyID] {
			seenExodus[d.CompanyID] = true
			exodusUrgency := TalentUrgency(SeniorityCSuite, count, "talent_exodus")
			signals = append(signals, domain.Signal{
				ID:     "talent:talent_exodus:" + d.CompanyID + ":" + d.When.Format(time.RFC3339),
				Type:   "talent_exodus",
				Source: a.Name(),
				Entity: domain.EntityDescriptor{
					Type: domain.EntityCompany,
					Name: d.Company,
					Identifiers: map[string]string{
						domain.IdentifierDUNS: d.CompanyID,
					},
				},
				Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
					domain.TriggerUrgency:               exodusUrgency,
					domain.TriggerOperationalDisruption: exodusUrgency,
				}),
				Data: domain.DataBag{
					"departure_count": count,
				},
				ObservedAt: now,
			})
		}
	}
	return signals, nil
}
