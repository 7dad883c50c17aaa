package adapter

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/domain"
)

// DocketEntry is one upstream court filing as scraped off a docket
// feed page, prior to becoming a domain.Signal.
type DocketEntry struct {
	CaseType  string // "foreclosure", "probate", "eviction", "divorce"
	CaseID    string
	OwnerName string
	Address   string
	Deadline  time.Time
	Value     float64
}

// DocketSource fetches the raw entries for one poll; the HTML
// transport (CollyDocketSource below) is the production
// implementation, but tests substitute a fake.
type DocketSource interface {
	Fetch(ctx context.Context) ([]DocketEntry, error)
}

// CourtDocketAdapter emits foreclosure/probate/eviction/divorce
// signals (spec.md §4.B). Urgency is derived from days-to-deadline
// and dollar value with the documented, bit-exact formula.
type CourtDocketAdapter struct {
	source   DocketSource
	cadence  time.Duration
	failures int64
	log      *zap.Logger
}

// NewCourtDocketAdapter wires a DocketSource with a poll cadence.
func NewCourtDocketAdapter(source DocketSource, cadence time.Duration, log *zap.Logger) *CourtDocketAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CourtDocketAdapter{source: source, cadence: cadence, log: log}
}

func (a *CourtDocketAdapter) Name() string           { return "court_docket" }
func (a *CourtDocketAdapter) Cadence() time.Duration { return a.cadence }
func (a *CourtDocketAdapter) FailureCount() int64    { return atomic.LoadInt64(&a.failures) }

// CourtDocketUrgency implements the documented formula from spec.md
// §4.B exactly: urgency = 100 × 1/√max(days,1) × log10(max(value,10)) / 4,
// clamped to [0,100].
func CourtDocketUrgency(daysToDeadline float64, value float64) float64 {
	days := math.Max(daysToDeadline, 1)
	v := math.Max(value, 10)
	u := 100 * (1 / math.Sqrt(days)) * math.Log10(v) / 4
	if u < 0 {
		return 0
	}
	if u > 100 {
		return 100
	}
	return u
}

func deadlineFieldFor(caseType string) string {
	switch caseType {
	case "foreclosure":
		return "auction_date"
	case "probate", "divorce":
		return "hearing_date"
	case "eviction":
		return "writ_date"
	default:
		return "deadline"
	}
}

// Poll fetches the current docket entries and converts each to a raw
// Signal. A fetch failure increments the failure counter and yields
// an empty sequence rather than propagating an error (spec.md §4.B).
func (a *CourtDocketAdapter) Poll(ctx context.Context) ([]domain.Signal, error) {
	entries, err := a.source.Fetch(ctx)
	if err != nil {
		atomic.AddInt64(&a.failures, 1)
		a.log.Warn("court docket fetch failed", zap.Error(err))
		return nil, nil
	}

	now := time.Now()
	signals := make([]domain.Signal, 0, len(entries))
	for _, e := range entries {
		days := e.Deadline.Sub(now).Hours() / 24.0
		urgency := CourtDocketUrgency(days, e.Value)

		field := deadlineFieldFor(e.CaseType)
		signals = append(signals, domain.Signal{
			ID:     "docket:" + e.CaseType + ":" + e.CaseID,
			Type:   e.CaseType,
			Source: a.Name(),
			Entity: domain.EntityDescriptor{
				Type: domain.EntityProperty,
				Name: e.OwnerName,
				Identifiers: map[string]string{
					domain.IdentifierAddress: e.Address,
				},
			},
			Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
				domain.TriggerUrgency:         urgency,
				domain.TriggerFinancialStress: urgency, // distress filings double as a financial-stress signal
			}),
			Data: domain.DataBag{
				field:      e.Deadline.Format(time.RFC3339),
				"value":    e.Value,
				"case_id":  e.CaseID,
				"industry": "real_estate",
			},
			ObservedAt: now,
		})
	}
	return signals, nil
}

// CollyDocketSource scrapes a docket listing page over HTTP using
// colly/goquery. It produces DocketEntry values for the court-docket
// adapter only; the regulatory-calendar adapter has no colly source.
type CollyDocketSource struct {
	collector *colly.Collector
	listURL   string
	parseRow  func(sel *colly.HTMLElement) (DocketEntry, bool)
	pending   []DocketEntry
}

// NewCollyDocketSource builds a scraper against listURL. parseRow
// extracts one DocketEntry from a single table-row selection matched
// by rowSelector; returning ok=false skips malformed rows.
func NewCollyDocketSource(listURL, rowSelector string, parseRow func(sel *colly.HTMLElement) (DocketEntry, bool), userAgent string) *CollyDocketSource {
	c := colly.NewCollector()
	if userAgent != "" {
		c.UserAgent = userAgent
	}
	c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: time.Second})

	src := &CollyDocketSource{collector: c, listURL: listURL, parseRow: parseRow}
	c.OnHTML(rowSelector, func(e *colly.HTMLElement) {
		entry, ok := parseRow(e)
		if !ok {
			return
		}
		src.pending = append(src.pending, entry)
	})
	return src
}

func (s *CollyDocketSource) Fetch(ctx context.Context) ([]DocketEntry, error) {
	s.pending = nil
	if err := s.collector.Visit(s.listURL); err != nil {
		return nil, fmt.Errorf("adapter: visit docket listing %q: %w", s.listURL, err)
	}
	s.collector.Wait()
	out := s.pending
	s.pending = nil
	return out, nil
}
