// Package playbook implements the Playbook Router (spec.md §4.G): a
// pure decision tree from a scored signal to a named playbook route,
// with a missing-data deferral and a stats-driven override.
package playbook

import (
	"time"

	"github.com/visioncortex/cortex/internal/domain"
)

// litigateTypes is the closed set of signal types routed to litigate
// when none of the earlier rescue/buy/partner/refinance branches
// matches (spec.md §4.G).
var litigateTypes = map[string]bool{
	"lawsuit":                 true,
	"statute_of_limitations":  true,
}

// ConversionLookup answers the historical conversion rate for a
// playbook, backing the score override rule (spec.md §4.G). The
// Outreach Generator's template stats are the natural source.
type ConversionLookup func(p domain.PlaybookName) (rate float64, known bool)

// EnrichmentRequester is the abstract side channel to the Ingestor
// used when a required trigger is present-but-unknown (spec.md §4.G
// missing-data rule). Implementations may be in-process or, in a
// horizontally scaled deployment, backed by NATS request/reply (see
// internal/enrichment).
type EnrichmentRequester interface {
	RequestEnrichment(signalID string, field domain.TriggerKey, timeout time.Duration) (enriched bool)
}

func nominalRoute(name domain.PlaybookName, min, max int, steps ...domain.PlaybookStep) domain.PlaybookRoute {
	return domain.PlaybookRoute{
		Playbook:             name,
		Steps:                steps,
		NominalWindowDaysMin: min,
		NominalWindowDaysMax: max,
	}
}

func step(action string, hours float64) domain.PlaybookStep {
	return domain.PlaybookStep{Action: action, EstimatedHours: hours}
}

// decide runs the first-match-wins decision tree from spec.md §4.G.
func decide(signal domain.Signal, score int, triggers domain.TriggerMap) domain.PlaybookRoute {
	urgency := triggers.Get(domain.TriggerUrgency)
	financial := triggers.Get(domain.TriggerFinancialStress)
	operational := triggers.Get(domain.TriggerOperationalDisruption)
	regulatory := triggers.Get(domain.TriggerRegulatoryRisk)

	switch {
	case urgency >= 80 && financial >= 70:
		return nominalRoute(domain.PlaybookRescue, 7, 14,
			step("research distress", 2),
			step("contact decision-maker", 1),
			step("fast cash offer 70-80% FMV", 3),
			step("urgency reminder", 0.5),
			step("close", 4),
		)
	case score >= 700 && financial < 40:
		return nominalRoute(domain.PlaybookBuy, 60, 90,
			step("full financial analysis", 8),
			step("warm intro", 1),
			step("strategic pitch", 4),
			step("due diligence", 20),
			step("negotiate", 10),
			step("close", 6),
		)
	case operational >= 60:
		return nominalRoute(domain.PlaybookPartner, 90, 120,
			step("identify pain", 3),
			step("solution pitch", 4),
			step("90-day pilot", 0),
			step("long-term agreement", 6),
		)
	case financial >= 60 && regulatory >= 40:
		return nominalRoute(domain.PlaybookRefinance, 30, 60,
			step("assess refinance terms", 4),
			step("present options", 2),
			step("close", 6),
		)
	case litigateTypes[signal.Type]:
		return nominalRoute(domain.PlaybookLitigate, 30, 180,
			step("assess claim", 6),
			step("file action", 4),
			step("negotiate or proceed", 40),
		)
	default:
		return nominalRoute(domain.PlaybookWalk, 0, 0)
	}
}

// missingFields returns every one of urgency, financial_stress,
// operational_disruption and regulatory_risk that is explicitly marked
// present-but-unknown (null) in the data bag under "<key>_unknown" =
// true, even though TriggerMap itself defaults them to 0 (spec.md §4.G
// missing-data rule). It does not look at which branch decide took:
// a flagged key is returned whether or not that branch reads it.
func missingFields(signal domain.Signal) []domain.TriggerKey {
	var missing []domain.TriggerKey
	for _, k := range []domain.TriggerKey{
		domain.TriggerUrgency, domain.TriggerFinancialStress,
		domain.TriggerOperationalDisruption, domain.TriggerRegulatoryRisk,
	} {
		if v, ok := signal.Data[string(k)+"_unknown"]; ok {
			if b, ok := v.(bool); ok && b {
				missing = append(missing, k)
			}
		}
	}
	return missing
}

// Router is stateless beyond its collaborators; Route is the single
// entry point.
type Router struct {
	enrichment     EnrichmentRequester
	conversion     ConversionLookup
	enrichTimeout  time.Duration
}

// NewRouter creates a Router. enrichment and conversion may be nil —
// the missing-data deferral and score override are both best-effort
// enhancements, not required for a route to be produced.
func NewRouter(enrichment EnrichmentRequester, conversion ConversionLookup, enrichTimeout time.Duration) *Router {
	if enrichTimeout <= 0 {
		enrichTimeout = 5 * time.Second
	}
	return &Router{enrichment: enrichment, conversion: conversion, enrichTimeout: enrichTimeout}
}

// alternatives lists, for the override rule, the playbook one decision
// step away from each playbook (spec.md §4.G "an alternative branch is
// within one decision step").
var alternatives = map[domain.PlaybookName]domain.PlaybookName{
	domain.PlaybookRescue:    domain.PlaybookBuy,
	domain.PlaybookBuy:       domain.PlaybookPartner,
	domain.PlaybookPartner:   domain.PlaybookRefinance,
	domain.PlaybookRefinance: domain.PlaybookLitigate,
	domain.PlaybookLitigate:  domain.PlaybookWalk,
}

// Route assigns a playbook to scored. If any trigger returned by
// missingFields is flagged unknown, Route requests enrichment for each
// one in turn, each request blocking up to enrichTimeout, whichever
// branch was selected. If no request succeeds it downgrades to walk;
// if at least one succeeds it keeps the route decided from the
// original triggers without re-running the decision (spec.md §4.G
// missing-data rule).
func (r *Router) Route(signal domain.Signal, score int, triggers domain.TriggerMap) domain.PlaybookRoute {
	route := decide(signal, score, triggers)

	if missing := missingFields(signal); len(missing) > 0 && r.enrichment != nil {
		enriched := false
		for _, field := range missing {
			if r.enrichment.RequestEnrichment(signal.ID, field, r.enrichTimeout) {
				enriched = true
			}
		}
		if !enriched {
			return nominalRoute(domain.PlaybookWalk, 0, 0)
		}
	}

	if r.conversion != nil {
		if rate, known := r.conversion(route.Playbook); known && rate < 0.2 {
			if alt, ok := alternatives[route.Playbook]; ok {
				route = routeForPlaybook(alt)
			}
		}
	}

	return route
}

// routeForPlaybook returns the canonical nominal route for a playbook
// name, independent of the signal that led to it — used by the score
// override to switch to a neighboring playbook wholesale (spec.md
// §4.G "Score override").
func routeForPlaybook(name domain.PlaybookName) domain.PlaybookRoute {
	switch name {
	case domain.PlaybookRescue:
		return nominalRoute(domain.PlaybookRescue, 7, 14,
			step("research distress", 2), step("contact decision-maker", 1),
			step("fast cash offer 70-80% FMV", 3), step("urgency reminder", 0.5), step("close", 4))
	case domain.PlaybookBuy:
		return nominalRoute(domain.PlaybookBuy, 60, 90,
			step("full financial analysis", 8), step("warm intro", 1),
			step("strategic pitch", 4), step("due diligence", 20), step("negotiate", 10), step("close", 6))
	case domain.PlaybookPartner:
		return nominalRoute(domain.PlaybookPartner, 90, 120,
			step("identify pain", 3), step("solution pitch", 4),
			step("90-day pilot", 0), step("long-term agreement", 6))
	case domain.PlaybookRefinance:
		return nominalRoute(domain.PlaybookRefinance, 30, 60,
			step("assess refinance terms", 4), step("present options", 2), step("close", 6))
	case domain.PlaybookLitigate:
		return nominalRoute(domain.PlaybookLitigate, 30, 180,
			step("assess claim", 6), step("file action", 4), step("negotiate or proceed", 40))
	default:
		return nominalRoute(domain.PlaybookWalk, 0, 0)
	}
}
