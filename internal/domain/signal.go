// Package domain holds the shared data model for the Vision Cortex
// pipeline: signals, entities, triggers, scored signals, alerts,
// playbook routes and outreach — the nouns every stage passes to the
// next one over the event bus.
package domain

import (
	"strings"
	"time"
)

// EntityType is the closed set of canonical entity kinds.
type EntityType string

const (
	EntityCompany  EntityType = "company"
	EntityProperty EntityType = "property"
	EntityPerson   EntityType = "person"
)

// Identifier keys recognised on an EntityDescriptor. Values under these
// keys are treated as globally unique within their own namespace.
const (
	IdentifierEIN        = "ein"
	IdentifierDUNS       = "duns"
	IdentifierSECCIK     = "sec_cik"
	IdentifierAPN        = "apn"
	IdentifierAddress    = "address"
	IdentifierLinkedIn   = "linkedin_url"
	IdentifierEmail      = "email"
)

// EntityDescriptor is the entity-shaped portion of a raw Signal, as
// reported by the source adapter that produced it.
type EntityDescriptor struct {
	Type        EntityType
	Name        string
	Identifiers map[string]string
}

// TriggerKey is one of the six closed scoring-input dimensions.
type TriggerKey string

const (
	TriggerUrgency               TriggerKey = "urgency"
	TriggerFinancialStress       TriggerKey = "financial_stress"
	TriggerOperationalDisruption TriggerKey = "operational_disruption"
	TriggerCompetitiveThreat     TriggerKey = "competitive_threat"
	TriggerRegulatoryRisk        TriggerKey = "regulatory_risk"
	TriggerStrategic             TriggerKey = "strategic"
)

// AllTriggerKeys enumerates the closed set, in the order weights are
// documented in spec.md §4.E.
var AllTriggerKeys = []TriggerKey{
	TriggerUrgency,
	TriggerFinancialStress,
	TriggerOperationalDisruption,
	TriggerCompetitiveThreat,
	TriggerRegulatoryRisk,
	TriggerStrategic,
}

// TriggerMap is a fixed-key scoring input. Missing keys default to 0;
// values are clamped to [0,100] by Set, never trusted from the wire.
type TriggerMap struct {
	values map[TriggerKey]float64
}

// NewTriggerMap builds a TriggerMap from a loose map, clamping every
// value into [0,100] and defaulting any of the six keys that are
// absent to 0.
func NewTriggerMap(in map[TriggerKey]float64) TriggerMap {
	tm := TriggerMap{values: make(map[TriggerKey]float64, len(AllTriggerKeys))}
	for _, k := range AllTriggerKeys {
		tm.values[k] = 0
	}
	for k, v := range in {
		tm.Set(k, v)
	}
	return tm
}

// Set clamps v to [0,100] and stores it under k. Unknown keys are
// ignored — the trigger key set is closed.
func (tm *TriggerMap) Set(k TriggerKey, v float64) {
	if tm.values == nil {
		tm.values = make(map[TriggerKey]float64, len(AllTriggerKeys))
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	tm.values[k] = v
}

// Get returns the value for k, defaulting to 0 for a missing or
// unrecognised key.
func (tm TriggerMap) Get(k TriggerKey) float64 {
	if tm.values == nil {
		return 0
	}
	return tm.values[k]
}

// DataBag is the signal's free-form typed payload. Keys are whatever
// the originating adapter chose to populate (deadline fields, dollar
// values, metadata counters); consumers look up specific keys by name.
type DataBag map[string]interface{}

// Signal is a raw, immutable observation once ingested.
type Signal struct {
	ID         string
	Type       string
	Source     string
	Entity     EntityDescriptor
	Triggers   TriggerMap
	Data       DataBag
	ObservedAt time.Time
}

// Normalize mutates the signal in place to satisfy Ingestor
// normalization rules (spec.md §4.C): missing ObservedAt defaults to
// now, identifier keys are lowercased, string fields are trimmed.
func (s *Signal) Normalize(now time.Time) {
	s.ID = strings.TrimSpace(s.ID)
	s.Type = strings.TrimSpace(s.Type)
	s.Source = strings.TrimSpace(s.Source)
	s.Entity.Name = strings.TrimSpace(s.Entity.Name)

	if s.ObservedAt.IsZero() {
		s.ObservedAt = now
	}

	if len(s.Entity.Identifiers) > 0 {
		lowered := make(map[string]string, len(s.Entity.Identifiers))
		for k, v := range s.Entity.Identifiers {
			lowered[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		s.Entity.Identifiers = lowered
	}
}

// ValidationError reports a malformed incoming signal (spec.md §7):
// missing id or missing type. The Ingestor drops the
// signal and emits an audit.log event carrying this error's message.
type ValidationError struct {
	SignalID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.SignalID == "" {
		return "validation: " + e.Reason
	}
	return "validation: signal " + e.SignalID + ": " + e.Reason
}

// Validate checks the minimal shape required before a Signal may be
// ingested: a non-empty id and a non-empty type tag.
func (s Signal) Validate() error {
	if s.ID == "" {
		return &ValidationError{Reason: "missing id"}
	}
	if s.Type == "" {
		return &ValidationError{SignalID: s.ID, Reason: "missing type"}
	}
	return nil
}

// NormalizeAlias lowercases, strips punctuation and collapses
// whitespace, per the Entity invariant that aliases are stored
// normalized (spec.md §3 invariant (e)).
func NormalizeAlias(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastWasSpace := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasSpace = false
		case r == ' ', r == '\t', r == '\n':
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// punctuation stripped
		}
	}
	return strings.TrimSpace(b.String())
}
