// Package outreach implements the Outreach Generator (spec.md §4.H):
// template selection by signal type and channel, variable
// substitution, response tracking and A/B variant generation.
package outreach

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/visioncortex/cortex/internal/domain"
)

// painPointLabels maps the trigger with the highest value to a short
// human phrase used in the {{painPoint}} variable (spec.md §4.H).
var painPointLabels = map[domain.TriggerKey]string{
	domain.TriggerUrgency:               "a hard deadline bearing down",
	domain.TriggerFinancialStress:       "mounting financial pressure",
	domain.TriggerOperationalDisruption: "operational disruption",
	domain.TriggerCompetitiveThreat:     "a competitive threat",
	domain.TriggerRegulatoryRisk:        "regulatory exposure",
	domain.TriggerStrategic:             "a strategic inflection point",
}

// solutionLabels maps a playbook name to the {{solution}} variable.
var solutionLabels = map[domain.PlaybookName]string{
	domain.PlaybookRescue:    "a fast, fair cash offer that closes on your timeline",
	domain.PlaybookBuy:       "a full-value acquisition with a clean, certain close",
	domain.PlaybookPartner:   "an operating partnership that removes the disruption",
	domain.PlaybookRefinance: "a refinance path that resets your terms",
	domain.PlaybookLitigate:  "a resolution path that protects your position",
	domain.PlaybookWalk:      "a conversation to understand your situation",
}

// Store owns the template catalog and per-template response counters,
// guarded by a single store-wide lock (spec.md §5 "Response-stats
// table"); there is no separate lock per template key, so updates to
// different templates serialize on the same mutex.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*domain.Template
}

// NewStore creates an empty template store.
func NewStore() *Store {
	return &Store{templates: make(map[string]*domain.Template)}
}

// Put inserts or replaces a template.
func (s *Store) Put(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.templates[t.ID] = &cp
}

// RecordResponse implements spec.md §4.H response tracking:
// increments sent always, responded when responded is true.
func (s *Store) RecordResponse(templateID string, responded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[templateID]
	if !ok {
		return fmt.Errorf("outreach: unknown template %s", templateID)
	}
	t.Sent++
	if responded {
		t.Responded++
	}
	return nil
}

// ConversionRate looks up a template's estimated conversion, used by
// the Playbook Router's score-override rule (spec.md §4.G) via a
// playbook.ConversionLookup adapter — see ConversionByPlaybook.
func (s *Store) ConversionRate(templateID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[templateID]
	if !ok {
		return 0, false
	}
	return t.ConversionRate(), true
}

// candidates returns every stored template matching signalType and
// channel, including the generic (signalType == "") fallbacks.
func (s *Store) candidates(signalType string, channel domain.Channel) []domain.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var specific, generic []domain.Template
	for _, t := range s.templates {
		if t.Channel != channel {
			continue
		}
		if t.SignalType == signalType && signalType != "" {
			specific = append(specific, *t)
		} else if t.SignalType == "" {
			generic = append(generic, *t)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return generic
}

// selectBest picks the highest-conversion candidate, breaking ties on
// template id for determinism.
func selectBest(candidates []domain.Template) (domain.Template, bool) {
	if len(candidates) == 0 {
		return domain.Template{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].ConversionRate(), candidates[j].ConversionRate()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// Generator renders Outreach from a scored signal and its triggers.
type Generator struct {
	store *Store
}

// NewGenerator creates a Generator backed by store.
func NewGenerator(store *Store) *Generator {
	return &Generator{store: store}
}

// highestTrigger returns the trigger key with the largest value,
// breaking ties in the canonical key order.
func highestTrigger(triggers domain.TriggerMap) domain.TriggerKey {
	best := domain.AllTriggerKeys[0]
	bestVal := triggers.Get(best)
	for _, k := range domain.AllTriggerKeys[1:] {
		if v := triggers.Get(k); v > bestVal {
			best, bestVal = k, v
		}
	}
	return best
}

// humanizeDeadline renders spec.md §4.H's "today"/"tomorrow"/"in N
// days/weeks/months" deadline phrasing.
func humanizeDeadline(deadline, now time.Time) string {
	days := int(math.Floor(deadline.Sub(now).Hours() / 24.0))
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "tomorrow"
	case days < 14:
		return fmt.Sprintf("in %d days", days)
	case days < 60:
		weeks := days / 7
		return fmt.Sprintf("in %d weeks", weeks)
	default:
		months := days / 30
		return fmt.Sprintf("in %d months", months)
	}
}

func numericData(data domain.DataBag, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func stringData(data domain.DataBag, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// variables builds the substitution map from spec.md §4.H.
func variables(scored domain.ScoredSignal, deadline time.Time, now time.Time) map[string]string {
	s := scored.Signal
	triggers := s.Triggers
	top := highestTrigger(triggers)

	days := deadline.Sub(now).Hours() / 24.0
	value, _ := numericData(s.Data, "value")

	out := map[string]string{
		"entityName":    s.Entity.Name,
		"deadline":      humanizeDeadline(deadline, now),
		"daysRemaining": fmt.Sprintf("%.0f", math.Max(days, 0)),
		"urgencyScore":  fmt.Sprintf("%.0f", triggers.Get(domain.TriggerUrgency)),
		"value":         fmt.Sprintf("%.0f", value),
		"industry":      stringData(s.Data, "industry"),
		"location":      stringData(s.Data, "location"),
		"painPoint":     painPointLabels[top],
		"solution":      solutionLabels[scored.PlaybookName],
	}
	return out
}

func substitute(body string, vars map[string]string) string {
	for k, v := range vars {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body
}

// Generate implements template selection and variable substitution
// for one scored signal on one channel. deadline is the alert's
// absolute deadline, if known; the zero time renders "{{deadline}}"
// as "today".
func (g *Generator) Generate(scored domain.ScoredSignal, channel domain.Channel, deadline time.Time, now time.Time) (domain.Outreach, error) {
	candidates := g.store.candidates(scored.Signal.Type, channel)
	tmpl, ok := selectBest(candidates)
	if !ok {
		return domain.Outreach{}, fmt.Errorf("outreach: no template for type=%s channel=%s", scored.Signal.Type, channel)
	}

	vars := variables(scored, deadline, now)
	return domain.Outreach{
		TemplateID:          tmpl.ID,
		SignalID:            scored.Signal.ID,
		Channel:             channel,
		Subject:             substitute(tmpl.Subject, vars),
		Body:                substitute(tmpl.Body, vars),
		EstimatedConversion: tmpl.ConversionRate(),
	}, nil
}

// GenerateVariants implements spec.md §4.H A/B variant generation: n
// generations from the same selection rules, permuting the order of
// substituted paragraphs to provide distinguishable variants. Body
// paragraphs are split on blank lines; fewer than two paragraphs
// yields n identical copies since there is nothing to permute.
func (g *Generator) GenerateVariants(scored domain.ScoredSignal, channel domain.Channel, deadline, now time.Time, n int) ([]domain.Outreach, error) {
	base, err := g.Generate(scored, channel, deadline, now)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	paragraphs := strings.Split(base.Body, "\n\n")
	out := make([]domain.Outreach, 0, n)
	for i := 0; i < n; i++ {
		variant := base
		variant.Body = permuteParagraphs(paragraphs, i)
		out = append(out, variant)
	}
	return out, nil
}

// permuteParagraphs rotates paragraphs by shift and rejoins them,
// giving each variant a distinct ordering for A/B experimentation.
func permuteParagraphs(paragraphs []string, shift int) string {
	if len(paragraphs) < 2 {
		return strings.Join(paragraphs, "\n\n")
	}
	shift = shift % len(paragraphs)
	rotated := append(append([]string{}, paragraphs[shift:]...), paragraphs[:shift]...)
	return strings.Join(rotated, "\n\n")
}

// ConversionByPlaybook adapts a Store into a playbook.ConversionLookup
// by treating each playbook name as a pseudo signal type bucket: the
// conversion rate reported is the best rate among templates whose id
// is prefixed "<playbook>:" — the convention used when seeding a
// catalog's per-playbook generic templates.
func (s *Store) ConversionByPlaybook(p domain.PlaybookName) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := string(p) + ":"
	best := 0.0
	found := false
	for id, t := range s.templates {
		if strings.HasPrefix(id, prefix) {
			if rate := t.ConversionRate(); !found || rate > best {
				best, found = rate, true
			}
		}
	}
	return best, found
}
