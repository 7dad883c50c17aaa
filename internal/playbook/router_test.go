package playbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/visioncortex/cortex/internal/domain"
)

func triggers(kv map[domain.TriggerKey]float64) domain.TriggerMap {
	return domain.NewTriggerMap(kv)
}

func TestRouter_RescueBranch(t *testing.T) {
	r := NewRouter(nil, nil, 0)
	route := r.Route(domain.Signal{Type: "foreclosure"}, 900,
		triggers(map[domain.TriggerKey]float64{domain.TriggerUrgency: 90, domain.TriggerFinancialStress: 85}))
	assert.Equal(t, domain.PlaybookRescue, route.Playbook)
}

func TestRouter_BuyBranch(t *testing.T) {
	r := NewRouter(nil, nil, 0)
	route := r.Route(domain.Signal{Type: "expansion"}, 750,
		triggers(map[domain.TriggerKey]float64{domain.TriggerFinancialStress: 10}))
	assert.Equal(t, domain.PlaybookBuy, route.Playbook)
}

func TestRouter_PartnerBranch(t *testing.T) {
	r := NewRouter(nil, nil, 0)
	route := r.Route(domain.Signal{Type: "ops"}, 300,
		triggers(map[domain.TriggerKey]float64{domain.TriggerOperationalDisruption: 65}))
	assert.Equal(t, domain.PlaybookPartner, route.Playbook)
}

func TestRouter_RefinanceBranch(t *testing.T) {
	r := NewRouter(nil, nil, 0)
	route := r.Route(domain.Signal{Type: "debt"}, 300,
		triggers(map[domain.TriggerKey]float64{domain.TriggerFinancialStress: 65, domain.TriggerRegulatoryRisk: 45}))
	assert.Equal(t, domain.PlaybookRefinance, route.Playbook)
}

func TestRouter_LitigateBranch(t *testing.T) {
	r := NewRouter(nil, nil, 0)
	route := r.Route(domain.Signal{Type: "lawsuit"}, 100, triggers(nil))
	assert.Equal(t, domain.PlaybookLitigate, route.Playbook)
}

func TestRouter_WalkDefault(t *testing.T) {
	r := NewRouter(nil, nil, 0)
	route := r.Route(domain.Signal{Type: "noise"}, 50, triggers(nil))
	assert.Equal(t, domain.PlaybookWalk, route.Playbook)
}

type fakeEnrichment struct {
	grant bool
}

func (f fakeEnrichment) RequestEnrichment(signalID string, field domain.TriggerKey, timeout time.Duration) bool {
	return f.grant
}

func TestRouter_MissingDataDefersThenDowngrades(t *testing.T) {
	r := NewRouter(fakeEnrichment{grant: false}, nil, time.Millisecond)
	s := domain.Signal{
		Type: "foreclosure",
		Data: domain.DataBag{"urgency_unknown": true},
	}
	route := r.Route(s, 900, triggers(map[domain.TriggerKey]float64{domain.TriggerUrgency: 90, domain.TriggerFinancialStress: 85}))
	assert.Equal(t, domain.PlaybookWalk, route.Playbook)
}

func TestRouter_MissingDataEnrichedContinues(t *testing.T) {
	r := NewRouter(fakeEnrichment{grant: true}, nil, time.Millisecond)
	s := domain.Signal{
		Type: "foreclosure",
		Data: domain.DataBag{"urgency_unknown": true},
	}
	route := r.Route(s, 900, triggers(map[domain.TriggerKey]float64{domain.TriggerUrgency: 90, domain.TriggerFinancialStress: 85}))
	assert.Equal(t, domain.PlaybookRescue, route.Playbook)
}

func TestRouter_ScoreOverrideSwitchesToAlternative(t *testing.T) {
	lookup := func(p domain.PlaybookName) (float64, bool) {
		if p == domain.PlaybookRescue {
			return 0.05, true
		}
		return 0, false
	}
	r := NewRouter(nil, lookup, 0)
	route := r.Route(domain.Signal{Type: "foreclosure"}, 900,
		triggers(map[domain.TriggerKey]float64{domain.TriggerUrgency: 90, domain.TriggerFinancialStress: 85}))
	assert.Equal(t, domain.PlaybookBuy, route.Playbook)
}
