package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioncortex/cortex/internal/domain"
)

func TestScore_DeterministicAcrossRuns(t *testing.T) {
	in := Input{
		Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
			domain.TriggerUrgency:         90,
			domain.TriggerFinancialStress: 85,
		}),
		ObservedAtU: 1000,
		NowU:        1000,
		DaysToWin:   30,
	}
	w := DefaultWeights()

	r1 := Score(in, w)
	r2 := Score(in, w)

	assert.Equal(t, r1.Score, r2.Score)
	assert.InDelta(t, r1.ProbToWin, r2.ProbToWin, 1e-9)
}

func TestScore_InBounds(t *testing.T) {
	w := DefaultWeights()
	cases := []domain.TriggerMap{
		domain.NewTriggerMap(nil),
		domain.NewTriggerMap(map[domain.TriggerKey]float64{domain.TriggerUrgency: 100, domain.TriggerFinancialStress: 100, domain.TriggerOperationalDisruption: 100, domain.TriggerCompetitiveThreat: 100, domain.TriggerRegulatoryRisk: 100, domain.TriggerStrategic: 100}),
		domain.NewTriggerMap(map[domain.TriggerKey]float64{domain.TriggerUrgency: 50}),
	}
	for _, tm := range cases {
		r := Score(Input{Triggers: tm, ObservedAtU: 0, NowU: 0, DaysToWin: 30}, w)
		assert.GreaterOrEqual(t, r.Score, 0)
		assert.LessOrEqual(t, r.Score, 1000)
	}
}

func TestDecay_FloorAtPoint2(t *testing.T) {
	assert.InDelta(t, 0.2, Decay(365), 1e-9)
	assert.InDelta(t, 0.2, Decay(10000), 1e-9)
	assert.GreaterOrEqual(t, Decay(0), 0.2)
}

func TestDecay_ExactAt14Days(t *testing.T) {
	// At Δdays=14, exp(-1) ≈ 0.3679, above the floor.
	got := Decay(14)
	assert.InDelta(t, math.Exp(-1), got, 1e-9)
}

func TestScore_DecayFloorScenario(t *testing.T) {
	// Scenario 4: observed 365 days ago, urgency=100, everything else 0.
	w := DefaultWeights()
	in := Input{
		Triggers:    domain.NewTriggerMap(map[domain.TriggerKey]float64{domain.TriggerUrgency: 100}),
		ObservedAtU: 0,
		NowU:        365 * 86400,
		DaysToWin:   30,
	}
	r := Score(in, w)
	require.Greater(t, r.Score, 0)
}

func TestScore_PriorityBands(t *testing.T) {
	assert.Equal(t, domain.PriorityCritical, domain.PriorityForScore(800))
	assert.Equal(t, domain.PriorityCritical, domain.PriorityForScore(1000))
	assert.Equal(t, domain.PriorityHigh, domain.PriorityForScore(600))
	assert.Equal(t, domain.PriorityHigh, domain.PriorityForScore(799))
	assert.Equal(t, domain.PriorityMedium, domain.PriorityForScore(400))
	assert.Equal(t, domain.PriorityLow, domain.PriorityForScore(399))
	assert.Equal(t, domain.PriorityLow, domain.PriorityForScore(0))
}

func TestEngine_UpdateWeightsAffectsOnlySubsequentScoring(t *testing.T) {
	e := NewEngine(DefaultWeights())
	in := Input{
		Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
			domain.TriggerUrgency: 10,
		}),
		ObservedAtU: 0,
		NowU:        0,
		DaysToWin:   30,
	}

	// Urgency 10 keeps both scores below the 1000 clamp so the weight
	// change is visible.
	before := Score(in, e.Weights())

	e.UpdateWeights(Weights{Urgency: 5.0, FinancialStress: 1.8, OperationalDisruption: 1.5, CompetitiveThreat: 1.2, RegulatoryRisk: 1.2, Strategic: 1.2})
	after := Score(in, e.Weights())

	assert.Greater(t, after.Score, before.Score)
}

func TestScore_ForeclosureScenario(t *testing.T) {
	// Scenario 1: foreclosure 5 days out, urgency=90, financial_stress=85.
	w := DefaultWeights()
	in := Input{
		Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
			domain.TriggerUrgency:         90,
			domain.TriggerFinancialStress: 85,
		}),
		ObservedAtU: 0,
		NowU:        0,
		DaysToWin:   30,
	}
	r := Score(in, w)
	assert.GreaterOrEqual(t, r.Score, 800)
	assert.LessOrEqual(t, r.Score, 1000)
	assert.Equal(t, domain.PriorityCritical, r.Priority)
}
