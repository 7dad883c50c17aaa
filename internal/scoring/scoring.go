// Package scoring implements the Scoring Engine (spec.md §4.E): a
// pure, deterministic function from a trigger map, observation time
// and weight vector to a ScoredSignal. Two calls with identical
// inputs and weights always produce identical output (spec.md §8).
package scoring

import (
	"math"
	"sync"

	"github.com/visioncortex/cortex/internal/domain"
)

// Weights is the documented, stable weight vector (spec.md §4.E).
// Urgency enters the raw weighted sum squared, alongside its own
// weight squared — see Score.
type Weights struct {
	Urgency               float64
	FinancialStress       float64
	OperationalDisruption float64
	CompetitiveThreat     float64
	RegulatoryRisk        float64
	Strategic             float64
}

// DefaultWeights returns the weight vector documented in spec.md §4.E.
func DefaultWeights() Weights {
	return Weights{
		Urgency:               2.5,
		FinancialStress:       1.8,
		OperationalDisruption: 1.5,
		CompetitiveThreat:     1.2,
		RegulatoryRisk:        1.2,
		Strategic:             1.2,
	}
}

// Engine holds the single mutable piece of scoring state: the active
// weight vector. Readers get a consistent snapshot (spec.md §5); the
// single writer is UpdateWeights.
type Engine struct {
	mu      sync.RWMutex
	weights Weights
}

// NewEngine creates an Engine seeded with the given weights.
func NewEngine(w Weights) *Engine {
	return &Engine{weights: w}
}

// Weights returns a value copy of the active weight vector — callers
// never observe a write in progress.
func (e *Engine) Weights() Weights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

// UpdateWeights atomically replaces the active weight vector. Already
// produced ScoredSignals are not retroactively recomputed (spec.md
// §4.E "Weight update hook").
func (e *Engine) UpdateWeights(w Weights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = w
}

// Input bundles the four scoring inputs besides the weight vector.
type Input struct {
	Triggers    domain.TriggerMap
	ObservedAtU int64 // unix seconds
	NowU        int64 // unix seconds
	DaysToWin   int   // the orchestrator always passes the provisional 30; the playbook's value is recorded on the ScoredSignal, not re-scored
}

// Result is the pure numeric output, independent of domain.ScoredSignal
// so it can be tested in isolation.
type Result struct {
	ProbToWin float64
	Score     int
	Priority  domain.Priority
}

// Decay computes δ = max(0.2, exp(-Δdays/14)); the 0.2 floor is
// mandatory regardless of how large Δdays grows (spec.md §4.E, §8).
func Decay(deltaDays float64) float64 {
	if deltaDays < 0 {
		deltaDays = 0
	}
	d := math.Exp(-deltaDays / 14.0)
	if d < 0.2 {
		return 0.2
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score computes the full scoring formula from spec.md §4.E using the
// given weight snapshot. It is a pure function: the same (in, w) pair
// always yields the same Result within floating tolerance.
func Score(in Input, w Weights) Result {
	t := in.Triggers

	urgency := t.Get(domain.TriggerUrgency)
	financial := t.Get(domain.TriggerFinancialStress)
	operational := t.Get(domain.TriggerOperationalDisruption)
	competitive := t.Get(domain.TriggerCompetitiveThreat)
	regulatory := t.Get(domain.TriggerRegulatoryRisk)
	strategic := t.Get(domain.TriggerStrategic)

	// Probability-to-win: weighted average of trigger values / 100,
	// clamped to [0,1].
	weightSum := w.Urgency + w.FinancialStress + w.OperationalDisruption +
		w.CompetitiveThreat + w.RegulatoryRisk + w.Strategic
	weighted := urgency*w.Urgency + financial*w.FinancialStress +
		operational*w.OperationalDisruption + competitive*w.CompetitiveThreat +
		regulatory*w.RegulatoryRisk + strategic*w.Strategic
	p := 0.0
	if weightSum > 0 {
		p = (weighted / weightSum) / 100.0
	}
	p = clamp(p, 0, 1)

	// Profit lift.
	l := 1 + math.Max(financial, operational)/100.0

	// Decay.
	deltaDays := float64(in.NowU-in.ObservedAtU) / 86400.0
	decay := Decay(deltaDays)

	// Raw weighted trigger sum: urgency enters squared, alongside its
	// own weight squared.
	s := urgency*urgency*w.Urgency*w.Urgency +
		financial*w.FinancialStress +
		operational*w.OperationalDisruption +
		competitive*w.CompetitiveThreat +
		regulatory*w.RegulatoryRisk +
		strategic*w.Strategic

	daysToWin := in.DaysToWin
	if daysToWin < 1 {
		daysToWin = 1
	}

	raw := p * math.Log(float64(daysToWin)+1) * l * s * decay
	score := int(math.Round(clamp(raw, 0, 1000)))

	return Result{
		ProbToWin: p,
		Score:     score,
		Priority:  domain.PriorityForScore(score),
	}
}
