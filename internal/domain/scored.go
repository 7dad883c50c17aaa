package domain

// Priority is the closed scored-signal / alert urgency band.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PlaybookName is the closed set of playbooks the Router may assign.
type PlaybookName string

const (
	PlaybookRescue    PlaybookName = "rescue"
	PlaybookBuy       PlaybookName = "buy"
	PlaybookPartner   PlaybookName = "partner"
	PlaybookRefinance PlaybookName = "refinance"
	PlaybookLitigate  PlaybookName = "litigate"
	PlaybookWalk      PlaybookName = "walk"
)

// ScoredSignal augments a Signal with the Scoring Engine's output. It
// is immutable once produced (spec.md §3).
type ScoredSignal struct {
	Signal        Signal
	EntityID      string
	Score         int // [0,1000]
	ProbToWin     float64
	DaysToWin     int
	Priority      Priority
	PlaybookName  PlaybookName
}

// PriorityForScore buckets an integer score into the documented bands
// (spec.md §4.E): >=800 critical, >=600 high, >=400 medium, else low.
func PriorityForScore(score int) Priority {
	switch {
	case score >= 800:
		return PriorityCritical
	case score >= 600:
		return PriorityHigh
	case score >= 400:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
