package domain

import "time"

// Entity is the canonical deduplicated record a Signal resolves to.
// Owned solely by the Entity Resolver (spec.md §5 "Shared state").
type Entity struct {
	ID          string
	Type        EntityType
	Name        string
	Aliases     map[string]struct{} // normalized aliases
	Identifiers map[string]string
	Signals     []Signal // ordered by ObservedAt, append-only except for merges
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewEntity seeds a brand-new canonical entity from the first signal
// that created it (spec.md §4.D step 4: "create new entity").
func NewEntity(id string, desc EntityDescriptor, now time.Time) *Entity {
	e := &Entity{
		ID:          id,
		Type:        desc.Type,
		Name:        desc.Name,
		Aliases:     map[string]struct{}{},
		Identifiers: map[string]string{},
		Confidence:  0.5,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.AddAlias(desc.Name)
	for k, v := range desc.Identifiers {
		e.Identifiers[k] = v
	}
	return e
}

// AddAlias stores the normalized form of name, a no-op for an empty name.
func (e *Entity) AddAlias(name string) {
	norm := NormalizeAlias(name)
	if norm == "" {
		return
	}
	e.Aliases[norm] = struct{}{}
}

// AppendSignal adds s to the entity's observation-ordered signal list
// and bumps UpdatedAt. Callers are responsible for the monotonic
// ordering invariant (spec.md §3 invariant (c)); AppendSignal itself
// always appends at the tail, which preserves it as long as callers
// feed signals in non-decreasing ObservedAt order (true for the bus
// path and for manual ingest).
func (e *Entity) AppendSignal(s Signal, now time.Time) {
	e.Signals = append(e.Signals, s)
	e.UpdatedAt = now
}

// HasSeenSignal reports whether a signal with this id has already
// been appended — used to make bus-path resolution idempotent by
// event id (spec.md §8 round-trip law).
func (e *Entity) HasSeenSignal(id string) bool {
	for _, s := range e.Signals {
		if s.ID == id {
			return true
		}
	}
	return false
}
