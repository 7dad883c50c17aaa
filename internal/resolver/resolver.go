// Package resolver implements the Entity Resolver (spec.md §4.D):
// identifier-index match, optional LLM-assisted match, fuzzy
// Levenshtein name match, and create-new, with merge-on-conflict
// semantics.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/eventbus"
)

const (
	identifierMatchScore = 0.99
	llmMatchConfidence   = 0.85
	fuzzyMatchThreshold  = 0.85
	maxLLMCandidates     = 10
)

// DuplicateIdentifierConflict is emitted (via audit.log) when an
// incoming signal's identifier already points to a different entity
// than the one it would otherwise resolve to, triggering a merge
// (spec.md §4.D).
type DuplicateIdentifierConflict struct {
	Identifier string
	WinnerID   string
	LoserID    string
}

func (e *DuplicateIdentifierConflict) Error() string {
	return fmt.Sprintf("resolver: identifier %s conflict between %s and %s, merged into %s",
		e.Identifier, e.WinnerID, e.LoserID, e.WinnerID)
}

// Resolver owns the identifier index and entity store, single-writer
// guarded by mu (spec.md §5 "Shared state").
type Resolver struct {
	mu          sync.RWMutex
	entities    map[string]*domain.Entity
	identifiers map[string]string // "key:value" -> entity id

	llm        LLMResolverClient
	llmModel   string
	health     *HealthGate
	llmEnabled bool

	bus *eventbus.Bus
	log *zap.Logger
}

// Option configures optional behavior at construction.
type Option func(*Resolver)

// WithLLMResolver enables the optional LLM-assisted match tier
// (spec.md §4.D step 2).
func WithLLMResolver(client LLMResolverClient, model string) Option {
	return func(r *Resolver) {
		r.llm = client
		r.llmModel = model
		r.llmEnabled = true
	}
}

// New creates a Resolver publishing merge events to bus.
func New(bus *eventbus.Bus, log *zap.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		entities:    make(map[string]*domain.Entity),
		identifiers: make(map[string]string),
		health:      NewHealthGate(),
		bus:         bus,
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Health exposes the LLM tier's health flag, e.g. for a caller that
// runs HealthGate.Probe in the background.
func (r *Resolver) Health() *HealthGate { return r.health }

func identifierKey(key, value string) string {
	return strings.ToLower(key) + ":" + strings.ToLower(value)
}

// Resolve implements the four-step algorithm from spec.md §4.D,
// returning the canonical entity id the signal belongs to.
func (r *Resolver) Resolve(ctx context.Context, s domain.Signal) (string, error) {
	now := time.Now()

	if id, ok := r.matchByIdentifier(s); ok {
		return r.attach(ctx, id, s, now)
	}

	if r.llmEnabled && r.health.IsHealthy() {
		if id, ok := r.matchByLLM(ctx, s); ok {
			return r.attach(ctx, id, s, now)
		}
	}

	if id, ok := r.matchByFuzzyName(s); ok {
		return r.attach(ctx, id, s, now)
	}

	return r.createNew(ctx, s, now)
}

// matchByIdentifier implements spec.md §4.D step 1.
func (r *Resolver) matchByIdentifier(s domain.Signal) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range s.Entity.Identifiers {
		if v == "" {
			continue
		}
		if id, ok := r.identifiers[identifierKey(k, v)]; ok {
			return id, true
		}
	}
	return "", false
}

// matchByLLM implements spec.md §4.D step 2. A transient call error
// demotes the health gate for all subsequent calls (spec.md "Failure
// mode"), never propagating the error to the caller.
func (r *Resolver) matchByLLM(ctx context.Context, s domain.Signal) (string, bool) {
	r.mu.RLock()
	names := make([]string, 0, len(r.entities))
	byName := make(map[string]string, len(r.entities))
	for id, e := range r.entities {
		lower := strings.ToLower(e.Name)
		names = append(names, e.Name)
		byName[lower] = id
	}
	r.mu.RUnlock()

	sort.Strings(names)
	if len(names) > maxLLMCandidates {
		names = names[:maxLLMCandidates]
	}

	resp, err := r.llm.Match(ctx, LLMMatchRequest{
		NewEntityName:  s.Entity.Name,
		CandidateNames: names,
	})
	if err != nil {
		r.log.Warn("llm resolver call failed, demoting to rules-only", zap.Error(err))
		r.health.demote()
		return "", false
	}

	if !resp.Matched || resp.Confidence < llmMatchConfidence {
		return "", false
	}
	if id, ok := byName[strings.ToLower(resp.SuggestedCanonicalName)]; ok {
		return id, true
	}
	return "", false
}

// matchByFuzzyName implements spec.md §4.D step 3.
func (r *Resolver) matchByFuzzyName(s domain.Signal) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bestID := ""
	bestScore := 0.0
	for id, e := range r.entities {
		score := nameSimilarity(s.Entity.Name, e.Name)
		for alias := range e.Aliases {
			if sim := nameSimilarity(domain.NormalizeAlias(s.Entity.Name), alias); sim > score {
				score = sim
			}
		}
		if score > bestScore {
			bestScore, bestID = score, id
		}
	}
	if bestScore >= fuzzyMatchThreshold {
		return bestID, true
	}
	return "", false
}

// attach appends s to the entity identified by id, reindexing any new
// identifiers and merging if one of them already points elsewhere
// (spec.md §4.D "On match").
func (r *Resolver) attach(ctx context.Context, id string, s domain.Signal, now time.Time) (string, error) {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("resolver: entity %s not found", id)
	}
	if e.HasSeenSignal(s.ID) {
		r.mu.Unlock()
		return e.ID, nil
	}

	e.AppendSignal(s, now)
	e.AddAlias(s.Entity.Name)

	var conflict *DuplicateIdentifierConflict
	for k, v := range s.Entity.Identifiers {
		if v == "" {
			continue
		}
		key := identifierKey(k, v)
		if existingID, ok := r.identifiers[key]; ok && existingID != e.ID {
			conflict = &DuplicateIdentifierConflict{Identifier: key, WinnerID: e.ID, LoserID: existingID}
			continue
		}
		r.identifiers[key] = e.ID
		e.Identifiers[k] = v
	}
	r.mu.Unlock()

	survivorID := e.ID
	if conflict != nil {
		if err := r.merge(ctx, conflict.WinnerID, conflict.LoserID); err != nil {
			r.log.Error("merge failed", zap.Error(err))
		} else {
			// merge keeps the older entity, which may be the one the
			// conflicting identifier pointed at.
			r.mu.RLock()
			if _, alive := r.entities[conflict.WinnerID]; !alive {
				conflict.WinnerID, conflict.LoserID = conflict.LoserID, conflict.WinnerID
			}
			r.mu.RUnlock()
			survivorID = conflict.WinnerID
			if r.bus != nil {
				_, _ = r.bus.Publish(ctx, eventbus.TopicAuditLog, "entity.merged", conflict)
			}
		}
	}

	return survivorID, nil
}

// merge implements spec.md §3 "merge rule": the larger/older id
// survives, the other is retired and its aliases/identifiers
// reindexed onto the survivor.
func (r *Resolver) merge(ctx context.Context, winnerID, loserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	winner, ok := r.entities[winnerID]
	if !ok {
		return fmt.Errorf("resolver: merge winner %s not found", winnerID)
	}
	loser, ok := r.entities[loserID]
	if !ok {
		return nil // already merged by a concurrent call
	}

	survivor, retired := winner, loser
	if loser.CreatedAt.Before(winner.CreatedAt) {
		survivor, retired = loser, winner
	}

	for alias := range retired.Aliases {
		survivor.Aliases[alias] = struct{}{}
	}
	for k, v := range retired.Identifiers {
		survivor.Identifiers[k] = v
		r.identifiers[identifierKey(k, v)] = survivor.ID
	}
	survivor.Signals = append(survivor.Signals, retired.Signals...)
	sort.Slice(survivor.Signals, func(i, j int) bool {
		return survivor.Signals[i].ObservedAt.Before(survivor.Signals[j].ObservedAt)
	})
	survivor.UpdatedAt = time.Now()

	delete(r.entities, retired.ID)
	r.entities[survivor.ID] = survivor
	return nil
}

// createNew implements spec.md §4.D step 4.
func (r *Resolver) createNew(ctx context.Context, s domain.Signal, now time.Time) (string, error) {
	id := uuid.NewString()
	e := domain.NewEntity(id, s.Entity, now)
	e.AppendSignal(s, now)

	r.mu.Lock()
	r.entities[id] = e
	for k, v := range s.Entity.Identifiers {
		if v == "" {
			continue
		}
		r.identifiers[identifierKey(k, v)] = id
	}
	r.mu.Unlock()

	return id, nil
}

// Get returns a snapshot of an entity by id.
func (r *Resolver) Get(id string) (domain.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return *e, true
}

// Search implements the Orchestrator's search_entities query surface
// (spec.md §4.I): a case-insensitive substring match over name and
// aliases, capped at limit.
func (r *Resolver) Search(query string, limit int) []domain.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var out []domain.Entity
	for _, e := range r.entities {
		if q == "" || strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, *e)
			continue
		}
		for alias := range e.Aliases {
			if strings.Contains(alias, q) {
				out = append(out, *e)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
