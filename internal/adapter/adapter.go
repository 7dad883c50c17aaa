// Package adapter implements Source Adapters (spec.md §4.B): the
// polymorphic polling contract and the three behaviorally-specified
// upstream sources (court docket, regulatory calendar, talent
// tracker).
package adapter

import (
	"context"
	"time"

	"github.com/visioncortex/cortex/internal/domain"
)

// Adapter is the polymorphic polling contract. Poll must not block
// longer than roughly 2x Cadence and must never return an error for a
// degraded upstream — a failed poll yields an empty slice and records
// the failure internally (spec.md §4.B).
type Adapter interface {
	Name() string
	Cadence() time.Duration
	Poll(ctx context.Context) ([]domain.Signal, error)
}

// Health exposes the per-adapter failure counter an Ingestor reads
// for its own bookkeeping (spec.md §4.C "per-adapter failure
// counter").
type Health interface {
	FailureCount() int64
}
