//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/store"
)

func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("cortex_test"),
		tcpostgres.WithUsername("cortex"),
		tcpostgres.WithPassword("cortex"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_EntityRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := domain.Entity{
		ID:          "e1",
		Type:        domain.EntityCompany,
		Name:        "Acme LLC",
		Aliases:     map[string]struct{}{"acme llc": {}},
		Identifiers: map[string]string{"ein": "12-3456789"},
		Signals: []domain.Signal{{
			ID:         "s1",
			Type:       "foreclosure",
			Source:     "county_docket",
			Entity:     domain.EntityDescriptor{Type: domain.EntityCompany, Name: "Acme LLC"},
			Triggers:   domain.NewTriggerMap(map[domain.TriggerKey]float64{domain.TriggerUrgency: 80}),
			Data:       domain.DataBag{"value": 250000.0},
			ObservedAt: now,
		}},
		Confidence: 0.9,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	require.NoError(t, s.PutEntity(ctx, e))
	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, e.Identifiers, got.Identifiers)
	assert.Contains(t, got.Aliases, "acme llc")
	require.Len(t, got.Signals, 1)
	assert.Equal(t, "s1", got.Signals[0].ID)
	assert.Equal(t, 80.0, got.Signals[0].Triggers.Get(domain.TriggerUrgency))

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_AlertAndTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := domain.Alert{
		ID:            "a1",
		SignalID:      "s1",
		EntityID:      "e1",
		Deadline:      now.Add(7 * 24 * time.Hour),
		Threshold:     domain.Threshold7,
		DaysRemaining: 7,
		Priority:      domain.PriorityHigh,
		Message:       "7 days to deadline",
		ActionItems:   []string{"call owner", "prep outreach"},
		CreatedAt:     now,
	}
	require.NoError(t, s.PutAlert(ctx, a))
	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a.ActionItems, got.ActionItems)
	assert.Equal(t, domain.PriorityHigh, got.Priority)

	tmpl := domain.Template{ID: "t1", SignalType: "foreclosure", Channel: domain.ChannelEmail, Body: "Hi {{name}}"}
	require.NoError(t, s.PutTemplate(ctx, tmpl))
	gotTmpl, err := s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tmpl.Body, gotTmpl.Body)

	require.NoError(t, s.PutResponseStat(ctx, store.ResponseStat{TemplateID: "t1", SignalID: "s1", Responded: true}))
	stats, err := s.ListResponseStats(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Responded)
}
