package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioncortex/cortex/internal/alert"
	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/eventbus"
	"github.com/visioncortex/cortex/internal/outreach"
	"github.com/visioncortex/cortex/internal/playbook"
	"github.com/visioncortex/cortex/internal/resolver"
	"github.com/visioncortex/cortex/internal/scoring"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	bus := eventbus.New(eventbus.Config{}, nil, nil)
	t.Cleanup(bus.Shutdown)

	store := outreach.NewStore()
	store.Put(domain.Template{
		ID:      "foreclosure-email-1",
		Channel: domain.ChannelEmail,
		Body:    "Hi {{entityName}}, your deadline is {{deadline}}.",
	})

	o := New(Options{
		Bus:               bus,
		Resolver:          resolver.New(bus, nil),
		Scoring:           scoring.NewEngine(scoring.DefaultWeights()),
		AlertMonitor:      alert.NewMonitor(bus, domain.DefaultThresholds, nil),
		Router:            playbook.NewRouter(nil, nil, time.Second),
		OutreachStore:     store,
		OutreachGenerator: outreach.NewGenerator(store),
		DefaultChannel:    domain.ChannelEmail,
	})
	return o
}

func foreclosureSignal(id string) domain.Signal {
	return domain.Signal{
		ID:     id,
		Type:   "foreclosure",
		Source: "county_docket",
		Entity: domain.EntityDescriptor{Type: domain.EntityProperty, Name: "123 Main St"},
		Triggers: domain.NewTriggerMap(map[domain.TriggerKey]float64{
			domain.TriggerUrgency:         90,
			domain.TriggerFinancialStress: 85,
		}),
		Data: domain.DataBag{
			"auction_date": time.Now().Add(5 * 24 * time.Hour).Format(time.RFC3339),
			"value":        250000.0,
		},
	}
}

func TestOrchestrator_IngestRunsFullPipeline(t *testing.T) {
	o := newTestOrchestrator(t)

	scored, err := o.Ingest(context.Background(), foreclosureSignal("s1"))
	require.NoError(t, err)

	assert.NotEmpty(t, scored.EntityID)
	assert.Equal(t, domain.PlaybookRescue, scored.PlaybookName)
	assert.Greater(t, scored.Score, 0)

	timeline, ok := o.GetEntityTimeline(scored.EntityID)
	require.True(t, ok)
	require.Len(t, timeline, 1)
	assert.Equal(t, "s1", timeline[0].ID)

	alerts := o.GetActiveAlerts("")
	assert.NotEmpty(t, alerts)

	metrics := o.GetMetrics()
	assert.Equal(t, 1, metrics.Entities)
	assert.Equal(t, 1, metrics.Playbooks)
	assert.Equal(t, 1, metrics.Outreach)
}

func TestOrchestrator_IngestIsIdempotentPerSignal(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	s := foreclosureSignal("s1")
	first, err := o.Ingest(ctx, s)
	require.NoError(t, err)
	second, err := o.Ingest(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, first.EntityID, second.EntityID)

	timeline, ok := o.GetEntityTimeline(first.EntityID)
	require.True(t, ok)
	assert.Len(t, timeline, 1, "re-ingesting the same signal id must not duplicate the entity's timeline")
}

func TestOrchestrator_SearchEntitiesFindsByName(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Ingest(context.Background(), foreclosureSignal("s1"))
	require.NoError(t, err)

	found := o.SearchEntities("main", 10)
	require.Len(t, found, 1)
	assert.Equal(t, "123 Main St", found[0].Name)
}

func TestOrchestrator_RejectsInvalidSignal(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Ingest(context.Background(), domain.Signal{})
	assert.Error(t, err)
}

func TestOrchestrator_SweepAlertsWithNoSignals(t *testing.T) {
	o := newTestOrchestrator(t)
	o.SweepAlerts(context.Background())
	assert.Empty(t, o.GetActiveAlerts(""))
}
