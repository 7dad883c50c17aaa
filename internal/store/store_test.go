package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioncortex/cortex/internal/domain"
)

func TestInMemory_EntityCRUD(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	e := domain.Entity{ID: "e1", Name: "Acme LLC", CreatedAt: time.Now()}
	require.NoError(t, s.PutEntity(ctx, e))

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Acme LLC", got.Name)

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInMemory_AlertCRUD(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a := domain.Alert{ID: "a1", SignalID: "s1", Priority: domain.PriorityCritical}
	require.NoError(t, s.PutAlert(ctx, a))

	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCritical, got.Priority)

	list, err := s.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInMemory_TemplateCRUD(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	tmpl := domain.Template{ID: "t1", Channel: domain.ChannelEmail, Body: "hi"}
	require.NoError(t, s.PutTemplate(ctx, tmpl))

	got, err := s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Body)

	list, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInMemory_ResponseStats(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.PutResponseStat(ctx, ResponseStat{TemplateID: "t1", SignalID: "s1", Responded: true}))
	require.NoError(t, s.PutResponseStat(ctx, ResponseStat{TemplateID: "t2", SignalID: "s2", Responded: false}))

	all, err := s.ListResponseStats(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.ListResponseStats(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.True(t, filtered[0].Responded)
}

func TestInMemory_Close(t *testing.T) {
	s := NewInMemory()
	assert.NoError(t, s.Close())
}
