// Package postgres is the optional durable Store implementation
// (spec.md §6 "Persisted state layout"): the core runs in-memory by
// default, but an external HTTP layer can opt into at-least-once
// durability backed by Postgres via pgx, using a pgxpool connection
// pool and embedded golang-migrate migrations.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is a Postgres-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies any pending embedded migrations, and
// returns a ready Store. The caller must Close it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// signalRow is the JSON shape an entity's signals are stored under,
// since the domain.Signal's TriggerMap has no exported fields to
// marshal directly.
type signalRow struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Source     string                  `json:"source"`
	Entity     domain.EntityDescriptor `json:"entity"`
	Triggers   map[string]float64      `json:"triggers"`
	Data       domain.DataBag          `json:"data"`
	ObservedAt time.Time               `json:"observed_at"`
}

func toSignalRow(s domain.Signal) signalRow {
	triggers := make(map[string]float64, len(domain.AllTriggerKeys))
	for _, k := range domain.AllTriggerKeys {
		triggers[string(k)] = s.Triggers.Get(k)
	}
	return signalRow{
		ID:         s.ID,
		Type:       s.Type,
		Source:     s.Source,
		Entity:     s.Entity,
		Triggers:   triggers,
		Data:       s.Data,
		ObservedAt: s.ObservedAt,
	}
}

func (r signalRow) toSignal() domain.Signal {
	tm := domain.NewTriggerMap(nil)
	for k, v := range r.Triggers {
		tm.Set(domain.TriggerKey(k), v)
	}
	return domain.Signal{
		ID:         r.ID,
		Type:       r.Type,
		Source:     r.Source,
		Entity:     r.Entity,
		Triggers:   tm,
		Data:       r.Data,
		ObservedAt: r.ObservedAt,
	}
}

func (s *Store) PutEntity(ctx context.Context, e domain.Entity) error {
	aliases := make([]string, 0, len(e.Aliases))
	for a := range e.Aliases {
		aliases = append(aliases, a)
	}
	signals := make([]signalRow, 0, len(e.Signals))
	for _, sig := range e.Signals {
		signals = append(signals, toSignalRow(sig))
	}

	aliasesJSON, err := json.Marshal(aliases)
	if err != nil {
		return fmt.Errorf("postgres: marshal aliases: %w", err)
	}
	identifiersJSON, err := json.Marshal(e.Identifiers)
	if err != nil {
		return fmt.Errorf("postgres: marshal identifiers: %w", err)
	}
	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("postgres: marshal signals: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (id, type, name, aliases, identifiers, signals, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, name = EXCLUDED.name, aliases = EXCLUDED.aliases,
			identifiers = EXCLUDED.identifiers, signals = EXCLUDED.signals,
			confidence = EXCLUDED.confidence, updated_at = EXCLUDED.updated_at
	`, e.ID, string(e.Type), e.Name, aliasesJSON, identifiersJSON, signalsJSON, e.Confidence, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put entity: %w", err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT type, name, aliases, identifiers, signals, confidence, created_at, updated_at
		FROM entities WHERE id = $1
	`, id)

	var (
		typ, name                         string
		aliasesJSON, identifiersJSON, sig []byte
		confidence                        float64
		createdAt, updatedAt              time.Time
	)
	if err := row.Scan(&typ, &name, &aliasesJSON, &identifiersJSON, &sig, &confidence, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entity{}, store.ErrNotFound
		}
		return domain.Entity{}, fmt.Errorf("postgres: scan entity: %w", err)
	}

	var aliases []string
	_ = json.Unmarshal(aliasesJSON, &aliases)
	aliasSet := make(map[string]struct{}, len(aliases))
	for _, a := range aliases {
		aliasSet[a] = struct{}{}
	}
	var identifiers map[string]string
	_ = json.Unmarshal(identifiersJSON, &identifiers)
	var rows []signalRow
	_ = json.Unmarshal(sig, &rows)
	signals := make([]domain.Signal, 0, len(rows))
	for _, r := range rows {
		signals = append(signals, r.toSignal())
	}

	return domain.Entity{
		ID:          id,
		Type:        domain.EntityType(typ),
		Name:        name,
		Aliases:     aliasSet,
		Identifiers: identifiers,
		Signals:     signals,
		Confidence:  confidence,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *Store) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entities: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) PutAlert(ctx context.Context, a domain.Alert) error {
	actionItemsJSON, err := json.Marshal(a.ActionItems)
	if err != nil {
		return fmt.Errorf("postgres: marshal action items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alerts (id, signal_id, entity_id, deadline, threshold, days_remaining, priority, message, action_items, created_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET acknowledged = EXCLUDED.acknowledged
	`, a.ID, a.SignalID, a.EntityID, a.Deadline, int(a.Threshold), a.DaysRemaining, string(a.Priority), a.Message, actionItemsJSON, a.CreatedAt, a.Acknowledged)
	if err != nil {
		return fmt.Errorf("postgres: put alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT signal_id, entity_id, deadline, threshold, days_remaining, priority, message, action_items, created_at, acknowledged
		FROM alerts WHERE id = $1
	`, id)
	var (
		a               domain.Alert
		threshold       int
		priority        string
		actionItemsJSON []byte
	)
	a.ID = id
	if err := row.Scan(&a.SignalID, &a.EntityID, &a.Deadline, &threshold, &a.DaysRemaining, &priority, &a.Message, &actionItemsJSON, &a.CreatedAt, &a.Acknowledged); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, store.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("postgres: scan alert: %w", err)
	}
	a.Threshold = domain.Threshold(threshold)
	a.Priority = domain.Priority(priority)
	_ = json.Unmarshal(actionItemsJSON, &a.ActionItems)
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM alerts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]domain.Alert, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAlert(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) PutTemplate(ctx context.Context, t domain.Template) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates (id, signal_type, channel, subject, body, sent, responded)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			signal_type = EXCLUDED.signal_type, channel = EXCLUDED.channel,
			subject = EXCLUDED.subject, body = EXCLUDED.body,
			sent = EXCLUDED.sent, responded = EXCLUDED.responded
	`, t.ID, t.SignalType, string(t.Channel), t.Subject, t.Body, t.Sent, t.Responded)
	if err != nil {
		return fmt.Errorf("postgres: put template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT signal_type, channel, subject, body, sent, responded FROM templates WHERE id = $1
	`, id)
	t := domain.Template{ID: id}
	var channel string
	if err := row.Scan(&t.SignalType, &channel, &t.Subject, &t.Body, &t.Sent, &t.Responded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Template{}, store.ErrNotFound
		}
		return domain.Template{}, fmt.Errorf("postgres: scan template: %w", err)
	}
	t.Channel = domain.Channel(channel)
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, signal_type, channel, subject, body, sent, responded FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		var channel string
		if err := rows.Scan(&t.ID, &t.SignalType, &channel, &t.Subject, &t.Body, &t.Sent, &t.Responded); err != nil {
			return nil, err
		}
		t.Channel = domain.Channel(channel)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) PutResponseStat(ctx context.Context, r store.ResponseStat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO response_stats (template_id, signal_id, responded) VALUES ($1, $2, $3)
	`, r.TemplateID, r.SignalID, r.Responded)
	if err != nil {
		return fmt.Errorf("postgres: put response stat: %w", err)
	}
	return nil
}

func (s *Store) ListResponseStats(ctx context.Context, templateID string) ([]store.ResponseStat, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if templateID == "" {
		rows, err = s.pool.Query(ctx, `SELECT template_id, signal_id, responded FROM response_stats ORDER BY id`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT template_id, signal_id, responded FROM response_stats WHERE template_id = $1 ORDER BY id`, templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list response stats: %w", err)
	}
	defer rows.Close()

	var out []store.ResponseStat
	for rows.Next() {
		var r store.ResponseStat
		if err := rows.Scan(&r.TemplateID, &r.SignalID, &r.Responded); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
