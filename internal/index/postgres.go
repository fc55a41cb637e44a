package index

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/logline/internal/errs"
)

// postgresSchema is embedded so the index can self-bootstrap its tables.
//
//go:embed schema_postgres.sql
var postgresSchema string

// Postgres is an Index backed by a shared PostgreSQL database.
type Postgres struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

var _ Index = (*Postgres)(nil)

// OpenPostgres connects to dsn, fails fast when the database is unreachable,
// and applies the schema. Safe to run against an existing database.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open index pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect index database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() error {
	if !p.closed.Swap(true) {
		p.pool.Close()
	}
	return nil
}

// Ping is used by readiness checks.
func (p *Postgres) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return errs.New(errs.CodeQuery, "ping", ErrClosed)
	}
	if err := p.pool.Ping(ctx); err != nil {
		return errs.New(errs.CodeQuery, "ping", err)
	}
	return nil
}

// Upsert implements Index.
func (p *Postgres) Upsert(ctx context.Context, ev Event) error {
	if p.closed.Load() {
		return errs.New(errs.CodeIndex, "upsert", ErrClosed).WithEvent(ev.ID)
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO ledger_events
		(id, ts, day, entity_name, action, subject, value, currency, payment, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (day, id) DO UPDATE SET
			ts = EXCLUDED.ts,
			entity_name = EXCLUDED.entity_name,
			action = EXCLUDED.action,
			subject = EXCLUDED.subject,
			value = EXCLUDED.value,
			currency = EXCLUDED.currency,
			payment = EXCLUDED.payment,
			search_text = EXCLUDED.search_text
	`,
		ev.ID,
		ev.Timestamp.UTC(),
		ev.Day,
		nullString(ev.EntityName),
		ev.Action,
		ev.Subject,
		nullFloat(ev.Value),
		nullString(ev.Currency),
		nullString(ev.Payment),
		searchText(ev),
	)
	if err != nil {
		return errs.New(errs.CodeIndex, "upsert", err).WithDay(ev.Day).WithEvent(ev.ID)
	}
	return nil
}

const pgColumns = `id, ts, day, entity_name, action, subject, value, currency, payment`

// EventsForDay implements Index.
func (p *Postgres) EventsForDay(ctx context.Context, day string) ([]Event, error) {
	return p.queryEvents(ctx, "events_for_day", `
		SELECT `+pgColumns+` FROM ledger_events
		WHERE day = $1
		ORDER BY ts DESC, id DESC
	`, day)
}

// EventsInRange implements Index. The window is half-open to avoid double
// counting at boundaries.
func (p *Postgres) EventsInRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	return p.queryEvents(ctx, "events_in_range", `
		SELECT `+pgColumns+` FROM ledger_events
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts DESC, id DESC
	`, start.UTC(), end.UTC())
}

// EventsForEntity implements Index.
func (p *Postgres) EventsForEntity(ctx context.Context, name string) ([]Event, error) {
	return p.queryEvents(ctx, "events_for_entity", `
		SELECT `+pgColumns+` FROM ledger_events
		WHERE entity_name = $1
		ORDER BY ts DESC, id DESC
	`, name)
}

// TextSearch implements Index.
func (p *Postgres) TextSearch(ctx context.Context, query string) ([]Event, error) {
	return p.queryEvents(ctx, "text_search", `
		SELECT `+pgColumns+` FROM ledger_events
		WHERE search_text LIKE $1 ESCAPE '\'
		ORDER BY ts DESC, id DESC
	`, likePattern(query))
}

// AggregateForEntity implements Index.
func (p *Postgres) AggregateForEntity(ctx context.Context, name string, start, end time.Time) (Aggregate, error) {
	if p.closed.Load() {
		return Aggregate{}, errs.New(errs.CodeQuery, "aggregate_for_entity", ErrClosed)
	}

	actions := revenueActions()
	args := append([]any{name, start.UTC(), end.UTC()}, actions...)
	var agg Aggregate
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(value), 0) FROM ledger_events
		WHERE entity_name = $1 AND ts >= $2 AND ts < $3
		AND action IN (`+placeholders(len(actions), 4, pgMark)+`)
	`, args...).Scan(&agg.Count, &agg.Sum)
	if err != nil {
		return Aggregate{}, errs.New(errs.CodeQuery, "aggregate_for_entity", err)
	}
	return agg, nil
}

// TopEntities implements Index.
func (p *Postgres) TopEntities(ctx context.Context, limit int, start, end time.Time) ([]EntityTotal, error) {
	if p.closed.Load() {
		return nil, errs.New(errs.CodeQuery, "top_entities", ErrClosed)
	}

	actions := revenueActions()
	args := append([]any{start.UTC(), end.UTC()}, actions...)
	args = append(args, limit)
	rows, err := p.pool.Query(ctx, `
		SELECT entity_name, COUNT(*), COALESCE(SUM(value), 0) AS total FROM ledger_events
		WHERE entity_name IS NOT NULL AND entity_name <> ''
		AND ts >= $1 AND ts < $2
		AND action IN (`+placeholders(len(actions), 3, pgMark)+`)
		GROUP BY entity_name
		ORDER BY total DESC, entity_name ASC
		LIMIT $`+strconv.Itoa(3+len(actions)), args...)
	if err != nil {
		return nil, errs.New(errs.CodeQuery, "top_entities", err)
	}
	defer rows.Close()

	out := []EntityTotal{}
	for rows.Next() {
		var t EntityTotal
		if err := rows.Scan(&t.Name, &t.Count, &t.Sum); err != nil {
			return nil, errs.New(errs.CodeQuery, "top_entities", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CodeQuery, "top_entities", err)
	}
	return out, nil
}

// AllEntityNames implements Index.
func (p *Postgres) AllEntityNames(ctx context.Context) ([]string, error) {
	if p.closed.Load() {
		return nil, errs.New(errs.CodeQuery, "all_entity_names", ErrClosed)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT entity_name FROM ledger_events
		WHERE entity_name IS NOT NULL AND entity_name <> ''
		ORDER BY entity_name ASC
	`)
	if err != nil {
		return nil, errs.New(errs.CodeQuery, "all_entity_names", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.New(errs.CodeQuery, "all_entity_names", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (p *Postgres) queryEvents(ctx context.Context, op, query string, args ...any) ([]Event, error) {
	if p.closed.Load() {
		return nil, errs.New(errs.CodeQuery, op, ErrClosed)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.CodeQuery, op, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev                        Event
			entity, currency, payment *string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Day, &entity, &ev.Action, &ev.Subject, &ev.Value, &currency, &payment); err != nil {
			return nil, errs.New(errs.CodeQuery, op, err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		ev.EntityName = deref(entity)
		ev.Currency = deref(currency)
		ev.Payment = deref(payment)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CodeQuery, op, err)
	}
	return events, nil
}

func pgMark(i int) string { return "$" + strconv.Itoa(i) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
