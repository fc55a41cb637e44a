package index

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/logline/internal/errs"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added idx_events_revenue for entity aggregates
// 2 - Keyed rows by (day, id)
const sqliteSchemaVersion = 2

// SQLite is the default Index backend.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ Index = (*SQLite)(nil)

// OpenSQLite creates or opens an index database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode so reads proceed during upserts
//   - NORMAL synchronous mode (the journal is the durability boundary)
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect index database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := rekeyByDay(db); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	// The v2 rebuild drops every index, so v1's is recreated with it.
	if version < 2 {
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_events_revenue
			ON events(entity_name, action, ts)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// rekeyByDay rebuilds an events table whose primary key is id alone.
func rekeyByDay(db *sql.DB) error {
	var dayKey int
	if err := db.QueryRow(`SELECT pk FROM pragma_table_info('events') WHERE name = 'day'`).Scan(&dayKey); err != nil {
		return fmt.Errorf("inspect events key: %w", err)
	}
	if dayKey > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE events_v2 (
			id          TEXT NOT NULL,
			ts          INTEGER NOT NULL,
			day         TEXT NOT NULL,
			entity_name TEXT,
			action      TEXT NOT NULL,
			subject     TEXT NOT NULL,
			value       REAL,
			currency    TEXT,
			payment     TEXT,
			search_text TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (day, id)
		)`,
		`INSERT INTO events_v2
			(id, ts, day, entity_name, action, subject, value, currency, payment, search_text)
			SELECT id, ts, day, entity_name, action, subject, value, currency, payment, search_text
			FROM events`,
		`DROP TABLE events`,
		`ALTER TABLE events_v2 RENAME TO events`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Recreate the indexes dropped with the old table.
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return errs.New(errs.CodeQuery, "ping", ErrClosed)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return errs.New(errs.CodeQuery, "ping", err)
	}
	return nil
}

// Upsert implements Index.
func (s *SQLite) Upsert(ctx context.Context, ev Event) error {
	if s.closed.Load() {
		return errs.New(errs.CodeIndex, "upsert", ErrClosed).WithEvent(ev.ID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, ts, day, entity_name, action, subject, value, currency, payment, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day, id) DO UPDATE SET
			ts = excluded.ts,
			entity_name = excluded.entity_name,
			action = excluded.action,
			subject = excluded.subject,
			value = excluded.value,
			currency = excluded.currency,
			payment = excluded.payment,
			search_text = excluded.search_text
	`,
		ev.ID,
		ev.Timestamp.UnixMilli(),
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

const sqliteColumns = `id, ts, day, entity_name, action, subject, value, currency, payment`

// EventsForDay implements Index.
func (s *SQLite) EventsForDay(ctx context.Context, day string) ([]Event, error) {
	return s.queryEvents(ctx, "events_for_day", `
		SELECT `+sqliteColumns+` FROM events
		WHERE day = ?
		ORDER BY ts DESC, id DESC
	`, day)
}

// EventsInRange implements Index.
func (s *SQLite) EventsInRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	return s.queryEvents(ctx, "events_in_range", `
		SELECT `+sqliteColumns+` FROM events
		WHERE ts >= ? AND ts < ?
		ORDER BY ts DESC, id DESC
	`, start.UnixMilli(), end.UnixMilli())
}

// EventsForEntity implements Index.
func (s *SQLite) EventsForEntity(ctx context.Context, name string) ([]Event, error) {
	return s.queryEvents(ctx, "events_for_entity", `
		SELECT `+sqliteColumns+` FROM events
		WHERE entity_name = ?
		ORDER BY ts DESC, id DESC
	`, name)
}

// TextSearch implements Index.
func (s *SQLite) TextSearch(ctx context.Context, query string) ([]Event, error) {
	return s.queryEvents(ctx, "text_search", `
		SELECT `+sqliteColumns+` FROM events
		WHERE search_text LIKE ? ESCAPE '\'
		ORDER BY ts DESC, id DESC
	`, likePattern(query))
}

// AggregateForEntity implements Index.
func (s *SQLite) AggregateForEntity(ctx context.Context, name string, start, end time.Time) (Aggregate, error) {
	if s.closed.Load() {
		return Aggregate{}, errs.New(errs.CodeQuery, "aggregate_for_entity", ErrClosed)
	}

	actions := revenueActions()
	args := append([]any{name, start.UnixMilli(), end.UnixMilli()}, actions...)
	var agg Aggregate
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(value), 0) FROM events
		WHERE entity_name = ? AND ts >= ? AND ts < ?
		AND action IN (`+placeholders(len(actions), 1, sqliteMark)+`)
	`, args...).Scan(&agg.Count, &agg.Sum)
	if err != nil {
		return Aggregate{}, errs.New(errs.CodeQuery, "aggregate_for_entity", err)
	}
	return agg, nil
}

// TopEntities implements Index.
func (s *SQLite) TopEntities(ctx context.Context, limit int, start, end time.Time) ([]EntityTotal, error) {
	if s.closed.Load() {
		return nil, errs.New(errs.CodeQuery, "top_entities", ErrClosed)
	}

	actions := revenueActions()
	args := append([]any{start.UnixMilli(), end.UnixMilli()}, actions...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_name, COUNT(*), COALESCE(SUM(value), 0) AS total FROM events
		WHERE entity_name IS NOT NULL AND entity_name <> ''
		AND ts >= ? AND ts < ?
		AND action IN (`+placeholders(len(actions), 1, sqliteMark)+`)
		GROUP BY entity_name
		ORDER BY total DESC, entity_name ASC
		LIMIT ?
	`, args...)
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
func (s *SQLite) AllEntityNames(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, errs.New(errs.CodeQuery, "all_entity_names", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_name FROM events
		WHERE entity_name IS NOT NULL AND entity_name <> ''
		ORDER BY entity_name ASC
	`)
	if err != nil {
		return nil, errs.New(errs.CodeQuery, "all_entity_names", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errs.New(errs.CodeQuery, "all_entity_names", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CodeQuery, "all_entity_names", err)
	}
	return names, nil
}

func (s *SQLite) queryEvents(ctx context.Context, op, query string, args ...any) ([]Event, error) {
	if s.closed.Load() {
		return nil, errs.New(errs.CodeQuery, op, ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.CodeQuery, op, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, errs.New(errs.CodeQuery, op, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CodeQuery, op, err)
	}
	return events, nil
}

func scanSQLiteEvent(rows *sql.Rows) (Event, error) {
	var (
		ev                        Event
		ts                        int64
		entity, currency, payment sql.NullString
		value                     sql.NullFloat64
	)
	if err := rows.Scan(&ev.ID, &ts, &ev.Day, &entity, &ev.Action, &ev.Subject, &value, &currency, &payment); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Timestamp = time.UnixMilli(ts).UTC()
	ev.EntityName = entity.String
	ev.Currency = currency.String
	ev.Payment = payment.String
	if value.Valid {
		v := value.Float64
		ev.Value = &v
	}
	return ev, nil
}

func sqliteMark(int) string { return "?" }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
