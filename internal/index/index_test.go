package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/errs"
)

var june = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func ev(id string, ts time.Time, entity, action, subject string, value *float64) Event {
	return Event{
		ID:         id,
		Timestamp:  ts,
		Day:        ts.Format("2006-01-02"),
		EntityName: entity,
		Action:     action,
		Subject:    subject,
		Value:      value,
		Currency:   "BRL",
		Payment:    "pix",
	}
}

func fixtures() []Event {
	return []Event{
		ev("evt:1", june.Add(10*time.Hour), "Amanda Barros", "sale", "camisetas", canon.Float(120)),
		ev("evt:2", june.Add(11*time.Hour), "Amanda Barros", "return", "camiseta", canon.Float(60)),
		ev("evt:3", june.Add(12*time.Hour), "Bruno Lima", "payment", "fiado", canon.Float(45.5)),
		ev("evt:4", june.Add(36*time.Hour), "Amanda Barros", "payment", "saldo", canon.Float(30)),
		ev("evt:5", june.Add(37*time.Hour), "", "inquiry", "preço da bolsa", nil),
		ev("evt:6", june.AddDate(0, 1, 0), "Amanda Barros", "sale", "vestido", canon.Float(200)),
	}
}

func ids(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

// runIndexContract exercises behavior every backend must share.
func runIndexContract(t *testing.T, open func(t *testing.T) Index) {
	ctx := context.Background()

	seed := func(t *testing.T) Index {
		idx := open(t)
		for _, e := range fixtures() {
			require.NoError(t, idx.Upsert(ctx, e))
		}
		return idx
	}

	t.Run("events for day newest first", func(t *testing.T) {
		idx := seed(t)
		got, err := idx.EventsForDay(ctx, "2025-06-01")
		require.NoError(t, err)
		assert.Equal(t, []string{"evt:3", "evt:2", "evt:1"}, ids(got))

		first := got[2]
		assert.Equal(t, "Amanda Barros", first.EntityName)
		assert.Equal(t, "sale", first.Action)
		require.NotNil(t, first.Value)
		assert.Equal(t, 120.0, *first.Value)
		assert.Equal(t, "BRL", first.Currency)
		assert.Equal(t, "pix", first.Payment)
		assert.True(t, first.Timestamp.Equal(june.Add(10*time.Hour)))
	})

	t.Run("empty results are empty slices", func(t *testing.T) {
		idx := open(t)
		got, err := idx.EventsForDay(ctx, "1999-01-01")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)

		names, err := idx.AllEntityNames(ctx)
		require.NoError(t, err)
		assert.NotNil(t, names)
		assert.Empty(t, names)
	})

	t.Run("range is half open", func(t *testing.T) {
		idx := seed(t)
		got, err := idx.EventsInRange(ctx, june.Add(11*time.Hour), june.Add(36*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"evt:3", "evt:2"}, ids(got))
	})

	t.Run("aggregate counts revenue actions only", func(t *testing.T) {
		idx := seed(t)
		agg, err := idx.AggregateForEntity(ctx, "Amanda Barros", june, june.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, Aggregate{Count: 2, Sum: 150}, agg)

		agg, err = idx.AggregateForEntity(ctx, "Nobody", june, june.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, Aggregate{}, agg)
	})

	t.Run("same id on two days keeps both rows", func(t *testing.T) {
		idx := open(t)
		tests := []struct {
			day     time.Time
			subject string
			value   float64
		}{
			{june.Add(10 * time.Hour), "camisetas", 120},
			{june.Add(34 * time.Hour), "bolsa", 80},
		}
		for _, tt := range tests {
			require.NoError(t, idx.Upsert(ctx, ev("pos:1001", tt.day, "Amanda Barros", "sale", tt.subject, canon.Float(tt.value))))
		}
		// Replaying the first day again replaces only its own row.
		require.NoError(t, idx.Upsert(ctx, ev("pos:1001", tests[0].day, "Amanda Barros", "sale", "camisetas", canon.Float(120))))

		for _, tt := range tests {
			got, err := idx.EventsForDay(ctx, tt.day.Format("2006-01-02"))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.subject, got[0].Subject)
		}
		agg, err := idx.AggregateForEntity(ctx, "Amanda Barros", june, june.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, Aggregate{Count: 2, Sum: 200}, agg)
	})

	t.Run("entity names sorted and distinct", func(t *testing.T) {
		idx := seed(t)
		names, err := idx.AllEntityNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Amanda Barros", "Bruno Lima"}, names)
	})

	t.Run("text search is case insensitive", func(t *testing.T) {
		idx := seed(t)

		got, err := idx.TextSearch(ctx, "AMANDA")
		require.NoError(t, err)
		assert.Equal(t, []string{"evt:6", "evt:4", "evt:2", "evt:1"}, ids(got))

		got, err = idx.TextSearch(ctx, "PREÇO")
		require.NoError(t, err)
		assert.Equal(t, []string{"evt:5"}, ids(got))

		got, err = idx.TextSearch(ctx, "payment")
		require.NoError(t, err)
		assert.Equal(t, []string{"evt:4", "evt:3"}, ids(got))
	})

	t.Run("text search treats wildcards literally", func(t *testing.T) {
		idx := seed(t)
		got, err := idx.TextSearch(ctx, "%")
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = idx.TextSearch(ctx, "_")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("events for entity", func(t *testing.T) {
		idx := seed(t)
		got, err := idx.EventsForEntity(ctx, "Bruno Lima")
		require.NoError(t, err)
		assert.Equal(t, []string{"evt:3"}, ids(got))
	})

	t.Run("top entities by revenue", func(t *testing.T) {
		idx := seed(t)
		top, err := idx.TopEntities(ctx, 10, june, june.AddDate(0, 2, 0))
		require.NoError(t, err)
		assert.Equal(t, []EntityTotal{
			{Name: "Amanda Barros", Count: 3, Sum: 350},
			{Name: "Bruno Lima", Count: 1, Sum: 45.5},
		}, top)

		top, err = idx.TopEntities(ctx, 1, june, june.AddDate(0, 2, 0))
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		idx := seed(t)
		changed := fixtures()[0]
		changed.Value = canon.Float(125)
		require.NoError(t, idx.Upsert(ctx, changed))

		got, err := idx.EventsForDay(ctx, "2025-06-01")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 125.0, *got[2].Value)
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		idx := seed(t)
		before, err := idx.AggregateForEntity(ctx, "Amanda Barros", june, june.AddDate(0, 1, 0))
		require.NoError(t, err)
		dayBefore, err := idx.EventsForDay(ctx, "2025-06-01")
		require.NoError(t, err)

		for _, e := range fixtures() {
			require.NoError(t, idx.Upsert(ctx, e))
		}

		after, err := idx.AggregateForEntity(ctx, "Amanda Barros", june, june.AddDate(0, 1, 0))
		require.NoError(t, err)
		dayAfter, err := idx.EventsForDay(ctx, "2025-06-01")
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, dayBefore, dayAfter)
	})

	t.Run("closed index reports typed errors", func(t *testing.T) {
		idx := open(t)
		require.NoError(t, idx.Close())

		err := idx.Upsert(ctx, fixtures()[0])
		assert.True(t, errs.IsIndex(err))
		assert.ErrorIs(t, err, ErrClosed)

		_, err = idx.EventsForDay(ctx, "2025-06-01")
		assert.True(t, errs.IsQuery(err))
		assert.True(t, errs.IsQuery(idx.Ping(ctx)))
	})
}

func openTestSQLite(t *testing.T) Index {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSQLiteContract(t *testing.T) {
	runIndexContract(t, openTestSQLite)
}

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("LOGLINE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LOGLINE_TEST_PG_DSN not set")
	}
	runIndexContract(t, func(t *testing.T) Index {
		t.Helper()
		idx, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		_, err = idx.pool.Exec(context.Background(), "TRUNCATE ledger_events")
		require.NoError(t, err)
		t.Cleanup(func() { idx.Close() })
		return idx
	})
}

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Upsert(context.Background(), fixtures()[0]))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	var version int
	require.NoError(t, second.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, sqliteSchemaVersion, version)

	var mode string
	require.NoError(t, second.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	got, err := second.EventsForDay(context.Background(), "2025-06-01")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenSQLite_MigratesIDKeyedTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE events (
			id TEXT PRIMARY KEY, ts INTEGER NOT NULL, day TEXT NOT NULL,
			entity_name TEXT, action TEXT NOT NULL, subject TEXT NOT NULL,
			value REAL, currency TEXT, payment TEXT, search_text TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_events_revenue ON events(entity_name, action, ts)`,
		`INSERT INTO events (id, ts, day, entity_name, action, subject, value)
			VALUES ('pos:1001', 1748772000000, '2025-06-01', 'Amanda Barros', 'sale', 'camisetas', 120)`,
		`PRAGMA user_version = 1`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	idx, err := OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	var version int
	require.NoError(t, idx.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, sqliteSchemaVersion, version)

	var indexes []string
	rows, err := idx.db.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'events' AND name LIKE 'idx_%' ORDER BY name`)
	require.NoError(t, err)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"idx_events_day", "idx_events_entity", "idx_events_revenue", "idx_events_ts"}, indexes)

	require.NoError(t, idx.Upsert(ctx, ev("pos:1001", june.Add(34*time.Hour), "Amanda Barros", "sale", "bolsa", canon.Float(80))))

	first, err := idx.EventsForDay(ctx, "2025-06-01")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "camisetas", first[0].Subject)

	second, err := idx.EventsForDay(ctx, "2025-06-02")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "bolsa", second[0].Subject)
}

func TestProject(t *testing.T) {
	c := &canon.Canonical{
		Entities: []canon.Entity{{Name: "Amanda Barros", Type: canon.EntityPerson}, {Name: "VoulezVous", Type: canon.EntityOrganization}},
		Events: []canon.Event{
			{Action: canon.ActionSale, Subject: "camisetas", Value: canon.Float(120), Currency: "BRL", PaymentMethod: canon.PaymentPix},
			{Action: canon.ActionPayment, Subject: "frete", Value: canon.Float(15)},
		},
	}
	ts := time.Date(2025, 6, 1, 14, 0, 0, 0, time.FixedZone("BRT", -3*3600))

	got := Project("evt:1", ts, "2025-06-01", c)
	assert.Equal(t, "evt:1", got.ID)
	assert.Equal(t, time.UTC, got.Timestamp.Location())
	assert.Equal(t, "Amanda Barros", got.EntityName)
	assert.Equal(t, "sale", got.Action)
	assert.Equal(t, "camisetas", got.Subject)
	assert.Equal(t, 120.0, *got.Value)
	assert.Equal(t, "BRL", got.Currency)
	assert.Equal(t, "pix", got.Payment)

	*c.Events[0].Value = 1
	assert.Equal(t, 120.0, *got.Value, "projection must not alias the event")

	bare := Project("evt:2", ts, "2025-06-01", &canon.Canonical{})
	assert.Empty(t, bare.EntityName)
	assert.Nil(t, bare.Value)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%amanda%`, likePattern("Amanda"))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_OFF\`))
}
