package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/testutil"
)

func seeded(t *testing.T) *Engine {
	t.Helper()
	idx, err := index.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	ctx := context.Background()
	put := func(id string, ts time.Time, c *canon.Canonical) {
		require.NoError(t, idx.Upsert(ctx, index.Project(id, ts, ts.Format("2006-01-02"), c)))
	}
	put("e1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), testutil.AmandaSale())
	put("e2", time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC), testutil.Payment("Amanda Barros", "fiado", 30))
	put("e3", time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC), testutil.Sale("Bruno Lima", "bolsa", 500))
	put("e4", time.Date(2025, 6, 21, 10, 0, 0, 0, time.UTC), testutil.Return("Amanda Barros", "camiseta", 60))
	put("e5", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), testutil.Sale("Amanda Barros", "saia", 90))
	put("e6", time.Date(2025, 5, 31, 23, 59, 59, 0, time.UTC), testutil.Sale("Carla Dias", "vestido", 200))

	return New(idx, time.UTC)
}

func TestPurchasesForMonth(t *testing.T) {
	e := seeded(t)
	ctx := context.Background()

	agg, err := e.PurchasesForMonth(ctx, "Amanda Barros", time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, index.Aggregate{Count: 2, Sum: 150}, agg)

	agg, err = e.PurchasesForMonth(ctx, "Amanda Barros", time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, index.Aggregate{Count: 1, Sum: 90}, agg)

	agg, err = e.PurchasesForMonth(ctx, "Nobody", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, index.Aggregate{}, agg)
}

func TestPurchasesBetween_Validation(t *testing.T) {
	e := seeded(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := e.PurchasesBetween(ctx, "  ", start, start.AddDate(0, 1, 0))
	assert.True(t, errs.IsQuery(err))

	_, err = e.PurchasesBetween(ctx, "Amanda Barros", start, start.AddDate(0, -1, 0))
	assert.True(t, errs.IsQuery(err))
}

func TestTopCustomers(t *testing.T) {
	e := seeded(t)
	ctx := context.Background()
	start, end := MonthRange(time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), time.UTC)

	top, err := e.TopCustomers(ctx, 0, start, end)
	require.NoError(t, err)
	assert.Equal(t, []index.EntityTotal{
		{Name: "Bruno Lima", Count: 1, Sum: 500},
		{Name: "Amanda Barros", Count: 2, Sum: 150},
	}, top)

	top, err = e.TopCustomers(ctx, 1, start, end)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestEventsForEntity(t *testing.T) {
	e := seeded(t)
	evs, err := e.EventsForEntity(context.Background(), "Amanda Barros")
	require.NoError(t, err)
	ids := make([]string, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
	}
	assert.Equal(t, []string{"e5", "e4", "e2", "e1"}, ids)

	_, err = e.EventsForEntity(context.Background(), "")
	assert.True(t, errs.IsQuery(err))
}

func TestEventsForDayAndBetween(t *testing.T) {
	e := seeded(t)
	ctx := context.Background()

	evs, err := e.EventsForDay(ctx, "2025-06-01")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "e1", evs[0].ID)

	_, err = e.EventsForDay(ctx, "June 1st")
	assert.True(t, errs.IsQuery(err))

	start, end, err := DayRange("2025-05-31", time.UTC)
	require.NoError(t, err)
	evs, err = e.EventsBetween(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "e6", evs[0].ID)
}

func TestSearchAndEntities(t *testing.T) {
	e := seeded(t)
	ctx := context.Background()

	names, err := e.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Amanda Barros", "Bruno Lima", "Carla Dias"}, names)

	evs, err := e.Search(ctx, "BOLSA")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "e3", evs[0].ID)

	_, err = e.Search(ctx, " ")
	assert.True(t, errs.IsQuery(err))
}

type brokenIndex struct{ index.Index }

func (brokenIndex) AllEntityNames(context.Context) ([]string, error) {
	return nil, errors.New("disk I/O error")
}

func (brokenIndex) TextSearch(context.Context, string) ([]index.Event, error) {
	return nil, errs.Newf(errs.CodeQuery, "text_search", "locked")
}

func TestWrapsIndexFailures(t *testing.T) {
	e := New(brokenIndex{}, nil)
	assert.Equal(t, time.Local, e.Location())

	_, err := e.Entities(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsQuery(err))
	assert.Contains(t, err.Error(), "disk I/O error")

	_, err = e.Search(context.Background(), "x")
	var qe *errs.Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "text_search", qe.Op)
}

func TestInvalidArgumentsAreMarked(t *testing.T) {
	e := seeded(t)
	_, err := e.Search(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = e.Entities(context.Background())
	assert.NoError(t, err)

	_, err = New(brokenIndex{}, time.UTC).Entities(context.Background())
	assert.NotErrorIs(t, err, ErrInvalid)
}
