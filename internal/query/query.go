// Package query answers the business questions asked of the ledger: how
// much a customer bought in a month, who the top customers are, what
// happened on a day. It reads only the secondary index.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/index"
)

// ErrInvalid marks query errors caused by bad arguments rather than by the
// index.
var ErrInvalid = errors.New("invalid query")

// DefaultTopLimit is used when TopCustomers is asked for a non-positive limit.
const DefaultTopLimit = 10

// Engine runs queries against an index. Month and day boundaries are
// computed in the engine's location, the same zone day keys use.
type Engine struct {
	idx index.Index
	loc *time.Location
}

// New returns an Engine over idx. A nil loc means time.Local.
func New(idx index.Index, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{idx: idx, loc: loc}
}

// Location returns the zone month and day ranges are computed in.
func (e *Engine) Location() *time.Location { return e.loc }

// PurchasesForMonth aggregates the revenue of name over the calendar month
// containing t.
func (e *Engine) PurchasesForMonth(ctx context.Context, name string, t time.Time) (index.Aggregate, error) {
	start, end := MonthRange(t, e.loc)
	return e.PurchasesBetween(ctx, name, start, end)
}

// PurchasesBetween aggregates the revenue of name over [start, end).
func (e *Engine) PurchasesBetween(ctx context.Context, name string, start, end time.Time) (index.Aggregate, error) {
	if strings.TrimSpace(name) == "" {
		return index.Aggregate{}, invalid("purchases", "entity name is required")
	}
	if err := checkRange(start, end); err != nil {
		return index.Aggregate{}, invalid("purchases", err.Error())
	}
	agg, err := e.idx.AggregateForEntity(ctx, name, start, end)
	return agg, wrap("purchases", err)
}

// TopCustomers ranks entities by revenue over [start, end). Entities with no
// revenue in the range are left out.
func (e *Engine) TopCustomers(ctx context.Context, limit int, start, end time.Time) ([]index.EntityTotal, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	if err := checkRange(start, end); err != nil {
		return nil, invalid("top_customers", err.Error())
	}
	top, err := e.idx.TopEntities(ctx, limit, start, end)
	return top, wrap("top_customers", err)
}

// EventsForEntity returns every indexed event of name, newest first.
func (e *Engine) EventsForEntity(ctx context.Context, name string) ([]index.Event, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid("events_for_entity", "entity name is required")
	}
	evs, err := e.idx.EventsForEntity(ctx, name)
	return evs, wrap("events_for_entity", err)
}

// EventsForDay returns the events of a day key, newest first.
func (e *Engine) EventsForDay(ctx context.Context, day string) ([]index.Event, error) {
	if _, _, err := DayRange(day, e.loc); err != nil {
		return nil, invalid("events_for_day", err.Error()).WithDay(day)
	}
	evs, err := e.idx.EventsForDay(ctx, day)
	return evs, wrap("events_for_day", err)
}

// EventsBetween returns events in [start, end), newest first.
func (e *Engine) EventsBetween(ctx context.Context, start, end time.Time) ([]index.Event, error) {
	if err := checkRange(start, end); err != nil {
		return nil, invalid("events_between", err.Error())
	}
	evs, err := e.idx.EventsInRange(ctx, start, end)
	return evs, wrap("events_between", err)
}

// Entities lists every entity name in the index.
func (e *Engine) Entities(ctx context.Context) ([]string, error) {
	names, err := e.idx.AllEntityNames(ctx)
	return names, wrap("entities", err)
}

// Search matches text against entity names, subjects and actions.
func (e *Engine) Search(ctx context.Context, text string) ([]index.Event, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("search", "search text is required")
	}
	evs, err := e.idx.TextSearch(ctx, text)
	return evs, wrap("search", err)
}

func invalid(op, msg string) *errs.Error {
	return errs.New(errs.CodeQuery, op, fmt.Errorf("%w: %s", ErrInvalid, msg))
}

func checkRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("range end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

// wrap keeps typed index errors and marks anything else as a query failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errs.CodeOf(err) != "" {
		return err
	}
	return errs.New(errs.CodeQuery, op, err)
}
