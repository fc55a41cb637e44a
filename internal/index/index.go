// Package index is the secondary, rebuildable query store of the ledger.
//
// Nothing here is authoritative. Every row is a projection of a journal
// record and the whole store can be dropped and rebuilt by replaying the
// journal. Rows are keyed by day and event id, so replaying twice is
// harmless and an id reused on a later day gets its own row.
//
// Time ranges are half-open: [start, end).
package index

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/roach88/logline/internal/canon"
)

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("index: closed")

// Event is one indexed projection of a ledger record. Optional fields are
// empty or nil when the event did not carry them.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Day        string    `json:"day"`
	EntityName string    `json:"entityName,omitempty"`
	Action     string    `json:"action"`
	Subject    string    `json:"subject"`
	Value      *float64  `json:"value,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Payment    string    `json:"payment,omitempty"`
}

// Aggregate is a revenue count and sum.
type Aggregate struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// EntityTotal is one row of a revenue ranking.
type EntityTotal struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// Index is implemented by every backend.
//
// Reads never mutate and may run concurrently. Read failures are
// errs.CodeQuery errors, Upsert failures errs.CodeIndex errors.
type Index interface {
	// Upsert inserts ev or replaces the row with the same day and id.
	Upsert(ctx context.Context, ev Event) error

	// EventsForDay returns the day's events, newest first.
	EventsForDay(ctx context.Context, day string) ([]Event, error)

	// EventsInRange returns events with start <= ts < end, newest first.
	EventsInRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// AggregateForEntity counts and sums revenue-bearing events (sale,
	// payment) of one entity within [start, end).
	AggregateForEntity(ctx context.Context, name string, start, end time.Time) (Aggregate, error)

	// AllEntityNames returns distinct entity names, ascending.
	AllEntityNames(ctx context.Context) ([]string, error)

	// TextSearch matches a case-insensitive substring against the entity
	// name, subject and action. Newest first.
	TextSearch(ctx context.Context, query string) ([]Event, error)

	// EventsForEntity returns every event of one entity, newest first.
	EventsForEntity(ctx context.Context, name string) ([]Event, error)

	// TopEntities ranks entities by revenue within [start, end).
	TopEntities(ctx context.Context, limit int, start, end time.Time) ([]EntityTotal, error)

	Ping(ctx context.Context) error
	Close() error
}

// Project builds the index row of one canonical event. The first entity and
// the first business event supply the optional fields.
func Project(id string, ts time.Time, day string, c *canon.Canonical) Event {
	ev := Event{ID: id, Timestamp: ts.UTC(), Day: day}
	if c == nil {
		return ev
	}
	if e := c.PrimaryEntity(); e != nil {
		ev.EntityName = e.Name
	}
	if be := c.PrimaryEvent(); be != nil {
		ev.Action = string(be.Action)
		ev.Subject = be.Subject
		if be.Value != nil {
			v := *be.Value
			ev.Value = &v
		}
		ev.Currency = be.Currency
		ev.Payment = string(be.PaymentMethod)
	}
	return ev
}

// searchText is the folded haystack TextSearch matches against. Fields are
// separated so a query cannot match across two of them.
func searchText(ev Event) string {
	return strings.ToLower(ev.EntityName + "\x1f" + ev.Subject + "\x1f" + ev.Action)
}

// likePattern turns a search query into a LIKE pattern with '\' as escape.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}

func revenueActions() []any {
	out := make([]any, len(canon.RevenueActions))
	for i, a := range canon.RevenueActions {
		out[i] = string(a)
	}
	return out
}

// placeholders returns n comma-separated parameter markers.
// mark receives the 1-based position for drivers with numbered markers.
func placeholders(n, from int, mark func(int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = mark(from + i)
	}
	return strings.Join(parts, ", ")
}
