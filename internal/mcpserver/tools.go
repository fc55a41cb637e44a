package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/query"
)

// Tools holds what the tool handlers need.
type Tools struct {
	Ledger *ledger.Ledger
	Query  *query.Engine

	// Actor is recorded on appends that name none.
	Actor string

	// Now defaults ranges; nil means time.Now.
	Now func() time.Time
}

// --- Input types ---

type AppendEventInput struct {
	ID           string           `json:"id,omitempty" jsonschema:"Optional idempotency id; retrying with the same id returns the original receipt"`
	Event        *canon.Canonical `json:"event" jsonschema:"The structured business event: entities, events, temporal, location"`
	OriginalText string           `json:"originalText,omitempty" jsonschema:"The message the event was extracted from"`
	Actor        string           `json:"actor,omitempty" jsonschema:"Who recorded the event"`
}

type DayInput struct {
	Day string `json:"day" jsonschema:"Day key in YYYY-MM-DD"`
}

type RangeInput struct {
	From string `json:"from,omitempty" jsonschema:"Start date (YYYY-MM-DD) or RFC 3339 timestamp; defaults to the start of this month"`
	To   string `json:"to,omitempty" jsonschema:"End date (inclusive) or RFC 3339 timestamp (exclusive); defaults to one month after from"`
}

type AggregateInput struct {
	Name  string `json:"name" jsonschema:"Entity name, exactly as recorded"`
	Month string `json:"month,omitempty" jsonschema:"Month in YYYY-MM; overrides from and to"`
	From  string `json:"from,omitempty" jsonschema:"Start date or timestamp"`
	To    string `json:"to,omitempty" jsonschema:"End date or timestamp"`
}

type SearchInput struct {
	Query string `json:"query" jsonschema:"Text to look for"`
}

// --- Outputs ---

type appendOutput struct {
	ledger.Receipt
	Incomplete []string `json:"incomplete"`
}

type aggregateOutput struct {
	Entity string    `json:"entity"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Count  int       `json:"count"`
	Sum    float64   `json:"sum"`
}

// --- Handlers ---

func (t *Tools) AppendEvent(ctx context.Context, _ *mcp.CallToolRequest, input AppendEventInput) (*mcp.CallToolResult, any, error) {
	if input.Event == nil {
		return toolError("event is required"), nil, nil
	}
	actor := input.Actor
	if actor == "" {
		actor = t.Actor
	}

	rc, err := t.Ledger.AppendWithID(ctx, input.ID, input.Event, input.OriginalText, actor)
	if err != nil {
		return toolError("Failed to append event: %v", err), nil, nil
	}
	return toolJSON(appendOutput{Receipt: rc, Incomplete: input.Event.IncompleteFields()})
}

func (t *Tools) EventsForDay(ctx context.Context, _ *mcp.CallToolRequest, input DayInput) (*mcp.CallToolResult, any, error) {
	evs, err := t.Query.EventsForDay(ctx, input.Day)
	if err != nil {
		return toolError("Failed to list events: %v", err), nil, nil
	}
	return toolJSON(evs)
}

func (t *Tools) EventsInRange(ctx context.Context, _ *mcp.CallToolRequest, input RangeInput) (*mcp.CallToolResult, any, error) {
	start, end, err := query.ParseRange(input.From, input.To, t.now(), t.Query.Location())
	if err != nil {
		return toolError("Invalid range: %v", err), nil, nil
	}
	evs, err := t.Query.EventsBetween(ctx, start, end)
	if err != nil {
		return toolError("Failed to list events: %v", err), nil, nil
	}
	return toolJSON(evs)
}

func (t *Tools) AggregateForEntity(ctx context.Context, _ *mcp.CallToolRequest, input AggregateInput) (*mcp.CallToolResult, any, error) {
	var (
		start, end time.Time
		err        error
	)
	if input.Month != "" {
		start, end, err = query.ParseMonth(input.Month, t.Query.Location())
	} else {
		start, end, err = query.ParseRange(input.From, input.To, t.now(), t.Query.Location())
	}
	if err != nil {
		return toolError("Invalid range: %v", err), nil, nil
	}

	agg, err := t.Query.PurchasesBetween(ctx, input.Name, start, end)
	if err != nil {
		return toolError("Failed to aggregate: %v", err), nil, nil
	}
	return toolJSON(aggregateOutput{Entity: input.Name, From: start, To: end, Count: agg.Count, Sum: agg.Sum})
}

func (t *Tools) ListEntities(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	names, err := t.Query.Entities(ctx)
	if err != nil {
		return toolError("Failed to list entities: %v", err), nil, nil
	}
	return toolJSON(names)
}

func (t *Tools) SearchEvents(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	evs, err := t.Query.Search(ctx, input.Query)
	if err != nil {
		return toolError("Failed to search: %v", err), nil, nil
	}
	if evs == nil {
		evs = []index.Event{}
	}
	return toolJSON(evs)
}

func (t *Tools) VerifyDay(ctx context.Context, _ *mcp.CallToolRequest, input DayInput) (*mcp.CallToolResult, any, error) {
	rep, err := t.Ledger.Verify(ctx, input.Day)
	if err != nil {
		return toolError("Failed to verify %s: %v", input.Day, err), nil, nil
	}
	return toolJSON(rep)
}

func (t *Tools) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// --- Result helpers ---

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
