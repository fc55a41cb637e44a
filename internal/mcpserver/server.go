// Package mcpserver exposes the ledger as Model Context Protocol tools so
// an assistant can record business events and answer questions about them.
package mcpserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// New creates an MCP server with every ledger tool registered.
func New(t *Tools) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "logline",
		Version: Version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "append_event",
		Description: "Append one structured business event to the tamper-evident ledger and return its receipt",
	}, t.AppendEvent)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "events_for_day",
		Description: "List the events recorded on one day (YYYY-MM-DD), newest first",
	}, t.EventsForDay)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "events_in_range",
		Description: "List events between two dates or RFC 3339 timestamps, newest first",
	}, t.EventsInRange)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "aggregate_for_entity",
		Description: "Count and sum the sales and payments of one customer for a month (YYYY-MM) or a date range",
	}, t.AggregateForEntity)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_entities",
		Description: "List every customer or entity name known to the ledger",
	}, t.ListEntities)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_events",
		Description: "Case-insensitive search of entity names, subjects and actions",
	}, t.SearchEvents)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "verify_day",
		Description: "Recompute one day's hash chain and Merkle root and report any tampering",
	}, t.VerifyDay)

	return srv
}
