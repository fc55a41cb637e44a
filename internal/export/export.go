// Package export renders indexed events for spreadsheets and other tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/logline/internal/index"
)

// ErrNoData is returned when there is nothing to export.
var ErrNoData = errors.New("export: no events to export")

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("export: unknown format %q (want csv or json)", s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"ID", "Timestamp", "Day", "Entity", "Action", "Subject", "Value", "Currency", "Payment"}

// Exporter writes events in CSV or JSON.
type Exporter struct {
	redactor *Redactor
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithRedactor replaces entity names with salted hashes.
func WithRedactor(r *Redactor) Option {
	return func(x *Exporter) { x.redactor = r }
}

// New returns an Exporter.
func New(opts ...Option) *Exporter {
	x := &Exporter{}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Write encodes evs to w in format f.
func (x *Exporter) Write(w io.Writer, f Format, evs []index.Event) error {
	switch f {
	case FormatCSV:
		return x.WriteCSV(w, evs)
	case FormatJSON:
		return x.WriteJSON(w, evs)
	}
	return fmt.Errorf("export: unknown format %q", f)
}

// WriteCSV writes a header row followed by one row per event.
func (x *Exporter) WriteCSV(w io.Writer, evs []index.Event) error {
	if len(evs) == 0 {
		return ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export: csv header: %w", err)
	}
	for _, ev := range evs {
		r := x.row(ev)
		value := ""
		if r.Value != nil {
			value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}
		rec := []string{r.ID, r.Timestamp, r.Day, r.EntityName, r.Action, r.Subject, value, r.Currency, r.Payment}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: csv row %s: %w", ev.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: csv: %w", err)
	}
	return nil
}

// WriteJSON writes an indented JSON array of events.
func (x *Exporter) WriteJSON(w io.Writer, evs []index.Event) error {
	if len(evs) == 0 {
		return ErrNoData
	}

	rows := make([]row, len(evs))
	for i, ev := range evs {
		rows[i] = x.row(ev)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("export: json: %w", err)
	}
	return nil
}

type row struct {
	ID         string   `json:"id"`
	Timestamp  string   `json:"timestamp"`
	Day        string   `json:"day"`
	EntityName string   `json:"entity_name"`
	Action     string   `json:"action"`
	Subject    string   `json:"subject"`
	Value      *float64 `json:"value"`
	Currency   string   `json:"currency"`
	Payment    string   `json:"payment"`
}

func (x *Exporter) row(ev index.Event) row {
	name := ev.EntityName
	if x.redactor != nil && name != "" {
		name = x.redactor.Hash(name)
	}
	return row{
		ID:         ev.ID,
		Timestamp:  ev.Timestamp.UTC().Format(timestampLayout),
		Day:        ev.Day,
		EntityName: name,
		Action:     ev.Action,
		Subject:    ev.Subject,
		Value:      ev.Value,
		Currency:   ev.Currency,
		Payment:    ev.Payment,
	}
}

// Summary describes a set of exported events.
type Summary struct {
	TotalTransactions int            `json:"total_transactions"`
	TotalValue        float64        `json:"total_value"`
	AverageValue      float64        `json:"average_value"`
	UniqueEntities    int            `json:"unique_entities"`
	ActionBreakdown   map[string]int `json:"action_breakdown"`
	Start             *time.Time     `json:"start,omitempty"`
	End               *time.Time     `json:"end,omitempty"`
}

// Summarize totals evs. Events without a value count as transactions but
// add nothing to the total.
func Summarize(evs []index.Event) Summary {
	s := Summary{ActionBreakdown: map[string]int{}}
	entities := map[string]struct{}{}

	for _, ev := range evs {
		s.TotalTransactions++
		if ev.Value != nil {
			s.TotalValue += *ev.Value
		}
		if ev.EntityName != "" {
			entities[ev.EntityName] = struct{}{}
		}
		s.ActionBreakdown[ev.Action]++

		ts := ev.Timestamp
		if s.Start == nil || ts.Before(*s.Start) {
			s.Start = &ts
		}
		if s.End == nil || ts.After(*s.End) {
			end := ts
			s.End = &end
		}
	}
	if s.TotalTransactions > 0 {
		s.AverageValue = s.TotalValue / float64(s.TotalTransactions)
	}
	s.UniqueEntities = len(entities)
	return s
}
