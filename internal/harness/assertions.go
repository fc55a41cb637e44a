package harness

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"slices"

	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/query"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int    // Position in the scenario's assertion list
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) EvaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var out []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, i, a); err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

func (h *Harness) evaluate(ctx context.Context, i int, a Assertion) error {
	switch a.Type {
	case AssertVerify:
		return h.assertVerify(ctx, i, a)
	case AssertChain:
		return h.assertChain(i, a)
	case AssertRecords:
		return h.assertRecords(i, a)
	case AssertAggregate:
		return h.assertAggregate(ctx, i, a)
	case AssertEntities:
		return h.assertEntities(ctx, i, a)
	}
	return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
}

// assertVerify replays the day and checks the outcome and problem kinds.
func (h *Harness) assertVerify(ctx context.Context, i int, a Assertion) error {
	rep, err := h.ledger.Verify(ctx, a.Day)
	if err != nil {
		return fmt.Errorf("assertions[%d] verify: %w", i, err)
	}
	if a.OK != nil && rep.OK != *a.OK {
		return &AssertionError{Index: i, Type: a.Type,
			Expected: fmt.Sprintf("ok=%t", *a.OK),
			Actual:   fmt.Sprintf("ok=%t problems=%v", rep.OK, kinds(rep.Problems))}
	}
	got := kinds(rep.Problems)
	for _, want := range a.Problems {
		if !slices.Contains(got, want) {
			return &AssertionError{Index: i, Type: a.Type,
				Expected: "problem " + want,
				Actual:   fmt.Sprintf("%v", got)}
		}
	}
	return nil
}

// assertChain recomputes every chain hash of the day from the recorded row
// hashes, independently of the ledger's own verification.
func (h *Harness) assertChain(i int, a Assertion) error {
	records, err := h.journal.Records(a.Day)
	if err != nil {
		return fmt.Errorf("assertions[%d] chain: %w", i, err)
	}
	var prev []byte
	for n, r := range records {
		row, err := hex.DecodeString(r.RowHash)
		if err != nil {
			return fmt.Errorf("assertions[%d] chain: record %d: %w", i, n, err)
		}
		want, err := h.auth.Chain(prev, row)
		if err != nil {
			return fmt.Errorf("assertions[%d] chain: %w", i, err)
		}
		got, err := hex.DecodeString(r.ChainHash)
		if err != nil || !bytes.Equal(got, want) {
			return &AssertionError{Index: i, Type: a.Type,
				Expected: fmt.Sprintf("record %d chain %x", n, want),
				Actual:   r.ChainHash}
		}
		prev = got
	}

	m, err := h.journal.ReadManifest(a.Day)
	if err != nil {
		return fmt.Errorf("assertions[%d] chain: %w", i, err)
	}
	if last := hex.EncodeToString(prev); m.LastChain != last {
		return &AssertionError{Index: i, Type: a.Type,
			Expected: "manifest lastChain " + last,
			Actual:   m.LastChain}
	}
	return nil
}

func (h *Harness) assertRecords(i int, a Assertion) error {
	n := 0
	err := h.journal.Scan(a.Day, func(journal.Record) error {
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("assertions[%d] records: %w", i, err)
	}
	if n != *a.Count {
		return &AssertionError{Index: i, Type: a.Type,
			Expected: fmt.Sprintf("%d record(s)", *a.Count),
			Actual:   fmt.Sprintf("%d", n)}
	}
	return nil
}

func (h *Harness) assertAggregate(ctx context.Context, i int, a Assertion) error {
	start, end, err := query.ParseMonth(a.Month, h.loc)
	if err != nil {
		return fmt.Errorf("assertions[%d] aggregate: %w", i, err)
	}
	agg, err := h.query().PurchasesBetween(ctx, a.Entity, start, end)
	if err != nil {
		return fmt.Errorf("assertions[%d] aggregate: %w", i, err)
	}
	if (a.Count != nil && agg.Count != *a.Count) || (a.Sum != nil && math.Abs(agg.Sum-*a.Sum) > 1e-9) {
		return &AssertionError{Index: i, Type: a.Type,
			Expected: fmt.Sprintf("%s in %s: count=%s sum=%s", a.Entity, a.Month, optInt(a.Count), optFloat(a.Sum)),
			Actual:   fmt.Sprintf("count=%d sum=%g", agg.Count, agg.Sum)}
	}
	return nil
}

func (h *Harness) assertEntities(ctx context.Context, i int, a Assertion) error {
	names, err := h.query().Entities(ctx)
	if err != nil {
		return fmt.Errorf("assertions[%d] entities: %w", i, err)
	}
	if !slices.Equal(names, a.Names) {
		return &AssertionError{Index: i, Type: a.Type,
			Expected: fmt.Sprintf("%q", a.Names),
			Actual:   fmt.Sprintf("%q", names)}
	}
	return nil
}

func kinds(ps []ledger.Problem) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Kind
	}
	return out
}

func optInt(p *int) string {
	if p == nil {
		return "any"
	}
	return fmt.Sprint(*p)
}

func optFloat(p *float64) string {
	if p == nil {
		return "any"
	}
	return fmt.Sprint(*p)
}
