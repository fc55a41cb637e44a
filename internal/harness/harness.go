package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/logline/internal/authn"
	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/keystore"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/query"
	"github.com/roach88/logline/internal/schema"
	"github.com/roach88/logline/internal/testutil"
)

// DefaultActor is recorded on appends that name none.
const DefaultActor = "harness"

// Harness is the scenario execution engine. It owns one data directory
// and the deterministic clock, id generator and key used against it.
type Harness struct {
	dir      string
	loc      *time.Location
	clock    *testutil.ManualClock
	ids      *testutil.SequentialIDs
	keys     *keystore.MemoryStore
	auth     *authn.Authenticator
	validate *schema.Validator

	journal *journal.Dir
	index   *index.SQLite
	ledger  *ledger.Ledger
}

// FixedKey is the HMAC key every scenario runs with.
func FixedKey() []byte {
	key := make([]byte, keystore.SecretSize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// Run executes a scenario in dir, which should be empty, and returns the
// result. An error means the scenario could not be executed at all;
// unmet expectations are reported in the Result.
//
// Execution flow:
// 1. Open a ledger with a SQLite index under dir
// 2. Execute flow steps, checking expect clauses
// 3. Evaluate assertions
// 4. Return result with pass/fail, trace, and errors
func Run(ctx context.Context, scenario *Scenario, dir string) (*Result, error) {
	loc := time.UTC
	if scenario.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(scenario.Timezone); err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}
	start, err := time.Parse(time.RFC3339Nano, scenario.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	v, err := schema.New()
	if err != nil {
		return nil, err
	}
	keys := keystore.NewMemoryStore()
	keys.Put(authn.DefaultKeyName, FixedKey())

	h := &Harness{
		dir:      dir,
		loc:      loc,
		clock:    testutil.NewManualClock(start),
		ids:      testutil.NewSequentialIDs(""),
		keys:     keys,
		auth:     authn.New(keys, authn.DefaultKeyName),
		validate: v,
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for _, msg := range h.EvaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// open (re)builds the journal, index and ledger from disk.
func (h *Harness) open() error {
	j, err := journal.Open(filepath.Join(h.dir, "ledger"))
	if err != nil {
		return err
	}
	idx, err := index.OpenSQLite(filepath.Join(h.dir, "index.db"))
	if err != nil {
		return err
	}
	h.journal = j
	h.index = idx
	h.ledger = ledger.New(j, h.auth,
		ledger.WithIndex(idx),
		ledger.WithValidator(h.validate),
		ledger.WithClock(h.clock),
		ledger.WithLocation(h.loc),
		ledger.WithIDGenerator(h.ids.Next),
	)
	return nil
}

func (h *Harness) close() {
	if h.index == nil {
		return
	}
	if err := h.index.Close(); err != nil {
		slog.Warn("harness: closing index", "error", err)
	}
	h.index = nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	ev := TraceEvent{Step: i}

	switch {
	case step.Append != nil:
		ev.Op = OpAppend
		h.executeAppend(ctx, i, step, &ev, result)

	case step.Advance != "":
		ev.Op = OpAdvance
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		ev.Day = ledger.DayKey(h.clock.Now(), h.loc)

	case step.Restart:
		ev.Op = OpRestart
		h.close()
		if err := h.open(); err != nil {
			return err
		}
		st, err := h.ledger.State()
		if err != nil {
			return err
		}
		ev.Day, ev.Leaves = st.Day, st.Leaves

	case step.Tamper != nil:
		ev.Op, ev.Day = OpTamper, step.Tamper.Day
		if err := h.tamper(step.Tamper); err != nil {
			return err
		}

	case step.Tear != nil:
		ev.Op, ev.Day = OpTear, step.Tear.Day
		if err := h.tear(step.Tear); err != nil {
			return err
		}

	case step.Reindex:
		ev.Op = OpReindex
		n, err := h.ledger.Reindex(ctx)
		if err != nil {
			return err
		}
		ev.Leaves = n
	}

	result.trace(ev)
	return nil
}

func (h *Harness) executeAppend(ctx context.Context, i int, step Step, ev *TraceEvent, result *Result) {
	a := step.Append
	actor := a.Actor
	if actor == "" {
		actor = DefaultActor
	}

	c, err := decodeEvent(a.Event)
	var rc ledger.Receipt
	if err == nil {
		rc, err = h.ledger.AppendWithID(ctx, a.ID, c, a.Text, actor)
	}

	if err != nil {
		ev.Error = string(errs.CodeOf(err))
		if ev.Error == "" {
			ev.Error = "ERROR"
		}
	} else {
		ev.EventID, ev.Day, ev.Duplicate = rc.EventID, rc.Day, rc.Duplicate
		if st, serr := h.ledger.State(); serr == nil && st.Day == rc.Day {
			ev.Leaves = st.Leaves
		}
	}

	exp := step.Expect
	if exp == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d]: append failed: %v", i, err))
		}
		return
	}

	if exp.Error != "" {
		if ev.Error != exp.Error {
			result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got %q (%v)", i, exp.Error, ev.Error, err))
		}
		return
	}
	if err != nil {
		result.AddError(fmt.Sprintf("flow[%d]: append failed: %v", i, err))
		return
	}
	if exp.Day != "" && exp.Day != rc.Day {
		result.AddError(fmt.Sprintf("flow[%d]: expected day %s, got %s", i, exp.Day, rc.Day))
	}
	if exp.EventID != "" && exp.EventID != rc.EventID {
		result.AddError(fmt.Sprintf("flow[%d]: expected event id %s, got %s", i, exp.EventID, rc.EventID))
	}
	if exp.Duplicate != nil && *exp.Duplicate != rc.Duplicate {
		result.AddError(fmt.Sprintf("flow[%d]: expected duplicate=%t", i, *exp.Duplicate))
	}
	if exp.Incomplete != nil {
		got := c.IncompleteFields()
		if !slices.Equal(got, exp.Incomplete) {
			result.AddError(fmt.Sprintf("flow[%d]: expected incomplete %v, got %v", i, exp.Incomplete, got))
		}
	}
}

// decodeEvent turns a YAML event mapping into a canonical event.
func decodeEvent(m map[string]any) (*canon.Canonical, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errs.New(errs.CodeEncoding, "decode_event", err)
	}
	c, err := canon.DecodeEvent(raw)
	if err != nil {
		return nil, errs.New(errs.CodeEncoding, "decode_event", err)
	}
	return c, nil
}

func (h *Harness) tamper(e *EditStep) error {
	path := h.journal.SegmentPath(e.Day)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tamper: %w", err)
	}
	if !strings.Contains(string(data), e.Find) {
		return fmt.Errorf("tamper: %q not found in %s", e.Find, e.Day)
	}
	edited := strings.Replace(string(data), e.Find, e.Replace, 1)
	return os.WriteFile(path, []byte(edited), 0o600)
}

func (h *Harness) tear(t *TearStep) error {
	if strings.Contains(t.Bytes, "\n") {
		return errors.New("tear: bytes must not contain a newline")
	}
	f, err := os.OpenFile(h.journal.SegmentPath(t.Day), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("tear: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(t.Bytes)
	return err
}

func (h *Harness) query() *query.Engine {
	return query.New(h.index, h.loc)
}
