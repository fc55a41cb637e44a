package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/config"
	"github.com/roach88/logline/internal/keystore"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/testutil"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// harness runs CLI invocations against one data directory with a manual
// clock and sequential event ids shared across invocations.
type harness struct {
	t       *testing.T
	dataDir string
	config  string
	clock   *testutil.ManualClock
	ids     *testutil.SequentialIDs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "logline.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("ledger:\n  timezone: UTC\n  actor: tester\n"), 0o600))

	// A fixed key makes hashes repeatable across runs.
	c := config.Default()
	c.DataDir = filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(c.KeyDir(), 0o700))
	key := make([]byte, keystore.SecretSize)
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(c.KeyDir(), c.Ledger.KeyName+".key"), key, 0o600))

	return &harness{
		t:       t,
		dataDir: c.DataDir,
		config:  cfgPath,
		clock:   testutil.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		ids:     testutil.NewSequentialIDs(""),
	}
}

func (h *harness) command() *RootOptions {
	return &RootOptions{
		LedgerOptions: []ledger.Option{
			ledger.WithClock(h.clock),
			ledger.WithIDGenerator(h.ids.Next),
		},
		Now: h.clock.Now,
	}
}

// run executes args and returns stdout, stderr and the exit code.
func (h *harness) run(args ...string) (string, string, int) {
	return h.runWithInput("", args...)
}

func (h *harness) runWithInput(stdin string, args ...string) (string, string, int) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	opts := h.command()
	cmd := newRootCommand(opts)
	cmd.SetIn(strings.NewReader(stdin))
	full := append([]string{"--config", h.config, "--data-dir", h.dataDir}, args...)
	code := execute(context.Background(), cmd, opts, full, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (h *harness) appendEvent(c *canon.Canonical, extra ...string) string {
	h.t.Helper()
	raw, err := json.Marshal(c)
	require.NoError(h.t, err)
	out, errOut, code := h.run(append([]string{"append", "--event", string(raw)}, extra...)...)
	require.Equal(h.t, ExitSuccess, code, "stdout: %s\nstderr: %s", out, errOut)
	return out
}

// seed records four events an hour apart on 2025-06-01.
func (h *harness) seed() {
	h.appendEvent(testutil.AmandaSale())
	h.clock.Advance(time.Hour)
	h.appendEvent(testutil.Sale("Rui Costa", "bone", 50))
	h.clock.Advance(time.Hour)
	h.appendEvent(testutil.Payment("Amanda Barros", "fiado", 30))
	h.clock.Advance(time.Hour)
	h.appendEvent(testutil.Inquiry("preco"))
}

func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var resp struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp.CLIResponse
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestAppend_Text(t *testing.T) {
	h := newHarness(t)
	out := h.appendEvent(testutil.AmandaSale(), "--text", "vendi 2 camisetas pra Amanda")

	assert.Contains(t, out, "✓ appended evt:0001 on 2025-06-01")
	assert.Contains(t, out, "event hash:")
	assert.Contains(t, out, "chain hash:")
	assert.NotContains(t, out, "incomplete")
}

func TestAppend_JSONReceipt(t *testing.T) {
	h := newHarness(t)
	raw, err := json.Marshal(testutil.Inquiry("preco"))
	require.NoError(t, err)

	out, _, code := h.run("--format", "json", "append", "--event", string(raw))
	require.Equal(t, ExitSuccess, code)

	var res AppendResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "evt:0001", res.EventID)
	assert.Equal(t, "2025-06-01", res.Day)
	assert.Len(t, res.EventHashHex, 64)
	assert.NotEqual(t, res.EventHashHex, res.ChainHashHex)
	assert.Equal(t, []string{canon.MissingPersonIdentity}, res.Incomplete)
}

func TestAppend_FromStdinAndFile(t *testing.T) {
	h := newHarness(t)
	raw, err := json.Marshal(testutil.AmandaSale())
	require.NoError(t, err)

	_, _, code := h.runWithInput(string(raw), "append", "-")
	require.Equal(t, ExitSuccess, code)

	path := filepath.Join(t.TempDir(), "sale.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	out, _, code := h.run("append", path)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "evt:0002")
}

func TestAppend_DuplicateID(t *testing.T) {
	h := newHarness(t)
	first := h.appendEvent(testutil.AmandaSale(), "--id", "evt:order-7")
	assert.Contains(t, first, "appended evt:order-7")

	again := h.appendEvent(testutil.AmandaSale(), "--id", "evt:order-7")
	assert.Contains(t, again, "already recorded evt:order-7")
}

func TestAppend_BadInput(t *testing.T) {
	h := newHarness(t)

	out, _, code := h.run("append", "--event", "{not json")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "parse event")

	_, _, code = h.run("append", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ExitCommandError, code)

	// Schema rejects an unknown action.
	out, _, code = h.run("--format", "json", "append", "--event", `{"events":[{"action":"gift","subject":"caneta"}]}`)
	assert.Equal(t, ExitFailure, code)
	resp := decodeResponse(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "ENCODING", resp.Error.Code)
}

func TestAppend_ExportsTelemetry(t *testing.T) {
	tests := []struct {
		name     string
		exporter string
		want     []string
	}{
		{name: "disabled", exporter: "none"},
		{name: "stdout", exporter: "stdout", want: []string{"ledger_appends_total", "ledger.Append"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			output := filepath.Join(t.TempDir(), "otel.jsonl")
			cfg := fmt.Sprintf("ledger:\n  timezone: UTC\ntelemetry:\n  exporter: %s\n  output: %s\n", tt.exporter, output)
			require.NoError(t, os.WriteFile(h.config, []byte(cfg), 0o600))

			h.appendEvent(testutil.AmandaSale())

			data, err := os.ReadFile(output)
			if len(tt.want) == 0 {
				assert.True(t, os.IsNotExist(err), "no exporter writes nothing")
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(data), w)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("verify")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "✓ 2025-06-01  4 record(s)")

	out, _, code = h.run("--format", "json", "verify", "2025-06-01")
	require.Equal(t, ExitSuccess, code)
	var res VerifyResult
	decodeResponse(t, out, &res)
	assert.True(t, res.OK)
	require.Len(t, res.Days, 1)
	assert.Equal(t, 4, res.Days[0].Records)
	assert.True(t, res.Days[0].Manifest)
}

func TestVerify_TamperedSegmentExitsOne(t *testing.T) {
	h := newHarness(t)
	h.seed()

	seg := filepath.Join(h.dataDir, "ledger", "2025-06-01.ndjson")
	data, err := os.ReadFile(seg)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"value":120`, `"value":12`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(seg, []byte(tampered), 0o600))

	out, _, code := h.run("verify")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "✗ 2025-06-01")
	assert.Contains(t, out, "record 0:")
}

func TestVerify_InvalidDay(t *testing.T) {
	h := newHarness(t)
	_, _, code := h.run("verify", "June 1st")
	assert.Equal(t, ExitCommandError, code)
}

func TestManifestAndState(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("--format", "json", "manifest", "2025-06-01")
	require.Equal(t, ExitSuccess, code)
	var m struct {
		Day          string   `json:"day"`
		RowHashesHex []string `json:"rowHashesHex"`
		EventIDs     []string `json:"eventIds"`
	}
	decodeResponse(t, out, &m)
	assert.Equal(t, "2025-06-01", m.Day)
	assert.Len(t, m.RowHashesHex, 4)
	assert.Equal(t, []string{"evt:0001", "evt:0002", "evt:0003", "evt:0004"}, m.EventIDs)

	out, _, code = h.run("manifest")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "active day:  2025-06-01")
	assert.Contains(t, out, "records:     4")

	out, _, code = h.run("manifest", "2025-05-31")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

func TestProof(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("--format", "json", "proof", "2025-06-01", "evt:0003")
	require.Equal(t, ExitSuccess, code)
	var p ProofResult
	decodeResponse(t, out, &p)
	assert.True(t, p.Valid)
	assert.Equal(t, 2, p.Index)
	assert.Len(t, p.Path, 2)

	_, _, code = h.run("proof", "2025-06-01", "evt:9999")
	assert.Equal(t, ExitCommandError, code)
}

func TestReindex(t *testing.T) {
	h := newHarness(t)
	h.seed()
	stale, err := filepath.Glob(filepath.Join(h.dataDir, "index.db*"))
	require.NoError(t, err)
	require.NotEmpty(t, stale)
	for _, p := range stale {
		require.NoError(t, os.Remove(p))
	}

	out, _, code := h.run("reindex")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "reindexed 4 record(s) from 1 day(s)")

	out, _, code = h.run("query", "entities")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Amanda Barros\nRui Costa\n", out)
}

func TestQuery_DayGolden(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("query", "day", "2025-06-01")
	require.Equal(t, ExitSuccess, code)
	golden(t).Assert(t, "query_day", []byte(out))
}

func TestQuery_TopGolden(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("query", "top")
	require.Equal(t, ExitSuccess, code)
	golden(t).Assert(t, "query_top", []byte(out))
}

func TestQuery_Aggregate(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("query", "aggregate", "Amanda Barros")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Amanda Barros: 2 purchase(s), total 150.00 (2025-06-01 to 2025-06-30)\n", out)

	out, _, code = h.run("--format", "json", "query", "aggregate", "Amanda Barros", "--month", "2025-05")
	require.Equal(t, ExitSuccess, code)
	var res AggregateResult
	decodeResponse(t, out, &res)
	assert.Zero(t, res.Count)

	_, _, code = h.run("query", "aggregate", "Amanda Barros", "--month", "June")
	assert.Equal(t, ExitCommandError, code)
}

func TestQuery_RangeSearchEntity(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("--format", "json", "query", "range", "--from", "2025-06-01T13:00:00Z", "--to", "2025-06-01T15:00:00Z")
	require.Equal(t, ExitSuccess, code)
	var evs []struct {
		ID string `json:"id"`
	}
	decodeResponse(t, out, &evs)
	require.Len(t, evs, 2)
	assert.Equal(t, "evt:0003", evs[0].ID)
	assert.Equal(t, "evt:0002", evs[1].ID)

	out, _, code = h.run("--format", "json", "query", "search", "CAMIS")
	require.Equal(t, ExitSuccess, code)
	decodeResponse(t, out, &evs)
	require.Len(t, evs, 1)
	assert.Equal(t, "evt:0001", evs[0].ID)

	out, _, code = h.run("--format", "json", "query", "entity", "Amanda Barros")
	require.Equal(t, ExitSuccess, code)
	decodeResponse(t, out, &evs)
	assert.Len(t, evs, 2)

	out, _, code = h.run("query", "day", "2025-06-02")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "no events")

	_, _, code = h.run("query", "range", "--from", "2025-06-10", "--to", "2025-06-01")
	assert.Equal(t, ExitCommandError, code)
}

func TestQuery_NoIndex(t *testing.T) {
	h := newHarness(t)
	t.Setenv("LOGLINE_INDEX_DRIVER", "none")

	out, _, code := h.run("query", "entities")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "index disabled")
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("export", "--type", "csv")
	require.Equal(t, ExitSuccess, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "ID,Timestamp,Day,Entity,Action,Subject,Value,Currency,Payment", lines[0])
	assert.Contains(t, out, "evt:0001,2025-06-01T12:00:00.000Z,2025-06-01,Amanda Barros,sale,camisetas,120,BRL,pix")

	redacted, _, code := h.run("export", "--redact")
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, redacted, "Amanda Barros")

	path := filepath.Join(t.TempDir(), "june.json")
	out, _, code = h.run("--format", "json", "export", "--type", "json", "-o", path)
	require.Equal(t, ExitSuccess, code)
	var res ExportResult
	decodeResponse(t, out, &res)
	assert.Equal(t, 4, res.Events)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Len(t, rows, 4)

	_, _, code = h.run("export", "--from", "2024-01-01", "--to", "2024-01-31")
	assert.Equal(t, ExitFailure, code)

	_, _, code = h.run("export", "--type", "xml")
	assert.Equal(t, ExitCommandError, code)
}

func TestExport_SummaryGolden(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out, _, code := h.run("export", "--summary")
	require.Equal(t, ExitSuccess, code)
	golden(t).Assert(t, "export_summary", []byte(out))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	var stdout, stderr bytes.Buffer
	opts := h.command()
	cmd := newRootCommand(opts)
	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, cmd, opts, []string{"--config", h.config, "--data-dir", h.dataDir, "serve", "--addr", "127.0.0.1:0"}, &stdout, &stderr)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, ExitSuccess, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestMCP_UnknownTransport(t *testing.T) {
	h := newHarness(t)
	out, _, code := h.run("mcp", "--transport", "carrier-pigeon")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "unknown transport")
}

func TestTest_RunsScenarios(t *testing.T) {
	h := newHarness(t)
	out, _, code := h.run("test", "../harness/testdata/scenarios", "--filter", "amanda_*")
	assert.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "✓ amanda_sale")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTest_FailingScenarioExitsOne(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: expects a record that is never appended
start: "2025-06-01T12:00:00Z"
flow:
  - advance: 1h
assertions:
  - {type: entities, names: [Nobody]}
`), 0644))

	out, _, code := h.run("--format", "json", "test", dir)
	assert.Equal(t, ExitFailure, code)

	var res TestResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Scenarios, 1)
	assert.False(t, res.Scenarios[0].Pass)
	assert.NotEmpty(t, res.Scenarios[0].Errors)
}

func TestTest_MissingDirectory(t *testing.T) {
	h := newHarness(t)
	out, _, code := h.run("test", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "scenarios directory not found")
}
