package journal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = "2025-06-01"

func record(id string) *Record {
	return &Record{
		ID:        id,
		Timestamp: time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
		Actor:     "owner",
		Action:    "sale",
		Subject:   "camisetas",
		Canonical: json.RawMessage(`{"events":[{"action":"sale","subject":"<camisetas> & co "}]}`),
		Attrs:     Attrs{OriginalText: "Amanda comprou 2 camisetas", Temporal: "today"},
		RowHash:   "aa",
		ChainHash: "bb",
	}
}

func openDir(t *testing.T) *Dir {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	return d
}

func TestAppendAndRecords(t *testing.T) {
	d := openDir(t)

	require.NoError(t, d.Append(day, record("evt:1")))
	require.NoError(t, d.Append(day, record("evt:2")))

	got, err := d.Records(day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt:1", got[0].ID)
	assert.Equal(t, "evt:2", got[1].ID)
	assert.Equal(t, "Amanda comprou 2 camisetas", got[0].Attrs.OriginalText)
	assert.True(t, got[0].Timestamp.Equal(record("x").Timestamp))
}

func TestAppendPreservesCanonicalBytes(t *testing.T) {
	d := openDir(t)
	r := record("evt:1")
	require.NoError(t, d.Append(day, r))

	raw, err := os.ReadFile(d.SegmentPath(day))
	require.NoError(t, err)
	assert.Contains(t, string(raw), string(r.Canonical), "canonical payload must not be re-escaped")

	got, err := d.Records(day)
	require.NoError(t, err)
	assert.Equal(t, []byte(r.Canonical), []byte(got[0].Canonical))
}

func TestAppendOneLinePerRecord(t *testing.T) {
	d := openDir(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Append(day, record("evt")))
	}
	raw, err := os.ReadFile(d.SegmentPath(day))
	require.NoError(t, err)
	assert.Equal(t, 3, countLines(raw))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestAppendRejectsInvalidDay(t *testing.T) {
	d := openDir(t)
	for _, bad := range []string{"", "2025-6-1", "../etc", "2025-02-30"} {
		err := d.Append(bad, record("evt:1"))
		assert.ErrorIs(t, err, ErrInvalidDay, bad)
	}
}

// halfWriter writes part of the buffer and then fails, like a full disk.
type halfWriter struct {
	*os.File
}

func (h halfWriter) Write(p []byte) (int, error) {
	n, _ := h.File.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

func TestAppendFailureTruncatesBack(t *testing.T) {
	d := openDir(t)
	require.NoError(t, d.Append(day, record("evt:1")))

	before, err := os.ReadFile(d.SegmentPath(day))
	require.NoError(t, err)

	d.openFile = func(name string) (file, error) {
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		return halfWriter{f}, nil
	}
	err = d.Append(day, record("evt:2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left")

	after, err := os.ReadFile(d.SegmentPath(day))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// syncFailFile writes fully but fails Sync, and optionally Truncate.
type syncFailFile struct {
	*os.File
	truncateErr error
}

func (f syncFailFile) Sync() error { return errors.New("input/output error") }

func (f syncFailFile) Truncate(size int64) error {
	if f.truncateErr != nil {
		return f.truncateErr
	}
	return f.File.Truncate(size)
}

func TestAppendRollbackOutcome(t *testing.T) {
	tests := []struct {
		name         string
		truncateErr  error
		wantRollback bool
		wantRecords  int
	}{
		{name: "truncate succeeds", wantRecords: 1},
		{name: "truncate fails", truncateErr: errors.New("read-only file system"), wantRollback: true, wantRecords: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := openDir(t)
			require.NoError(t, d.Append(day, record("evt:1")))

			d.openFile = func(name string) (file, error) {
				f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return nil, err
				}
				return syncFailFile{File: f, truncateErr: tt.truncateErr}, nil
			}
			err := d.Append(day, record("evt:2"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "input/output error")
			assert.Equal(t, tt.wantRollback, errors.Is(err, ErrRollbackFailed))

			recs, err := d.Records(day)
			require.NoError(t, err)
			assert.Len(t, recs, tt.wantRecords)
		})
	}
}

func TestRecordsIgnoresTornTail(t *testing.T) {
	d := openDir(t)
	require.NoError(t, d.Append(day, record("evt:1")))

	f, err := os.OpenFile(d.SegmentPath(day), os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"evt:2","timest`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := d.Records(day)
	require.NoError(t, err)
	require.Len(t, got, 1)

	dropped, err := d.Repair(day)
	require.NoError(t, err)
	assert.Equal(t, int64(len(`{"id":"evt:2","timest`)), dropped)

	dropped, err = d.Repair(day)
	require.NoError(t, err)
	assert.Zero(t, dropped)

	require.NoError(t, d.Append(day, record("evt:3")))
	got, err = d.Records(day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt:3", got[1].ID)
}

func TestRecordsCorruptLine(t *testing.T) {
	d := openDir(t)
	require.NoError(t, d.Append(day, record("evt:1")))

	f, err := os.OpenFile(d.SegmentPath(day), os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = d.Records(day)
	var ce *CorruptError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Line)
}

func TestRecordsMissingSegment(t *testing.T) {
	d := openDir(t)
	got, err := d.Records(day)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := d.Repair(day)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDays(t *testing.T) {
	d := openDir(t)
	require.NoError(t, d.Append("2025-06-02", record("b")))
	require.NoError(t, d.Append("2025-05-31", record("a")))
	require.NoError(t, d.WriteManifest(&Manifest{Day: "2025-06-03"}))
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), "notes.ndjson"), nil, 0o600))

	days, err := d.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-05-31", "2025-06-02"}, days)
}

func TestManifestRoundTrip(t *testing.T) {
	d := openDir(t)

	_, err := d.ReadManifest(day)
	assert.ErrorIs(t, err, ErrNoManifest)

	m := &Manifest{
		Day:          day,
		LastChain:    "cc",
		MerkleRoot:   "dd",
		RowHashesHex: []string{"aa", "bb"},
		EventIDs:     []string{"evt:1", "evt:2"},
	}
	require.NoError(t, d.WriteManifest(m))

	got, err := d.ReadManifest(day)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, 2, got.Len())

	m.LastChain = "ee"
	require.NoError(t, d.WriteManifest(m))
	got, err = d.ReadManifest(day)
	require.NoError(t, err)
	assert.Equal(t, "ee", got.LastChain)

	entries, err := os.ReadDir(d.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestManifestWireFormat(t *testing.T) {
	d := openDir(t)
	require.NoError(t, d.WriteManifest(&Manifest{Day: day, LastChain: "cc", MerkleRoot: "dd", RowHashesHex: []string{"aa"}}))

	raw, err := os.ReadFile(d.ManifestPath(day))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, day, fields["day"])
	assert.Equal(t, "cc", fields["lastChain"])
	assert.Equal(t, "dd", fields["merkleRoot"])
	assert.Equal(t, []any{"aa"}, fields["rowHashesHex"])
}

func TestReadManifestRejectsMismatchedDay(t *testing.T) {
	d := openDir(t)
	require.NoError(t, os.WriteFile(d.ManifestPath(day), []byte(`{"day":"2025-06-02"}`), 0o600))
	_, err := d.ReadManifest(day)
	require.Error(t, err)
}
