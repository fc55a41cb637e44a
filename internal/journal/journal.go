package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	segmentExt  = ".ndjson"
	manifestExt = ".manifest.json"
	dayLayout   = "2006-01-02"
)

var (
	// ErrNoManifest is returned by ReadManifest when the day has none yet.
	ErrNoManifest = errors.New("journal: no manifest")

	// ErrInvalidDay is returned for day keys that are not YYYY-MM-DD.
	ErrInvalidDay = errors.New("journal: invalid day key")

	// ErrRollbackFailed is wrapped into an Append error when the segment
	// could not be truncated back. The failed line may remain on disk.
	ErrRollbackFailed = errors.New("journal: rollback failed")
)

// CorruptError reports a complete segment line that does not decode.
type CorruptError struct {
	Day  string
	Line int
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("journal: %s line %d: %v", e.Day, e.Line, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// file is the subset of *os.File a segment append needs.
type file interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// Dir is a journal rooted at one directory.
type Dir struct {
	root string

	mu       sync.Mutex
	openFile func(name string) (file, error)
}

// Open returns the journal rooted at root, creating the directory if needed.
func Open(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create root: %w", err)
	}
	return &Dir{root: root, openFile: openSegment}, nil
}

func openSegment(name string) (file, error) {
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
}

// Root returns the journal directory.
func (d *Dir) Root() string { return d.root }

// SegmentPath returns the segment file of day.
func (d *Dir) SegmentPath(day string) string {
	return filepath.Join(d.root, day+segmentExt)
}

// ManifestPath returns the manifest file of day.
func (d *Dir) ManifestPath(day string) string {
	return filepath.Join(d.root, day+manifestExt)
}

// ValidDay reports whether day is a well-formed day key.
func ValidDay(day string) bool {
	t, err := time.Parse(dayLayout, day)
	return err == nil && t.Format(dayLayout) == day
}

func checkDay(day string) error {
	if !ValidDay(day) {
		return fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return nil
}

// Append durably writes r as one line at the end of day's segment.
// On any failure the segment is truncated back to its size before the call.
func (d *Dir) Append(day string, r *Record) error {
	if err := checkDay(day); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Canonical payloads must reach disk byte for byte.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("journal: encode record %s: %w", r.ID, err)
	}
	line := buf.Bytes()

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := d.openFile(d.SegmentPath(day))
	if err != nil {
		return fmt.Errorf("journal: open segment %s: %w", day, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat segment %s: %w", day, err)
	}
	size := info.Size()

	n, err := f.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		if terr := f.Truncate(size); terr != nil {
			return fmt.Errorf("journal: append %s: %w: %w: %v", day, err, ErrRollbackFailed, terr)
		}
		return fmt.Errorf("journal: append %s: %w", day, err)
	}
	return nil
}

// Repair drops a torn trailing line from day's segment and returns the
// number of bytes removed. A missing segment is not an error.
func (d *Dir) Repair(day string) (int64, error) {
	if err := checkDay(day); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.SegmentPath(day)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: read segment %s: %w", day, err)
	}

	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	torn := int64(len(data)) - keep
	if torn == 0 {
		return 0, nil
	}
	if err := os.Truncate(path, keep); err != nil {
		return 0, fmt.Errorf("journal: repair segment %s: %w", day, err)
	}
	return torn, nil
}

// Scan calls fn for every complete record of day, in append order.
// A torn trailing line is skipped. A missing segment yields no records.
func (d *Dir) Scan(day string, fn func(Record) error) error {
	if err := checkDay(day); err != nil {
		return err
	}

	f, err := os.Open(d.SegmentPath(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal: open segment %s: %w", day, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Anything left without a newline is a torn tail.
			return nil
		}
		if err != nil {
			return fmt.Errorf("journal: read segment %s: %w", day, err)
		}

		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return &CorruptError{Day: day, Line: lineNo, Err: err}
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

// Records returns every complete record of day, in append order.
func (d *Dir) Records(day string) ([]Record, error) {
	var out []Record
	err := d.Scan(day, func(r Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Days lists the days that have a segment, ascending.
func (d *Dir) Days() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("journal: list %s: %w", d.root, err)
	}

	var days []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		day := strings.TrimSuffix(name, segmentExt)
		if ValidDay(day) {
			days = append(days, day)
		}
	}
	slices.Sort(days)
	return days, nil
}

// ReadManifest loads day's manifest, or returns ErrNoManifest.
func (d *Dir) ReadManifest(day string) (*Manifest, error) {
	if err := checkDay(day); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.ManifestPath(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("journal: read manifest %s: %w", day, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("journal: decode manifest %s: %w", day, err)
	}
	if m.Day != day {
		return nil, fmt.Errorf("journal: manifest %s claims day %q", day, m.Day)
	}
	return &m, nil
}

// WriteManifest replaces m.Day's manifest atomically.
func (d *Dir) WriteManifest(m *Manifest) error {
	if err := checkDay(m.Day); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: encode manifest %s: %w", m.Day, err)
	}

	tmp, err := os.CreateTemp(d.root, "."+m.Day+".manifest.*.tmp")
	if err != nil {
		return fmt.Errorf("journal: write manifest %s: %w", m.Day, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("journal: write manifest %s: %w", m.Day, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("journal: sync manifest %s: %w", m.Day, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("journal: close manifest %s: %w", m.Day, err)
	}
	if err := os.Rename(tmp.Name(), d.ManifestPath(m.Day)); err != nil {
		return fmt.Errorf("journal: replace manifest %s: %w", m.Day, err)
	}
	return nil
}
