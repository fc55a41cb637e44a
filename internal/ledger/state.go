package ledger

import (
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/merkle"
)

// chainState is the mutable chain of one day. Only the Ledger touches it,
// and only while holding its mutex.
type chainState struct {
	day    string
	prev   []byte
	leaves [][]byte
	ids    []string
	seen   map[string]int
}

func newChainState(day string) *chainState {
	return &chainState{day: day, seen: make(map[string]int)}
}

// mark captures what rollback needs to undo later pushes.
type mark struct {
	n    int
	prev []byte
}

func (s *chainState) mark() mark { return mark{n: len(s.leaves), prev: s.prev} }

func (s *chainState) push(id string, row, chain []byte) {
	s.seen[id] = len(s.leaves)
	s.leaves = append(s.leaves, row)
	s.ids = append(s.ids, id)
	s.prev = chain
}

func (s *chainState) rollback(m mark) {
	for _, id := range s.ids[m.n:] {
		delete(s.seen, id)
	}
	s.leaves = s.leaves[:m.n]
	s.ids = s.ids[:m.n]
	s.prev = m.prev
}

func (s *chainState) root() []byte { return rootOf(s.leaves) }

func (s *chainState) manifest() *journal.Manifest {
	m := &journal.Manifest{
		Day:          s.day,
		LastChain:    hex.EncodeToString(s.prev),
		MerkleRoot:   hex.EncodeToString(s.root()),
		RowHashesHex: make([]string, len(s.leaves)),
		EventIDs:     append([]string(nil), s.ids...),
	}
	for i, l := range s.leaves {
		m.RowHashesHex[i] = hex.EncodeToString(l)
	}
	return m
}

// loadOrInit brings the state of day up to date with its journal.
func (l *Ledger) loadOrInit(day string) (*chainState, error) {
	if n, err := l.journal.Repair(day); err != nil {
		return nil, errs.New(errs.CodeLogWrite, "load", err).WithDay(day)
	} else if n > 0 {
		slog.Warn("dropped torn record from segment", "day", day, "bytes", n)
	}

	records, err := l.journal.Records(day)
	if err != nil {
		return nil, errs.New(errs.CodeIntegrity, "load", err).WithDay(day)
	}

	m, err := l.journal.ReadManifest(day)
	switch {
	case errors.Is(err, journal.ErrNoManifest):
		m = nil
	case err != nil:
		slog.Warn("unreadable manifest, rebuilding from segment", "day", day, "error", err)
		m = nil
	}

	st, changed, err := l.reconcile(day, m, records)
	if err != nil {
		return nil, err
	}
	if changed {
		l.persistManifest(st)
	}
	slog.Debug("chain state loaded", "day", day, "leaves", len(st.leaves))
	return st, nil
}

// reconcile resumes from m and folds in the records it does not cover.
// It reports whether the result differs from m.
func (l *Ledger) reconcile(day string, m *journal.Manifest, records []journal.Record) (*chainState, bool, error) {
	discarded := false
	if m != nil && m.Len() > len(records) {
		slog.Warn("manifest ahead of segment, rebuilding from segment",
			"day", day, "manifest_leaves", m.Len(), "records", len(records))
		m = nil
		discarded = true
	}

	st := newChainState(day)
	start := 0
	if m != nil {
		resumed, err := resume(day, m, records)
		if err != nil {
			return nil, false, err
		}
		st = resumed
		start = m.Len()
	}

	for i := start; i < len(records); i++ {
		if err := l.fold(st, i, records[i]); err != nil {
			return nil, false, err
		}
	}

	changed := discarded || start < len(records)
	return st, changed, nil
}

// resume rebuilds state from a manifest whose leaves must match the first
// m.Len() records of the segment.
func resume(day string, m *journal.Manifest, records []journal.Record) (*chainState, error) {
	st := newChainState(day)

	prev, err := hex.DecodeString(m.LastChain)
	if err != nil {
		return nil, errs.Newf(errs.CodeIntegrity, "load", "manifest lastChain: %v", err).WithDay(day)
	}

	for i, h := range m.RowHashesHex {
		if records[i].RowHash != h {
			return nil, errs.Newf(errs.CodeIntegrity, "load",
				"manifest leaf %d does not match segment record", i).WithDay(day).WithEvent(records[i].ID)
		}
		leaf, err := hex.DecodeString(h)
		if err != nil {
			return nil, errs.Newf(errs.CodeIntegrity, "load", "manifest leaf %d: %v", i, err).WithDay(day)
		}
		st.push(records[i].ID, leaf, nil)
	}
	st.prev = prev

	if m.Len() > 0 && records[m.Len()-1].ChainHash != m.LastChain {
		return nil, errs.Newf(errs.CodeIntegrity, "load",
			"manifest lastChain does not match segment").WithDay(day)
	}
	return st, nil
}

// fold verifies record i against the running chain and appends it.
func (l *Ledger) fold(st *chainState, i int, r journal.Record) error {
	row, err := l.auth.Authenticate(r.Canonical)
	if err != nil {
		return annotate(err, st.day, r.ID)
	}
	chain, err := l.auth.Chain(st.prev, row)
	if err != nil {
		return annotate(err, st.day, r.ID)
	}

	if hex.EncodeToString(row) != r.RowHash {
		return errs.Newf(errs.CodeIntegrity, "load", "record %d row hash mismatch", i).WithDay(st.day).WithEvent(r.ID)
	}
	if hex.EncodeToString(chain) != r.ChainHash {
		return errs.Newf(errs.CodeIntegrity, "load", "record %d chain hash mismatch", i).WithDay(st.day).WithEvent(r.ID)
	}
	st.push(r.ID, row, chain)
	return nil
}

// chainAt recomputes the chain hash after leaf i.
func (l *Ledger) chainAt(st *chainState, i int) ([]byte, error) {
	var prev []byte
	for j := 0; j <= i; j++ {
		c, err := l.auth.Chain(prev, st.leaves[j])
		if err != nil {
			return nil, err
		}
		prev = c
	}
	return prev, nil
}

// annotate adds day and event context to a typed error, or wraps an untyped
// one as an integrity failure.
func annotate(err error, day, id string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithDay(day).WithEvent(id)
	}
	return errs.New(errs.CodeIntegrity, "load", err).WithDay(day).WithEvent(id)
}

func rootOf(leaves [][]byte) []byte {
	r, _ := merkle.Root(leaves)
	return r
}
