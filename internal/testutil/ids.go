package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates evt:0001, evt:0002, ... for deterministic records.
//
// The same scenario with the same generator produces byte-identical segments,
// which is what golden file comparisons need.
//
// Thread-safety: Next is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs returns a generator whose ids start with prefix.
// An empty prefix selects "evt:".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "evt:"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id. Its signature matches ledger.WithIDGenerator.
func (g *SequentialIDs) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.prefix, g.n), nil
}
