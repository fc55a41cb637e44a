package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/merkle"
)

// Problem kinds reported by Verify.
const (
	ProblemCorruptRecord     = "corrupt_record"
	ProblemRowHash           = "row_hash_mismatch"
	ProblemChainHash         = "chain_hash_mismatch"
	ProblemManifestMissing   = "manifest_missing"
	ProblemManifestLeafCount = "manifest_leaf_count_mismatch"
	ProblemManifestLeaf      = "manifest_leaf_mismatch"
	ProblemManifestChain     = "manifest_last_chain_mismatch"
	ProblemManifestRoot      = "manifest_merkle_root_mismatch"
)

// Problem is one disagreement found by Verify. Index is the record position,
// or -1 for manifest-level findings.
type Problem struct {
	Index   int    `json:"index"`
	EventID string `json:"eventId,omitempty"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
}

// VerifyReport is the result of replaying one day.
type VerifyReport struct {
	Day           string    `json:"day"`
	Records       int       `json:"records"`
	OK            bool      `json:"ok"`
	LastChainHex  string    `json:"lastChainHex"`
	MerkleRootHex string    `json:"merkleRootHex"`
	Manifest      bool      `json:"manifest"`
	Problems      []Problem `json:"problems,omitempty"`
}

func (r *VerifyReport) add(p Problem) {
	r.Problems = append(r.Problems, p)
	r.OK = false
}

// Verify replays day's segment with the key, recomputing every row and
// chain hash from the stored canonical bytes, and compares the result with
// the recorded hashes and with the manifest.
//
// A mismatch is reported in the VerifyReport, not as an error. Errors are
// reserved for failures to read the journal or the key.
func (l *Ledger) Verify(ctx context.Context, day string) (VerifyReport, error) {
	ctx, span := l.inst.tracer.Start(ctx, "ledger.Verify")
	defer span.End()
	spanDay(span, day)

	l.mu.Lock()
	defer l.mu.Unlock()

	rep := VerifyReport{Day: day, OK: true}

	var (
		prev   []byte
		leaves [][]byte
		ids    []string
	)
	err := l.journal.Scan(day, func(r journal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		i := len(leaves)

		row, err := l.auth.Authenticate(r.Canonical)
		if err != nil {
			return err
		}
		if got := hex.EncodeToString(row); got != r.RowHash {
			rep.add(Problem{Index: i, EventID: r.ID, Kind: ProblemRowHash,
				Detail: fmt.Sprintf("recorded %s, recomputed %s", r.RowHash, got)})
		}

		chain, err := l.auth.Chain(prev, row)
		if err != nil {
			return err
		}
		if got := hex.EncodeToString(chain); got != r.ChainHash {
			rep.add(Problem{Index: i, EventID: r.ID, Kind: ProblemChainHash,
				Detail: fmt.Sprintf("recorded %s, recomputed %s", r.ChainHash, got)})
		}

		prev = chain
		leaves = append(leaves, row)
		ids = append(ids, r.ID)
		return nil
	})

	var ce *journal.CorruptError
	switch {
	case errors.As(err, &ce):
		rep.add(Problem{Index: ce.Line - 1, Kind: ProblemCorruptRecord, Detail: ce.Err.Error()})
	case errors.Is(err, journal.ErrInvalidDay):
		return VerifyReport{}, errs.New(errs.CodeQuery, "verify", err).WithDay(day)
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return VerifyReport{}, err
	case err != nil:
		var e *errs.Error
		if errors.As(err, &e) {
			return VerifyReport{}, e.WithDay(day)
		}
		return VerifyReport{}, errs.New(errs.CodeIntegrity, "verify", err).WithDay(day)
	}

	rep.Records = len(leaves)
	rep.LastChainHex = hex.EncodeToString(prev)
	rep.MerkleRootHex = hex.EncodeToString(rootOf(leaves))

	m, err := l.journal.ReadManifest(day)
	switch {
	case errors.Is(err, journal.ErrNoManifest):
		if len(leaves) > 0 {
			rep.add(Problem{Index: -1, Kind: ProblemManifestMissing})
		}
		return rep, nil
	case err != nil:
		return VerifyReport{}, errs.New(errs.CodeManifest, "verify", err).WithDay(day)
	}
	rep.Manifest = true
	compareManifest(&rep, m, leaves, ids)
	return rep, nil
}

func compareManifest(rep *VerifyReport, m *journal.Manifest, leaves [][]byte, ids []string) {
	if m.Len() != len(leaves) {
		rep.add(Problem{Index: -1, Kind: ProblemManifestLeafCount,
			Detail: fmt.Sprintf("manifest %d, segment %d", m.Len(), len(leaves))})
	}
	for i := 0; i < min(m.Len(), len(leaves)); i++ {
		if got := hex.EncodeToString(leaves[i]); got != m.RowHashesHex[i] {
			rep.add(Problem{Index: i, EventID: ids[i], Kind: ProblemManifestLeaf,
				Detail: fmt.Sprintf("manifest %s, recomputed %s", m.RowHashesHex[i], got)})
		}
	}
	if m.LastChain != rep.LastChainHex {
		rep.add(Problem{Index: -1, Kind: ProblemManifestChain,
			Detail: fmt.Sprintf("manifest %s, recomputed %s", m.LastChain, rep.LastChainHex)})
	}
	if m.MerkleRoot != rep.MerkleRootHex {
		rep.add(Problem{Index: -1, Kind: ProblemManifestRoot,
			Detail: fmt.Sprintf("manifest %s, recomputed %s", m.MerkleRoot, rep.MerkleRootHex)})
	}
}

// ProofStep is one sibling hash on an inclusion path.
type ProofStep struct {
	HashHex string `json:"hashHex"`
	Left    bool   `json:"left"`
}

// InclusionProof shows that one event is a leaf of its day's Merkle root.
type InclusionProof struct {
	Day           string      `json:"day"`
	EventID       string      `json:"eventId"`
	Index         int         `json:"index"`
	LeafHex       string      `json:"leafHex"`
	MerkleRootHex string      `json:"merkleRootHex"`
	Path          []ProofStep `json:"path"`
}

// Check recomputes the root from the leaf and path.
func (p InclusionProof) Check() bool {
	leaf, err := hex.DecodeString(p.LeafHex)
	if err != nil {
		return false
	}
	root, err := hex.DecodeString(p.MerkleRootHex)
	if err != nil {
		return false
	}
	steps := make([]merkle.Step, len(p.Path))
	for i, s := range p.Path {
		h, err := hex.DecodeString(s.HashHex)
		if err != nil {
			return false
		}
		steps[i] = merkle.Step{Hash: h, Left: s.Left}
	}
	return merkle.VerifyProof(leaf, steps, root)
}

// ErrEventNotFound is returned when an event id is not in the day's manifest.
var ErrEventNotFound = errors.New("ledger: event not found")

// Proof builds an inclusion proof for eventID from day's manifest.
func (l *Ledger) Proof(day, eventID string) (InclusionProof, error) {
	m, err := l.Manifest(day)
	if err != nil {
		return InclusionProof{}, err
	}

	i := -1
	for j, id := range m.EventIDs {
		if id == eventID {
			i = j
			break
		}
	}
	if i < 0 || i >= m.Len() {
		return InclusionProof{}, fmt.Errorf("%w: %s on %s", ErrEventNotFound, eventID, day)
	}

	leaves := make([][]byte, m.Len())
	for j, h := range m.RowHashesHex {
		leaves[j], err = hex.DecodeString(h)
		if err != nil {
			return InclusionProof{}, errs.Newf(errs.CodeIntegrity, "proof", "manifest leaf %d: %v", j, err).WithDay(day)
		}
	}
	path, err := merkle.Proof(leaves, i)
	if err != nil {
		return InclusionProof{}, err
	}
	steps := make([]ProofStep, len(path))
	for j, s := range path {
		steps[j] = ProofStep{HashHex: hex.EncodeToString(s.Hash), Left: s.Left}
	}
	return InclusionProof{
		Day:           day,
		EventID:       eventID,
		Index:         i,
		LeafHex:       m.RowHashesHex[i],
		MerkleRootHex: m.MerkleRoot,
		Path:          steps,
	}, nil
}
