// Package merkle builds the audit tree over a day's ordered row hashes.
//
// Nodes are H(left||right) with H = SHA-256. A level with an odd number of
// nodes duplicates its last node before pairing, and a single leaf x is
// still paired, so the root of [x] is H(x||x). Leaf order is append order.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrLeafOutOfRange is returned by Proof for an index outside the leaf list.
var ErrLeafOutOfRange = errors.New("merkle: leaf index out of range")

// Step is one sibling on the path from a leaf to the root.
type Step struct {
	Hash []byte
	// Left is true when Hash sits to the left of the running node.
	Left bool
}

// Root returns the Merkle root of leaves, or (nil, false) for no leaves.
// The root is rebuilt from the full list on every call.
func Root(leaves [][]byte) ([]byte, bool) {
	if len(leaves) == 0 {
		return nil, false
	}
	level := leaves
	for {
		level = nextLevel(level)
		if len(level) == 1 {
			return level[0], true
		}
	}
}

// Proof returns the sibling path for leaves[i], leaf to root.
func Proof(leaves [][]byte, i int) ([]Step, error) {
	if i < 0 || i >= len(leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafOutOfRange, i, len(leaves))
	}

	var path []Step
	level := leaves
	for {
		if i%2 == 0 {
			sib := level[i]
			if i+1 < len(level) {
				sib = level[i+1]
			}
			path = append(path, Step{Hash: sib})
		} else {
			path = append(path, Step{Hash: level[i-1], Left: true})
		}

		level = nextLevel(level)
		i /= 2
		if len(level) == 1 {
			return path, nil
		}
	}
}

// VerifyProof reports whether leaf and path hash up to root.
func VerifyProof(leaf []byte, path []Step, root []byte) bool {
	node := leaf
	for _, s := range path {
		if s.Left {
			node = hashPair(s.Hash, node)
		} else {
			node = hashPair(node, s.Hash)
		}
	}
	return bytes.Equal(node, root)
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(left, right))
	}
	return next
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
