// Package ledger is the single writer of the tamper-evident event ledger.
//
// Every append runs under one mutex and performs, in order:
//
//	canonicalize -> row hash -> chain hash -> durable journal write ->
//	Merkle root -> index upsert (best effort) -> manifest (best effort)
//
// Chain state is per day key. A new day starts a fresh genesis chain with no
// dependency on the previous day. In-memory state never runs ahead of the
// journal: a failed journal write restores the state to what it was before
// the append.
//
// On the first append of a day the state is loaded from the day's manifest
// and reconciled against the segment, which is the source of truth. Records
// the manifest does not know about are verified and folded in; a manifest
// that claims more records than the segment holds is discarded and the state
// is rebuilt from the segment.
package ledger
