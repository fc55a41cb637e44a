// Package journal is the durable, append-only storage of the ledger.
//
// Each day key owns two files under the journal root:
//
//	2025-06-01.ndjson          one self-describing record per line, append only
//	2025-06-01.manifest.json   recovery snapshot, replaced atomically
//
// A segment is only ever appended to. Every append is followed by fsync, and
// a failed or short write truncates the segment back to its previous size
// before the error is returned, so a segment never holds a partial record
// written by a live process. A crash can still leave a torn final line;
// Repair removes it and readers ignore it.
package journal
