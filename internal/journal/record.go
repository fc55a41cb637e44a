package journal

import (
	"encoding/json"
	"time"
)

// Attrs carries the free-text context of a record. None of it is hashed.
type Attrs struct {
	OriginalText string `json:"originalText,omitempty"`
	Temporal     string `json:"temporal,omitempty"`
	Location     string `json:"location,omitempty"`
}

// Record is one line of a day segment. It alone suffices to replay both the
// chain and the secondary index.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`

	// Canonical holds the exact canonical payload bytes that were hashed.
	Canonical json.RawMessage `json:"canonical"`

	Attrs     Attrs  `json:"attrs"`
	RowHash   string `json:"row_hash"`
	ChainHash string `json:"chain_hash"`

	// TraceID and SpanID tie the record to the append span when tracing
	// is enabled. Not hashed.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Manifest is the per-day recovery snapshot. RowHashesHex and EventIDs are
// parallel and in append order.
type Manifest struct {
	Day          string   `json:"day"`
	LastChain    string   `json:"lastChain"`
	MerkleRoot   string   `json:"merkleRoot"`
	RowHashesHex []string `json:"rowHashesHex"`
	EventIDs     []string `json:"eventIds,omitempty"`
}

// Len returns the number of leaves recorded in the manifest.
func (m *Manifest) Len() int { return len(m.RowHashesHex) }
