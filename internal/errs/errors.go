// Package errs defines the typed errors crossing ledger component boundaries.
//
// Every failure the ledger surfaces carries a Code that tells the caller how
// to treat it:
//
//   - KEY_STORE, ENCODING, LOG_WRITE: fatal for the append that raised them
//   - INDEX, MANIFEST: best effort, logged, never fail an append
//   - QUERY: surfaced to the reader, no effect on chain state
//   - INTEGRITY: a segment or manifest disagrees with the recomputed chain
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes ledger errors.
type Code string

const (
	// CodeKeyStore indicates the secret could not be created or read.
	CodeKeyStore Code = "KEY_STORE"

	// CodeEncoding indicates an event could not be validated or canonicalized.
	CodeEncoding Code = "ENCODING"

	// CodeLogWrite indicates the durable segment write failed.
	CodeLogWrite Code = "LOG_WRITE"

	// CodeIndex indicates a secondary index mutation failed.
	CodeIndex Code = "INDEX"

	// CodeQuery indicates a secondary index read failed.
	CodeQuery Code = "QUERY"

	// CodeManifest indicates a manifest could not be read or persisted.
	CodeManifest Code = "MANIFEST"

	// CodeIntegrity indicates recorded hashes disagree with recomputed ones.
	CodeIntegrity Code = "INTEGRITY"
)

// Error is a ledger error with structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed ("append", "events_for_day", ...).
	Op string

	// Day is the day key involved, if any.
	Day string

	// EventID is the event involved, if any.
	EventID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Day != "" {
		msg += fmt.Sprintf(" (day=%s", e.Day)
		if e.EventID != "" {
			msg += fmt.Sprintf(", event=%s", e.EventID)
		}
		msg += ")"
	} else if e.EventID != "" {
		msg += fmt.Sprintf(" (event=%s)", e.EventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code, operation and cause.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Newf creates an Error with a formatted message and no cause.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WithDay returns a copy of e annotated with a day key.
func (e *Error) WithDay(day string) *Error {
	c := *e
	c.Day = day
	return &c
}

// WithEvent returns a copy of e annotated with an event id.
func (e *Error) WithEvent(id string) *Error {
	c := *e
	c.EventID = id
	return &c
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsKeyStore reports whether err is a key store failure.
func IsKeyStore(err error) bool { return Is(err, CodeKeyStore) }

// IsEncoding reports whether err is an encoding failure.
func IsEncoding(err error) bool { return Is(err, CodeEncoding) }

// IsLogWrite reports whether err is a durable write failure.
func IsLogWrite(err error) bool { return Is(err, CodeLogWrite) }

// IsIndex reports whether err is an index mutation failure.
func IsIndex(err error) bool { return Is(err, CodeIndex) }

// IsQuery reports whether err is an index read failure.
func IsQuery(err error) bool { return Is(err, CodeQuery) }

// IsIntegrity reports whether err is a chain integrity failure.
func IsIntegrity(err error) bool { return Is(err, CodeIntegrity) }
