// Package schema validates structured business events against the embedded
// CUE definition before they are canonicalized and hashed.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed event.cue
var eventCUE string

// Issue is one schema violation.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in a payload.
type ValidationError struct {
	Issues []Issue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "schema: " + e.Issues[0].String()
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("schema: %d violations: %s", len(e.Issues), strings.Join(parts, "; "))
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Validator checks JSON payloads against the #Event definition.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(eventCUE, cue.Filename("event.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	def := root.LookupPath(cue.ParsePath("#Event"))
	if !def.Exists() {
		return nil, fmt.Errorf("schema: #Event not defined")
	}
	return &Validator{ctx: ctx, def: def}, nil
}

// Validate checks one JSON document. A nil error means the payload conforms.
func (v *Validator) Validate(payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data := v.ctx.CompileBytes(payload, cue.Filename("event.json"))
	if err := data.Err(); err != nil {
		return &ValidationError{Issues: issues(err)}
	}
	unified := v.def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Issues: issues(err)}
	}
	return nil
}

func issues(err error) []Issue {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return []Issue{{Message: err.Error()}}
	}
	out := make([]Issue, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		out = append(out, Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out
}
