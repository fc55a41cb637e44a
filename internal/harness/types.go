package harness

// Step operations recorded in the trace.
const (
	OpAppend  = "append"
	OpAdvance = "advance"
	OpRestart = "restart"
	OpTamper  = "tamper"
	OpTear    = "tear"
	OpReindex = "reindex"
)

// TraceEvent is what one flow step did.
type TraceEvent struct {
	Step      int    `json:"step"`
	Op        string `json:"op"`
	EventID   string `json:"event_id,omitempty"`
	Day       string `json:"day,omitempty"`
	Leaves    int    `json:"leaves,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"` // errs code of a failed append
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions. Empty if Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) trace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
