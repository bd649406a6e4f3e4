package harness

// TraceEvent records one step of a scenario. Steps that reached the
// journal carry the transition's id, seq, outcome and toolkit calls.
type TraceEvent struct {
	Step    int      `json:"step"`
	Action  string   `json:"action"`
	Recipe  string   `json:"recipe,omitempty"`
	Range   string   `json:"range,omitempty"`
	IDs     []int    `json:"ids,omitempty"`
	ID      string   `json:"id,omitempty"`
	Seq     int64    `json:"seq,omitempty"`
	At      string   `json:"at,omitempty"`
	Outcome string   `json:"outcome,omitempty"`
	Files   []string `json:"files,omitempty"`
	// Calls are the toolkit calls made, as "op file" or "op file !error".
	Calls []string `json:"calls,omitempty"`
	// Error is the error kind the step returned.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step matched its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
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

// AddEvent appends a step event to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
