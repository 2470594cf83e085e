package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Phase   string `json:"phase"` // "setup" or "flow"
	Step    string `json:"step"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	// Detail carries step output: dump size, auth timestamp.
	Detail string `json:"detail,omitempty"`
}

// VariableState is a stored variable as it appears in a snapshot.
type VariableState struct {
	Variable   string `json:"variable"`
	Attributes string `json:"attributes"`
	Data       string `json:"data"`
	Timestamp  string `json:"timestamp,omitempty"`
	Signer     string `json:"signer,omitempty"`
}

// FinalState is the engine and store state after the flow.
type FinalState struct {
	Session   string          `json:"session"`
	Enabled   bool            `json:"enabled"`
	Locked    bool            `json:"locked"`
	Policies  int             `json:"policies"`
	Variables []VariableState `json:"variables"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	State FinalState `json:"state"`
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

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
