package harness

import "github.com/roach88/floodsync/internal/ir"

// Outcome of a step that returned no error.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int            `json:"seq"`
	Op      string         `json:"op"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Result  map[string]any `json:"result,omitempty"`
}

// State is the device and remote state after the last step.
type State struct {
	SOS            []ir.SOSRequest `json:"sos"`
	Rescuers       []ir.Rescuer    `json:"rescuers"`
	RemoteSOS      []ir.SOSRequest `json:"remote_sos,omitempty"`
	RemoteRescuers []ir.Rescuer    `json:"remote_rescuers,omitempty"`
	MySOSID        string          `json:"my_sos_id,omitempty"`
	MyRescuerID    string          `json:"my_rescuer_id,omitempty"`
	Breaker        string          `json:"breaker"`
	RemoteCalls    map[string]int  `json:"remote_calls,omitempty"`
	Events         int             `json:"events"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	State  *State       `json:"state,omitempty"`
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

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(op string, args map[string]any, outcome string, result map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Op:      op,
		Args:    args,
		Outcome: outcome,
		Result:  result,
	})
}
