package harness

import (
	"strconv"
	"strings"
)

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Action  string `json:"action"`
	Context string `json:"context"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Value   string `json:"value,omitempty"`
	State   string `json:"state,omitempty"`
}

// OutcomeOK is the outcome of a step that returned no error.
const OutcomeOK = "ok"

// String renders the event on one line, e.g.
// "3 call record w1 @main => ILLEGAL_ACCESS state=DurableFromCreated".
func (e TraceEvent) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(e.Seq))
	sb.WriteString(" ")
	sb.WriteString(e.Action)
	if e.Target != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Target)
	}
	sb.WriteString(" @")
	sb.WriteString(e.Context)
	sb.WriteString(" => ")
	sb.WriteString(e.Outcome)
	if e.Value != "" {
		sb.WriteString(" value=")
		sb.WriteString(e.Value)
	}
	if e.State != "" {
		sb.WriteString(" state=")
		sb.WriteString(e.State)
	}
	return sb.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Entities maps wrapper names to their final lifecycle state.
	Entities map[string]string `json:"entities,omitempty"`

	// Sessions maps session names to their final state.
	Sessions map[string]string `json:"sessions,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Entities: map[string]string{},
		Sessions: map[string]string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the trace and numbers it.
func (r *Result) AddEvent(e TraceEvent) TraceEvent {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
	return e
}
