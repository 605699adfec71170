package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// matches reports whether event satisfies the action, target and outcome
// filters. Empty filters match anything.
func matches(event TraceEvent, action, target, outcome string) bool {
	if event.Action != action {
		return false
	}
	if target != "" && event.Target != target {
		return false
	}
	return outcome == "" || event.Outcome == outcome
}

// assertTraceContains checks that some event matches the assertion.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion.Action, assertion.Target, assertion.Outcome) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(assertion.Action, assertion.Target, assertion.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed steps appear in order. Entries are
// "action" or "action target"; intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, entry := range assertion.Actions {
		action, target := splitEntry(entry)
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if matches(event, action, target, "") {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("steps in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("%q not found after position %d", entry, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

// splitEntry splits "call version w1" into ("call version", "w1") and
// "commit s" into ("commit", "s").
func splitEntry(entry string) (action, target string) {
	fields := strings.Fields(entry)
	switch {
	case len(fields) == 0:
		return "", ""
	case fields[0] == ActionCall && len(fields) >= 2:
		action = fields[0] + " " + fields[1]
		fields = fields[2:]
	default:
		action = fields[0]
		fields = fields[1:]
	}
	return action, strings.Join(fields, " ")
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Action, assertion.Target, assertion.Outcome) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describe(assertion.Action, assertion.Target, assertion.Outcome)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertState checks a final wrapper or session state.
func assertState(kind string, states map[string]string, name, want string) error {
	got, ok := states[name]
	if !ok {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s in state %s", name, want),
			Actual:   fmt.Sprintf("%s was never created", name),
		}
	}
	if got != want {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s in state %s", name, want),
			Actual:   fmt.Sprintf("%s in state %s", name, got),
		}
	}
	return nil
}

func describe(action, target, outcome string) string {
	s := action
	if target != "" {
		s += " " + target
	}
	if outcome != "" {
		s += " => " + outcome
	}
	return s
}

// EvaluateAssertions runs all assertions against the result.
// Returns one message per failed assertion; empty if all pass.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertState(AssertFinalState, result.Entities, assertion.Entity, assertion.State)
		case AssertSessionState:
			err = assertState(AssertSessionState, result.Sessions, assertion.Session, assertion.State)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return failures
}
