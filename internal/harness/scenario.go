package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txentity/internal/config"
)

// Scenario defines a wrapper lifecycle scenario.
// A scenario runs its steps against a fresh backend and checks the
// expectations of each step and the assertions over the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the durable backend: "sqlite" (default) or "bolt".
	Backend string `yaml:"backend,omitempty"`

	// Model is an optional CUE model file. Relative paths are resolved
	// against the scenario file location.
	Model string `yaml:"model,omitempty"`

	// TrackCreation enables creation site capture for new wrappers.
	TrackCreation bool `yaml:"track_creation,omitempty"`

	// Steps run in order. Each appends one event to the trace.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final states.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, session_state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single scenario action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Context names the calling context. Defaults to "main".
	Context string `yaml:"context,omitempty"`

	// Session names the session the step acts on.
	Session string `yaml:"session,omitempty"`

	// Entity names the wrapper the step creates or acts on.
	Entity string `yaml:"entity,omitempty"`

	// Other names the second wrapper of equal, compare and add_link.
	Other string `yaml:"other,omitempty"`

	// Record names a record created by seed.
	Record string `yaml:"record,omitempty"`

	// Type is the entity type of new and seed.
	Type string `yaml:"type,omitempty"`

	// Op is the wrapper operation of call, e.g. "version" or "history".
	Op string `yaml:"op,omitempty"`

	// Name is the property or link name of set_property, add_link,
	// external_set and the property op.
	Name string `yaml:"name,omitempty"`

	// Value is the property value of set_property and external_set.
	Value string `yaml:"value,omitempty"`

	// Values are the initial properties of seed.
	Values map[string]string `yaml:"values,omitempty"`

	// Expect checks the outcome. If nil, the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is the expected error code, e.g. "ILLEGAL_ACCESS" or "NOT_OPEN".
	// Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Value is the expected rendered result of a call step.
	Value *string `yaml:"value,omitempty"`

	// State is the expected state of the wrapper (or session) after the step.
	State string `yaml:"state,omitempty"`
}

// Assertion validates the trace or a final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with Action (and Target, Outcome if set)
	// - "trace_order": Actions appear in order, as "action" or "action target"
	// - "trace_count": events with Action (and Outcome if set) occur Count times
	// - "final_state": wrapper Entity ends in State
	// - "session_state": session Session ends in State
	Type string `yaml:"type"`

	Action  string   `yaml:"action,omitempty"`
	Target  string   `yaml:"target,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Entity  string   `yaml:"entity,omitempty"`
	Session string   `yaml:"session,omitempty"`
	State   string   `yaml:"state,omitempty"`
}

// Step actions.
const (
	ActionBegin         = "begin"
	ActionBeginReadOnly = "begin_readonly"
	ActionSuspend       = "suspend"
	ActionResume        = "resume"
	ActionFlush         = "flush"
	ActionCommit        = "commit"
	ActionAbort         = "abort"
	ActionNew           = "new"
	ActionLoad          = "load"
	ActionSetProperty   = "set_property"
	ActionAddLink       = "add_link"
	ActionDelete        = "delete"
	ActionSeed          = "seed"
	ActionExternalSet   = "external_set"
	ActionCall          = "call"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertSessionState  = "session_state"
)

// DefaultContext names the context used by steps that name none.
const DefaultContext = "main"

// requiredFields lists the step fields each action needs.
var requiredFields = map[string][]string{
	ActionBegin:         {"session"},
	ActionBeginReadOnly: {"session"},
	ActionSuspend:       {},
	ActionResume:        {"session"},
	ActionFlush:         {"session"},
	ActionCommit:        {"session"},
	ActionAbort:         {"session"},
	ActionNew:           {"session", "entity", "type"},
	ActionLoad:          {"session", "entity", "record"},
	ActionSetProperty:   {"session", "entity", "name"},
	ActionAddLink:       {"session", "entity", "name", "other"},
	ActionDelete:        {"session", "entity"},
	ActionSeed:          {"record", "type"},
	ActionExternalSet:   {"name"},
	ActionCall:          {"op", "entity"},
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative model path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Model != "" && !filepath.IsAbs(scenario.Model) {
		scenario.Model = filepath.Join(filepath.Dir(path), scenario.Model)
	}
	if scenario.Model != "" {
		if _, err := os.Stat(scenario.Model); err != nil {
			return nil, fmt.Errorf("invalid scenario: model file not found: %s", scenario.Model)
		}
	}

	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Backend {
	case "", config.BackendSQLite, config.BackendBolt:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", s.Backend, config.BackendSQLite, config.BackendBolt)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields a step's action needs.
func validateStep(index int, st *Step) error {
	if st.Action == "" {
		return fmt.Errorf("steps[%d]: action is required", index)
	}

	required, ok := requiredFields[st.Action]
	if !ok {
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	fields := map[string]string{
		"session": st.Session,
		"entity":  st.Entity,
		"other":   st.Other,
		"record":  st.Record,
		"type":    st.Type,
		"op":      st.Op,
		"name":    st.Name,
	}
	for _, f := range required {
		if fields[f] == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, f, st.Action)
		}
	}

	if st.Action == ActionExternalSet && st.Entity == "" && st.Record == "" {
		return fmt.Errorf("steps[%d]: entity or record is required for %s", index, st.Action)
	}

	if st.Action == ActionCall && !slices.Contains(CallOps(), st.Op) {
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Entity == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: entity and state are required for final_state", index)
		}
	case AssertSessionState:
		if a.Session == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: session and state are required for session_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
