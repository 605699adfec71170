package harness

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/model"
	"github.com/roach88/txentity/internal/session"
)

func strptr(s string) *string { return &s }

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		Steps: []Step{
			{Action: ActionBegin, Session: "s"},
			{Action: ActionNew, Session: "s", Entity: "w", Type: "Issue"},
			{Action: ActionCommit, Session: "s"},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Entity: "w", State: "DurableFromCreated"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, 1, result.Trace[0].Seq)
	assert.Equal(t, "s1", result.Trace[0].Value)
	assert.Equal(t, "committed", result.Sessions["s"])
}

func TestRun_ExpectationFailures(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatches",
		Description: "Every expect clause is wrong",
		Steps: []Step{
			{Action: ActionBegin, Session: "s", Expect: &Expect{State: "suspended"}},
			{Action: ActionNew, Session: "s", Entity: "w", Type: "Issue"},
			{Action: ActionCall, Op: "version", Entity: "w"},
			{Action: ActionCall, Op: "id", Entity: "w", Expect: &Expect{Value: strptr("~t9")}},
			{Action: ActionCall, Op: "record", Entity: "w", Expect: &Expect{Error: "RECORD_REMOVED"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "steps[0] begin: expected state suspended, got open")
	assert.Contains(t, result.Errors[1], "steps[2] call: expected outcome ok, got ILLEGAL_ACCESS")
	assert.Contains(t, result.Errors[2], `steps[3] call: expected value "~t9", got "~t1"`)
	assert.Contains(t, result.Errors[3], "steps[4] call: expected outcome RECORD_REMOVED, got ILLEGAL_ACCESS")
}

func TestRun_UnknownNamesAbort(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"session", Step{Action: ActionCommit, Session: "nope"}, `unknown session "nope"`},
		{"entity", Step{Action: ActionCall, Op: "id", Entity: "nope"}, `unknown entity "nope"`},
		{"record", Step{Action: ActionLoad, Session: "s", Entity: "w", Record: "nope"}, `unknown record "nope"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "unknown_" + tt.name,
				Description: "Step names something that does not exist",
				Steps:       []Step{{Action: ActionBegin, Session: "s"}, tt.step},
			}
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "steps[1]")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_LinksAndDeletes(t *testing.T) {
	for _, backendName := range []string{"sqlite", "bolt"} {
		t.Run(backendName, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "links",
				Description: "Links resolve to wrappers and skip deleted targets",
				Backend:     backendName,
				Steps: []Step{
					{Action: ActionBegin, Session: "s"},
					{Action: ActionNew, Session: "s", Entity: "issue", Type: "Issue"},
					{Action: ActionNew, Session: "s", Entity: "project", Type: "Project"},
					{Action: ActionAddLink, Session: "s", Entity: "issue", Name: "project", Other: "project"},
					{Action: ActionCall, Op: "links", Entity: "issue", Name: "project",
						Expect: &Expect{Value: strptr("[Project (Created)]")}},
					{Action: ActionFlush, Session: "s"},
					{Action: ActionCall, Op: "link-names", Entity: "issue", Expect: &Expect{Value: strptr("[project]")}},
					{Action: ActionCall, Op: "links", Entity: "issue", Name: "project",
						Expect: &Expect{Value: strptr("[Project-2 (DurableFromCreated)]")}},
					{Action: ActionDelete, Session: "s", Entity: "project", Expect: &Expect{State: "DeletedCreated"}},
					{Action: ActionFlush, Session: "s"},
					{Action: ActionCall, Op: "links", Entity: "issue", Name: "project", Expect: &Expect{Value: strptr("[]")}},
					{Action: ActionCommit, Session: "s"},
				},
			}

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_WithObserver(t *testing.T) {
	obs := &countingObserver{}
	scenario := &Scenario{
		Name:        "observed",
		Description: "Rejections and transitions reach the observer",
		Steps: []Step{
			{Action: ActionBegin, Session: "s"},
			{Action: ActionNew, Session: "s", Entity: "w", Type: "Issue"},
			{Action: ActionCall, Op: "version", Entity: "w", Expect: &Expect{Error: "ILLEGAL_ACCESS"}},
			{Action: ActionCommit, Session: "s"},
		},
	}

	result, err := Run(scenario, WithObserver(obs))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, obs.rejected)
	assert.Equal(t, 1, obs.transitions)
	assert.Equal(t, 1, obs.flushed)
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	scenario := &Scenario{
		Name:        "logged",
		Description: "Steps are logged",
		Steps:       []Step{{Action: ActionBegin, Session: "s"}},
	}

	_, err := Run(scenario, WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "step executed")
	assert.Contains(t, buf.String(), "1 begin s @main => ok")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{entity.ErrIllegalAccess, "ILLEGAL_ACCESS"},
		{fmt.Errorf("wrapped: %w", entity.ErrRecordRemoved), "RECORD_REMOVED"},
		{&model.Error{Code: model.ErrCodeUnknownType}, "E_UNKNOWN_TYPE"},
		{fmt.Errorf("flush: %w", session.ErrNotOpen), "NOT_OPEN"},
		{session.ErrReadOnly, "READ_ONLY"},
		{fmt.Errorf("load: %w", backend.ErrNotFound), "NOT_FOUND"},
		{errors.New("disk on fire"), "ERROR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), "%v", tt.err)
	}
}

type countingObserver struct {
	rejected, transitions, flushed int
}

func (o *countingObserver) Rejected(string, entity.Class, entity.State, *entity.Error) {
	o.rejected++
}

func (o *countingObserver) SessionTransition(string, entity.SessionState, entity.SessionState) {
	o.transitions++
}

func (o *countingObserver) Flushed(string, time.Duration, error) {
	o.flushed++
}
