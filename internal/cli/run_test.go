package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

const passingScenario = `name: quick
description: A created wrapper becomes durable on flush
steps:
  - action: begin
    session: s
  - action: new
    session: s
    entity: w
    type: Issue
  - action: flush
    session: s
  - action: commit
    session: s
assertions:
  - type: final_state
    entity: w
    state: DurableFromCreated
`

const failingScenario = `name: wrong
description: Expects the wrong state
steps:
  - action: begin
    session: s
  - action: new
    session: s
    entity: w
    type: Issue
    expect:
      state: Durable
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunScenarioDirectoryWithGoldens(t *testing.T) {
	out, err := execute(t, "run", scenariosDir, "--golden-dir", goldenDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ committed_wrapper_keeps_identity")
	assert.Contains(t, out, "✓ session_rules")
	assert.Contains(t, out, "Summary: 5 passed, 0 failed, 5 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestRunFilter(t *testing.T) {
	out, err := execute(t, "run", scenariosDir, "--filter", "deleted_*")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ deleted_before_flush")
	assert.NotContains(t, out, "session_rules")
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")
}

func TestRunSingleFileWithTraceAndMetrics(t *testing.T) {
	file := filepath.Join(scenariosDir, "committed_wrapper_keeps_identity.yaml")
	out, err := execute(t, "run", file, "--trace", "--metrics")
	require.NoError(t, err)

	assert.Contains(t, out, "    11 call record w1 @main => ILLEGAL_ACCESS state=DurableFromCreated")
	assert.Contains(t, out, "txentity_dispatch_rejections_total")
	assert.Contains(t, out, `op="record"`)
	assert.Contains(t, out, `txentity_session_transitions_total{to="committed"} 1`)
	assert.Contains(t, out, "txentity_flush_seconds")
}

func TestRunFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "expected state Durable, got Created")
	assert.Contains(t, out, "Summary: 0 passed, 1 failed, 1 total")
}

func TestRunJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "quick.yaml", passingScenario)
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	out, err := execute(t, "run", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, 2, resp.Data.Total)

	byName := map[string]ScenarioResult{}
	for _, sr := range resp.Data.Scenarios {
		byName[sr.Name] = sr
	}
	assert.True(t, byName["quick"].Pass)
	assert.False(t, byName["wrong"].Pass)
	assert.NotEmpty(t, byName["wrong"].Errors)
}

func TestRunUpdateWritesGoldens(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "quick.yaml", passingScenario)
	golden := filepath.Join(t.TempDir(), "golden")

	_, err := execute(t, "run", dir, "--golden-dir", golden, "--update")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(golden, "quick.golden"))
	require.NoError(t, err)
	assert.Equal(t, `scenario: quick
1 begin s @main => ok value=s1 state=open
2 new w @main => ok state=Created
3 flush s @main => ok state=open
4 commit s @main => ok state=committed
`, string(data))

	// A second run compares against the written golden.
	out, err := execute(t, "run", dir, "--golden-dir", golden)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ quick")
}

func TestRunGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "quick.yaml", passingScenario)
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "quick.golden"), []byte("scenario: quick\n"), 0o644))

	out, err := execute(t, "run", dir, "--golden-dir", golden)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing path", []string{"run", "/nonexistent/scenarios"}, "scenario path not found"},
		{"update without golden dir", []string{"run", scenariosDir, "--update"}, "--update requires --golden-dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	out, err := execute(t, "run", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestRunInvalidScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\nsteps: []\n")

	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}
