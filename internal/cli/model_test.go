package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trackerModel = "../model/testdata/tracker.cue"

func TestModelJSON(t *testing.T) {
	out, err := execute(t, "model", trackerModel, "--format", "json")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "model_tracker", []byte(out))
}

func TestModelText(t *testing.T) {
	out, err := execute(t, "model", trackerModel)
	require.NoError(t, err)

	for _, want := range []string{"Comment", "Issue", "Project", "priority state summary", "attachment", "project related"} {
		assert.Contains(t, out, want)
	}
}

func TestModelFromConfig(t *testing.T) {
	t.Setenv("TXENTITY_MODEL", trackerModel)

	out, err := execute(t, "model", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"Issue"`)
}

func TestModelInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("kinds: {}\n"), 0o644))

	out, err := execute(t, "model", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_INVALID_MODEL]")
	assert.Contains(t, out, "types is required")
}

func TestModelMissingFile(t *testing.T) {
	_, err := execute(t, "model", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestModelNotConfigured(t *testing.T) {
	_, err := execute(t, "model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model file given")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
