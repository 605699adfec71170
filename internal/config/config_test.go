package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "txentity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, &Config{
		Backend:           BackendSQLite,
		Path:              "txentity.db",
		IdentityCacheSize: 1024,
		LogLevel:          "info",
	}, cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
backend: bolt
path: /var/lib/txentity/data.bolt
track_entity_creation: true
identity_cache_size: 64
model: tracker.cue
log_level: DEBUG
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.Equal(t, "/var/lib/txentity/data.bolt", cfg.Path)
	assert.True(t, cfg.TrackEntityCreation)
	assert.Equal(t, 64, cfg.IdentityCacheSize)
	assert.Equal(t, "tracker.cue", cfg.Model)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "backend: sqlite\nidentity_cache_size: 10\n")
	t.Setenv("TXENTITY_BACKEND", "bolt")
	t.Setenv("TXENTITY_IDENTITY_CACHE_SIZE", "20")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.Equal(t, 20, cfg.IdentityCacheSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{Backend: BackendSQLite, Path: "x.db", IdentityCacheSize: 1, LogLevel: "warn"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "postgres" }, `unknown backend "postgres"`},
		{"empty path", func(c *Config) { c.Path = "" }, "path: must not be empty"},
		{"zero cache", func(c *Config) { c.IdentityCacheSize = 0 }, "identity_cache_size"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Config{Backend: "x", IdentityCacheSize: -1, LogLevel: "info"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
	assert.Contains(t, err.Error(), "path")
	assert.Contains(t, err.Error(), "identity_cache_size")
}

func TestOpenBackend(t *testing.T) {
	for _, name := range []string{BackendSQLite, BackendBolt} {
		t.Run(name, func(t *testing.T) {
			cfg := Config{Backend: name, Path: filepath.Join(t.TempDir(), "store.db"), IdentityCacheSize: 1, LogLevel: "info"}

			b, err := cfg.OpenBackend()
			require.NoError(t, err)
			require.NoError(t, b.Close())

			_, err = os.Stat(cfg.Path)
			assert.NoError(t, err)
		})
	}

	cfg := Config{Backend: "postgres", Path: "x"}
	_, err := cfg.OpenBackend()
	assert.ErrorContains(t, err, `unknown backend "postgres"`)
}

func TestManagerOptions(t *testing.T) {
	cfg := Config{Backend: BackendSQLite, Path: "x.db", IdentityCacheSize: 8, LogLevel: "info"}

	opts, err := cfg.ManagerOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	m, err := cfg.LoadModel()
	require.NoError(t, err)
	assert.Nil(t, m)

	cfg.Model = "../model/testdata/tracker.cue"
	opts, err = cfg.ManagerOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	m, err = cfg.LoadModel()
	require.NoError(t, err)
	assert.Equal(t, []string{"Comment", "Issue", "Project"}, m.TypeNames())

	cfg.Model = filepath.Join(t.TempDir(), "missing.cue")
	_, err = cfg.ManagerOptions()
	assert.Error(t, err)
}
