package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeth24/codeflow/internal/host"
	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/snapshot"
)

func write(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_MatchesPackageDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, host.DefaultLimits(), opts.Host)
	assert.Equal(t, record.DefaultLimits(), opts.Record)
	assert.Equal(t, snapshot.DefaultLimits(), opts.Snapshot)
}

func TestTemplate_EqualsDefault(t *testing.T) {
	cfg := Default()
	_, err := toml.Decode(Template, &cfg)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := write(t, t.TempDir(), `
[limits]
timeout = "200ms"
max_steps = 50
seed = 7
frozen_time = "2024-01-02T03:04:05Z"

[output]
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 200*time.Millisecond, cfg.Limits.Timeout.Duration)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, Default().Snapshot, cfg.Snapshot)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, 50, opts.Record.MaxSteps)
	assert.Equal(t, uint64(7), opts.Host.Seed)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), opts.Host.FrozenTime)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "[limits\n", "failed to parse TOML"},
		{"unknown key", "[limits]\nmax_stepz = 1\n", "unknown keys: limits.max_stepz"},
		{"bad duration", "[limits]\ntimeout = \"soon\"\n", "failed to parse TOML"},
		{"zero steps", "[limits]\nmax_steps = 0\n", "[limits].max_steps must be positive"},
		{"negative seed", "[limits]\nseed = -1\n", "[limits].seed must not be negative"},
		{"frozen time", "[limits]\nfrozen_time = \"yesterday\"\n", "[limits].frozen_time"},
		{"color", "[output]\ncolor = \"sometimes\"\n", "[output].color"},
		{"pattern", "[batch]\npattern = \"[\"\n", "[batch].pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, t.TempDir(), tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFind_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, ok, err := Find(nested)
	require.NoError(t, err)
	if ok {
		t.Skip("a codeflow.toml exists above the temp directory")
	}

	want := write(t, root, "[output]\nwidth = 80\n")
	got, ok, err := Find(nested)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	cfg, err := Discover("", nested)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cfg.Output.Width)
}

func TestDiscover_Explicit(t *testing.T) {
	path := write(t, t.TempDir(), "[batch]\njobs = 3\n")
	cfg, err := Discover(path, "/")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Jobs())

	_, err = Discover(filepath.Join(t.TempDir(), "missing.toml"), "")
	assert.Error(t, err)
}

func TestWriteTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTemplate(dir)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Limits, cfg.Limits)

	_, err = WriteTemplate(dir)
	assert.ErrorContains(t, err, "already initialized")
}
