package version

import (
	"runtime/debug"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestCurrent_ReflectsOverrides(t *testing.T) {
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate })

	Version, GitCommit, BuildDate = "1.2.3", "abc123", "2024-01-15T10:30:00Z"
	info := Current()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123", info.GitCommit)
	assert.Equal(t, "2024-01-15T10:30:00Z", info.BuildDate)
}

func TestColored(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	tests := []string{"0.1.0", "0.1.0-dev", "1.2.3-rc.1+build.123", "nightly", "1.2"}
	for _, v := range tests {
		assert.Equal(t, v, Colored(v))
	}

	color.NoColor = false
	assert.Contains(t, Colored("1.2.3"), "\x1b[")
	assert.Equal(t, "nightly", Colored("nightly"))
}

func TestInfo_String(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	info := Info{Version: "0.1.0", GitCommit: "abc", Engine: "v0.0.0-1", GoVersion: "go1.25.1"}
	assert.Equal(t, "codeflow 0.1.0 (abc)\nengine goja v0.0.0-1\ngo1.25.1", info.String())
	assert.Equal(t, "codeflow 0.1.0", Info{Version: "0.1.0"}.String())
}

func TestDependencyVersion(t *testing.T) {
	bi := &debug.BuildInfo{Deps: []*debug.Module{
		{Path: "example.com/a", Version: "v1.0.0"},
		{Path: enginePath, Version: "v0.0.1", Replace: &debug.Module{Version: "v0.0.2"}},
	}}
	assert.Equal(t, "v0.0.2", dependencyVersion(bi, enginePath))
	assert.Equal(t, "v1.0.0", dependencyVersion(bi, "example.com/a"))
	assert.Empty(t, dependencyVersion(bi, "example.com/missing"))
}
