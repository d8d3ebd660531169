package tracing

import (
	"fmt"
	"slices"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff    Level = iota // no tracing
	LevelError               // kept in memory, shown on failure
	LevelPhase               // commands, runs and pipeline phases
	LevelDetail              // plus host supervision
	LevelDebug               // everything including guest steps
)

var levelNames = []string{"off", "error", "phase", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel converts a flag value to a Level.
func ParseLevel(s string) (Level, error) {
	i := slices.Index(levelNames, strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: %s)", s, strings.Join(levelNames, "|"))
	}
	return Level(i), nil
}

// finest is the most detailed scope recorded at each level.
var finest = [...]Scope{
	LevelOff:    0,
	LevelError:  ScopePhase,
	LevelPhase:  ScopePhase,
	LevelDetail: ScopeHost,
	LevelDebug:  ScopeProbe,
}

// ShouldEmit reports whether events of scope are recorded at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	return int(l) < len(finest) && scope != 0 && scope <= finest[l]
}
