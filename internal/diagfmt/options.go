package diagfmt

import "slices"

// PathMode selects how file paths are displayed.
type PathMode uint8

const (
	PathModeAuto PathMode = iota // short and relative paths as is, long absolute ones shortened
	PathModeAbsolute
	PathModeRelative
	PathModeBasename
)

var pathModeNames = []string{"auto", "absolute", "relative", "basename"}

// ParsePathMode maps a flag value onto a PathMode; unknown values are auto.
func ParsePathMode(s string) PathMode {
	if i := slices.Index(pathModeNames, s); i > 0 {
		return PathMode(i)
	}
	return PathModeAuto
}

func (m PathMode) String() string {
	if int(m) < len(pathModeNames) {
		return pathModeNames[m]
	}
	return pathModeNames[PathModeAuto]
}

// PrettyOpts configures the human-readable renderer.
type PrettyOpts struct {
	Color     bool
	Context   int8 // lines shown before the primary line
	PathMode  PathMode
	ShowNotes bool
}

// JSONOpts configures the JSON document.
type JSONOpts struct {
	IncludePositions bool // line/col рядом с байтовыми смещениями
	IncludeNotes     bool
	PathMode         PathMode
	Max              int // limits the document, not the bag
}
