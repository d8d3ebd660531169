package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode is the --ui flag: auto decides per terminal.
type uiMode uint8

const (
	uiModeAuto uiMode = iota
	uiModeOn
	uiModeOff
)

func readUIMode(value string) (uiMode, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	modes := map[string]uiMode{"": uiModeAuto, "auto": uiModeAuto, "on": uiModeOn, "off": uiModeOff}
	mode, ok := modes[v]
	if !ok {
		return uiModeAuto, fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
	return mode, nil
}

// shouldUseTUI decides whether the progress view is shown. The view owns
// stdout, so auto also requires diagnostics not to go there as JSON.
func shouldUseTUI(mode uiMode, jsonOut bool) bool {
	if mode == uiModeAuto {
		return !jsonOut && isTerminal(os.Stdout)
	}
	return mode == uiModeOn
}
