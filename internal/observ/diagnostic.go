package observ

import (
	"encoding/json"
	"fmt"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/source"
)

// TimingPayload is the JSON note attached to a timing diagnostic.
type TimingPayload struct {
	Kind    string        `json:"kind"`
	Path    string        `json:"path,omitempty"`
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

// AppendTimingDiagnostic adds an informational OBS diagnostic carrying the
// report. The bag limit is ignored: timings are always reported.
func AppendTimingDiagnostic(bag *diag.Bag, kind, path string, report Report) {
	if bag == nil {
		return
	}
	if kind == "" {
		kind = "trace"
	}
	payload := TimingPayload{Kind: kind, Path: path, TotalMS: report.TotalMS, Phases: report.Phases}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	msg := fmt.Sprintf("timings (%s): total %.2f ms", kind, report.TotalMS)
	if path != "" {
		msg += " for " + path
	}
	none := source.Span{File: source.NoFile}
	entry := diag.New(diag.SevInfo, diag.ObsTimings, none, msg).WithNote(none, string(data))
	if bag.Add(entry) {
		return
	}
	overflow := diag.NewBag(1)
	overflow.Add(entry)
	bag.Merge(overflow)
}
