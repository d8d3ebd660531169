package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/geeth24/codeflow/internal/batch"
	"github.com/geeth24/codeflow/internal/engine"
	"github.com/geeth24/codeflow/internal/ui"
)

type batchOutcome struct {
	report *batch.Report
	err    error
}

// runBatchWithUI runs the batch while a progress view consumes its events.
// Quitting the view cancels the files still running.
func runBatchWithUI(ctx context.Context, title string, eng *engine.Engine, req batch.Request) (*batch.Report, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("missing batch files")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan batch.Event, 256)
	outcomeCh := make(chan batchOutcome, 1)

	go func() {
		req.Progress = batch.ChannelSink{Ch: events}
		rep, err := batch.Run(ctx, eng, req)
		outcomeCh <- batchOutcome{report: rep, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, req.Files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	cancel()
	// дочитываем события, чтобы Run не заблокировался на полном канале
	for range events {
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.report, uiErr
	}
	return outcome.report, outcome.err
}
