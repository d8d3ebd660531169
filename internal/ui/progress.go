// Package ui renders batch progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/geeth24/codeflow/internal/batch"
)

// state is the lifecycle of one file in the view.
type state uint8

const (
	stateQueued state = iota
	stateLoading
	stateTracing
	stateDone
	stateFailed
)

var stateLabels = [...]string{"queued", "loading", "tracing", "done", "error"}

func (s state) String() string { return stateLabels[s] }

func (s state) final() bool { return s >= stateDone }

// share is how much of a file's work a state stands for.
func (s state) share() float64 {
	switch s {
	case stateLoading:
		return 0.1
	case stateTracing:
		return 0.5
	case stateDone, stateFailed:
		return 1
	}
	return 0
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	stateStyles = [...]lipgloss.Style{
		stateQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		stateLoading: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		stateTracing: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		stateDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		stateFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
)

type fileItem struct {
	path    string
	state   state
	steps   int
	elapsed time.Duration
	err     string
}

type progressModel struct {
	title   string
	events  <-chan batch.Event
	spinner spinner.Model
	bar     progress.Model
	items   []fileItem
	index   map[string]int
	width   int
	height  int // 0 until the terminal reports its size
	done    bool
}

type (
	eventMsg batch.Event
	doneMsg  struct{}
)

// NewProgressModel returns a Bubble Tea model that renders batch progress
// until events is closed.
func NewProgressModel(title string, files []string, events <-chan batch.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = stateStyles[stateTracing]

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 76

	m := &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		bar:     bar,
		items:   make([]fileItem, len(files)),
		index:   make(map[string]int, len(files)),
		width:   80,
	}
	for i, file := range files {
		m.items[i] = fileItem{path: file}
		m.index[file] = i
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.applyEvent(batch.Event(msg)), m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = msg.Width - 4
		}
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	finished, failed := m.counts()
	header := fmt.Sprintf("%s %d/%d", m.title, finished, len(m.items))
	if failed > 0 {
		header += fmt.Sprintf(", %d failed", failed)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	rows := m.visible()
	if hidden := len(m.items) - len(rows); hidden > 0 {
		b.WriteString(faintStyle.Render(fmt.Sprintf("  … %d more", hidden)))
		b.WriteString("\n")
	}
	nameWidth := max(m.width-28, 20)
	for _, item := range rows {
		b.WriteString(m.row(item, nameWidth))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.bar.ViewAs(1.0))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) row(item fileItem, nameWidth int) string {
	label := stateStyles[item.state].Render(fmt.Sprintf("%8s", item.state))
	line := fmt.Sprintf("  %s %s", label, truncate(item.path, nameWidth))
	switch item.state {
	case stateDone:
		line += faintStyle.Render(fmt.Sprintf("  %d steps, %s", item.steps, item.elapsed.Round(time.Millisecond)))
	case stateFailed:
		if item.err != "" {
			line += faintStyle.Render("  " + truncate(firstLine(item.err), max(m.width-nameWidth-14, 10)))
		}
	}
	return line
}

// visible picks the rows that fit the terminal: the most recently started
// files, keeping the original order.
func (m *progressModel) visible() []fileItem {
	limit := m.height - 6
	if m.height == 0 || limit >= len(m.items) {
		return m.items
	}
	limit = max(limit, 1)
	last := 0
	for i, it := range m.items {
		if it.state != stateQueued {
			last = i
		}
	}
	end := min(max(last+1, limit), len(m.items))
	return m.items[end-limit : end]
}

func (m *progressModel) counts() (finished, failed int) {
	for _, item := range m.items {
		if item.state.final() {
			finished++
		}
		if item.state == stateFailed {
			failed++
		}
	}
	return finished, failed
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev batch.Event) tea.Cmd {
	idx, ok := m.index[ev.File]
	if !ok {
		return nil
	}
	item := &m.items[idx]
	item.state = stateOf(ev.Stage, ev.Status)
	if item.state.final() {
		item.steps, item.elapsed = ev.Steps, ev.Elapsed
		if ev.Err != nil {
			item.err = ev.Err.Error()
		}
	}

	total := 0.0
	for _, it := range m.items {
		total += it.state.share()
	}
	return m.bar.SetPercent(total / float64(len(m.items)))
}

func stateOf(stage batch.Stage, status batch.Status) state {
	switch status {
	case batch.StatusDone:
		return stateDone
	case batch.StatusError:
		return stateFailed
	case batch.StatusWorking:
		if stage == batch.StageLoad {
			return stateLoading
		}
		return stateTracing
	}
	return stateQueued
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
