// Package tui provides the live status view behind `ralph status --watch`.
package tui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/ralph/internal/progress"
	"github.com/Iron-Ham/ralph/internal/session"
)

// Loader reads the latest durable state of the watched session.
type Loader func() (*progress.Report, error)

type (
	changedMsg struct{}
	closedMsg  struct{}
	tickMsg    time.Time
	loadedMsg  struct {
		report *progress.Report
		err    error
	}
)

// fallbackRefresh rereads the session even when no file event arrives.
const fallbackRefresh = 5 * time.Second

var (
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).MarginTop(1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
)

// StatusModel is the bubbletea model of the live view.
type StatusModel struct {
	load     Loader
	changes  <-chan struct{}
	report   *progress.Report
	err      error
	width    int
	quitting bool
}

// NewStatusModel returns a model that reloads through load whenever
// changes delivers a value.
func NewStatusModel(load Loader, changes <-chan struct{}) StatusModel {
	return StatusModel{load: load, changes: changes}
}

// Report returns the last report loaded.
func (m StatusModel) Report() *progress.Report { return m.report }

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return tea.Batch(m.reload(), m.waitForChange(), tick())
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.reload()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case changedMsg:
		return m, tea.Batch(m.reload(), m.waitForChange())
	case closedMsg:
		m.changes = nil
	case tickMsg:
		return m, tea.Batch(m.reload(), tick())
	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.report, m.err = msg.report, nil
	}
	return m, nil
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}
	var out string
	switch {
	case m.report != nil:
		out = progress.Render(m.report, progress.Options{Width: m.width})
	case m.err == nil:
		out = "loading…\n"
	}
	if m.err != nil {
		out += errorStyle.Render("error: "+m.err.Error()) + "\n"
	}
	help := "q quit · r refresh"
	if m.changes == nil {
		help += " · file events unavailable, polling"
	}
	return out + helpStyle.Render(help) + "\n"
}

func (m StatusModel) reload() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		r, err := load()
		return loadedMsg{report: r, err: err}
	}
}

func (m StatusModel) waitForChange() tea.Cmd {
	ch := m.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return closedMsg{}
		}
		return changedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(fallbackRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Watch runs the live view for the session in dir until the user quits or
// ctx ends.
func Watch(ctx context.Context, dir string, load Loader, in io.Reader, out io.Writer) error {
	var changes <-chan struct{}
	w, err := NewWatcher(dir, nil, session.SessionFileName)
	if err == nil {
		defer func() { _ = w.Close() }()
		changes = w.Changes()
	}

	p := tea.NewProgram(NewStatusModel(load, changes),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
