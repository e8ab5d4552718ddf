package tui

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/progress"
	"github.com/Iron-Ham/ralph/internal/research"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func report(p research.Phase) *progress.Report {
	return progress.Build(&research.Session{
		ID:    "20240501_flows",
		Query: "fund flows",
		Phase: p,
		Depth: research.DepthStandard,
	}, nil)
}

func TestStatusModel_Update(t *testing.T) {
	phase := research.PhasePlanning
	load := func() (*progress.Report, error) { return report(phase), nil }
	changes := make(chan struct{}, 1)
	m := NewStatusModel(load, changes)

	assert.Contains(t, m.View(), "loading")

	next, _ := m.Update(m.reload()())
	m = next.(StatusModel)
	require.NotNil(t, m.Report())
	assert.Equal(t, research.PhasePlanning, m.Report().Phase)

	next, cmd := m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})
	m = next.(StatusModel)
	assert.Nil(t, cmd)
	assert.Contains(t, ansi.Strip(m.View()), "fund flows")

	// A file change triggers a reload and a new wait.
	phase = research.PhaseExecution
	changes <- struct{}{}
	msg := m.waitForChange()()
	assert.IsType(t, changedMsg{}, msg)
	next, cmd = m.Update(msg)
	m = next.(StatusModel)
	require.NotNil(t, cmd)
	next, _ = m.Update(m.reload()())
	m = next.(StatusModel)
	assert.Equal(t, research.PhaseExecution, m.Report().Phase)

	close(changes)
	next, _ = m.Update(m.waitForChange()())
	m = next.(StatusModel)
	assert.Contains(t, m.View(), "polling")
	assert.Nil(t, m.waitForChange())

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(StatusModel)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestStatusModel_LoadError(t *testing.T) {
	m := NewStatusModel(func() (*progress.Report, error) { return report(research.PhaseComplete), nil }, nil)
	next, _ := m.Update(m.reload()())
	m = next.(StatusModel)

	next, _ = m.Update(loadedMsg{err: errors.NewNotFoundError("session", "x")})
	m = next.(StatusModel)
	view := ansi.Strip(m.View())
	assert.Contains(t, view, "error:")
	assert.Contains(t, view, "fund flows", "last good report stays on screen")
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, nil, "session.json")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))
	select {
	case <-w.Changes():
		t.Fatal("unrelated file must not signal")
	case <-time.After(3 * debounce):
	}

	for range 3 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{}"), 0o644))
	}
	select {
	case _, ok := <-w.Changes():
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no change signalled")
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, ok := <-w.Changes()
	assert.False(t, ok)
}

func TestWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
