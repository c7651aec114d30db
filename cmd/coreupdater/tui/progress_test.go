package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestNewModel(t *testing.T) {
	m := NewModel("Updating to 1.7.0")
	assert.Equal(t, "Updating to 1.7.0", m.title)
	assert.False(t, m.done)
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "Starting")
}

func TestModel_Progress(t *testing.T) {
	m, cmd := update(t, NewModel("Comparing"), ProgressMsg{
		Process:     "compare",
		Step:        3,
		Steps:       10,
		Description: "Scanning classes/",
		Fraction:    0.3,
	})
	assert.Nil(t, cmd)
	assert.Equal(t, 3, m.current.Step)

	view := m.View()
	assert.Contains(t, view, "Comparing")
	assert.Contains(t, view, "Scanning classes/")
	assert.Contains(t, view, "3/10")
}

func TestModel_Done(t *testing.T) {
	m, cmd := update(t, NewModel("Comparing"), DoneMsg{})
	assert.True(t, m.done)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "Done")

	m, _ = update(t, NewModel("Comparing"), DoneMsg{Err: errors.New("download failed")})
	assert.Contains(t, m.View(), "Failed: download failed")
}

func TestModel_Interrupt(t *testing.T) {
	m, cmd := update(t, NewModel("Updating"), tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, m.interrupted)
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Stopping")
}

func TestModel_WindowSize(t *testing.T) {
	m, _ := update(t, NewModel("Updating"), tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.width)
}
