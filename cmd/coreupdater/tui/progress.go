// Package tui renders the progress of a running process.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
)

// ErrInterrupted is returned when the user stops the view.
var ErrInterrupted = errors.New("interrupted")

// Progress is one report from the running process.
type Progress struct {
	Process     string
	Step        int
	Steps       int
	Description string
	Fraction    float64
}

// ProgressMsg carries a progress report into the model.
type ProgressMsg Progress

// DoneMsg is sent when the work has finished.
type DoneMsg struct {
	Err error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(output.ColorPrimary)
	mutedStyle  = lipgloss.NewStyle().Foreground(output.ColorMuted)
	doneStyle   = lipgloss.NewStyle().Foreground(output.ColorSuccess)
	failedStyle = lipgloss.NewStyle().Foreground(output.ColorDanger)
)

// Model is the bubbletea model of the progress view.
type Model struct {
	title       string
	spinner     spinner.Model
	bar         progress.Model
	current     Progress
	start       time.Time
	width       int
	done        bool
	interrupted bool
	err         error
}

// NewModel creates a progress view titled title.
func NewModel(title string) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(output.ColorPrimary)

	return Model{
		title:   title,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		start:   time.Now(),
		width:   80,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.interrupted = true
			return m, tea.Quit
		}
		return m, nil

	case ProgressMsg:
		m.current = Progress(msg)
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	hint := mutedStyle.Render("[Ctrl+C to stop, resume later]")
	title := titleStyle.Render(m.title)
	spacing := max(m.width-lipgloss.Width(title)-lipgloss.Width(hint)-2, 1)
	b.WriteString(title + strings.Repeat(" ", spacing) + hint + "\n\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(failedStyle.Render("  Failed: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString(doneStyle.Render("  Done") + "\n")
	case m.interrupted:
		b.WriteString(mutedStyle.Render("  Stopping after the current step...") + "\n")
	default:
		desc := m.current.Description
		if desc == "" {
			desc = "Starting"
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), desc))
	}

	m.bar.Width = max(m.width-20, 10)
	b.WriteString("\n  " + m.bar.ViewAs(m.current.Fraction))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d/%d  %s",
		m.current.Step, m.current.Steps, time.Since(m.start).Round(time.Second))))
	b.WriteString("\n")
	return b.String()
}

// Run shows the progress view while work runs. Stopping the view cancels
// the context passed to work and waits for it to return.
func Run(ctx context.Context, title string, work func(ctx context.Context, report func(Progress)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title), tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	result := make(chan error, 1)
	go func() {
		err := work(ctx, func(pr Progress) { p.Send(ProgressMsg(pr)) })
		result <- err
		p.Send(DoneMsg{Err: err})
	}()

	final, runErr := p.Run()
	if m, ok := final.(Model); ok && m.interrupted {
		cancel()
		if err := <-result; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return ErrInterrupted
	}
	workErr := <-result
	if workErr != nil {
		return workErr
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}
