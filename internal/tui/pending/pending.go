// ABOUTME: Spinner shown while a backend call is in flight
// ABOUTME: Falls back to a plain call when output is not a terminal

package pending

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/bobbytumur/portalctl/internal/tui/styles"
)

// ErrInterrupted is returned when the user presses ctrl+c while waiting
var ErrInterrupted = errors.New("interrupted")

type doneMsg struct {
	err error
}

type model struct {
	spinner spinner.Model
	title   string
	run     func() error
	cancel  context.CancelFunc

	done bool
	err  error
}

func newModel(title string, run func() error, cancel context.CancelFunc) model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.Primary)),
	)
	return model{spinner: s, title: title, run: run, cancel: cancel}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return doneMsg{err: m.run()}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			m.done = true
			m.err = ErrInterrupted
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + styles.Subtitle.Render(m.title) + "\n"
}

// Run calls fn, showing title next to a spinner when out is a terminal
func Run(ctx context.Context, out io.Writer, title string, fn func(ctx context.Context) error) error {
	if !IsTerminal(out) {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		newModel(title, func() error { return fn(ctx) }, cancel),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(model).err
}

// IsTerminal reports whether w writes to a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
