package picker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrNoFileSelected is returned when the picker is closed without a choice
var ErrNoFileSelected = errors.New("no file selected")

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "26", Dark: "81"})
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "244"})
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// Options configure the picker program
type Options struct {
	Dir    string // starting directory, the working directory when empty
	Input  io.Reader
	Output io.Writer
}

type clearErrorMsg struct{}

func clearErrorAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearErrorMsg{} })
}

type model struct {
	fp       filepicker.Model
	selected string
	err      error
}

func newModel(dir string) model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".csv", ".CSV"}
	fp.CurrentDirectory = dir
	return model{fp: fp}
}

func (m model) Init() tea.Cmd {
	return m.fp.Init()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case clearErrorMsg:
		m.err = nil
	}

	var cmd tea.Cmd
	m.fp, cmd = m.fp.Update(msg)

	if ok, path := m.fp.DidSelectFile(msg); ok {
		m.selected = path
		return m, tea.Quit
	}
	if ok, path := m.fp.DidSelectDisabledFile(msg); ok {
		m.err = fmt.Errorf("%s is not a CSV file", filepath.Base(path))
		return m, tea.Batch(cmd, clearErrorAfter(2*time.Second))
	}
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select the email dataset (CSV)"))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
	} else {
		b.WriteString(helpStyle.Render(m.fp.CurrentDirectory))
	}
	b.WriteString("\n\n")
	b.WriteString(m.fp.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: select  backspace: up  q: cancel"))
	b.WriteString("\n")
	return b.String()
}

// Pick opens an interactive file browser and returns the chosen CSV path
func Pick(ctx context.Context, opts Options) (string, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}

	final, err := tea.NewProgram(newModel(dir), progOpts...).Run()
	if err != nil {
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	m, ok := final.(model)
	if !ok || m.selected == "" {
		return "", ErrNoFileSelected
	}
	return m.selected, Validate(m.selected)
}

// Validate checks that path names a readable CSV file
func Validate(path string) error {
	if path == "" {
		return ErrNoFileSelected
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("dataset file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("dataset file %s is a directory", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return fmt.Errorf("dataset file %s is not a CSV file", path)
	}
	return nil
}
