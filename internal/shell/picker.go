package shell

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Capture is an io.Writer collecting console output for the picker.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.buf.Write(p)
}

// Take returns everything written since the last call.
func (c *Capture) Take() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.buf.String()
	c.buf.Reset()

	return s
}

const outputLines = 20

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Run  key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up/k", "up")),
	Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down/j", "down")),
	Run:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c", "q", "esc"), key.WithHelp("q", "quit")),
}

func (k keyMap) help() string {
	parts := make([]string, 0, 4)
	for _, b := range []key.Binding{k.Up, k.Down, k.Run, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+": "+h.Desc)
	}

	return strings.Join(parts, "  ")
}

type resultMsg struct {
	option string
	output string
	err    error
}

type pickerModel struct {
	ctx     context.Context
	shell   *Shell
	capture *Capture
	items   []Command

	cursor   int
	running  bool
	last     string
	output   string
	failed   bool
	quitting bool
}

func newPickerModel(ctx context.Context, s *Shell, c *Capture) pickerModel {
	items := make([]Command, 0, len(s.table))
	for _, cmd := range s.table {
		if cmd.Name != "help" {
			items = append(items, cmd)
		}
	}

	return pickerModel{ctx: ctx, shell: s, capture: c, items: items}
}

// Init implements tea.Model.
func (m pickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case resultMsg:
		m.running = false
		m.last = msg.option
		m.output = msg.output
		m.failed = msg.err != nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true

			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Run):
			if m.running {
				return m, nil
			}
			m.running = true

			return m, m.execute(m.items[m.cursor].Name)
		}
	}

	return m, nil
}

func (m pickerModel) execute(option string) tea.Cmd {
	return func() tea.Msg {
		m.capture.Take()
		err := m.shell.Execute(m.ctx, Prefix+option)

		return resultMsg{option: option, output: m.capture.Take(), err: err}
	}
}

// View implements tea.Model.
func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("OPTIGA mini shell") + "\n\n")
	for i, c := range m.items {
		line := fmt.Sprintf("  %-14s %s", c.Name, strings.TrimSpace(strings.TrimSuffix(c.Description, ": "+Prefix)))
		if i == m.cursor {
			line = selectedStyle.Render("> " + line[2:])
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(keys.help()) + "\n")

	switch {
	case m.running:
		b.WriteString("\nrunning " + m.items[m.cursor].Name + "...\n")
	case m.last != "":
		status := "ok"
		if m.failed {
			status = "failed"
		}
		b.WriteString(fmt.Sprintf("\n%s: %s\n", m.last, status))
		b.WriteString(tail(m.output, outputLines))
	}

	return b.String()
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n") + "\n"
}

// RunPicker runs the interactive command picker. The console of the shell's
// runner must write to c.
func RunPicker(ctx context.Context, s *Shell, c *Capture) error {
	p := tea.NewProgram(newPickerModel(ctx, s, c), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run picker: %w", err)
	}

	return nil
}
