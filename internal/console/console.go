// Package console writes the line-oriented output of the shell and the examples.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Line prefixes.
const (
	ShellPrefix   = "[optiga shell]  : "
	ExamplePrefix = "[optiga example]  : "
	ErrorPrefix   = "[error] : "
)

const (
	lightGreen = lipgloss.Color("10")
	lightRed   = lipgloss.Color("9")
)

// Console serialises writes to w and colours module prefixes when w is a terminal.
type Console struct {
	mu sync.Mutex
	w  io.Writer

	shell   string
	example string
	err     lipgloss.Style
}

// New returns a Console writing to w.
func New(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	green := r.NewStyle().Foreground(lightGreen)

	return &Console{
		w:       w,
		shell:   green.Render(ShellPrefix),
		example: green.Render(ExamplePrefix),
		err:     r.NewStyle().Foreground(lightRed),
	}
}

// Shellf writes a shell log line.
func (c *Console) Shellf(format string, args ...any) {
	c.line(c.shell + fmt.Sprintf(format, args...))
}

// Examplef writes an example log line.
func (c *Console) Examplef(format string, args ...any) {
	c.line(c.example + fmt.Sprintf(format, args...))
}

// Errorf writes an error line, coloured as a whole.
func (c *Console) Errorf(format string, args ...any) {
	c.line(c.err.Render(ErrorPrefix + fmt.Sprintf(format, args...)))
}

// Println writes s and a newline.
func (c *Console) Println(s string) {
	c.line(s)
}

// Print writes s as is.
func (c *Console) Print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = io.WriteString(c.w, s)
}

// Write implements io.Writer so a Console can be handed to code printing raw bytes.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.Write(p)
}

func (c *Console) line(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = io.WriteString(c.w, s+"\n")
}
