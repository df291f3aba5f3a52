// Package shell implements the line-oriented command shell that dispatches
// "optiga --<cmd>" lines to the examples.
package shell

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/console"
	"github.com/andrei-cloud/go_optiga/internal/examples"
)

// Shell errors.
var (
	ErrWrongCommand = errors.New("wrong command issued")
	ErrNoExample    = errors.New("no example exists for this request")
)

const (
	prompt  = ">>>"
	lineCap = 49
)

// Shell reads command lines from in and runs them against an examples runner.
type Shell struct {
	in     *bufio.Reader
	out    *console.Console
	runner *examples.Runner
	table  []Command

	inputOnce sync.Once
	input     <-chan byte

	waitInterval  time.Duration
	selftestDelay time.Duration
}

// Option configures a Shell.
type Option func(*Shell)

// WithWaitInterval sets how often WaitForUser repeats its prompt.
func WithWaitInterval(d time.Duration) Option {
	return func(s *Shell) { s.waitInterval = d }
}

// WithSelftestDelay sets the pause between selftest steps.
func WithSelftestDelay(d time.Duration) Option {
	return func(s *Shell) { s.selftestDelay = d }
}

// New returns a Shell reading from in and printing to the runner's console.
func New(in io.Reader, runner *examples.Runner, opts ...Option) *Shell {
	s := &Shell{
		in:            bufio.NewReader(in),
		out:           runner.Console(),
		runner:        runner,
		waitInterval:  2 * time.Second,
		selftestDelay: 2 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.table = newTable(s)

	return s
}

// Commands returns the command table.
func (s *Shell) Commands() []Command {
	return s.table
}

// ShowUsage prints every command of the table except help.
func (s *Shell) ShowUsage() {
	s.out.Println("")
	s.out.Println("    USAGE : optiga -<cmd>")
	s.out.Println("")
	for _, c := range s.table {
		if c.Name == "help" {
			continue
		}
		s.out.Print(c.Description)
		s.out.Println(c.Name)
	}
	s.out.Println("")
	s.out.Println("Initialize OPTIGA before the 1st crypto functionality (not required for self-test)")
}

// trim removes every space and then the "optiga--" prefix when something follows it.
func trim(line string) string {
	cmd := strings.ReplaceAll(line, " ", "")
	if len(cmd) > len(Prefix) {
		cmd = cmd[len(Prefix)-1:]
	}

	return cmd
}

// Execute runs one command line. It returns ErrWrongCommand for lines that
// match no command, ErrNoExample for rows without a handler and the
// handler's error otherwise.
func (s *Shell) Execute(ctx context.Context, line string) error {
	err := ErrWrongCommand
	if strings.HasPrefix(line, Prefix) {
		option := trim(line)
		if c, ok := s.lookup(option); ok {
			if c.Handler != nil {
				log.Debug().Str("event", "shell_command").Str("option", option).Msg("executing command")
				s.out.Println("")
				err := c.Handler(ctx)
				s.out.Println("")

				return err
			}
			s.out.Println("No example exists for this request")
			err = ErrNoExample
		}
	}

	s.out.Println("")
	s.out.Errorf("Wrong command issued!")
	s.out.Println("Please try again or type help for list of commands")
	s.out.Println("")

	return err
}

// SelfTest runs init, every example and deinit, reporting the time of each step.
func (s *Shell) SelfTest(ctx context.Context) error {
	var first error
	for _, name := range selftestOrder {
		c, ok := s.lookup(name)
		if !ok {
			continue
		}
		start := time.Now()
		if err := c.Handler(ctx); err != nil && first == nil {
			first = err
		}
		s.out.Shellf("Example with pre/post steps takes %d msec", time.Since(start).Milliseconds())
		s.out.Println("")

		if err := sleep(ctx, s.selftestDelay); err != nil {
			return err
		}
	}

	return first
}

func (s *Shell) lookup(name string) (Command, bool) {
	for _, c := range s.table {
		if c.Name == name {
			return c, true
		}
	}

	return Command{}, false
}

// WaitForUser repeats the start prompt until one byte arrives on the input.
func (s *Shell) WaitForUser(ctx context.Context) error {
	bytes := s.reader()
	for {
		s.out.Println(" Please press ENTER key to start optiga mini shell")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-bytes:
			if !ok {
				return io.EOF
			}

			return nil
		case <-time.After(s.waitInterval):
		}
	}
}

// Begin shows usage and then executes every line read from the input until
// EOF or ctx ends.
func (s *Shell) Begin(ctx context.Context) error {
	s.ShowUsage()
	s.out.Println("")
	s.out.Println(prompt)

	bytes := s.reader()
	line := make([]byte, 0, lineCap)
	for {
		var b byte
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok = <-bytes:
			if !ok {
				return nil
			}
		}

		switch b {
		case '\r', '\n':
			if len(line) == 0 {
				// second byte of a CR LF pair
				continue
			}
			cmd := string(line)
			line = line[:0]
			s.out.Println(prompt)
			if err := s.Execute(ctx, cmd); err != nil {
				log.Debug().Str("event", "shell_command_failed").Str("line", cmd).Err(err).Msg("command failed")
			}
			s.out.Println("")
			s.out.Println(prompt)
		default:
			if len(line) >= lineCap {
				continue
			}
			_, _ = s.out.Write([]byte{b})
			line = append(line, b)
		}
	}
}

// reader returns the input as a stream of bytes. A single goroutine reads the
// input for the lifetime of the Shell and closes the stream on EOF or a read
// error.
func (s *Shell) reader() <-chan byte {
	s.inputOnce.Do(func() {
		ch := make(chan byte)
		s.input = ch
		go func() {
			defer close(ch)
			for {
				b, err := s.in.ReadByte()
				if err != nil {
					if !errors.Is(err, io.EOF) {
						log.Warn().Str("event", "shell_read_failed").Err(err).Msg("console read failed")
					}

					return
				}
				ch <- b
			}
		}()
	})

	return s.input
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
