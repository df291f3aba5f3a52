// Package demo provides the commands running the OPTIGA examples.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_optiga/internal/bootstrap"
	"github.com/andrei-cloud/go_optiga/internal/config"
	"github.com/andrei-cloud/go_optiga/internal/console"
	"github.com/andrei-cloud/go_optiga/internal/examples"
	"github.com/andrei-cloud/go_optiga/internal/shell"
)

// withShell builds the environment, hands a shell reading in to fn and closes
// the environment afterwards.
func withShell(cfg *config.Config, in io.Reader, out io.Writer, fn func(s *shell.Shell) error) (err error) {
	env, err := bootstrap.New(cfg, out)
	if err != nil {
		return fmt.Errorf("failed to prepare device: %w", err)
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("error closing device")
			if err == nil {
				err = cerr
			}
		}
	}()

	s := shell.New(in, env.Runner,
		shell.WithWaitInterval(cfg.Shell.WaitInterval),
		shell.WithSelftestDelay(cfg.Shell.SelftestDelay),
	)

	return fn(s)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

// NewShellCommand creates the interactive mini shell command.
func NewShellCommand() *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start the optiga mini shell",
		Long: `Start the interactive "optiga --<cmd>" mini shell. Unless --no-wait is given the
shell waits for ENTER before showing the usage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOf(cmd)

			return withShell(config.Get(), cmd.InOrStdin(), cmd.OutOrStdout(), func(s *shell.Shell) error {
				if !noWait {
					if err := s.WaitForUser(ctx); err != nil {
						if errors.Is(err, io.EOF) {
							return nil
						}

						return err
					}
				}

				return s.Begin(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "start without waiting for ENTER")

	return cmd
}

// NewRunCommand creates the command running options non-interactively.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <option>...",
		Short: "Run shell options in order",
		Long: `Run one or more shell options, as typed after "optiga --", in order.
The first failing option stops the run.`,
		Example: "  go_optiga run init random ecdsasign deinit",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)

			return withShell(config.Get(), strings.NewReader(""), cmd.OutOrStdout(), func(s *shell.Shell) error {
				for _, opt := range args {
					if err := s.Execute(ctx, shell.Prefix+opt); err != nil {
						return fmt.Errorf("%s: %w", opt, err)
					}
				}

				return nil
			})
		},
	}

	return cmd
}

// NewListCommand creates the command listing shell options.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List shell options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// the table is static; no device is needed
			r := examples.NewRunner(nil, console.New(io.Discard))
			s := shell.New(strings.NewReader(""), r)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "Option\tDescription")
			fmt.Fprintln(w, "------\t-----------")
			for _, c := range s.Commands() {
				desc := strings.TrimSpace(strings.TrimSuffix(c.Description, ": "+shell.Prefix))
				if c.Name == "help" {
					desc = "show usage"
				}
				fmt.Fprintf(w, "%s\t%s\n", c.Name, desc)
			}

			return w.Flush()
		},
	}
}

// NewTUICommand creates the terminal picker command.
func NewTUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Pick and run examples in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			capture := shell.NewCapture()

			return withShell(config.Get(), strings.NewReader(""), capture, func(s *shell.Shell) error {
				return shell.RunPicker(contextOf(cmd), s, capture)
			})
		},
	}
}
