// Package cli provides centralized command registration.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_optiga/internal/commands/cli/demo"
	"github.com/andrei-cloud/go_optiga/internal/commands/cli/server"
)

// RegisterCommands registers all root commands.
func RegisterCommands(root *cobra.Command) error {
	root.AddCommand(demo.NewShellCommand())
	root.AddCommand(demo.NewRunCommand())
	root.AddCommand(demo.NewListCommand())
	root.AddCommand(demo.NewTUICommand())
	root.AddCommand(server.NewServeCommand())

	return nil
}
