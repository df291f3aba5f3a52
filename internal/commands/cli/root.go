// Package cli provides the CLI command structure for go_optiga.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_optiga/internal/config"
	"github.com/andrei-cloud/go_optiga/internal/logging"
)

var cfgFile string

// NewRootCommand creates and returns the root command with all subcommands.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "go_optiga",
		Short: "OPTIGA Trust M examples, mini shell and emulated device",
		Long: `Demonstration programs and the "optiga --<cmd>" mini shell for the OPTIGA Trust M
host driver, running against an emulated chip in-process or over TCP.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Initialize configuration before running any command.
			if err := config.InitializeFrom(cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg := config.Get()
			level := strings.TrimSpace(strings.ToLower(cfg.Log.Level))
			format := strings.TrimSpace(strings.ToLower(cfg.Log.Format))
			logging.InitLogger(level == "debug", format == "human")

			return nil
		},
	}

	// Add persistent flags that affect all commands.
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (default is $HOME/.go_optiga/config.yaml)")

	// Add global flags that can override config file settings.
	rootCmd.PersistentFlags().
		String("log-level", "info", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "human", "logging format (human, json)")
	rootCmd.PersistentFlags().String("device", "local", "device mode (local, remote)")
	rootCmd.PersistentFlags().String("address", "localhost:1600", "address of a remote device")
	rootCmd.PersistentFlags().String("datastore", "", "host datastore file")

	// Bind flags to config keys.
	config.BindFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	config.BindFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	config.BindFlag("device.mode", rootCmd.PersistentFlags().Lookup("device"))
	config.BindFlag("device.address", rootCmd.PersistentFlags().Lookup("address"))
	config.BindFlag("datastore.path", rootCmd.PersistentFlags().Lookup("datastore"))

	// Register all commands.
	if err := RegisterCommands(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	return rootCmd, nil
}
