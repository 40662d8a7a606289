// Package cli implements the invbot command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X invbot/internal/cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigDir string
}

// NewRootCommand creates the root command for the invbot CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "invbot",
		Short:         "Inventory entry bot for Google Sheets",
		Long:          "A Telegram bot that collects purchases in a short form and writes them as rows of a Google Sheets inventory.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", ".", "directory holding .env and invbot.yaml")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "invbot "+Version)
		},
	}
}
