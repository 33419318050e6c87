// Package cli wires the server and its operational commands behind cobra.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starlane-server",
		Short: "Turn-based 4X game server",
		Long: `starlane-server hosts multiplayer and single-player 4X games over
framed TCP, with LAN discovery and debug queries over UDP.

Configuration comes from STARLANE_* environment variables; flags override.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDiscoverCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
