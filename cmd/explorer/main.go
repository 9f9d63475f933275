// Package main provides the entry point for the explorer dashboard server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"explorer/cmd/explorer/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "explorer",
		Short: "Interactive explorer for active-learning matrix reconstructions",
		Long: `Explorer serves a heatmap of a reconstructed matrix together with the
samples each active-learning strategy picked, one iteration at a time.

Commands:
  serve     Start the HTTP dashboard
  describe  Print the loaded dashboard's columns and samplers
  bundle    Pack a manifest's tables into an Arrow bundle`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(commands.FlagConfig, "", "config file (default .explorer.yaml in . or $HOME)")
	rootCmd.PersistentFlags().String(commands.FlagManifest, "", "dashboard manifest, overrides data.manifest")

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewDescribeCommand())
	rootCmd.AddCommand(commands.NewBundleCommand())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
