// Package cmd wires the CLI surface of the service.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctiharvest",
		Short: "Threat intelligence feed orchestration and ingestion.",
		Long: `ctiharvest collects indicators from open-web and anonymized-network
threat intelligence sources on a schedule, normalizes and deduplicates
them, scores risk and relevance, and persists the results.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newOnceCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
