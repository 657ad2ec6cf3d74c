// Package cli implements the workgraph command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd returns the workgraph root command with every subcommand.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "workgraph",
		Short: "workgraph build graph scheduler",
		Long:  "workgraph executes graphs of build steps on a pool of workers, honoring dependencies, finalizers and mutual exclusion.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.PersistentFlags().String("log-format", "", "Log format: text | json")
	root.PersistentFlags().String("config", "", "Config file (default ./workgraph.yaml, then ~/.workgraph/config.yaml)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("workgraph version %s\n", version))

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewTypesCmd())
	return root
}
