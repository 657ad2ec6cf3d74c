package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/workgraph/registry"
)

// NewTypesCmd creates the "types" subcommand.
func NewTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the registered node types",
		Args:  cobra.NoArgs,
		RunE:  runTypes,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runTypes(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	defs := registry.Global().All()
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	case "text":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tCATEGORY\tCONFIG\tDESCRIPTION")
		for _, def := range defs {
			keys := make([]string, 0, len(def.Config))
			for _, k := range def.Config {
				name := k.Name
				if k.Required {
					name += "*"
				}
				keys = append(keys, name)
			}
			cfg := strings.Join(keys, ",")
			if cfg == "" {
				cfg = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Type, def.Category, cfg, def.Description)
		}
		return tw.Flush()
	default:
		return exitError(exitBadFlags, "unknown format %q (use text or json)", format)
	}
}
