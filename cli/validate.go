package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/workgraph/graph"
	"github.com/petal-labs/workgraph/loader"
	"github.com/petal-labs/workgraph/registry"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a graph definition without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	if format != "text" && format != "json" {
		return exitError(exitBadFlags, "unknown format %q (use text or json)", format)
	}

	data, err := os.ReadFile(filePath) // #nosec G304 -- path from user CLI argument
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	var diags []graph.Diagnostic
	gd, err := loader.Decode(data, filePath, loader.DetectFormat(filePath))
	if err != nil {
		diags = []graph.Diagnostic{{
			Code:     "GR-000",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("Failed to parse graph definition: %v", err),
		}}
	} else {
		diags = gd.ValidateWithRegistry(registry.Global())
	}

	printValidateDiagnostics(cmd.OutOrStdout(), diags, format)

	hasErrs := graph.HasErrors(diags)
	hasWarns := len(graph.Warnings(diags)) > 0
	if hasErrs || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// printValidateDiagnostics writes diagnostics to the writer in the requested
// format, followed by a summary line (for text format).
func printValidateDiagnostics(w io.Writer, diags []graph.Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary. Used by both the validate and run commands.
func printDiagnosticsText(w io.Writer, diags []graph.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := graph.Errors(diags)
	warns := graph.Warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0 && len(warns) > 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []graph.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
