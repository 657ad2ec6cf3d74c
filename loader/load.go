package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/workgraph/graph"
	"github.com/petal-labs/workgraph/registry"
)

// Load reads the definition at path, detecting its format from the
// extension, and validates it against the global node registry.
func Load(path string) (*graph.GraphDefinition, error) {
	return LoadWithRegistry(path, registry.Global())
}

// LoadWithRegistry is Load with an explicit registry. A nil registry skips
// the node type checks.
func LoadWithRegistry(path string, reg *registry.Registry) (*graph.GraphDefinition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	gd, err := Decode(data, path, DetectFormat(path))
	if err != nil {
		return nil, err
	}
	if err := Check(gd, reg); err != nil {
		return nil, err
	}
	return gd, nil
}

// Decode parses data in the given format without validating it. filename
// is only used in error messages.
func Decode(data []byte, filename string, format Format) (*graph.GraphDefinition, error) {
	switch format {
	case FormatHCL:
		return decodeHCL(data, filename)
	case FormatYAML:
		jsonData, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		return decodeJSON(jsonData)
	case FormatJSON:
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("unknown definition format %q", format)
	}
}

func decodeJSON(data []byte) (*graph.GraphDefinition, error) {
	var gd graph.GraphDefinition
	if err := json.Unmarshal(data, &gd); err != nil {
		return nil, fmt.Errorf("parsing graph definition: %w", err)
	}
	return &gd, nil
}

// Check validates gd and returns a *DiagnosticError when any diagnostic
// has error severity. Warnings are left for the caller to report.
func Check(gd *graph.GraphDefinition, reg *registry.Registry) error {
	diags := gd.ValidateWithRegistry(reg)
	if graph.HasErrors(diags) {
		return &DiagnosticError{Diagnostics: diags}
	}
	return nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []graph.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := graph.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}
