// Package loader reads workgraph graph definitions from YAML, JSON and HCL
// files.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a graph definition file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// DetectFormat picks the file format from the path extension:
// .yaml/.yml -> YAML, .hcl -> HCL, anything else -> JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl":
		return FormatHCL
	default:
		return FormatJSON
	}
}

// ParseFormat converts a user supplied format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatYAML, FormatHCL:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown definition format %q", name)
	}
}

// yamlToJSON converts YAML bytes to JSON bytes so both formats share the
// JSON decoding of GraphDefinition: YAML -> any -> JSON -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	// yaml.v3 decodes mappings into map[string]any, which is JSON-compatible
	return json.Marshal(raw)
}
