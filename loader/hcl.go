package loader

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/petal-labs/workgraph/graph"
)

// hclFile is the HCL layout of a graph definition:
//
//	id    = "build"
//	entry = ["package"]
//
//	node "compile" {
//	  type      = "exec"
//	  config    = { command = "go build ./..." }
//	  exclusive = ["disk"]
//	}
//
//	edge {
//	  source = "compile"
//	  target = "package"
//	}
type hclFile struct {
	ID       string            `hcl:"id"`
	Version  string            `hcl:"version,optional"`
	Entry    []string          `hcl:"entry,optional"`
	Metadata map[string]string `hcl:"metadata,optional"`
	Nodes    []hclNode         `hcl:"node,block"`
	Edges    []hclEdge         `hcl:"edge,block"`
}

type hclNode struct {
	ID        string    `hcl:"id,label"`
	Type      string    `hcl:"type"`
	Config    cty.Value `hcl:"config,optional"`
	Exclusive []string  `hcl:"exclusive,optional"`
	Lock      string    `hcl:"lock,optional"`
}

type hclEdge struct {
	Source string `hcl:"source"`
	Target string `hcl:"target"`
	Type   string `hcl:"type,optional"`
}

func decodeHCL(data []byte, filename string) (*graph.GraphDefinition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}

	var raw hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &raw)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}

	gd := &graph.GraphDefinition{
		ID:       raw.ID,
		Version:  raw.Version,
		Metadata: raw.Metadata,
		Entry:    raw.Entry,
		Nodes:    make([]graph.NodeDef, 0, len(raw.Nodes)),
		Edges:    make([]graph.EdgeDef, 0, len(raw.Edges)),
	}
	for _, n := range raw.Nodes {
		cfg, err := configFromCty(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		gd.Nodes = append(gd.Nodes, graph.NodeDef{
			ID:        n.ID,
			Type:      n.Type,
			Config:    cfg,
			Exclusive: n.Exclusive,
			Lock:      n.Lock,
		})
	}
	for _, e := range raw.Edges {
		gd.Edges = append(gd.Edges, graph.EdgeDef(e))
	}
	return gd, nil
}

// configFromCty converts an HCL object into the JSON-shaped map used by
// node configs.
func configFromCty(v cty.Value) (map[string]any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("config must be a constant value")
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("config must be an object, got %s", v.Type().FriendlyName())
	}
	data, err := ctyjson.SimpleJSONValue{Value: v}.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
