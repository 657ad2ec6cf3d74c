package graph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/registry"
)

// Diagnostic represents a validation error or warning produced by graph
// definition validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "GR-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
	Line     int    `json:"line,omitempty"` // source line number (0 if unavailable)
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// GraphDefinition is the serializable form of an execution graph. Loaders
// produce it from YAML, JSON or HCL and Build turns it into a live Graph.
type GraphDefinition struct {
	ID       string            `json:"id"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Nodes    []NodeDef         `json:"nodes"`
	Edges    []EdgeDef         `json:"edges"`
	Entry    EntryList         `json:"entry,omitempty"`
}

// NodeDef is a serializable node within a GraphDefinition.
type NodeDef struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config,omitempty"`
	Exclusive []string       `json:"exclusive,omitempty"` // exclusion groups
	Lock      string         `json:"lock,omitempty"`      // resource lock name
}

// EdgeDef is a serializable typed edge. An empty Type means dependency_of.
type EdgeDef struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
}

// EntryList holds the requested entry node IDs. It decodes from either a
// single string or a list of strings.
type EntryList []string

// UnmarshalJSON accepts "a" as well as ["a", "b"].
func (l *EntryList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
		} else {
			*l = EntryList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("entry must be a string or a list of strings: %w", err)
	}
	*l = many
	return nil
}

// Validate checks structural integrity of the GraphDefinition.
// It checks rules that can be verified without a node registry:
//   - GR-001: edge source/target reference existing nodes
//   - GR-002: isolated nodes (warning)
//   - GR-004: cycles that contain no breakable edge
//   - GR-005: duplicate node IDs
//   - GR-007: entry references existing node
//   - GR-010: unknown edge type
//   - GR-011: duplicate edge
//   - GR-012: self edge
//   - GR-013: soft edge that will be removed to break a cycle (warning)
func (gd *GraphDefinition) Validate() []Diagnostic {
	var diags []Diagnostic

	nodeIDs := make(map[string]bool, len(gd.Nodes))

	// GR-005: duplicate node IDs
	for i, node := range gd.Nodes {
		if node.ID == "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-005",
				Severity: SeverityError,
				Message:  "Node has an empty ID",
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
			continue
		}
		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "GR-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node ID %q", node.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		nodeIDs[node.ID] = true
	}

	type edgeSig struct {
		source, target string
		typ            core.EdgeType
	}
	seen := make(map[edgeSig]bool, len(gd.Edges))

	for i, edge := range gd.Edges {
		// GR-001: edge source/target must reference existing nodes
		if !nodeIDs[edge.Source] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references unknown node", edge.Source),
				Path:     fmt.Sprintf("edges[%d].source", i),
			})
		}
		if !nodeIDs[edge.Target] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge target %q references unknown node", edge.Target),
				Path:     fmt.Sprintf("edges[%d].target", i),
			})
		}

		// GR-010: edge type must be known
		typ, err := core.ParseEdgeType(edge.Type)
		if err != nil {
			diags = append(diags, Diagnostic{
				Code:     "GR-010",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge %s -> %s: %v", edge.Source, edge.Target, err),
				Path:     fmt.Sprintf("edges[%d].type", i),
			})
			continue
		}

		// GR-012: no self edges
		if edge.Source == edge.Target {
			diags = append(diags, Diagnostic{
				Code:     "GR-012",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge on node %q points to itself", edge.Source),
				Path:     fmt.Sprintf("edges[%d]", i),
			})
			continue
		}

		// GR-011: duplicate edges
		sig := edgeSig{edge.Source, edge.Target, typ}
		if seen[sig] {
			diags = append(diags, Diagnostic{
				Code:     "GR-011",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate %s edge %s -> %s", typ, edge.Source, edge.Target),
				Path:     fmt.Sprintf("edges[%d]", i),
			})
		}
		seen[sig] = true
	}

	// GR-007: entry must reference existing nodes
	for i, id := range gd.Entry {
		if !nodeIDs[id] {
			diags = append(diags, Diagnostic{
				Code:     "GR-007",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Entry node %q does not exist", id),
				Path:     fmt.Sprintf("entry[%d]", i),
			})
		}
	}

	// GR-002: isolated nodes, nodes with no inbound and no outbound edges
	if len(gd.Nodes) > 1 {
		connected := make(map[string]bool)
		for _, edge := range gd.Edges {
			connected[edge.Source] = true
			connected[edge.Target] = true
		}
		for i, node := range gd.Nodes {
			if !connected[node.ID] {
				diags = append(diags, Diagnostic{
					Code:     "GR-002",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q has no inbound or outbound edges", node.ID),
					Path:     fmt.Sprintf("nodes[%d]", i),
				})
			}
		}
	}

	// GR-004 / GR-013: only meaningful once the structure itself is sound.
	if !HasErrors(diags) && len(gd.Nodes) > 0 {
		diags = append(diags, gd.cycleDiagnostics()...)
	}

	return diags
}

// cycleDiagnostics builds a scratch graph and runs cycle breaking on it.
func (gd *GraphDefinition) cycleDiagnostics() []Diagnostic {
	g, _, err := gd.Build()
	if err != nil {
		return []Diagnostic{{
			Code:     "GR-000",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Failed to build graph: %v", err),
		}}
	}

	var diags []Diagnostic
	err = g.BreakCycles(func(e core.Edge) {
		diags = append(diags, Diagnostic{
			Code:     "GR-013",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Edge %s will be removed to break a cycle", e),
		})
	})
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		diags = append(diags, Diagnostic{
			Code:     "GR-004",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Graph contains a cycle without breakable edges: %v", cycleErr.Path),
		})
	}
	return diags
}

// ValidateWithRegistry runs structural validation plus registry-dependent checks:
//   - GR-003: node type must exist in the registry
//   - GR-006: required config keys of the node type must be set
func (gd *GraphDefinition) ValidateWithRegistry(reg *registry.Registry) []Diagnostic {
	diags := gd.Validate()
	if reg == nil {
		return diags
	}

	for i, node := range gd.Nodes {
		def, ok := reg.Get(node.Type)
		if !ok {
			diags = append(diags, Diagnostic{
				Code:     "GR-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q references unknown type %q", node.ID, node.Type),
				Path:     fmt.Sprintf("nodes[%d].type", i),
			})
			continue
		}
		for _, key := range def.MissingConfig(node.Config) {
			diags = append(diags, Diagnostic{
				Code:     "GR-006",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q (type %q) is missing required config %q", node.ID, node.Type, key),
				Path:     fmt.Sprintf("nodes[%d].config.%s", i, key),
			})
		}
	}

	return diags
}

// BuildOption configures how a GraphDefinition is converted to a Graph.
type BuildOption func(*buildConfig)

type buildConfig struct {
	nodeFactory func(NodeDef) (core.Node, error)
}

// WithNodeFactory sets the function used to instantiate nodes from NodeDef
// descriptors. The default builds *core.TaskNode values.
func WithNodeFactory(factory func(NodeDef) (core.Node, error)) BuildOption {
	return func(c *buildConfig) {
		c.nodeFactory = factory
	}
}

// TaskNodeFactory builds a *core.TaskNode from a NodeDef.
func TaskNodeFactory(nd NodeDef) (core.Node, error) {
	cfg := nd.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return &core.TaskNode{
		NodeID:    nd.ID,
		NodeKind:  core.NodeKind(nd.Type),
		Config:    cfg,
		Exclusive: append([]string(nil), nd.Exclusive...),
		Lock:      nd.Lock,
	}, nil
}

// Build converts the definition into a Graph and resolves its entry nodes.
// When no entry is declared every node is an entry.
func (gd *GraphDefinition) Build(opts ...BuildOption) (*Graph, []core.Node, error) {
	cfg := &buildConfig{nodeFactory: TaskNodeFactory}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(gd.Nodes) == 0 {
		return nil, nil, ErrEmptyGraph
	}

	g := New(gd.ID)

	// Instantiate nodes
	for _, nd := range gd.Nodes {
		node, err := cfg.nodeFactory(nd)
		if err != nil {
			return nil, nil, fmt.Errorf("creating node %q (type %q): %w", nd.ID, nd.Type, err)
		}
		if err := g.AddNode(node); err != nil {
			return nil, nil, fmt.Errorf("adding node %q: %w", nd.ID, err)
		}
	}

	// Wire edges
	for _, ed := range gd.Edges {
		typ, err := core.ParseEdgeType(ed.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEdge, err)
		}
		src, ok := g.Node(ed.Source)
		if !ok {
			return nil, nil, fmt.Errorf("%w: edge source %s", ErrNodeNotFound, ed.Source)
		}
		dst, ok := g.Node(ed.Target)
		if !ok {
			return nil, nil, fmt.Errorf("%w: edge target %s", ErrNodeNotFound, ed.Target)
		}
		if err := g.AddEdge(core.NewEdge(src, typ, dst)); err != nil {
			return nil, nil, fmt.Errorf("adding edge %s -> %s: %w", ed.Source, ed.Target, err)
		}
	}

	// Resolve entry nodes
	var entry []core.Node
	if len(gd.Entry) == 0 {
		entry = g.AllNodes()
	} else {
		for _, id := range gd.Entry {
			n, ok := g.Node(id)
			if !ok {
				return nil, nil, fmt.Errorf("%w: entry %s", ErrNodeNotFound, id)
			}
			entry = append(entry, n)
		}
	}

	return g, entry, nil
}
