package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/registry"
)

func diagCodes(diags []Diagnostic) []string {
	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	return codes
}

func TestEntryList_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want EntryList
	}{
		{"single", `{"entry": "build"}`, EntryList{"build"}},
		{"list", `{"entry": ["build", "test"]}`, EntryList{"build", "test"}},
		{"empty string", `{"entry": ""}`, nil},
		{"absent", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gd GraphDefinition
			if err := json.Unmarshal([]byte(tt.in), &gd); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, gd.Entry); diff != "" {
				t.Errorf("entry mismatch (-want +got):\n%s", diff)
			}
		})
	}

	var gd GraphDefinition
	if err := json.Unmarshal([]byte(`{"entry": 3}`), &gd); err == nil {
		t.Error("expected error for numeric entry")
	}
}

func TestValidate_ValidDefinition(t *testing.T) {
	gd := GraphDefinition{
		ID: "build",
		Nodes: []NodeDef{
			{ID: "compile", Type: "noop"},
			{ID: "test", Type: "noop"},
		},
		Edges: []EdgeDef{{Source: "compile", Target: "test"}},
		Entry: EntryList{"test"},
	}
	if diags := gd.Validate(); len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %+v", diags)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		gd   GraphDefinition
		want []string
	}{
		{
			name: "duplicate node",
			gd: GraphDefinition{
				Nodes: []NodeDef{{ID: "a"}, {ID: "a"}},
				Edges: []EdgeDef{{Source: "a", Target: "a", Type: "dependency_of"}},
			},
			want: []string{"GR-005", "GR-012"},
		},
		{
			name: "unknown endpoints",
			gd: GraphDefinition{
				Nodes: []NodeDef{{ID: "a"}, {ID: "b"}},
				Edges: []EdgeDef{{Source: "a", Target: "b"}, {Source: "x", Target: "y"}},
			},
			want: []string{"GR-001", "GR-001"},
		},
		{
			name: "unknown edge type",
			gd: GraphDefinition{
				Nodes: []NodeDef{{ID: "a"}, {ID: "b"}},
				Edges: []EdgeDef{{Source: "a", Target: "b", Type: "before"}},
			},
			want: []string{"GR-010"},
		},
		{
			name: "duplicate edge",
			gd: GraphDefinition{
				Nodes: []NodeDef{{ID: "a"}, {ID: "b"}},
				Edges: []EdgeDef{{Source: "a", Target: "b"}, {Source: "a", Target: "b", Type: "dependency_of"}},
			},
			want: []string{"GR-011"},
		},
		{
			name: "unknown entry",
			gd: GraphDefinition{
				Nodes: []NodeDef{{ID: "a"}},
				Entry: EntryList{"missing"},
			},
			want: []string{"GR-007"},
		},
		{
			name: "unbreakable cycle",
			gd: GraphDefinition{
				Nodes: []NodeDef{{ID: "a"}, {ID: "b"}},
				Edges: []EdgeDef{{Source: "a", Target: "b"}, {Source: "b", Target: "a", Type: "must_complete_before"}},
			},
			want: []string{"GR-004"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := tt.gd.Validate()
			if diff := cmp.Diff(tt.want, diagCodes(Errors(diags))); diff != "" {
				t.Errorf("error codes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	gd := GraphDefinition{
		Nodes: []NodeDef{{ID: "a"}, {ID: "b"}, {ID: "lonely"}},
		Edges: []EdgeDef{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a", Type: "should_complete_before"},
		},
	}
	diags := gd.Validate()
	if HasErrors(diags) {
		t.Fatalf("unexpected errors: %+v", Errors(diags))
	}
	if diff := cmp.Diff([]string{"GR-002", "GR-013"}, diagCodes(Warnings(diags))); diff != "" {
		t.Errorf("warning codes mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateWithRegistry(t *testing.T) {
	gd := GraphDefinition{
		Nodes: []NodeDef{
			{ID: "a", Type: "exec"},
			{ID: "b", Type: "teleport"},
			{ID: "c", Type: "sleep", Config: map[string]any{"duration": "1ms"}},
		},
		Edges: []EdgeDef{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
	}
	diags := gd.ValidateWithRegistry(registry.Global())
	if diff := cmp.Diff([]string{"GR-006", "GR-003"}, diagCodes(Errors(diags))); diff != "" {
		t.Errorf("error codes mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild(t *testing.T) {
	gd := GraphDefinition{
		ID: "build",
		Nodes: []NodeDef{
			{ID: "compile", Type: "exec", Config: map[string]any{"command": "true"}, Exclusive: []string{"cpu"}},
			{ID: "package", Type: "noop", Lock: "artifacts"},
			{ID: "cleanup", Type: "noop"},
		},
		Edges: []EdgeDef{
			{Source: "compile", Target: "package"},
			{Source: "package", Target: "cleanup", Type: "finalized_by"},
		},
		Entry: EntryList{"package"},
	}

	g, entry, err := gd.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.ID() != "build" || g.Len() != 3 || g.EdgeCount() != 2 {
		t.Fatalf("graph = %s/%d nodes/%d edges", g.ID(), g.Len(), g.EdgeCount())
	}
	if diff := cmp.Diff([]string{"package"}, ids(entry)); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	pkg, _ := g.Node("package")
	cleanup, _ := g.Node("cleanup")
	if !g.HasEdge(pkg, cleanup, core.EdgeFinalizedBy) {
		t.Error("missing finalized_by edge")
	}
	if core.ResourceLockOf(pkg) != "artifacts" {
		t.Errorf("lock = %q, want artifacts", core.ResourceLockOf(pkg))
	}
	compile, _ := g.Node("compile")
	if tn := compile.(*core.TaskNode); tn.Config["command"] != "true" || tn.Kind() != core.NodeKindExec {
		t.Errorf("compile node = %+v", tn)
	}
}

func TestBuild_DefaultEntryIsEveryNode(t *testing.T) {
	gd := GraphDefinition{Nodes: []NodeDef{{ID: "b"}, {ID: "a"}}}
	_, entry, err := gd.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(entry)); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, _, err := (&GraphDefinition{}).Build(); !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("empty definition = %v, want ErrEmptyGraph", err)
	}

	gd := GraphDefinition{Nodes: []NodeDef{{ID: "a"}}, Edges: []EdgeDef{{Source: "a", Target: "zz"}}}
	if _, _, err := gd.Build(); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("dangling edge = %v, want ErrNodeNotFound", err)
	}

	factoryErr := errors.New("no such plugin")
	gd = GraphDefinition{Nodes: []NodeDef{{ID: "a"}}}
	_, _, err := gd.Build(WithNodeFactory(func(NodeDef) (core.Node, error) { return nil, factoryErr }))
	if !errors.Is(err, factoryErr) {
		t.Errorf("factory failure = %v, want wrapped factory error", err)
	}
}
