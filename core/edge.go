package core

import (
	"fmt"
	"strings"
)

// EdgeType is the relation an edge expresses between its source and target.
// It decides both ordering semantics and when the edge is removed.
type EdgeType int

const (
	// EdgeDependencyOf: the target depends on the source. Removed when the
	// source completes; a failed source fails the target.
	EdgeDependencyOf EdgeType = iota
	// EdgeMustCompleteBefore: hard ordering without a dependency.
	EdgeMustCompleteBefore
	// EdgeShouldCompleteBefore: soft ordering, removable to break cycles.
	EdgeShouldCompleteBefore
	// EdgeMustNotRunWith: the target cannot run while the source is running.
	// Inserted by the scheduler, removed when the source completes or is suspended.
	EdgeMustNotRunWith
	// EdgeFinalizedBy: the target finalizes the source and is activated to
	// StateMustRun when the source starts.
	EdgeFinalizedBy
	// EdgeAvoidStartingBeforeFinalized: soft ordering protecting finalizer
	// dependencies. Activates the target and is removed when the source starts.
	EdgeAvoidStartingBeforeFinalized
)

// CycleBreakingOrder lists the edge types that may be removed to break a
// cycle, highest priority first. Types absent from the list are never removed.
var CycleBreakingOrder = []EdgeType{
	EdgeShouldCompleteBefore,
	EdgeAvoidStartingBeforeFinalized,
}

var edgeTypeNames = [...]string{
	EdgeDependencyOf:                 "dependency_of",
	EdgeMustCompleteBefore:           "must_complete_before",
	EdgeShouldCompleteBefore:         "should_complete_before",
	EdgeMustNotRunWith:               "must_not_run_with",
	EdgeFinalizedBy:                  "finalized_by",
	EdgeAvoidStartingBeforeFinalized: "avoid_starting_before_finalized",
}

// String returns the snake_case name used in graph definitions.
func (t EdgeType) String() string {
	if t < 0 || int(t) >= len(edgeTypeNames) {
		return fmt.Sprintf("EdgeType(%d)", int(t))
	}
	return edgeTypeNames[t]
}

// ParseEdgeType converts a definition name into an EdgeType. Matching is
// case-insensitive and accepts '-' in place of '_'. An empty name is a
// dependency edge.
func ParseEdgeType(name string) (EdgeType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if norm == "" {
		return EdgeDependencyOf, nil
	}
	for i, n := range edgeTypeNames {
		if n == norm {
			return EdgeType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown edge type %q", name)
}

// Breakable reports whether edges of this type may be removed to break a cycle.
func (t EdgeType) Breakable() bool {
	return t.BreakPriority() >= 0
}

// BreakPriority returns the position of t in CycleBreakingOrder (lower
// breaks first), or -1 when t is not breakable.
func (t EdgeType) BreakPriority() int {
	for i, bt := range CycleBreakingOrder {
		if bt == t {
			return i
		}
	}
	return -1
}

// ActivatesFinalizer reports whether starting the source promotes the target
// to StateMustRun.
func (t EdgeType) ActivatesFinalizer() bool {
	return t == EdgeFinalizedBy || t == EdgeAvoidStartingBeforeFinalized
}

// RemovedOnStart reports whether the edge is dropped as soon as its source starts.
func (t EdgeType) RemovedOnStart() bool {
	return t == EdgeAvoidStartingBeforeFinalized
}

// Edge is an immutable typed relation from Source to Target.
type Edge struct {
	Source Node
	Target Node
	Type   EdgeType
}

// NewEdge creates an edge.
func NewEdge(source Node, typ EdgeType, target Node) Edge {
	return Edge{Source: source, Target: target, Type: typ}
}

// String renders the edge as "source -[type]-> target".
func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", nodeID(e.Source), e.Type, nodeID(e.Target))
}

func nodeID(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.ID()
}
