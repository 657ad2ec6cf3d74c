package graph

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/workgraph/core"
)

func TestBreakCycles_AcyclicGraphUntouched(t *testing.T) {
	g := New("g")
	a, b, c := node("a"), node("b"), node("c")
	mustAddNodes(t, g, a, b, c)
	mustAddEdge(t, g, a, core.EdgeDependencyOf, b)
	mustAddEdge(t, g, b, core.EdgeShouldCompleteBefore, c)

	var broken []core.Edge
	if err := g.BreakCycles(func(e core.Edge) { broken = append(broken, e) }); err != nil {
		t.Fatalf("BreakCycles: %v", err)
	}
	if len(broken) != 0 || g.EdgeCount() != 2 {
		t.Errorf("acyclic graph changed: broken=%v edges=%d", broken, g.EdgeCount())
	}
}

func TestBreakCycles_RemovesSoftEdge(t *testing.T) {
	g := New("g")
	root, a, b, c := node("root"), node("a"), node("b"), node("c")
	mustAddNodes(t, g, root, a, b, c)
	mustAddEdge(t, g, root, core.EdgeDependencyOf, a)
	mustAddEdge(t, g, a, core.EdgeDependencyOf, b)
	mustAddEdge(t, g, b, core.EdgeMustCompleteBefore, c)
	soft := mustAddEdge(t, g, c, core.EdgeShouldCompleteBefore, a)

	var broken []core.Edge
	if err := g.BreakCycles(func(e core.Edge) { broken = append(broken, e) }); err != nil {
		t.Fatalf("BreakCycles: %v", err)
	}
	if len(broken) != 1 || broken[0].String() != soft.String() {
		t.Fatalf("broken = %v, want [%s]", broken, soft)
	}
	if g.HasEdge(c, a, core.EdgeShouldCompleteBefore) {
		t.Error("soft edge still present")
	}
	if g.FindCycle() != nil {
		t.Error("graph still has a cycle")
	}
}

func TestBreakCycles_Deterministic(t *testing.T) {
	build := func() *Graph {
		g := New("g")
		a, b, c := node("a"), node("b"), node("c")
		for _, n := range []core.Node{c, b, a} {
			_ = g.AddNode(n)
		}
		_ = g.AddEdge(core.NewEdge(a, core.EdgeDependencyOf, b))
		_ = g.AddEdge(core.NewEdge(b, core.EdgeAvoidStartingBeforeFinalized, c))
		_ = g.AddEdge(core.NewEdge(c, core.EdgeShouldCompleteBefore, a))
		return g
	}

	var first []string
	for i := 0; i < 5; i++ {
		var broken []string
		if err := build().BreakCycles(func(e core.Edge) { broken = append(broken, e.String()) }); err != nil {
			t.Fatalf("BreakCycles: %v", err)
		}
		if i == 0 {
			first = broken
			continue
		}
		if diff := cmp.Diff(first, broken); diff != "" {
			t.Fatalf("run %d broke different edges (-first +got):\n%s", i, diff)
		}
	}
	// should_complete_before outranks avoid_starting_before_finalized.
	if diff := cmp.Diff([]string{"c -[should_complete_before]-> a"}, first); diff != "" {
		t.Errorf("priority mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakCycles_PrefersMostRecentEdgeOfSameType(t *testing.T) {
	g := New("g")
	a, b, c := node("a"), node("b"), node("c")
	mustAddNodes(t, g, a, b, c)
	mustAddEdge(t, g, a, core.EdgeShouldCompleteBefore, b)
	mustAddEdge(t, g, b, core.EdgeShouldCompleteBefore, c)
	mustAddEdge(t, g, c, core.EdgeShouldCompleteBefore, a)

	var broken []string
	if err := g.BreakCycles(func(e core.Edge) { broken = append(broken, e.String()) }); err != nil {
		t.Fatalf("BreakCycles: %v", err)
	}
	// DFS starts at a: a->b, b->c, c->a closes the cycle; c->a was pushed last.
	if diff := cmp.Diff([]string{"c -[should_complete_before]-> a"}, broken); diff != "" {
		t.Errorf("broken mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakCycles_UnbreakableCycle(t *testing.T) {
	g := New("g")
	a, b, c := node("a"), node("b"), node("c")
	mustAddNodes(t, g, a, b, c)
	mustAddEdge(t, g, a, core.EdgeDependencyOf, b)
	mustAddEdge(t, g, b, core.EdgeMustCompleteBefore, c)
	mustAddEdge(t, g, c, core.EdgeFinalizedBy, a)

	err := g.BreakCycles(nil)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "a"}, cycleErr.Path); diff != "" {
		t.Errorf("cycle path mismatch (-want +got):\n%s", diff)
	}
	if len(cycleErr.Edges) != 3 {
		t.Errorf("cycle edges = %d, want 3", len(cycleErr.Edges))
	}
}
