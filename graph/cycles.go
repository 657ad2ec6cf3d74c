package graph

import (
	"fmt"
	"strings"

	"github.com/petal-labs/workgraph/core"
)

// CycleError reports a cycle that contains no breakable edge.
type CycleError struct {
	Path  []string    // node IDs, first and last are the same node
	Edges []core.Edge // edges along the cycle in traversal order
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// BreakCycles removes breakable edges until the graph is acyclic. Candidates
// are taken from core.CycleBreakingOrder; within one type the edge pushed
// last on the DFS path goes first. onBreak is called for every removed edge.
// A cycle made only of unbreakable edges yields a *CycleError and leaves the
// graph with the edges removed so far.
func (g *Graph) BreakCycles(onBreak func(core.Edge)) error {
	for {
		cycle := g.findCycle()
		if cycle == nil {
			return nil
		}
		victim, ok := pickBreakableEdge(cycle)
		if !ok {
			return newCycleError(cycle)
		}
		g.unlink(keyOf(victim))
		if onBreak != nil {
			onBreak(victim)
		}
	}
}

// FindCycle returns the edges of the first cycle found, or nil.
func (g *Graph) FindCycle() []core.Edge {
	return g.findCycle()
}

const (
	white = iota
	gray
	black
)

func (g *Graph) findCycle() []core.Edge {
	color := make(map[string]int, len(g.nodes))
	var path []core.Edge
	var cycle []core.Edge

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, e := range g.nodes[id].outgoing {
			target := e.Target.ID()
			switch color[target] {
			case gray:
				start := len(path)
				for i := len(path) - 1; i >= 0; i-- {
					if path[i].Source.ID() == target {
						start = i
						break
					}
				}
				cycle = append(append([]core.Edge(nil), path[start:]...), e)
				return true
			case white:
				path = append(path, e)
				if visit(target) {
					return true
				}
				path = path[:len(path)-1]
			}
		}
		color[id] = black
		return false
	}

	// Roots have no incoming edges and cannot sit on a cycle.
	for _, n := range g.AllNodes() {
		id := n.ID()
		if g.IsRoot(n) || color[id] != white {
			continue
		}
		if visit(id) {
			return cycle
		}
	}
	return nil
}

func pickBreakableEdge(cycle []core.Edge) (core.Edge, bool) {
	for _, typ := range core.CycleBreakingOrder {
		for i := len(cycle) - 1; i >= 0; i-- {
			if cycle[i].Type == typ {
				return cycle[i], true
			}
		}
	}
	return core.Edge{}, false
}

func newCycleError(cycle []core.Edge) *CycleError {
	path := make([]string, 0, len(cycle)+1)
	path = append(path, cycle[0].Source.ID())
	for _, e := range cycle {
		path = append(path, e.Target.ID())
	}
	return &CycleError{Path: path, Edges: cycle}
}
