// Package graph holds the mutable execution graph the scheduler drains, and
// the serializable GraphDefinition it is usually built from.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/petal-labs/workgraph/core"
)

var (
	ErrNodeNotFound         = errors.New("node not found")
	ErrDuplicateNode        = errors.New("duplicate node")
	ErrNodeRemoved          = errors.New("node was already removed")
	ErrInvalidNode          = errors.New("invalid node")
	ErrDuplicateEdge        = errors.New("duplicate edge")
	ErrInvalidEdge          = errors.New("invalid edge")
	ErrNodeHasIncomingEdges = errors.New("node has incoming edges")
	ErrCycleDetected        = errors.New("cycle detected")
	ErrEmptyGraph           = errors.New("graph has no nodes")
)

// EdgeAction is returned by ProcessOutgoingEdges callbacks.
type EdgeAction int

const (
	KeepEdge EdgeAction = iota
	RemoveEdge
)

type edgeKey struct {
	source string
	target string
	typ    core.EdgeType
}

func keyOf(e core.Edge) edgeKey {
	return edgeKey{source: e.Source.ID(), target: e.Target.ID(), typ: e.Type}
}

type entry struct {
	node     core.Node
	state    core.NodeState
	incoming []core.Edge
	outgoing []core.Edge
}

// Graph is a set of nodes joined by typed edges. Each node carries its
// scheduling state. A node with no incoming edges is a root.
//
// Graph is not safe for concurrent use; during execution it is owned by the
// scheduler's coordinator goroutine.
type Graph struct {
	id      string
	nodes   map[string]*entry
	edges   map[edgeKey]struct{}
	roots   map[string]struct{}
	removed map[string]struct{}
}

// New creates an empty graph.
func New(id string) *Graph {
	return &Graph{
		id:      id,
		nodes:   make(map[string]*entry),
		edges:   make(map[edgeKey]struct{}),
		roots:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// ID returns the graph identifier.
func (g *Graph) ID() string {
	return g.id
}

// AddNode adds n as a root in StateRunnable.
func (g *Graph) AddNode(n core.Node) error {
	if n == nil || n.ID() == "" {
		return fmt.Errorf("%w: node must have an ID", ErrInvalidNode)
	}
	id := n.ID()
	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	if _, ok := g.removed[id]; ok {
		return fmt.Errorf("%w: %s", ErrNodeRemoved, id)
	}
	g.nodes[id] = &entry{node: n, state: core.StateRunnable}
	g.roots[id] = struct{}{}
	return nil
}

// AddEdge inserts e. Both endpoints must already be in the graph and the
// edge must not exist yet. The target stops being a root.
func (g *Graph) AddEdge(e core.Edge) error {
	if e.Source == nil || e.Target == nil {
		return fmt.Errorf("%w: missing endpoint", ErrInvalidEdge)
	}
	src, ok := g.nodes[e.Source.ID()]
	if !ok {
		return fmt.Errorf("%w: source %s of %s", ErrNodeNotFound, e.Source.ID(), e)
	}
	dst, ok := g.nodes[e.Target.ID()]
	if !ok {
		return fmt.Errorf("%w: target %s of %s", ErrNodeNotFound, e.Target.ID(), e)
	}
	if src == dst {
		return fmt.Errorf("%w: self edge %s", ErrInvalidEdge, e)
	}
	k := keyOf(e)
	if _, ok := g.edges[k]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
	}
	e.Source, e.Target = src.node, dst.node
	g.edges[k] = struct{}{}
	src.outgoing = append(src.outgoing, e)
	dst.incoming = append(dst.incoming, e)
	delete(g.roots, dst.node.ID())
	return nil
}

// HasEdge reports whether an edge with these endpoints and type exists.
func (g *Graph) HasEdge(source, target core.Node, typ core.EdgeType) bool {
	_, ok := g.edges[edgeKey{source: source.ID(), target: target.ID(), typ: typ}]
	return ok
}

// RemoveEdge deletes e. The target becomes a root when e was its last
// incoming edge.
func (g *Graph) RemoveEdge(e core.Edge) error {
	k := keyOf(e)
	if _, ok := g.edges[k]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, e)
	}
	g.unlink(k)
	return nil
}

func (g *Graph) unlink(k edgeKey) {
	delete(g.edges, k)
	src := g.nodes[k.source]
	dst := g.nodes[k.target]
	src.outgoing = removeEdge(src.outgoing, k)
	dst.incoming = removeEdge(dst.incoming, k)
	if len(dst.incoming) == 0 {
		g.roots[k.target] = struct{}{}
	}
}

func removeEdge(edges []core.Edge, k edgeKey) []core.Edge {
	for i, e := range edges {
		if keyOf(e) == k {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}

// RemoveNodeWithOutgoingEdges removes a root node. Each outgoing edge is
// removed first and then passed to onRemoved, so the callback sees the
// target's updated incoming set.
func (g *Graph) RemoveNodeWithOutgoingEdges(n core.Node, onRemoved func(core.Edge)) error {
	ent, ok := g.nodes[n.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, n.ID())
	}
	if len(ent.incoming) > 0 {
		return fmt.Errorf("%w: %s has %d", ErrNodeHasIncomingEdges, n.ID(), len(ent.incoming))
	}
	outgoing := append([]core.Edge(nil), ent.outgoing...)
	for _, e := range outgoing {
		g.unlink(keyOf(e))
		if onRemoved != nil {
			onRemoved(e)
		}
	}
	delete(g.nodes, n.ID())
	delete(g.roots, n.ID())
	g.removed[n.ID()] = struct{}{}
	return nil
}

// ProcessOutgoingEdges calls action for every outgoing edge of n and
// removes the edges for which it returns RemoveEdge.
func (g *Graph) ProcessOutgoingEdges(n core.Node, action func(core.Edge) EdgeAction) {
	ent, ok := g.nodes[n.ID()]
	if !ok {
		return
	}
	outgoing := append([]core.Edge(nil), ent.outgoing...)
	for _, e := range outgoing {
		if action(e) == RemoveEdge {
			g.unlink(keyOf(e))
		}
	}
}

// IncomingEdges returns a copy of n's incoming edges in insertion order.
func (g *Graph) IncomingEdges(n core.Node) []core.Edge {
	if ent, ok := g.nodes[n.ID()]; ok {
		return append([]core.Edge(nil), ent.incoming...)
	}
	return nil
}

// OutgoingEdges returns a copy of n's outgoing edges in insertion order.
func (g *Graph) OutgoingEdges(n core.Node) []core.Edge {
	if ent, ok := g.nodes[n.ID()]; ok {
		return append([]core.Edge(nil), ent.outgoing...)
	}
	return nil
}

// Node looks up a node by ID.
func (g *Graph) Node(id string) (core.Node, bool) {
	ent, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return ent.node, true
}

// Contains reports whether n is still in the graph.
func (g *Graph) Contains(n core.Node) bool {
	_, ok := g.nodes[n.ID()]
	return ok
}

// State returns the scheduling state of n.
func (g *Graph) State(n core.Node) (core.NodeState, bool) {
	ent, ok := g.nodes[n.ID()]
	if !ok {
		return 0, false
	}
	return ent.state, true
}

// SetState changes the state of n and returns the previous state.
func (g *Graph) SetState(n core.Node, s core.NodeState) (core.NodeState, bool) {
	ent, ok := g.nodes[n.ID()]
	if !ok {
		return 0, false
	}
	prev := ent.state
	ent.state = s
	return prev, true
}

// IsRoot reports whether n is in the graph with no incoming edges.
func (g *Graph) IsRoot(n core.Node) bool {
	_, ok := g.roots[n.ID()]
	return ok
}

// RootNodes returns the current roots ordered by ID.
func (g *Graph) RootNodes() []core.Node {
	roots := make([]core.Node, 0, len(g.roots))
	for id := range g.roots {
		roots = append(roots, g.nodes[id].node)
	}
	sortNodes(roots)
	return roots
}

// AllNodes returns every node ordered by ID.
func (g *Graph) AllNodes() []core.Node {
	nodes := make([]core.Node, 0, len(g.nodes))
	for _, ent := range g.nodes {
		nodes = append(nodes, ent.node)
	}
	sortNodes(nodes)
	return nodes
}

// HasNodes reports whether any node remains.
func (g *Graph) HasNodes() bool {
	return len(g.nodes) > 0
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

func sortNodes(nodes []core.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID() < nodes[j].ID()
	})
}
