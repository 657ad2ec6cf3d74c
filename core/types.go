// Package core provides the foundational types and interfaces for workgraph.
//
// This package contains:
//   - Node identity and capabilities: Node, ExclusiveNode, LockingNode, TaskNode
//   - Closed enumerations: NodeState, EdgeType
//   - The Edge value type and the cycle-breaking priority list
//   - The NodeExecutor contract invoked once per scheduled node
package core

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// NodeKind identifies the type of a node. Kinds select the executor
// that performs a node's work; the scheduler itself never inspects them.
type NodeKind string

const (
	NodeKindNoop  NodeKind = "noop"
	NodeKindSleep NodeKind = "sleep"
	NodeKindExec  NodeKind = "exec"
	NodeKindFail  NodeKind = "fail"
)

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	return string(k)
}

// Node is a unit of schedulable work. IDs are unique within a graph and
// give sibling nodes their deterministic (lexical) dispatch order.
type Node interface {
	ID() string
	Kind() NodeKind
}

// ExclusiveNode is implemented by nodes that cannot execute concurrently
// with some other nodes. Exclusion is checked in both directions.
type ExclusiveNode interface {
	Node
	CanRunWith(other Node) bool
}

// LockingNode is implemented by nodes that need a named resource lock while
// executing. An empty name means no lock is required.
type LockingNode interface {
	Node
	ResourceLock() string
}

// NodeExecutor performs the actual work of a node. A nil return means success.
// Implementations must honour ctx cancellation.
type NodeExecutor interface {
	Execute(ctx context.Context, node Node) error
}

// NodeExecutorFunc adapts a function into a NodeExecutor.
type NodeExecutorFunc func(ctx context.Context, node Node) error

// Execute calls f(ctx, node).
func (f NodeExecutorFunc) Execute(ctx context.Context, node Node) error {
	return f(ctx, node)
}

// NodeError is recorded when a node's executor returns an error or panics.
type NodeError struct {
	NodeID  string    // ID of the node that failed
	Kind    NodeKind  // kind of the node
	Message string    // error message
	At      time.Time // when the error occurred
	Cause   error     // underlying error (may be nil)
}

// Error implements the error interface for NodeError.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q failed: %s", e.NodeID, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// TaskNode is the general purpose node built from graph definitions.
// Nodes that share an exclusion group never run at the same time.
type TaskNode struct {
	NodeID    string
	NodeKind  NodeKind
	Config    map[string]any
	Exclusive []string // exclusion groups
	Lock      string   // resource lock name
}

// NewTaskNode creates a TaskNode with the given ID and kind.
func NewTaskNode(id string, kind NodeKind) *TaskNode {
	return &TaskNode{NodeID: id, NodeKind: kind, Config: map[string]any{}}
}

func (n *TaskNode) ID() string           { return n.NodeID }
func (n *TaskNode) Kind() NodeKind       { return n.NodeKind }
func (n *TaskNode) String() string       { return n.NodeID }
func (n *TaskNode) ResourceLock() string { return n.Lock }

// CanRunWith reports whether n and other share no exclusion group.
func (n *TaskNode) CanRunWith(other Node) bool {
	o, ok := other.(*TaskNode)
	if !ok || len(n.Exclusive) == 0 {
		return true
	}
	for _, group := range o.Exclusive {
		if slices.Contains(n.Exclusive, group) {
			return false
		}
	}
	return true
}

// CanRunTogether reports whether a and b may execute concurrently.
// Either side implementing ExclusiveNode can veto.
func CanRunTogether(a, b Node) bool {
	if ea, ok := a.(ExclusiveNode); ok && !ea.CanRunWith(b) {
		return false
	}
	if eb, ok := b.(ExclusiveNode); ok && !eb.CanRunWith(a) {
		return false
	}
	return true
}

// ResourceLockOf returns the resource lock name of n, if any.
func ResourceLockOf(n Node) string {
	if ln, ok := n.(LockingNode); ok {
		return ln.ResourceLock()
	}
	return ""
}

// Compile-time interface checks.
var (
	_ ExclusiveNode = (*TaskNode)(nil)
	_ LockingNode   = (*TaskNode)(nil)
)
