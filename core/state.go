package core

import "fmt"

// NodeState is the scheduling state of a node within one execution.
type NodeState int

const (
	// StateRunnable nodes run once their constraints clear unless cancelled.
	StateRunnable NodeState = iota
	// StateShouldRun marks requested entry nodes and their dependencies.
	StateShouldRun
	// StateMustRun marks activated finalizers. Sweeps never cancel them.
	StateMustRun
	// StateCancelled nodes are skipped unless reactivated to StateRunnable.
	StateCancelled
	// StateDependencyFailed is terminal: a hard dependency failed.
	StateDependencyFailed
)

var stateNames = [...]string{
	StateRunnable:         "runnable",
	StateShouldRun:        "should_run",
	StateMustRun:          "must_run",
	StateCancelled:        "cancelled",
	StateDependencyFailed: "dependency_failed",
}

// String returns the lower-case name of the state.
func (s NodeState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
	return stateNames[s]
}

// Executable reports whether a node in this state is dispatched when it
// becomes a root.
func (s NodeState) Executable() bool {
	switch s {
	case StateRunnable, StateShouldRun, StateMustRun:
		return true
	default:
		return false
	}
}

// ParseNodeState converts a state name back into a NodeState.
func ParseNodeState(name string) (NodeState, error) {
	for i, n := range stateNames {
		if n == name {
			return NodeState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node state %q", name)
}
