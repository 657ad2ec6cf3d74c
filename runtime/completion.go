package runtime

import (
	"fmt"
	"time"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/graph"
)

// completionKind closes the set of events the coordinator handles.
type completionKind int

const (
	// completionFinished covers executed nodes and nodes skipped by the
	// coordinator because their state is not executable.
	completionFinished completionKind = iota
	completionFailed
	completionSuspended
)

func (k completionKind) String() string {
	switch k {
	case completionFinished:
		return "finished"
	case completionFailed:
		return "failed"
	case completionSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("completion(%d)", int(k))
	}
}

// completion is a message from a worker, or from the dispatcher for
// skipped nodes, to the coordinator.
type completion struct {
	kind    completionKind
	node    core.Node
	worker  string // empty for skips
	attempt int
	elapsed time.Duration

	executed bool   // finished: a worker ran the node
	err      error  // failed: the recorded *core.NodeError
	reason   string // suspended: SuspendedOnLease or SuspendedOnLock
}

// apply folds one completion into the graph. It reports whether workers
// are expected to be available for the next dispatch round.
func (r *run) apply(ev completion) (bool, error) {
	switch ev.kind {
	case completionFinished:
		return true, r.handleFinished(ev)
	case completionFailed:
		return true, r.handleFailed(ev)
	case completionSuspended:
		r.handleSuspended(ev)
		return false, nil
	default:
		return false, fmt.Errorf("unknown completion %v for node %q", ev.kind, ev.node.ID())
	}
}

func (r *run) handleFinished(ev completion) error {
	n := ev.node
	if ev.executed {
		r.removeRunning(n)
	}
	state, ok := r.g.State(n)
	if !ok {
		return fmt.Errorf("%w: completion for %q", graph.ErrNodeNotFound, n.ID())
	}
	if !ev.executed && state.Executable() {
		// Revived after the skip was queued; dispatch picks it up again.
		return nil
	}

	if ev.executed {
		r.executed = append(r.executed, n)
		r.emit(r.event(EventNodeFinished, n).
			WithAttempt(ev.attempt).
			WithElapsed(ev.elapsed).
			WithPayload("worker", ev.worker).
			WithPayload("state", state.String()))
	} else {
		r.skipped = append(r.skipped, n)
		r.emit(r.event(EventNodeSkipped, n).WithPayload("state", state.String()))
	}

	return r.g.RemoveNodeWithOutgoingEdges(n, func(e core.Edge) {
		r.propagateFinished(state, e)
	})
}

// propagateFinished updates the target of an edge whose source left the
// graph in state.
func (r *run) propagateFinished(state core.NodeState, e core.Edge) {
	target := e.Target
	ts, ok := r.g.State(target)
	if !ok {
		return
	}
	switch {
	case state.Executable():
		if ts == core.StateCancelled && r.canRevive(target) {
			r.setState(target, core.StateRunnable)
		}
	case state == core.StateCancelled:
		if ts == core.StateRunnable && cascadesCancel(e.Type) {
			r.setState(target, core.StateCancelled)
		}
	case state == core.StateDependencyFailed:
		switch e.Type {
		case core.EdgeDependencyOf:
			if ts != core.StateDependencyFailed {
				r.setState(target, core.StateDependencyFailed)
			}
		case core.EdgeFinalizedBy, core.EdgeAvoidStartingBeforeFinalized:
			if ts == core.StateRunnable {
				r.setState(target, core.StateCancelled)
			}
		}
	}
}

func cascadesCancel(t core.EdgeType) bool {
	switch t {
	case core.EdgeDependencyOf, core.EdgeFinalizedBy, core.EdgeAvoidStartingBeforeFinalized:
		return true
	default:
		return false
	}
}

func (r *run) handleFailed(ev completion) error {
	n := ev.node
	r.removeRunning(n)
	r.executed = append(r.executed, n)
	r.failures = append(r.failures, ev.err)

	r.emit(r.event(EventNodeFailed, n).
		WithAttempt(ev.attempt).
		WithElapsed(ev.elapsed).
		WithPayload("worker", ev.worker).
		WithPayload("error", ev.err.Error()))
	r.logger.Warn("node failed", "node", n.ID(), "error", ev.err)

	err := r.g.RemoveNodeWithOutgoingEdges(n, func(e core.Edge) {
		if e.Type != core.EdgeDependencyOf {
			return
		}
		if ts, ok := r.g.State(e.Target); ok && ts != core.StateDependencyFailed {
			r.setState(e.Target, core.StateDependencyFailed)
		}
	})
	if err != nil {
		return err
	}
	if !r.opts.ContinueOnFailure {
		r.cancelPending(false)
	}
	return nil
}

// handleSuspended returns the node to the ready set. Nodes deferred behind
// it are released since it is no longer running.
func (r *run) handleSuspended(ev completion) {
	n := ev.node
	r.removeRunning(n)
	r.emit(r.event(EventNodeSuspended, n).
		WithAttempt(ev.attempt).
		WithPayload("worker", ev.worker).
		WithPayload("reason", ev.reason))

	r.g.ProcessOutgoingEdges(n, func(e core.Edge) graph.EdgeAction {
		if e.Type == core.EdgeMustNotRunWith {
			return graph.RemoveEdge
		}
		return graph.KeepEdge
	})
}
