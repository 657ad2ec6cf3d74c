package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/petal-labs/workgraph/core"
)

// Result is the outcome of one Execute call.
type Result struct {
	RunID string

	// Executed lists the nodes a worker ran, successful or not, in the
	// order their completion was handled.
	Executed []core.Node

	// Skipped lists the nodes removed without running.
	Skipped []core.Node

	// Failures holds one *core.NodeError per failed node, plus
	// ErrRunCanceled when the run context was cancelled.
	Failures []error

	// Canceled is set when the run context was cancelled.
	Canceled bool

	// Remaining maps the nodes still in the graph to their state. It is
	// empty unless Execute returned an error.
	Remaining map[string]core.NodeState

	Elapsed time.Duration
}

// Succeeded reports whether the run finished without failures.
func (r *Result) Succeeded() bool {
	return len(r.Failures) == 0
}

// ExecutedIDs returns the IDs of the executed nodes.
func (r *Result) ExecutedIDs() []string {
	return nodeIDs(r.Executed)
}

// SkippedIDs returns the IDs of the skipped nodes.
func (r *Result) SkippedIDs() []string {
	return nodeIDs(r.Skipped)
}

// Err joins the recorded failures into one error, or returns nil. At most
// MaxReportedFailures are listed; errors.Is still matches every failure.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	if len(r.Failures) <= MaxReportedFailures {
		return errors.Join(r.Failures...)
	}
	shown := append([]error(nil), r.Failures[:MaxReportedFailures]...)
	shown = append(shown, &truncatedErrors{hidden: r.Failures[MaxReportedFailures:]})
	return errors.Join(shown...)
}

// truncatedErrors stands in for failures left out of the message.
type truncatedErrors struct {
	hidden []error
}

func (e *truncatedErrors) Error() string {
	return fmt.Sprintf("... and %d more failures", len(e.hidden))
}

func (e *truncatedErrors) Unwrap() []error {
	return e.hidden
}

func nodeIDs(nodes []core.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}
