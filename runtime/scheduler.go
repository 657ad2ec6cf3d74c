package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/graph"
)

var (
	// ErrRunCanceled is recorded as a failure when the run context is
	// cancelled before the graph drained.
	ErrRunCanceled = errors.New("run canceled")

	// ErrStalled is returned when nodes remain but none can ever become ready.
	ErrStalled = errors.New("scheduler stalled")

	// ErrNodeExecution is wrapped by the cause of every node failure.
	ErrNodeExecution = errors.New("node execution failed")

	// ErrNilExecutor is returned by Execute on a scheduler without executor.
	ErrNilExecutor = errors.New("nil node executor")
)

// Scheduler executes graphs with a pool of workers. The graph passed to
// Execute is owned by a single coordinator goroutine for the whole run:
// workers never touch it and report back over a channel instead.
type Scheduler struct {
	executor core.NodeExecutor
}

// NewScheduler creates a scheduler that runs nodes with executor.
func NewScheduler(executor core.NodeExecutor) *Scheduler {
	return &Scheduler{executor: executor}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// run is the coordinator state of one Execute call.
type run struct {
	id     string
	g      *graph.Graph
	opts   Options
	emit   EventEmitter
	logger *slog.Logger
	pool   *workerPool
	events chan completion

	pending  []completion // skips queued by dispatch
	running  []core.Node  // dispatch order
	attempts map[string]int
	filtered map[string]bool

	executed []core.Node
	skipped  []core.Node
	failures []error

	swept    bool // a fail-fast or cancel sweep happened
	canceled bool
}

// Execute runs g until every node has either executed or been skipped.
//
// Entry nodes and everything they transitively depend on through
// dependency_of edges are marked should_run. Nodes rejected by
// opts.Filter are cancelled, along with dependencies only they needed.
// All other nodes keep their state, so finalizers and ordering-only
// neighbours still run unless something cancels them.
//
// The returned error covers structural problems only: an unknown entry
// node, an unbreakable cycle or an internal inconsistency. Node failures
// and cancellation are reported through the Result.
func (s *Scheduler) Execute(ctx context.Context, g *graph.Graph, entry []core.Node, opts Options) (*Result, error) {
	if s.executor == nil {
		return nil, ErrNilExecutor
	}
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", graph.ErrEmptyGraph)
	}
	opts = opts.withDefaults()
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}

	r := &run{
		id:       opts.RunID,
		g:        g,
		opts:     opts,
		emit:     newEmitter(opts),
		logger:   opts.Logger.With("run_id", opts.RunID, "graph", g.ID()),
		events:   make(chan completion, opts.Workers),
		attempts: make(map[string]int),
		filtered: make(map[string]bool),
	}

	start := opts.Now()
	r.emit(NewEvent(EventRunStarted, r.id).
		WithPayload("graph", g.ID()).
		WithPayload("nodes", g.Len()).
		WithPayload("workers", opts.Workers).
		WithPayload("continue_on_failure", opts.ContinueOnFailure))
	r.logger.Info("run started", "nodes", g.Len(), "workers", opts.Workers)

	err := r.prepare(entry)
	if err == nil {
		r.pool = newWorkerPool(r.id, s.executor, r.events, r.emit, opts)
		r.pool.start(ctx)
		err = r.loop(ctx)
		if werr := r.pool.stop(); werr != nil {
			r.logger.Debug("workers stopped", "cause", werr)
		}
	}

	res := r.result(opts.Now().Sub(start))
	status := "completed"
	switch {
	case err != nil:
		status = "error"
	case res.Canceled:
		status = "canceled"
	case len(res.Failures) > 0:
		status = "failed"
	}
	finished := NewEvent(EventRunFinished, r.id).
		WithElapsed(res.Elapsed).
		WithPayload("status", status).
		WithPayload("executed", len(res.Executed)).
		WithPayload("skipped", len(res.Skipped)).
		WithPayload("failures", len(res.Failures))
	if err != nil {
		finished = finished.WithPayload("error", err.Error())
	}
	r.emit(finished)
	r.logger.Info("run finished", "status", status, "executed", len(res.Executed), "failures", len(res.Failures), "elapsed", res.Elapsed)

	return res, err
}

// prepare breaks cycles and assigns the initial node states.
func (r *run) prepare(entry []core.Node) error {
	for _, n := range entry {
		if n == nil || !r.g.Contains(n) {
			return fmt.Errorf("%w: entry node %v", graph.ErrNodeNotFound, nodeName(n))
		}
	}

	err := r.g.BreakCycles(func(e core.Edge) {
		r.logger.Warn("cycle broken", "edge", e.String())
		r.emit(NewEvent(EventCycleBroken, r.id).
			WithPayload("source", e.Source.ID()).
			WithPayload("target", e.Target.ID()).
			WithPayload("type", e.Type.String()))
	})
	if err != nil {
		return err
	}

	excluded := make(map[string]bool)
	if r.opts.Filter != nil {
		for _, n := range r.g.AllNodes() {
			if !r.opts.Filter(n) {
				excluded[n.ID()] = true
			}
		}
	}

	required := make(map[string]bool)
	stack := append([]core.Node(nil), entry...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if required[n.ID()] || excluded[n.ID()] {
			continue
		}
		required[n.ID()] = true
		r.setState(n, core.StateShouldRun)
		for _, e := range r.g.IncomingEdges(n) {
			if e.Type == core.EdgeDependencyOf {
				stack = append(stack, e.Source)
			}
		}
	}

	// Excluded nodes are cancelled, and so is every dependency whose
	// dependents are all excluded.
	var queue []core.Node
	for _, n := range r.g.AllNodes() {
		if excluded[n.ID()] {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if r.filtered[n.ID()] {
			continue
		}
		r.filtered[n.ID()] = true
		r.setState(n, core.StateCancelled)
		r.logger.Debug("node filtered", "node", n.ID())
		for _, e := range r.g.IncomingEdges(n) {
			if e.Type != core.EdgeDependencyOf {
				continue
			}
			dep := e.Source
			if !required[dep.ID()] && !r.filtered[dep.ID()] && r.onlyNeededByFiltered(dep) {
				queue = append(queue, dep)
			}
		}
	}
	return nil
}

func (r *run) onlyNeededByFiltered(n core.Node) bool {
	found := false
	for _, e := range r.g.OutgoingEdges(n) {
		if e.Type != core.EdgeDependencyOf {
			continue
		}
		if !r.filtered[e.Target.ID()] {
			return false
		}
		found = true
	}
	return found
}

// loop is the coordinator: dispatch ready nodes, then fold worker events
// into the graph, until the graph is empty.
func (r *run) loop(ctx context.Context) error {
	done := ctx.Done()
	expectWorkers := true
	for r.g.HasNodes() {
		if expectWorkers {
			if err := r.dispatch(); err != nil {
				return err
			}
		}
		var err error
		expectWorkers, err = r.drain(&done)
		if err != nil {
			return err
		}
	}
	return nil
}

// dispatch walks the ready set in ID order. Non-executable nodes are
// queued as skips, conflicting nodes are deferred behind the running node
// and the rest go to idle workers until none is left.
func (r *run) dispatch() error {
	for _, n := range r.g.RootNodes() {
		if r.isRunning(n) || r.isPending(n) {
			continue
		}
		state, _ := r.g.State(n)
		if !state.Executable() {
			r.pending = append(r.pending, completion{kind: completionFinished, node: n})
			continue
		}
		if other, ok := r.opts.Exclusion.FindConflict(n, r.running); ok {
			if err := r.g.AddEdge(core.NewEdge(other, core.EdgeMustNotRunWith, n)); err != nil {
				return fmt.Errorf("defer %q behind %q: %w", n.ID(), other.ID(), err)
			}
			r.emit(r.event(EventNodeDeferred, n).WithPayload("running", other.ID()))
			continue
		}
		w, ok := r.pool.tryAcquire()
		if !ok {
			break
		}
		r.prepareToRun(n)
		r.running = append(r.running, n)
		r.attempts[n.ID()]++
		t := task{
			node:    n,
			lock:    r.opts.Exclusion.LockFor(n, r.pool.owner(w.name)),
			attempt: r.attempts[n.ID()],
		}
		r.logger.Debug("dispatching node", "node", n.ID(), "worker", w.name, "attempt", t.attempt)
		r.pool.dispatch(w, t)
	}
	return nil
}

// prepareToRun activates finalizers of n and drops the edges that only
// hold until n starts.
func (r *run) prepareToRun(n core.Node) {
	r.g.ProcessOutgoingEdges(n, func(e core.Edge) graph.EdgeAction {
		if e.Type.ActivatesFinalizer() && !r.filtered[e.Target.ID()] {
			switch ts, _ := r.g.State(e.Target); ts {
			case core.StateRunnable, core.StateShouldRun, core.StateCancelled:
				r.setState(e.Target, core.StateMustRun)
			}
		}
		if e.Type.RemovedOnStart() {
			return graph.RemoveEdge
		}
		return graph.KeepEdge
	})
}

// drain applies the queued skips and up to EventBatch worker events. It
// blocks for a worker event only when nothing is queued locally.
func (r *run) drain(done *<-chan struct{}) (bool, error) {
	batch := r.pending
	r.pending = nil

	received := 0
	if len(batch) == 0 {
		if len(r.running) == 0 {
			// Everything dispatched came back suspended.
			if len(r.g.RootNodes()) == 0 {
				return false, fmt.Errorf("%w: %d nodes left, none ready", ErrStalled, r.g.Len())
			}
			return r.backoff(done), nil
		}
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			received++
		case <-*done:
			*done = nil
			r.cancel()
			return true, nil
		}
	}

fill:
	for received < r.opts.EventBatch {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			received++
		default:
			break fill
		}
	}

	expectWorkers := false
	for _, ev := range batch {
		avail, err := r.apply(ev)
		if err != nil {
			return false, err
		}
		expectWorkers = expectWorkers || avail
	}
	return expectWorkers, nil
}

func (r *run) backoff(done *<-chan struct{}) bool {
	t := time.NewTimer(r.opts.RetryInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-*done:
		*done = nil
		r.cancel()
	}
	return true
}

// cancel handles cancellation of the run context. Pending work is dropped
// and the loop keeps draining until running nodes have returned.
func (r *run) cancel() {
	if r.canceled {
		return
	}
	r.canceled = true
	r.failures = append(r.failures, ErrRunCanceled)
	r.emit(NewEvent(EventRunCanceled, r.id).WithPayload("running", len(r.running)))
	r.logger.Warn("run canceled", "running", len(r.running))
	r.cancelPending(true)
}

// cancelPending cancels every node that has not started. must_run nodes
// survive unless includeMustRun is set.
func (r *run) cancelPending(includeMustRun bool) {
	r.swept = true
	for _, n := range r.g.AllNodes() {
		switch s, _ := r.g.State(n); s {
		case core.StateRunnable, core.StateShouldRun:
			r.setState(n, core.StateCancelled)
		case core.StateMustRun:
			if includeMustRun {
				r.setState(n, core.StateCancelled)
			}
		}
	}
}

// canRevive reports whether a cancelled node may go back to runnable once
// one of its predecessors executed.
func (r *run) canRevive(n core.Node) bool {
	return !r.swept && !r.filtered[n.ID()]
}

func (r *run) setState(n core.Node, s core.NodeState) {
	prev, ok := r.g.SetState(n, s)
	if !ok || prev == s {
		return
	}
	r.emit(r.event(EventNodeStateChanged, n).
		WithPayload("from", prev.String()).
		WithPayload("to", s.String()))
}

func (r *run) event(kind EventKind, n core.Node) Event {
	return NewEvent(kind, r.id).WithNode(n.ID(), n.Kind())
}

func (r *run) isRunning(n core.Node) bool {
	for _, m := range r.running {
		if m.ID() == n.ID() {
			return true
		}
	}
	return false
}

func (r *run) isPending(n core.Node) bool {
	for _, ev := range r.pending {
		if ev.node.ID() == n.ID() {
			return true
		}
	}
	return false
}

func (r *run) removeRunning(n core.Node) {
	for i, m := range r.running {
		if m.ID() == n.ID() {
			r.running = append(r.running[:i], r.running[i+1:]...)
			return
		}
	}
}

func (r *run) result(elapsed time.Duration) *Result {
	states := make(map[string]core.NodeState, r.g.Len())
	for _, n := range r.g.AllNodes() {
		s, _ := r.g.State(n)
		states[n.ID()] = s
	}
	return &Result{
		RunID:     r.id,
		Executed:  r.executed,
		Skipped:   r.skipped,
		Failures:  r.failures,
		Canceled:  r.canceled,
		Remaining: states,
		Elapsed:   elapsed,
	}
}

func nodeName(n core.Node) string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%q", n.ID())
}
