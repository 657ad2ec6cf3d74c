package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petal-labs/workgraph/core"
)

// ErrNodePanicked wraps a panic raised by a node executor.
var ErrNodePanicked = errors.New("node executor panicked")

// task is a node handed to a worker. lock is the resource lock the node
// needs, nil when it runs without one.
type task struct {
	node    core.Node
	lock    ResourceLock
	attempt int
}

type worker struct {
	name  string
	work  chan task
	lease ResourceLock
}

// workerPool owns the worker goroutines. A worker sits in available exactly
// when it has no task; the coordinator takes it out to dispatch.
type workerPool struct {
	runID     string
	workers   []*worker
	available chan *worker
	events    chan<- completion
	quit      chan struct{}
	cancel    context.CancelFunc
	group     *errgroup.Group

	executor core.NodeExecutor
	coord    *LockCoordinator
	emit     EventEmitter
	logger   *slog.Logger
	now      func() time.Time
}

func newWorkerPool(runID string, executor core.NodeExecutor, events chan<- completion, emit EventEmitter, opts Options) *workerPool {
	p := &workerPool{
		runID:     runID,
		available: make(chan *worker, opts.Workers),
		events:    events,
		quit:      make(chan struct{}),
		executor:  executor,
		coord:     &LockCoordinator{},
		emit:      emit,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	for i := 0; i < opts.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i+1)
		w := &worker{
			name:  name,
			work:  make(chan task, 1),
			lease: opts.Leases.Lease(p.owner(name)),
		}
		p.workers = append(p.workers, w)
		p.available <- w
	}
	return p
}

// owner names a worker across runs sharing a lease or lock registry.
func (p *workerPool) owner(name string) string {
	return p.runID + "/" + name
}

// start launches one goroutine per worker. Executors see a context that
// stop cancels; a worker exits with the run context's error, so stop tells
// a cancelled run from a drained one.
func (p *workerPool) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, execCtx := errgroup.WithContext(runCtx)
	p.group = group
	for _, w := range p.workers {
		group.Go(func() error {
			for t := range w.work {
				p.run(execCtx, w, t)
			}
			return ctx.Err()
		})
	}
}

// tryAcquire returns an idle worker without blocking.
func (p *workerPool) tryAcquire() (*worker, bool) {
	select {
	case w := <-p.available:
		return w, true
	default:
		return nil, false
	}
}

// dispatch hands t to w. w must have come from tryAcquire.
func (p *workerPool) dispatch(w *worker, t task) {
	w.work <- t
}

// stop cancels running executors, closes every work queue and waits for
// the workers to exit. It returns the run context's error when the run was
// cancelled, nil otherwise.
func (p *workerPool) stop() error {
	p.cancel()
	close(p.quit)
	for _, w := range p.workers {
		close(w.work)
	}
	return p.group.Wait()
}

func (p *workerPool) run(ctx context.Context, w *worker, t task) {
	if ctx.Err() != nil {
		// Handed over just before the run was cancelled. The coordinator
		// has already cancelled the node and will skip it.
		p.finish(w, completion{kind: completionSuspended, node: t.node, attempt: t.attempt, worker: w.name, reason: SuspendedOnCancel})
		return
	}

	reason := ""
	acquired := p.coord.WithStateLock(func(st *LockState) bool {
		if !st.TryLock(w.lease) {
			reason = SuspendedOnLease
			return false
		}
		if !st.TryLock(t.lock) {
			reason = SuspendedOnLock
			return false
		}
		return true
	})
	if !acquired {
		p.logger.Debug("node suspended", "node", t.node.ID(), "worker", w.name, "reason", reason)
		p.finish(w, completion{kind: completionSuspended, node: t.node, attempt: t.attempt, worker: w.name, reason: reason})
		return
	}

	p.emit(NewEvent(EventNodeStarted, p.runID).
		WithNode(t.node.ID(), t.node.Kind()).
		WithAttempt(t.attempt).
		WithPayload("worker", w.name))

	start := p.now()
	err := p.execute(ctx, w, t)
	elapsed := p.now().Sub(start)
	p.coord.Release(t.lock, w.lease)

	ev := completion{kind: completionFinished, node: t.node, executed: true, attempt: t.attempt, worker: w.name, elapsed: elapsed}
	if err != nil {
		ev.kind = completionFailed
		ev.err = &core.NodeError{
			NodeID:  t.node.ID(),
			Kind:    t.node.Kind(),
			Message: err.Error(),
			At:      p.now(),
			Cause:   fmt.Errorf("%w: %w", ErrNodeExecution, err),
		}
	}
	p.finish(w, ev)
}

// finish makes w available again and then reports ev. Re-registering first
// means the coordinator never waits on an event from a worker it cannot use.
func (p *workerPool) finish(w *worker, ev completion) {
	p.available <- w
	select {
	case p.events <- ev:
	case <-p.quit:
	}
}

func (p *workerPool) execute(ctx context.Context, w *worker, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrNodePanicked, r)
		}
	}()
	ctx = ContextWithEmitter(ctx, p.emit)
	ctx = ContextWithExecution(ctx, Execution{RunID: p.runID, Worker: w.name, Attempt: t.attempt})
	return p.executor.Execute(ctx, t.node)
}
