package bus

import (
	"sync"
	"time"

	"github.com/petal-labs/workgraph/runtime"
)

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often to flush coalesced suspension events.
	// Default: 100ms
	CoalesceInterval time.Duration
}

// ThrottledEmitter wraps a runtime.EventEmitter and coalesces node.suspended
// events. A node waiting on a busy lock is re-dispatched every retry
// interval; subscribers only need the latest suspension per node and how
// many were folded into it, which is reported in the "coalesced" payload.
// Any other event for the node flushes its pending suspension first, so
// per-node ordering is preserved, and run.finished flushes everything.
type ThrottledEmitter struct {
	emit     runtime.EventEmitter
	interval time.Duration

	// deliver serializes forwarding, so a flushed suspension and a later
	// event for the same node reach emit in order.
	deliver sync.Mutex

	mu      sync.Mutex
	pending map[string]runtime.Event // nodeID -> latest suspension
	counts  map[string]int
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter creates a ThrottledEmitter that flushes coalesced
// suspensions at the configured interval until Close.
func NewThrottledEmitter(emit runtime.EventEmitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		pending:  make(map[string]runtime.Event),
		counts:   make(map[string]int),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go te.run()
	return te
}

// Decorator returns a runtime.EventEmitterDecorator that routes a run's
// events through a new ThrottledEmitter. The returned stop function must be
// called after the run to flush what is left.
func Decorator(cfg ThrottleConfig) (runtime.EventEmitterDecorator, func()) {
	var (
		mu sync.Mutex
		te []*ThrottledEmitter
	)
	decorate := func(next runtime.EventEmitter) runtime.EventEmitter {
		t := NewThrottledEmitter(next, cfg)
		mu.Lock()
		te = append(te, t)
		mu.Unlock()
		return t.Emit
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, t := range te {
			t.Close()
		}
		te = nil
	}
	return decorate, stop
}

// Emit sends an event through the throttled emitter.
func (te *ThrottledEmitter) Emit(e runtime.Event) {
	if e.Kind == runtime.EventNodeSuspended && e.NodeID != "" {
		te.mu.Lock()
		if !te.closed {
			te.pending[e.NodeID] = e
			te.counts[e.NodeID]++
			te.mu.Unlock()
			return
		}
		te.mu.Unlock()
	}

	te.deliver.Lock()
	defer te.deliver.Unlock()
	switch {
	case e.Kind == runtime.EventRunFinished:
		te.flushLocked()
	case e.NodeID != "":
		te.mu.Lock()
		held, ok := te.take(e.NodeID)
		te.mu.Unlock()
		if ok {
			te.emit(held)
		}
	}
	te.emit(e)
}

// Close flushes any pending suspensions and stops the background ticker.
// It is safe to call Close multiple times.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	close(te.stopCh)
	<-te.doneCh
}

func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush()
		case <-te.stopCh:
			te.flush()
			return
		}
	}
}

// take removes the pending suspension of nodeID. te.mu must be held.
func (te *ThrottledEmitter) take(nodeID string) (runtime.Event, bool) {
	e, ok := te.pending[nodeID]
	if !ok {
		return runtime.Event{}, false
	}
	e = e.WithPayload("coalesced", te.counts[nodeID])
	delete(te.pending, nodeID)
	delete(te.counts, nodeID)
	return e, true
}

func (te *ThrottledEmitter) flush() {
	te.deliver.Lock()
	defer te.deliver.Unlock()
	te.flushLocked()
}

// flushLocked emits every pending suspension. te.deliver must be held.
func (te *ThrottledEmitter) flushLocked() {
	te.mu.Lock()
	toFlush := make([]runtime.Event, 0, len(te.pending))
	for id := range te.pending {
		e, _ := te.take(id)
		toFlush = append(toFlush, e)
	}
	te.mu.Unlock()

	for _, e := range toFlush {
		te.emit(e)
	}
}
