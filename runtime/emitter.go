package runtime

import (
	"sync"
	"sync/atomic"
)

// seqGen produces monotonically increasing sequence numbers for a single run.
type seqGen struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}

// newEmitter builds the run emitter. Every event gets the next sequence
// number and is delivered to the bus first, then to the handler. Numbering
// and delivery happen under one lock, so subscribers see events in Seq
// order. Handlers must not emit. The decorator wraps the whole chain so
// enrichment is visible to both.
func newEmitter(opts Options) EventEmitter {
	var mu sync.Mutex
	seq := &seqGen{}
	base := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		e.Seq = seq.Next()
		if opts.EventBus != nil {
			opts.EventBus.Publish(e)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	emit := EventEmitter(base)
	if opts.EventEmitterDecorator != nil {
		if decorated := opts.EventEmitterDecorator(emit); decorated != nil {
			emit = decorated
		}
	}
	return emit
}
