package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/workgraph/runtime"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Slow subscribers lose events rather
// than stall the publisher; Dropped reports how many.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // runID -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
	dropped    atomic.Uint64
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to the subscribers of its run and to every global
// subscriber. Events published after Close are dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.RunID] {
		if !sub.send(event) {
			b.dropped.Add(1)
		}
	}
	for _, sub := range b.globalSubs {
		if !sub.send(event) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for a specific run.
func (b *MemBus) Subscribe(runID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() { b.remove(runID, sub) }
	b.subs[runID] = append(b.subs[runID], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events from all runs.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() { b.removeGlobal(sub) }
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for runID, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, runID)
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	b.globalSubs = nil
	return nil
}

func (b *MemBus) remove(runID string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[runID] = slices.DeleteFunc(b.subs[runID], func(s *memSub) bool { return s == sub })
	if len(b.subs[runID]) == 0 {
		delete(b.subs, runID)
	}
}

func (b *MemBus) removeGlobal(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSubs = slices.DeleteFunc(b.globalSubs, func(s *memSub) bool { return s == sub })
}

type memSub struct {
	ch     chan runtime.Event
	mu     sync.Mutex
	closed bool
	detach func()
}

func newMemSub(bufSize int) *memSub {
	return &memSub{ch: make(chan runtime.Event, bufSize)}
}

func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

// Close unsubscribes from the bus and closes the event channel.
func (s *memSub) Close() error {
	if s.detach != nil {
		s.detach()
	}
	s.close()
	return nil
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers event without blocking and reports whether it was queued.
func (s *memSub) send(event runtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

var (
	_ EventBus     = (*MemBus)(nil)
	_ Subscription = (*memSub)(nil)
)
