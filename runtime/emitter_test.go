package runtime

import (
	"sync"
	"testing"
)

func TestSeqGen_Next_Monotonic(t *testing.T) {
	var sg seqGen
	for i := uint64(1); i <= 100; i++ {
		if got := sg.Next(); got != i {
			t.Fatalf("Next() call #%d = %d, want %d", i, got, i)
		}
	}
}

func TestSeqGen_Next_ConcurrentSafe(t *testing.T) {
	const goroutines = 50
	const calls = 100

	var sg seqGen
	var mu sync.Mutex
	seen := make(map[uint64]bool, goroutines*calls)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for c := 0; c < calls; c++ {
				v := sg.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*calls {
		t.Fatalf("unique values = %d, want %d", len(seen), goroutines*calls)
	}
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.events = append(p.events, e)
}

func TestNewEmitter_BusThenHandlerWithDecorator(t *testing.T) {
	var order []string
	pub := &recordingPublisher{}
	opts := Options{
		EventBus: pub,
		EventHandler: func(e Event) {
			order = append(order, "handler")
			if e.Payload["decorated"] != true {
				t.Error("handler should see decorated events")
			}
		},
		EventEmitterDecorator: func(next EventEmitter) EventEmitter {
			return func(e Event) {
				order = append(order, "decorator")
				next(e.WithPayload("decorated", true))
			}
		},
	}

	emit := newEmitter(opts)
	emit(NewEvent(EventRunStarted, "r"))
	emit(NewEvent(EventRunFinished, "r"))

	if len(pub.events) != 2 || pub.events[0].Seq != 1 || pub.events[1].Seq != 2 {
		t.Fatalf("published = %+v, want two events with seq 1 and 2", pub.events)
	}
	if len(order) != 4 || order[0] != "decorator" || order[1] != "handler" {
		t.Errorf("call order = %v", order)
	}
}

func TestChainEmitterDecorators(t *testing.T) {
	var order []string
	tag := func(name string) EventEmitterDecorator {
		return func(next EventEmitter) EventEmitter {
			return func(e Event) {
				order = append(order, name)
				next(e)
			}
		}
	}

	emit := ChainEmitterDecorators(tag("first"), nil, tag("second"))(func(Event) {
		order = append(order, "base")
	})
	emit(NewEvent(EventRunStarted, "r"))

	want := []string{"first", "second", "base"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestNewEmitter_DeliversInSeqOrder(t *testing.T) {
	const goroutines = 20
	const calls = 50

	pub := &recordingPublisher{}
	var handled []uint64
	emit := newEmitter(Options{
		EventBus:     pub,
		EventHandler: func(e Event) { handled = append(handled, e.Seq) },
	})

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for c := 0; c < calls; c++ {
				emit(NewEvent(EventNodeOutput, "run-1"))
			}
		}()
	}
	wg.Wait()

	if len(pub.events) != goroutines*calls || len(handled) != goroutines*calls {
		t.Fatalf("delivered %d to bus, %d to handler, want %d", len(pub.events), len(handled), goroutines*calls)
	}
	for i, e := range pub.events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("bus event #%d has seq %d", i+1, e.Seq)
		}
		if handled[i] != e.Seq {
			t.Fatalf("handler event #%d has seq %d, bus has %d", i+1, handled[i], e.Seq)
		}
	}
}
