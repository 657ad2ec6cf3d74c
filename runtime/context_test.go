package runtime

import (
	"context"
	"testing"
)

func TestContextWithEmitter_RoundTrip(t *testing.T) {
	var called bool
	emitter := EventEmitter(func(e Event) { called = true })

	ctx := ContextWithEmitter(context.Background(), emitter)
	EmitterFromContext(ctx)(Event{})
	if !called {
		t.Error("emitter from context was not the one we stored")
	}
}

func TestEmitterFromContext_NoEmitter(t *testing.T) {
	EmitterFromContext(context.Background())(Event{}) // should not panic
}

func TestExecutionFromContext(t *testing.T) {
	if _, ok := ExecutionFromContext(context.Background()); ok {
		t.Fatal("empty context should carry no execution")
	}
	want := Execution{RunID: "r", Worker: "worker-2", Attempt: 3}
	got, ok := ExecutionFromContext(ContextWithExecution(context.Background(), want))
	if !ok || got != want {
		t.Errorf("ExecutionFromContext = %+v, %v; want %+v", got, ok, want)
	}
}
