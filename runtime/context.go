package runtime

import "context"

type emitterKey struct{}

type executionKey struct{}

// Execution describes the dispatch an executor is running under.
type Execution struct {
	RunID   string
	Worker  string
	Attempt int
}

// ContextWithEmitter attaches an event emitter to the context.
func ContextWithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFromContext retrieves the event emitter from the context.
// Returns a no-op emitter if none is set.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if emit, ok := ctx.Value(emitterKey{}).(EventEmitter); ok && emit != nil {
		return emit
	}
	return func(Event) {}
}

// ContextWithExecution attaches dispatch details to the context.
func ContextWithExecution(ctx context.Context, x Execution) context.Context {
	return context.WithValue(ctx, executionKey{}, x)
}

// ExecutionFromContext returns the dispatch details stored by the worker
// that is running the current node.
func ExecutionFromContext(ctx context.Context) (Execution, bool) {
	x, ok := ctx.Value(executionKey{}).(Execution)
	return x, ok
}
