package nodes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/petal-labs/workgraph/core"
)

// ErrUnknownKind is returned for nodes whose kind has no executor.
var ErrUnknownKind = errors.New("no executor for node kind")

// Executor runs a node with the executor registered for its kind. It
// implements core.NodeExecutor and is safe for concurrent use.
type Executor struct {
	mu    sync.RWMutex
	kinds map[core.NodeKind]core.NodeExecutor
}

// NewExecutor returns an Executor with the built-in kinds registered.
func NewExecutor() *Executor {
	e := &Executor{kinds: make(map[core.NodeKind]core.NodeExecutor)}
	e.Register(core.NodeKindNoop, core.NodeExecutorFunc(runNoop))
	e.Register(core.NodeKindSleep, core.NodeExecutorFunc(runSleep))
	e.Register(core.NodeKindExec, NewShellExecutor())
	e.Register(core.NodeKindFail, core.NodeExecutorFunc(runFail))
	return e
}

// Register sets the executor for kind, replacing any previous one.
func (e *Executor) Register(kind core.NodeKind, exec core.NodeExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds[kind] = exec
}

// Kinds returns the registered kinds in lexical order.
func (e *Executor) Kinds() []core.NodeKind {
	e.mu.RLock()
	defer e.mu.RUnlock()
	kinds := make([]core.NodeKind, 0, len(e.kinds))
	for k := range e.kinds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Execute runs n with the executor of its kind.
func (e *Executor) Execute(ctx context.Context, n core.Node) error {
	e.mu.RLock()
	exec, ok := e.kinds[n.Kind()]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKind, n.Kind())
	}
	return exec.Execute(ctx, n)
}

var _ core.NodeExecutor = (*Executor)(nil)
