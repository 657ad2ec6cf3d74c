package nodes_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/nodes"
	"github.com/petal-labs/workgraph/registry"
)

func taskNode(id string, kind core.NodeKind, cfg map[string]any) *core.TaskNode {
	n := core.NewTaskNode(id, kind)
	if cfg != nil {
		n.Config = cfg
	}
	return n
}

func TestExecutor_CoversRegistryBuiltins(t *testing.T) {
	exec := nodes.NewExecutor()
	var want []core.NodeKind
	for _, def := range registry.Global().All() {
		want = append(want, core.NodeKind(def.Type))
	}
	got := exec.Kinds()
	for _, kind := range want {
		found := false
		for _, k := range got {
			if k == kind {
				found = true
			}
		}
		if !found {
			t.Errorf("registry type %q has no executor (have %v)", kind, got)
		}
	}
}

func TestExecutor_UnknownKind(t *testing.T) {
	err := nodes.NewExecutor().Execute(context.Background(), taskNode("x", "teleport", nil))
	if !errors.Is(err, nodes.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestExecutor_Register(t *testing.T) {
	exec := nodes.NewExecutor()
	var ran []string
	exec.Register("custom", core.NodeExecutorFunc(func(_ context.Context, n core.Node) error {
		ran = append(ran, n.ID())
		return nil
	}))
	if err := exec.Execute(context.Background(), taskNode("c", "custom", nil)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff([]string{"c"}, ran); diff != "" {
		t.Errorf("ran mismatch (-want +got):\n%s", diff)
	}
}

func TestBuiltins(t *testing.T) {
	exec := nodes.NewExecutor()
	tests := []struct {
		name    string
		node    *core.TaskNode
		wantErr error
	}{
		{"noop", taskNode("n", core.NodeKindNoop, nil), nil},
		{"sleep string", taskNode("s", core.NodeKindSleep, map[string]any{"duration": "5ms"}), nil},
		{"sleep seconds", taskNode("s", core.NodeKindSleep, map[string]any{"duration": 0.001}), nil},
		{"fail", taskNode("f", core.NodeKindFail, map[string]any{"message": "nope"}), nodes.ErrFailNode},
		{"fail default", taskNode("f", core.NodeKindFail, nil), nodes.ErrFailNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exec.Execute(context.Background(), tt.node)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSleep_BadDuration(t *testing.T) {
	err := nodes.NewExecutor().Execute(context.Background(),
		taskNode("s", core.NodeKindSleep, map[string]any{"duration": "soon"}))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestSleep_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	err := nodes.NewExecutor().Execute(ctx, taskNode("s", core.NodeKindSleep, map[string]any{"duration": "1m"}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("sleep ignored cancellation")
	}
}
