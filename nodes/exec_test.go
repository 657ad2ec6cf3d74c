package nodes_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/nodes"
	"github.com/petal-labs/workgraph/runtime"
)

type outputLog struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (l *outputLog) emit(e runtime.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Kind != runtime.EventNodeOutput {
		return
	}
	if l.lines == nil {
		l.lines = map[string][]string{}
	}
	stream, _ := e.Payload["stream"].(string)
	line, _ := e.Payload["line"].(string)
	l.lines[stream] = append(l.lines[stream], line)
}

func execContext(log *outputLog) context.Context {
	ctx := runtime.ContextWithEmitter(context.Background(), log.emit)
	return runtime.ContextWithExecution(ctx, runtime.Execution{RunID: "r", Worker: "worker-1", Attempt: 1})
}

func TestShellExecutor_StreamsOutput(t *testing.T) {
	log := &outputLog{}
	n := taskNode("echo", core.NodeKindExec, map[string]any{
		"command": `echo one; echo two; printf three; echo oops >&2`,
	})
	if err := nodes.NewShellExecutor().Execute(execContext(log), n); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two", "three"}, log.lines["stdout"]); diff != "" {
		t.Errorf("stdout mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"oops"}, log.lines["stderr"]); diff != "" {
		t.Errorf("stderr mismatch (-want +got):\n%s", diff)
	}
}

func TestShellExecutor_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	n := taskNode("write", core.NodeKindExec, map[string]any{
		"command": `printf "$GREETING" > out.txt`,
		"dir":     dir,
		"env":     map[string]any{"GREETING": "hello"},
	})
	if err := nodes.NewShellExecutor().Execute(context.Background(), n); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("out.txt = %q, want hello", data)
	}
}

func TestShellExecutor_Failures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		wantMsg string
	}{
		{"non-zero exit", map[string]any{"command": "echo broken >&2; exit 3"}, "broken"},
		{"timeout", map[string]any{"command": "sleep 5", "timeout": "20ms"}, "timed out"},
		{"empty command", map[string]any{"command": "  "}, "empty command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := nodes.NewShellExecutor().Execute(context.Background(), taskNode("x", core.NodeKindExec, tt.cfg))
			if !errors.Is(err, nodes.ErrCommandFailed) {
				t.Fatalf("err = %v, want ErrCommandFailed", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestShellExecutor_BadConfig(t *testing.T) {
	for name, cfg := range map[string]map[string]any{
		"command type": {"command": 42},
		"env type":     {"command": "true", "env": "A=B"},
		"timeout":      {"command": "true", "timeout": "later"},
	} {
		t.Run(name, func(t *testing.T) {
			err := nodes.NewShellExecutor().Execute(context.Background(), taskNode("x", core.NodeKindExec, cfg))
			if err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
