package nodes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/runtime"
)

// ErrCommandFailed is wrapped by errors of exec nodes whose command could
// not start or exited with a non-zero status.
var ErrCommandFailed = errors.New("command failed")

const (
	// stderrTailLines is how many trailing stderr lines go into the error.
	stderrTailLines = 5

	// waitDelay bounds how long Wait blocks on inherited pipes after the
	// process was killed.
	waitDelay = 2 * time.Second
)

// ShellExecutor runs the "command" config of a node through a shell. Every
// output line is emitted as a node.output event with the stream name and
// the line in its payload.
type ShellExecutor struct {
	// Shell is the interpreter invoked as Shell -c command. Default "sh".
	Shell string
}

// NewShellExecutor returns a ShellExecutor using sh.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "sh"}
}

// Execute runs the command and fails on a non-zero exit status.
func (s *ShellExecutor) Execute(ctx context.Context, n core.Node) error {
	cfg := configOf(n)
	command, err := stringConfig(cfg, "command")
	if err != nil {
		return err
	}
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrCommandFailed)
	}
	dir, err := stringConfig(cfg, "dir")
	if err != nil {
		return err
	}
	env, err := envConfig(cfg, "env")
	if err != nil {
		return err
	}
	timeout, err := durationConfig(cfg, "timeout")
	if err != nil {
		return err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command) // #nosec G204 -- command comes from the graph definition
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = waitDelay

	emit := newOutputEmitter(ctx, n)
	stdout := &lineWriter{emit: emit.line("stdout")}
	stderr := &lineWriter{emit: emit.line("stderr"), tail: stderrTailLines}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	if runErr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && timeout > 0 {
			return fmt.Errorf("%w: timed out after %s: %w", ErrCommandFailed, timeout, ctxErr)
		}
		return ctxErr
	}
	if tail := stderr.Tail(); len(tail) > 0 {
		return fmt.Errorf("%w: %w: %s", ErrCommandFailed, runErr, strings.Join(tail, " | "))
	}
	return fmt.Errorf("%w: %w", ErrCommandFailed, runErr)
}

// outputEmitter stamps node.output events with the executing node.
type outputEmitter struct {
	emit runtime.EventEmitter
	x    runtime.Execution
	node core.Node
}

func newOutputEmitter(ctx context.Context, n core.Node) outputEmitter {
	x, _ := runtime.ExecutionFromContext(ctx)
	return outputEmitter{emit: runtime.EmitterFromContext(ctx), x: x, node: n}
}

func (o outputEmitter) line(stream string) func(string) {
	return func(line string) {
		o.emit(runtime.NewEvent(runtime.EventNodeOutput, o.x.RunID).
			WithNode(o.node.ID(), o.node.Kind()).
			WithAttempt(max(o.x.Attempt, 1)).
			WithPayload("stream", stream).
			WithPayload("line", line))
	}
}

// lineWriter splits written bytes into lines. os/exec writes to each
// writer from a single goroutine, but Tail may be read concurrently.
type lineWriter struct {
	emit func(string)
	tail int

	mu    sync.Mutex
	buf   bytes.Buffer
	lines []string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.push(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits a trailing line without newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.push(w.buf.String())
		w.buf.Reset()
	}
}

// Tail returns the last lines kept for error reporting.
func (w *lineWriter) Tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

func (w *lineWriter) push(line string) {
	if w.emit != nil {
		w.emit(line)
	}
	if w.tail <= 0 {
		return
	}
	w.lines = append(w.lines, line)
	if len(w.lines) > w.tail {
		w.lines = w.lines[len(w.lines)-w.tail:]
	}
}
