package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petal-labs/workgraph/core"
)

// ErrFailNode is wrapped by every error a fail node returns.
var ErrFailNode = errors.New("fail node")

func runNoop(ctx context.Context, _ core.Node) error {
	return ctx.Err()
}

// runSleep waits for the configured duration or until ctx is done.
func runSleep(ctx context.Context, n core.Node) error {
	d, err := durationConfig(configOf(n), "duration")
	if err != nil {
		return err
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runFail(_ context.Context, n core.Node) error {
	msg, err := stringConfig(configOf(n), "message")
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "failed on purpose"
	}
	return fmt.Errorf("%w: %s", ErrFailNode, msg)
}
