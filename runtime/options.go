package runtime

import (
	"log/slog"
	goruntime "runtime"
	"time"

	"github.com/petal-labs/workgraph/core"
)

const (
	// MaxWorkers caps the size of the worker pool.
	MaxWorkers = 16

	// MaxReportedFailures bounds the failures listed by Result.Err.
	MaxReportedFailures = 10

	// DefaultRetryInterval is how long the coordinator waits before
	// re-dispatching when only suspensions came back and nothing is running.
	DefaultRetryInterval = 10 * time.Millisecond
)

// Filter decides whether a node takes part in a run. Nodes it rejects
// are cancelled before scheduling starts.
type Filter func(core.Node) bool

// Options configures a single Execute call.
type Options struct {
	// Workers is the pool size, clamped to [1, MaxWorkers].
	Workers int

	// ContinueOnFailure keeps scheduling independent work after a failure.
	// When false, the first failure cancels every node that is not must_run.
	ContinueOnFailure bool

	// Filter excludes nodes from the run. Nil includes everything.
	Filter Filter

	// EventBatch is the maximum number of worker events handled per round.
	// Zero means twice the worker count.
	EventBatch int

	// RetryInterval is the back-off used when every dispatched node was
	// suspended and nothing is running.
	RetryInterval time.Duration

	// RunID identifies the run in events. Empty generates one.
	RunID string

	// Leases limits how many workers may execute at once, across every run
	// sharing the registry. Nil creates a registry sized to Workers.
	Leases *LeaseRegistry

	// Locks holds the named resource locks. Nil creates a private registry.
	Locks *ResourceLocks

	// Exclusion decides mutual exclusion and resource locks. Nil uses
	// the node's own CanRunWith and ResourceLock declarations.
	Exclusion ExclusionPolicy

	// EventHandler receives every event emitted during the run.
	EventHandler EventHandler

	// EventEmitterDecorator optionally wraps the run emitter.
	EventEmitterDecorator EventEmitterDecorator

	// EventBus optionally distributes events to subscribers.
	EventBus EventPublisher

	// Logger receives scheduler diagnostics. Nil uses slog.Default.
	Logger *slog.Logger

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// DefaultOptions returns options for a fail-fast run with one worker per
// CPU, up to MaxWorkers.
func DefaultOptions() Options {
	return Options{
		Workers:       min(goruntime.NumCPU(), MaxWorkers),
		RetryInterval: DefaultRetryInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Workers > MaxWorkers {
		o.Workers = MaxWorkers
	}
	if o.EventBatch <= 0 {
		o.EventBatch = 2 * o.Workers
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Leases == nil {
		o.Leases = NewLeaseRegistry(o.Workers)
	}
	if o.Locks == nil {
		o.Locks = NewResourceLocks()
	}
	if o.Exclusion == nil {
		o.Exclusion = NewExclusionPolicy(o.Locks)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
