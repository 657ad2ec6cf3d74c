package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/workgraph/bus"
	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/graph"
	"github.com/petal-labs/workgraph/loader"
	"github.com/petal-labs/workgraph/nodes"
	wgotel "github.com/petal-labs/workgraph/otel"
	"github.com/petal-labs/workgraph/runtime"
)

// busBufferSize is the per-subscriber buffer of the run's event bus.
const busBufferSize = 4096

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a graph definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().Int("workers", 0, "Number of workers (default: number of CPUs, at most 16)")
	cmd.Flags().Bool("continue", false, "Keep running independent nodes after a failure")
	cmd.Flags().StringArray("entry", nil, "Entry node ID (repeatable, default: the definition's entry)")
	cmd.Flags().StringArray("exclude", nil, "Exclude a node from the run (repeatable)")
	cmd.Flags().Int("event-batch", 0, "Maximum completion events handled per scheduling round")
	cmd.Flags().Duration("timeout", 0, "Abort the run after this long (0 = no timeout)")
	cmd.Flags().String("events-db", "", "Record events in this SQLite database")
	cmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("dry-run", false, "Validate and resolve the run without executing")
	cmd.Flags().String("cron", "", "Re-run on this cron schedule until interrupted")

	return cmd
}

// runSettings is the effective run configuration after merging the config
// file and flags.
type runSettings struct {
	workers           int
	continueOnFailure bool
	eventBatch        int
	eventsDB          string
	otlpEndpoint      string
	retention         RetentionConfig

	entry   []string
	exclude []string
	timeout time.Duration
	format  string
	dryRun  bool
	cron    string
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	s, err := runSettingsFrom(cmd, cfg)
	if err != nil {
		return err
	}

	gd, err := loadDefinition(cmd, args[0])
	if err != nil {
		return err
	}
	if err := checkNodeIDs(gd, "--entry", s.entry); err != nil {
		return err
	}
	if err := checkNodeIDs(gd, "--exclude", s.exclude); err != nil {
		return err
	}

	if s.dryRun {
		return printPlan(cmd, gd, s)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{cmd: cmd, gd: gd, s: s, logger: logger}

	if s.eventsDB != "" {
		r.store, err = bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
			DSN:            s.eventsDB,
			RetentionAge:   s.retention.MaxAge,
			RetentionCount: s.retention.MaxEvents,
		})
		if err != nil {
			return exitError(exitRunFailed, "opening events database: %v", err)
		}
		defer func() { _ = r.store.Close() }()
	}

	r.otel, err = wgotel.Setup(ctx, wgotel.Config{Endpoint: s.otlpEndpoint})
	if err != nil {
		return exitError(exitBadFlags, "setting up telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.otel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if s.cron != "" {
		return r.schedule(ctx)
	}
	return r.runOnce(ctx)
}

func runSettingsFrom(cmd *cobra.Command, cfg Config) (runSettings, error) {
	flags := cmd.Flags()
	s := runSettings{
		workers:           cfg.Workers,
		continueOnFailure: cfg.ContinueOnFailure,
		eventBatch:        cfg.EventBatch,
		eventsDB:          cfg.EventsDB,
		otlpEndpoint:      cfg.OTLPEndpoint,
		retention:         cfg.Retention,
	}
	if flags.Changed("workers") {
		s.workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("continue") {
		s.continueOnFailure, _ = flags.GetBool("continue")
	}
	if flags.Changed("event-batch") {
		s.eventBatch, _ = flags.GetInt("event-batch")
	}
	if flags.Changed("events-db") {
		s.eventsDB, _ = flags.GetString("events-db")
	}
	if flags.Changed("otlp-endpoint") {
		s.otlpEndpoint, _ = flags.GetString("otlp-endpoint")
	}
	s.entry, _ = flags.GetStringArray("entry")
	s.exclude, _ = flags.GetStringArray("exclude")
	s.timeout, _ = flags.GetDuration("timeout")
	s.format, _ = flags.GetString("format")
	s.dryRun, _ = flags.GetBool("dry-run")
	s.cron, _ = flags.GetString("cron")

	switch {
	case s.workers < 0 || s.workers > runtime.MaxWorkers:
		return s, exitError(exitBadFlags, "--workers must be between 1 and %d", runtime.MaxWorkers)
	case s.eventBatch < 0:
		return s, exitError(exitBadFlags, "--event-batch must not be negative")
	case s.timeout < 0:
		return s, exitError(exitBadFlags, "--timeout must not be negative")
	case s.format != "text" && s.format != "json":
		return s, exitError(exitBadFlags, "unknown format %q (use text or json)", s.format)
	}
	if s.cron != "" {
		if _, err := parseSchedule(s.cron); err != nil {
			return s, exitError(exitBadFlags, "--cron: %v", err)
		}
	}
	return s, nil
}

func loadDefinition(cmd *cobra.Command, filePath string) (*graph.GraphDefinition, error) {
	gd, err := loader.Load(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
			return nil, exitError(exitValidation, "validation failed")
		}
		return nil, exitError(exitValidation, "%v", err)
	}
	return gd, nil
}

func checkNodeIDs(gd *graph.GraphDefinition, flag string, ids []string) error {
	for _, id := range ids {
		if !slices.ContainsFunc(gd.Nodes, func(n graph.NodeDef) bool { return n.ID == id }) {
			return exitError(exitBadFlags, "%s: graph %q has no node %q", flag, gd.ID, id)
		}
	}
	return nil
}

func printPlan(cmd *cobra.Command, gd *graph.GraphDefinition, s runSettings) error {
	entry := s.entry
	if len(entry) == 0 {
		entry = gd.Entry
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Graph %q: %d nodes, %d edges\n", gd.ID, len(gd.Nodes), len(gd.Edges))
	if len(entry) == 0 {
		fmt.Fprintln(out, "Entry: all nodes")
	} else {
		fmt.Fprintf(out, "Entry: %s\n", strings.Join(entry, ", "))
	}
	if len(s.exclude) > 0 {
		fmt.Fprintf(out, "Excluded: %s\n", strings.Join(s.exclude, ", "))
	}
	fmt.Fprintln(out, "Dry run, nothing executed.")
	return nil
}

// runner executes one loaded definition, possibly many times.
type runner struct {
	cmd    *cobra.Command
	gd     *graph.GraphDefinition
	s      runSettings
	logger *slog.Logger
	store  *bus.SQLiteEventStore
	otel   *wgotel.Provider

	// counters as of the previous run, so reports show per-run deltas.
	counters map[string]int64
}

// runOnce builds a fresh graph and executes it.
func (r *runner) runOnce(ctx context.Context) error {
	g, entry, err := r.gd.Build()
	if err != nil {
		return exitError(exitValidation, "building graph: %v", err)
	}
	if len(r.s.entry) > 0 {
		entry = entry[:0]
		for _, id := range r.s.entry {
			n, _ := g.Node(id)
			entry = append(entry, n)
		}
	}

	runCtx := ctx
	if r.s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.s.timeout)
		defer cancel()
	}

	events := bus.NewMemBus(bus.MemBusConfig{SubscriberBufferSize: busBufferSize})
	var wg sync.WaitGroup
	drain := func(handle runtime.EventHandler) {
		sub := events.SubscribeAll()
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Drain(context.Background(), sub, handle)
		}()
	}
	if r.s.format == "text" && !isQuiet(r.cmd) {
		drain(newProgressPrinter(r.cmd.OutOrStdout()).Handle)
	}
	var recorder *bus.StoreSubscriber
	if r.store != nil {
		recorder = bus.NewStoreSubscriber(r.store, r.logger)
		drain(recorder.Handle)
	}

	throttle, stopThrottle := bus.Decorator(bus.ThrottleConfig{})

	opts := runtime.DefaultOptions()
	if r.s.workers > 0 {
		opts.Workers = r.s.workers
	}
	opts.ContinueOnFailure = r.s.continueOnFailure
	opts.EventBatch = r.s.eventBatch
	opts.Filter = excludeFilter(r.s.exclude)
	opts.EventBus = events
	opts.EventHandler = r.otel.Handler()
	opts.EventEmitterDecorator = runtime.ChainEmitterDecorators(r.otel.Decorator(), throttle)
	opts.Logger = r.logger

	res, execErr := runtime.NewScheduler(nodes.NewExecutor()).Execute(runCtx, g, entry, opts)

	stopThrottle()
	_ = events.Close()
	wg.Wait()
	if n := events.Dropped(); n > 0 {
		r.logger.Warn("progress events dropped", "count", n)
	}
	if recorder != nil && recorder.Failed() > 0 {
		r.logger.Warn("events not recorded", "count", recorder.Failed(), "db", r.s.eventsDB)
	}

	if res != nil {
		if err := r.report(res, r.counterDelta()); err != nil {
			return err
		}
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return exitError(exitTimeout, "run timed out after %s", r.s.timeout)
	case ctx.Err() != nil:
		return exitError(exitInterrupted, "run interrupted")
	case execErr != nil:
		return exitError(exitRunFailed, "run failed: %v", execErr)
	case !res.Succeeded():
		return exitError(exitRunFailed, "%d %s failed", len(res.Failures), pluralize("node", len(res.Failures)))
	}
	return nil
}

func excludeFilter(exclude []string) runtime.Filter {
	if len(exclude) == 0 {
		return nil
	}
	return func(n core.Node) bool {
		return !slices.Contains(exclude, n.ID())
	}
}

// counterDelta returns the telemetry counters accumulated since the
// previous call.
func (r *runner) counterDelta() map[string]int64 {
	cur, err := r.otel.Counters(context.Background())
	if err != nil {
		r.logger.Debug("collecting counters failed", "error", err)
		return nil
	}
	delta := make(map[string]int64, len(cur))
	for name, v := range cur {
		delta[name] = v - r.counters[name]
	}
	r.counters = cur
	return delta
}
