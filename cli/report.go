package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	wgotel "github.com/petal-labs/workgraph/otel"
	"github.com/petal-labs/workgraph/runtime"
)

// runReport is the JSON summary of one run.
type runReport struct {
	RunID     string           `json:"run_id"`
	Status    string           `json:"status"`
	Executed  []string         `json:"executed"`
	Skipped   []string         `json:"skipped"`
	Failures  []string         `json:"failures"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Counters  map[string]int64 `json:"counters,omitempty"`
}

func runStatus(res *runtime.Result) string {
	switch {
	case res.Canceled:
		return "canceled"
	case !res.Succeeded():
		return "failed"
	default:
		return "completed"
	}
}

func (r *runner) report(res *runtime.Result, counters map[string]int64) error {
	out := r.cmd.OutOrStdout()
	if r.s.format == "json" {
		rep := runReport{
			RunID:     res.RunID,
			Status:    runStatus(res),
			Executed:  res.ExecutedIDs(),
			Skipped:   res.SkippedIDs(),
			Failures:  make([]string, 0, len(res.Failures)),
			ElapsedMs: res.Elapsed.Milliseconds(),
			Counters:  counters,
		}
		for _, err := range res.Failures {
			rep.Failures = append(rep.Failures, err.Error())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	if isQuiet(r.cmd) {
		return nil
	}
	writeSummary(out, res, counters)
	return nil
}

func writeSummary(w io.Writer, res *runtime.Result, counters map[string]int64) {
	fmt.Fprintf(w, "\nRun %s %s in %s\n", res.RunID, runStatus(res), res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  executed: %d  skipped: %d  failed: %d",
		len(res.Executed), len(res.Skipped), len(res.Failures))
	if n := counters[wgotel.MetricNodeSuspensions]; n > 0 {
		fmt.Fprintf(w, "  suspended: %d", n)
	}
	if n := counters[wgotel.MetricNodeDeferrals]; n > 0 {
		fmt.Fprintf(w, "  deferred: %d", n)
	}
	fmt.Fprintln(w)
	for i, err := range res.Failures {
		if i == runtime.MaxReportedFailures {
			fmt.Fprintf(w, "  ... and %d more failures\n", len(res.Failures)-i)
			break
		}
		fmt.Fprintf(w, "  FAILED: %v\n", err)
	}
}

// progressPrinter writes one line per node transition. It is fed from a
// single bus subscription, so it needs no locking.
type progressPrinter struct {
	w     io.Writer
	start time.Time
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		p.start = e.Time
		fmt.Fprintf(p.w, "Run %s: graph %v, %v workers\n", e.RunID, e.Payload["graph"], e.Payload["workers"])
	case runtime.EventNodeStarted:
		p.line(e, "started   %s on %v", e.NodeID, e.Payload["worker"])
	case runtime.EventNodeOutput:
		p.line(e, "%s | %v", e.NodeID, e.Payload["line"])
	case runtime.EventNodeFinished:
		p.line(e, "finished  %s (%s)", e.NodeID, e.Elapsed.Round(time.Millisecond))
	case runtime.EventNodeFailed:
		p.line(e, "FAILED    %s: %v", e.NodeID, e.Payload["error"])
	case runtime.EventNodeSkipped:
		p.line(e, "skipped   %s (%v)", e.NodeID, e.Payload["state"])
	case runtime.EventCycleBroken:
		p.line(e, "removed %v edge %v -> %v to break a cycle", e.Payload["type"], e.Payload["source"], e.Payload["target"])
	case runtime.EventRunCanceled:
		p.line(e, "run canceled")
	}
}

func (p *progressPrinter) line(e runtime.Event, format string, args ...any) {
	var offset time.Duration
	if !p.start.IsZero() {
		offset = e.Time.Sub(p.start)
	}
	fmt.Fprintf(p.w, "[%8.3fs] %s\n", offset.Seconds(), fmt.Sprintf(format, args...))
}
