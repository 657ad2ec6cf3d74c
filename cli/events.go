package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/workgraph/bus"
	"github.com/petal-labs/workgraph/runtime"
)

// NewEventsCmd creates the "events" subcommand.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <db> [run-id]",
		Short: "Inspect runs recorded in an events database",
		Long:  "Without a run ID, lists the runs stored in the database. With one, prints the run's events in sequence order.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runEvents,
	}
	cmd.Flags().Uint64("after", 0, "Only show events with a sequence number above this")
	cmd.Flags().Int("limit", 0, "Maximum number of events to show (0 = all)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	dbPath := args[0]
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitBadFlags, "unknown format %q (use text or json)", format)
	}
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return exitError(exitFileNotFound, "events database not found: %s", dbPath)
	}

	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: dbPath})
	if err != nil {
		return exitError(exitRunFailed, "opening events database: %v", err)
	}
	defer func() { _ = store.Close() }()

	if len(args) == 1 {
		return listRuns(cmd, store, format)
	}

	after, _ := cmd.Flags().GetUint64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	events, err := store.List(cmd.Context(), args[1], after, limit)
	if err != nil {
		return exitError(exitRunFailed, "listing events: %v", err)
	}
	if len(events) == 0 && after == 0 {
		return exitError(exitValidation, "no events stored for run %s", args[1])
	}
	return printEvents(cmd, events, format)
}

func listRuns(cmd *cobra.Command, store *bus.SQLiteEventStore, format string) error {
	runs, err := store.Summaries(cmd.Context())
	if err != nil {
		return exitError(exitRunFailed, "listing runs: %v", err)
	}
	out := cmd.OutOrStdout()

	if format == "json" {
		type runJSON struct {
			RunID    string    `json:"run_id"`
			Started  time.Time `json:"started"`
			Finished time.Time `json:"finished"`
			Events   int       `json:"events"`
			Status   string    `json:"status"`
		}
		rows := make([]runJSON, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, runJSON(r))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tEVENTS\tSTATUS")
	for _, r := range runs {
		status := r.Status
		if status == "" {
			status = "running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.RunID,
			r.Started.Local().Format(time.DateTime),
			r.Finished.Sub(r.Started).Round(time.Millisecond),
			r.Events,
			status,
		)
	}
	return tw.Flush()
}

func printEvents(cmd *cobra.Command, events []runtime.Event, format string) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		for _, e := range events {
			if err := enc.Encode(toEventJSON(e)); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tNODE\tDETAILS")
	for _, e := range events {
		node := e.NodeID
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Time.Local().Format("15:04:05.000"), e.Kind, node, formatPayload(e.Payload))
	}
	return tw.Flush()
}

// eventJSON is the JSON line written for one event.
type eventJSON struct {
	Kind      string         `json:"kind"`
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id,omitempty"`
	NodeKind  string         `json:"node_kind,omitempty"`
	Time      time.Time      `json:"time"`
	Attempt   int            `json:"attempt"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Payload   map[string]any `json:"payload"`
	Seq       uint64         `json:"seq"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

func toEventJSON(e runtime.Event) eventJSON {
	return eventJSON{
		Kind:      string(e.Kind),
		RunID:     e.RunID,
		NodeID:    e.NodeID,
		NodeKind:  string(e.NodeKind),
		Time:      e.Time,
		Attempt:   e.Attempt,
		ElapsedMs: e.Elapsed.Milliseconds(),
		Payload:   e.Payload,
		Seq:       e.Seq,
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
	}
}

// formatPayload renders a payload as sorted key=value pairs.
func formatPayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " ")
}
