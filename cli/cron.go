package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard five-field expressions and descriptors
// such as @hourly or @every 10m.
var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

func parseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// schedule runs the graph on every tick of the cron schedule until ctx is
// done. A tick that arrives while the previous run is still going is
// skipped. Failed runs are logged and do not stop the schedule.
func (r *runner) schedule(ctx context.Context) error {
	schedule, err := parseSchedule(r.s.cron)
	if err != nil {
		return exitError(exitBadFlags, "--cron: %v", err)
	}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	runs := 0
	c.Schedule(schedule, cron.FuncJob(func() {
		runs++
		r.logger.Info("scheduled run starting", "run", runs, "schedule", r.s.cron)
		if err := r.runOnce(ctx); err != nil {
			var exitErr *ExitError
			if errors.As(err, &exitErr) && exitErr.Code == exitInterrupted {
				return
			}
			r.logger.Error("scheduled run failed", "run", runs, "error", err)
		}
	}))

	r.logger.Info("waiting for schedule", "schedule", r.s.cron, "next", schedule.Next(time.Now()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("schedule stopped", "runs", runs)
	return nil
}
