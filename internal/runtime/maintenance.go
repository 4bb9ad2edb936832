package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// pruner is the part of the event store maintenance runs against.
type pruner interface {
	Prune(ctx context.Context) error
}

// parseSchedule reads a standard 5-field cron expression. An empty
// expression disables maintenance and returns a nil schedule.
func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance.prune_schedule %q: %w", expr, err)
	}
	return sched, nil
}

// runMaintenance prunes the event store on every tick of sched until ctx is
// done.
func runMaintenance(ctx context.Context, sched cron.Schedule, store pruner, logger *slog.Logger, now func() time.Time) {
	for {
		next := sched.Next(now())
		timer := time.NewTimer(next.Sub(now()))
		logger.Debug("next event store prune", slog.Time("at", next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := store.Prune(ctx); err != nil {
			logger.Warn("event store prune failed", slog.String("error", err.Error()))
		}
	}
}
