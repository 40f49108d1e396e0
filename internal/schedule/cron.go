package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner triggers sync runs on a cron schedule and blocks until the
// context is cancelled. Overlap protection lives in the run itself (a run
// observed as in-progress is a no-op), so triggers are fired without any
// skipping logic here.
type Runner struct {
	spec   string
	logger *zap.Logger
}

func NewRunner(spec string, logger *zap.Logger) *Runner {
	return &Runner{spec: spec, logger: logger.Named("cron")}
}

// Start registers run under the schedule, fires it once immediately, and
// blocks until ctx is done. In-flight runs are drained before returning.
func (r *Runner) Start(ctx context.Context, run func(context.Context) error) error {
	c := cron.New()
	_, err := c.AddFunc(r.spec, func() {
		if ctx.Err() != nil {
			return
		}
		if err := run(ctx); err != nil {
			r.logger.Error("Scheduled run failed.", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.spec, err)
	}

	r.logger.Info("Starting scheduler.", zap.String("schedule", r.spec))

	// First run immediately; the schedule covers subsequent runs.
	if err := run(ctx); err != nil {
		r.logger.Error("Initial run failed.", zap.Error(err))
	}

	c.Start()
	<-ctx.Done()

	r.logger.Info("Stopping scheduler, draining in-flight run...")
	<-c.Stop().Done()
	return nil
}
