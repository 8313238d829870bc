// Package scheduler runs a job at start-up and then on a cron schedule,
// never overlapping two executions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// stopTimeout bounds how long Run waits for an in-flight job after ctx ends.
const stopTimeout = 30 * time.Second

type Job func(ctx context.Context)

// Parse validates a standard five-field spec or a descriptor such as @every 1h.
func Parse(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run executes job immediately and then whenever spec fires, until ctx is
// done. A tick that arrives while the previous execution is still running is
// skipped.
func Run(ctx context.Context, spec string, logger *slog.Logger, job Job) error {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := Parse(spec)
	if err != nil {
		return err
	}

	cl := cronLogger{logger: logger.With("component", "cron")}
	wrapped := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { job(ctx) }))

	c := cron.New(cron.WithLogger(cl))
	c.Schedule(schedule, wrapped)
	c.Start()
	logger.Info("scheduler started", "schedule", spec, "next", schedule.Next(time.Now()))

	startup := make(chan struct{})
	go func() {
		defer close(startup)
		wrapped.Run()
	}()

	<-ctx.Done()
	stopped := c.Stop()
	deadline := time.After(stopTimeout)
	for _, done := range []<-chan struct{}{stopped.Done(), startup} {
		select {
		case <-done:
		case <-deadline:
			logger.Warn("scheduler stop timed out")
			return ctx.Err()
		}
	}
	logger.Info("scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
