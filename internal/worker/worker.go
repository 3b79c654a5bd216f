// Package worker runs background fetch jobs pulled from the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/metrics"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Runner executes one job.
type Runner interface {
	Run(ctx context.Context, job tracker.FetchJob) error
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single job; zero means no limit beyond ctx.
	JobTimeout time.Duration
}

// Worker pulls jobs off a queue and hands them to a Runner one at a time.
type Worker struct {
	queue  tracker.JobQueue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue tracker.JobQueue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, runner: runner, cfg: cfg, logger: logger}
}

// Run blocks until ctx ends or the queue is closed and empty.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, tracker.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job tracker.FetchJob) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("link_id", job.LinkID))
	if w.runner == nil {
		logger.Error("no runner configured")
		return
	}
	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := w.runSafely(jobCtx, job); err != nil {
		logger.Warn("fetch job failed", zap.Duration("dur", time.Since(start)), zap.Error(err))
		return
	}
	logger.Debug("fetch job finished", zap.Duration("dur", time.Since(start)))
}

func (w *Worker) runSafely(ctx context.Context, job tracker.FetchJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveJob("panic")
			err = fmt.Errorf("fetch job panic: %v", r)
		}
	}()
	return w.runner.Run(ctx, job)
}
