// Package dispatcher fans fetch jobs out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
	"github.com/JakeFAU/gsc-tracker/internal/worker"
)

// Dispatcher owns the job queue and the workers draining it.
type Dispatcher struct {
	queue   tracker.JobQueue
	workers []*worker.Worker
	ids     tracker.IDGenerator
	clock   tracker.Clock
	logger  *zap.Logger
}

var _ tracker.JobSubmitter = (*Dispatcher)(nil)

// New builds a Dispatcher. ids and clock stamp jobs that arrive without an
// id or submission time; either may be nil.
func New(
	queue tracker.JobQueue,
	workers []*worker.Worker,
	ids tracker.IDGenerator,
	clock tracker.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, workers: workers, ids: ids, clock: clock, logger: logger}
}

// Run starts every worker and blocks until all of them have returned, which
// happens when ctx ends or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	d.logger.Info("fetch workers started", zap.Int("workers", len(d.workers)))
	wg.Wait()
	d.logger.Info("fetch workers stopped")
}

// Enqueue stamps and queues a job.
func (d *Dispatcher) Enqueue(ctx context.Context, job tracker.FetchJob) error {
	if job.ID == "" && d.ids != nil {
		id, err := d.ids.NewID()
		if err != nil {
			return fmt.Errorf("job id: %w", err)
		}
		job.ID = id
	}
	if job.Submitted.IsZero() && d.clock != nil {
		job.Submitted = d.clock.Now()
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("fetch job queued",
		zap.String("job_id", job.ID),
		zap.String("link_id", job.LinkID),
		zap.String("reason", job.Reason),
	)
	return nil
}

// Close stops intake; workers finish what is buffered.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
