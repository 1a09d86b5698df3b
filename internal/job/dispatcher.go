package job

import (
	"context"
	"time"

	"foxchat/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Dispatcher runs response jobs off the fanout loop with a bounded level of
// concurrency. Dispatch is fire-and-forget: the triggering handler never
// waits, and a job that outlives its triggering connection still completes.
type Dispatcher struct {
	runner *Runner
	sem    *semaphore.Weighted
	max    int64
}

func NewDispatcher(runner *Runner, maxConcurrent int64) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Dispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(maxConcurrent),
		max:    maxConcurrent,
	}
}

// Dispatch schedules a job for (roomID, triggerID). If all workers are busy
// the job waits for a slot; it is never dropped and never blocks the caller.
func (d *Dispatcher) Dispatch(roomID, triggerID uuid.UUID) {
	go func() {
		ctx := context.Background()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			logger.Error("Failed to acquire job slot for room %s: %v", roomID, err)
			return
		}
		defer d.sem.Release(1)

		if err := d.runner.Run(ctx, roomID, triggerID); err != nil {
			logger.Error("Response job failed: %v", err)
		}
	}()
}

// Drain blocks until all in-flight jobs finish or the timeout elapses.
func (d *Dispatcher) Drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, d.max); err != nil {
		return err
	}
	d.sem.Release(d.max)
	return nil
}
