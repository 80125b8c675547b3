// Package worker implements the Worker Loop: dequeues a job, runs one
// tick-bounded burst of ready phase instances through the Step Executor
// with bounded fan-out over an errgroup, and re-enqueues non-terminal
// jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/executor"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/progress"
	"github.com/inkforge/orchestrator/pkg/queue"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

// Jobs is the persistence surface the Worker Loop reads and writes Job
// rows through, satisfied by (*store.JobsRepo).
type Jobs interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Update(ctx context.Context, j *job.Job) error
}

// Config bounds one worker's tick: how long a burst may run and how
// many phase instances of each cost class may execute concurrently.
type Config struct {
	TickBudget        time.Duration
	VisibilityTimeout time.Duration
	WriterConcurrency int
	JobLeaseTTL       time.Duration
	QueueBackend      string // labels the queue-depth gauge
}

// Worker drains queue.Queue, running one bounded tick per dequeued job.
type Worker struct {
	Queue       queue.Queue
	Jobs        Jobs
	Checkpoints artifact.Store
	Scheduler   *scheduler.Scheduler
	Executor    *executor.Executor
	Config      Config
	Owner       string
	Metrics     observability.Recorder
}

func (w *Worker) metrics() observability.Recorder {
	if w.Metrics == nil {
		return observability.NoopMetrics{}
	}
	return w.Metrics
}

func jobLeaseResource(jobID string) string { return "job:" + jobID }

// Loop drains the queue until ctx is canceled, running one tick per
// dequeued item.
func (w *Worker) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := w.Queue.Dequeue(ctx, w.Config.VisibilityTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if err != nil {
			slog.Error("worker: dequeue failed", "err", err)
			continue
		}

		w.metrics().RecordWorkerTick(w.Owner)
		if depth, err := w.Queue.Depth(ctx); err == nil {
			w.metrics().SetQueueDepth(w.queueBackendLabel(), depth)
		}
		if err := w.processItem(ctx, item); err != nil {
			slog.Error("worker: process item failed", "job_id", item.JobID, "err", err)
		}
	}
}

func (w *Worker) queueBackendLabel() string {
	if w.Config.QueueBackend == "" {
		return "unknown"
	}
	return w.Config.QueueBackend
}

func (w *Worker) processItem(ctx context.Context, item *queue.Item) error {
	resource := jobLeaseResource(item.JobID)
	ttl := w.Config.JobLeaseTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	acquired, err := w.Executor.Leases.Acquire(ctx, resource, w.Owner, ttl)
	if err != nil {
		return fmt.Errorf("worker: acquire job lease: %w", err)
	}
	if !acquired {
		// Another worker already has this job; leave it in flight and
		// move on. Its visibility timeout will expire independently.
		return nil
	}
	defer func() {
		if err := w.Executor.Leases.Release(ctx, resource, w.Owner); err != nil {
			slog.Warn("worker: release job lease failed", "resource", resource, "err", err)
		}
	}()

	j, err := w.Jobs.Get(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, orcherr.ErrJobNotFound) {
			return w.Queue.Ack(ctx, item.ID)
		}
		return fmt.Errorf("worker: load job: %w", err)
	}
	if j.Status.IsTerminal() {
		return w.Queue.Ack(ctx, item.ID)
	}

	if j.Status == job.StateQueued {
		if err := j.Transition(job.StateRunning, time.Now().UTC()); err != nil {
			return fmt.Errorf("worker: transition to running: %w", err)
		}
		if err := w.Jobs.Update(ctx, j); err != nil {
			return fmt.Errorf("worker: persist running transition: %w", err)
		}
	}

	complete, tickErr := w.tick(ctx, j)

	now := time.Now().UTC()
	switch {
	case tickErr != nil && orcherr.KindOf(tickErr).Fatal():
		if err := j.Fail(tickErr, now); err != nil {
			slog.Warn("worker: fail transition rejected", "job_id", j.ID, "err", err)
		}
	case complete:
		if err := j.Transition(job.StateComplete, now); err != nil {
			slog.Warn("worker: complete transition rejected", "job_id", j.ID, "err", err)
		}
		j.SetProgress(100, "", now)
	default:
		// Non-fatal: tick budget ran out, or a transient failure left
		// work remaining. Drop back to queued and re-enqueue.
		if err := j.Transition(job.StateQueued, now); err != nil {
			slog.Warn("worker: requeue transition rejected", "job_id", j.ID, "err", err)
		}
	}

	if err := w.Jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("worker: persist job: %w", err)
	}

	if j.Status.IsTerminal() {
		return w.Queue.Ack(ctx, item.ID)
	}

	visibleAt := now
	if tickErr != nil {
		if after := orcherr.RetryAfterOf(tickErr); after > 0 {
			visibleAt = now.Add(after)
		}
	}
	if err := w.Queue.Enqueue(ctx, j.ID, visibleAt); err != nil {
		return fmt.Errorf("worker: re-enqueue: %w", err)
	}
	return w.Queue.Ack(ctx, item.ID)
}

// tick runs ready phase instances until the plan completes, the tick
// budget expires, or a fatal error surfaces. It returns complete=true
// only when the Scheduler reports every plan instance Done.
func (w *Worker) tick(ctx context.Context, j *job.Job) (complete bool, err error) {
	deadline := time.Now().Add(w.Config.TickBudget)
	tickCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		if time.Now().After(deadline) {
			return false, nil
		}

		// A Cancel issued elsewhere has already written the terminal row;
		// adopt it and stop, so no further phase runs and processItem
		// persists no transition over it.
		if fresh, err := w.Jobs.Get(tickCtx, j.ID); err == nil && fresh.Status == job.StateCancelled {
			*j = *fresh
			return false, nil
		}

		checkpoints, err := w.Checkpoints.List(tickCtx, j.ID)
		if err != nil {
			return false, orcherr.Classify(orcherr.Transient, fmt.Errorf("worker: list checkpoints: %w", err))
		}

		slots := map[string]int{"text-small": w.writerConcurrency(), "text-medium": w.writerConcurrency(), "text-large": w.writerConcurrency(), "image": 1}
		ready, done, err := w.Scheduler.Ready(j.CoverStatus == job.CoverFailed, checkpoints, nil, slots)
		if err != nil {
			return false, orcherr.Classify(orcherr.Consistency, err)
		}
		if done {
			w.reportProgress(j, checkpoints, nil)
			return true, nil
		}
		if len(ready) == 0 {
			return false, nil
		}

		w.reportProgress(j, checkpoints, &ready[0])

		outcomes, runErr := w.runBatch(tickCtx, j, ready)
		for _, out := range outcomes {
			if out.CoverFailed {
				j.CoverStatus = job.CoverFailed
			}
		}
		if runErr != nil {
			return false, runErr
		}
	}
}

func (w *Worker) writerConcurrency() int {
	if w.Config.WriterConcurrency <= 0 {
		return 3
	}
	return w.Config.WriterConcurrency
}

// runBatch executes every ready instance concurrently, bounded by
// WriterConcurrency, stopping at the first fatal error (a Transient
// failure on one instance does not cancel its siblings' in-flight
// work, but does surface once the batch finishes so the tick ends and
// the job requeues).
func (w *Worker) runBatch(ctx context.Context, j *job.Job, ready []scheduler.Instance) ([]executor.Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.writerConcurrency())

	outcomes := make([]executor.Outcome, len(ready))
	var mu sync.Mutex
	var firstErr, firstFatal error

	for i, inst := range ready {
		i, inst := i, inst
		g.Go(func() error {
			out, err := w.Executor.Execute(gctx, j, inst)
			if err != nil {
				mu.Lock()
				if orcherr.KindOf(err).Fatal() {
					if firstFatal == nil {
						firstFatal = err
					}
				} else if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				if orcherr.KindOf(err).Fatal() {
					return err
				}
				return nil
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, firstFatal
	}
	return outcomes, firstErr
}

func (w *Worker) reportProgress(j *job.Job, checkpoints []artifact.Checkpoint, next *scheduler.Instance) {
	report := progress.Compute(j, checkpoints, next)
	label := ""
	if next != nil {
		label = report.Label
	}
	j.SetProgress(report.Percent, label, time.Now().UTC())
}
