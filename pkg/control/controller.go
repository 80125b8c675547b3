// Package control implements the Job Controller's operational surface:
// create/tick/status/cancel/resumeAll. It is kept
// separate from pkg/job, which owns only the Job data type and state
// machine, because pkg/phase's input builders take a *job.Job directly
// — anything that depends on the Phase Registry (the Step Executor, the
// Scheduler) therefore depends on pkg/job, and pkg/job cannot import
// back into that subgraph without a compile-time import cycle. This
// mirrors the Worker Loop's own placement in pkg/worker, a sibling
// package to pkg/job for the same reason.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/billing"
	"github.com/inkforge/orchestrator/pkg/executor"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/queue"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

// Store is the persistence surface the Controller reads and writes Job
// rows through, satisfied by (*store.JobsRepo).
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Update(ctx context.Context, j *job.Job) error
	ListResumable(ctx context.Context, stale time.Time) ([]*job.Job, error)
}

// Config bounds one Controller-driven tick: how long a direct,
// HTTP-triggered tick() call may run before handing the rest of the
// plan to the background Worker Loop, and how many phase instances of
// each cost class one scheduling pass within it may take. The
// Controller runs a pass's instances one after another; none run
// concurrently.
type Config struct {
	TickBudget        time.Duration
	WriterConcurrency int
	LeaseTTL          time.Duration
	ResumeStaleAfter  time.Duration
}

// Controller is the Job Controller: the public create/tick/status/
// cancel/resumeAll surface. It shares the Scheduler and Step Executor
// with the Worker Loop but drives
// them synchronously from an HTTP request rather than off a dequeued
// queue item, honoring "at-most-one concurrent tick per job" through the
// same lease the Worker Loop uses.
type Controller struct {
	Jobs        Store
	Checkpoints artifact.Store
	Queue       queue.Queue
	Scheduler   *scheduler.Scheduler
	Executor    *executor.Executor
	Config      Config
	Owner       string
	Validate    *validator.Validate
	Billing     billing.Gate // zero value (disabled) accepts every paymentRef
	Metrics     observability.Recorder

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *Controller) metrics() observability.Recorder {
	if c.Metrics == nil {
		return observability.NoopMetrics{}
	}
	return c.Metrics
}

// New wires a Controller from its collaborators, installing a
// go-playground/validator/v10 instance for Input validation at Create.
func New(jobs Store, checkpoints artifact.Store, q queue.Queue, sched *scheduler.Scheduler, ex *executor.Executor, cfg Config, owner string) *Controller {
	return &Controller{
		Jobs:        jobs,
		Checkpoints: checkpoints,
		Queue:       q,
		Scheduler:   sched,
		Executor:    ex,
		Config:      cfg,
		Owner:       owner,
		Validate:    validator.New(),
		cancels:     make(map[string]context.CancelFunc),
	}
}

func jobLeaseResource(jobID string) string { return "job:" + jobID }

func (c *Controller) leaseTTL() time.Duration {
	if c.Config.LeaseTTL <= 0 {
		return 2 * time.Minute
	}
	return c.Config.LeaseTTL
}

func (c *Controller) writerConcurrency() int {
	if c.Config.WriterConcurrency <= 0 {
		return 3
	}
	return c.Config.WriterConcurrency
}

// Create validates input, writes a queued Job, and enqueues a work item
// for the Worker Loop to pick up. It returns immediately; the job's
// first progress comes from a subsequent Tick call or the background
// worker.
func (c *Controller) Create(ctx context.Context, ownerID string, in job.Input) (*job.Job, error) {
	in.SetDefaults()
	if err := c.Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", orcherr.ErrValidationFailed, err)
	}
	if err := c.Billing.Require(in.PaymentRef); err != nil {
		return nil, fmt.Errorf("%w: paymentRef required", err)
	}

	j := job.New(uuid.New().String(), ownerID, in, time.Now().UTC())
	if err := c.Jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("control: create: %w", err)
	}
	if err := c.Queue.Enqueue(ctx, j.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("control: enqueue: %w", err)
	}
	c.metrics().RecordJobCreated(string(in.Mode))
	return j, nil
}

// Status returns the read-only Snapshot assembled from the Job row
// alone; it performs no scheduling work and takes no lease.
func (c *Controller) Status(ctx context.Context, jobID string) (job.Snapshot, error) {
	j, err := c.Jobs.Get(ctx, jobID)
	if err != nil {
		return job.Snapshot{}, err
	}
	return j.ToSnapshot(), nil
}

// Tick advances jobID by one tick-budget-bounded burst of ready phase
// instances and returns the resulting Snapshot. Two concurrent Tick
// calls for the same job race on the job lease: the
// loser observes the current Snapshot unchanged rather than blocking or
// erroring, satisfying "exactly one acquires the lease and performs
// work; the other observes the current snapshot and returns without
// mutation."
func (c *Controller) Tick(ctx context.Context, jobID string) (job.Snapshot, error) {
	resource := jobLeaseResource(jobID)
	acquired, err := c.Executor.Leases.Acquire(ctx, resource, c.Owner, c.leaseTTL())
	if err != nil {
		return job.Snapshot{}, fmt.Errorf("control: acquire lease: %w", err)
	}
	if !acquired {
		j, err := c.Jobs.Get(ctx, jobID)
		if err != nil {
			return job.Snapshot{}, err
		}
		return j.ToSnapshot(), nil
	}
	defer func() { _ = c.Executor.Leases.Release(ctx, resource, c.Owner) }()

	j, err := c.Jobs.Get(ctx, jobID)
	if err != nil {
		return job.Snapshot{}, err
	}
	if j.Status.IsTerminal() {
		return j.ToSnapshot(), nil
	}

	tickCtx, cancel := context.WithTimeout(ctx, c.tickBudget())
	c.registerCancel(jobID, cancel)
	defer c.unregisterCancel(jobID)
	defer cancel()

	if j.Status == job.StateQueued {
		if err := j.Transition(job.StateRunning, time.Now().UTC()); err != nil {
			return job.Snapshot{}, fmt.Errorf("control: transition to running: %w", err)
		}
	}

	complete, tickErr := c.runTick(tickCtx, j)

	// A Cancel during this tick has already written the terminal row;
	// persisting or re-enqueueing j now would overwrite it.
	if fresh, err := c.Jobs.Get(ctx, jobID); err == nil && fresh.Status == job.StateCancelled {
		return fresh.ToSnapshot(), nil
	}

	now := time.Now().UTC()
	switch {
	case errors.Is(tickErr, context.Canceled) && j.Status == job.StateCancelled:
		// Cancel already transitioned the row; nothing further to do.
	case tickErr != nil && orcherr.KindOf(tickErr).Fatal():
		if err := j.Fail(tickErr, now); err != nil {
			return job.Snapshot{}, fmt.Errorf("control: fail transition: %w", err)
		}
		c.metrics().RecordJobFinished(string(job.StateFailed))
	case complete:
		if err := j.Transition(job.StateComplete, now); err != nil {
			return job.Snapshot{}, fmt.Errorf("control: complete transition: %w", err)
		}
		j.SetProgress(100, "", now)
		c.metrics().RecordJobFinished(string(job.StateComplete))
	default:
		if err := j.Transition(job.StateQueued, now); err != nil {
			return job.Snapshot{}, fmt.Errorf("control: requeue transition: %w", err)
		}
	}

	if err := c.Jobs.Update(ctx, j); err != nil {
		return job.Snapshot{}, fmt.Errorf("control: persist: %w", err)
	}

	if !j.Status.IsTerminal() {
		visibleAt := now
		if tickErr != nil {
			if after := orcherr.RetryAfterOf(tickErr); after > 0 {
				visibleAt = now.Add(after)
			}
		}
		if err := c.Queue.Enqueue(ctx, j.ID, visibleAt); err != nil {
			return job.Snapshot{}, fmt.Errorf("control: re-enqueue: %w", err)
		}
	}

	return j.ToSnapshot(), nil
}

func (c *Controller) tickBudget() time.Duration {
	if c.Config.TickBudget <= 0 {
		return 2 * time.Minute
	}
	return c.Config.TickBudget
}

// runTick runs ready phase instances until the plan completes, the tick
// budget expires, the job is cancelled, or a fatal error surfaces,
// mirroring the Worker Loop's own tick loop (pkg/worker.Worker.tick) —
// the two components drive the same Scheduler/Executor pair from
// different entry points (HTTP request vs. dequeued queue item) and so
// necessarily share this shape.
func (c *Controller) runTick(ctx context.Context, j *job.Job) (complete bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}

		fresh, err := c.Jobs.Get(ctx, j.ID)
		if err == nil && fresh.Status == job.StateCancelled {
			j.Status = job.StateCancelled
			return false, context.Canceled
		}

		checkpoints, err := c.Checkpoints.List(ctx, j.ID)
		if err != nil {
			return false, orcherr.Classify(orcherr.Transient, fmt.Errorf("control: list checkpoints: %w", err))
		}

		slots := map[string]int{"text-small": c.writerConcurrency(), "text-medium": c.writerConcurrency(), "text-large": c.writerConcurrency(), "image": 1}
		ready, done, err := c.Scheduler.Ready(j.CoverStatus == job.CoverFailed, checkpoints, nil, slots)
		if err != nil {
			return false, orcherr.Classify(orcherr.Consistency, err)
		}
		if done {
			return true, nil
		}
		if len(ready) == 0 {
			return false, nil
		}

		outcomes, runErr := c.runBatch(ctx, j, ready)
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

func (c *Controller) runBatch(ctx context.Context, j *job.Job, ready []scheduler.Instance) ([]executor.Outcome, error) {
	outcomes := make([]executor.Outcome, 0, len(ready))
	var firstFatal, firstErr error
	for _, inst := range ready {
		out, err := c.Executor.Execute(ctx, j, inst)
		if err != nil {
			if orcherr.KindOf(err).Fatal() {
				if firstFatal == nil {
					firstFatal = err
				}
				break
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		outcomes = append(outcomes, out)
	}
	if firstFatal != nil {
		return outcomes, firstFatal
	}
	return outcomes, firstErr
}

// Cancel transitions a non-terminal Job to cancelled. A Tick currently
// running for this job in this process is
// canceled immediately via its registered context.CancelFunc; a Tick
// running in another process (the Worker Loop on another host) observes
// the cancellation on its next checkpoint-listing pass and abandons
// further writes without completing the plan.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	j, err := c.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return orcherr.ErrJobTerminal
	}

	now := time.Now().UTC()
	if err := j.Transition(job.StateCancelled, now); err != nil {
		return fmt.Errorf("control: cancel transition: %w", err)
	}
	if err := c.Jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("control: persist cancel: %w", err)
	}
	c.metrics().RecordJobFinished(string(job.StateCancelled))

	if cancel := c.lookupCancel(jobID); cancel != nil {
		cancel()
	}
	return nil
}

// ResumeAll re-enqueues running/queued jobs with no active lease that
// have not progressed past staleAfter, for a process recovering after a
// crash mid-tick.
func (c *Controller) ResumeAll(ctx context.Context) (int, error) {
	staleAfter := c.Config.ResumeStaleAfter
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	stale, err := c.Jobs.ListResumable(ctx, time.Now().UTC().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("control: list resumable: %w", err)
	}

	resumed := 0
	for _, j := range stale {
		resource := jobLeaseResource(j.ID)
		held, err := c.Executor.Leases.Acquire(ctx, resource, c.Owner, time.Second)
		if err != nil {
			continue
		}
		if !held {
			// Another worker already owns the lease; it is active, not
			// actually stale, and resumeAll leaves it alone.
			continue
		}
		_ = c.Executor.Leases.Release(ctx, resource, c.Owner)

		if err := c.Queue.Enqueue(ctx, j.ID, time.Now().UTC()); err != nil {
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (c *Controller) registerCancel(jobID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[jobID] = cancel
}

func (c *Controller) unregisterCancel(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, jobID)
}

func (c *Controller) lookupCancel(jobID string) context.CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels[jobID]
}
