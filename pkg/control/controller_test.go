package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/executor"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/queue"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: map[string]*job.Job{}} }

func (f *fakeStore) Create(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, orcherr.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) Update(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeStore) ListResumable(ctx context.Context, stale time.Time) ([]*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*job.Job
	for _, j := range f.jobs {
		if !j.Status.IsTerminal() && j.UpdatedAt.Before(stale) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeCheckpoints struct {
	mu   sync.Mutex
	rows []artifact.Checkpoint
}

func (f *fakeCheckpoints) Put(ctx context.Context, cp artifact.Checkpoint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.JobID == cp.JobID && existing.Phase == cp.Phase && existing.Index == cp.Index {
			return false, nil
		}
	}
	f.rows = append(f.rows, cp)
	return true, nil
}

func (f *fakeCheckpoints) Get(ctx context.Context, jobID, phaseName string, index int64) (*artifact.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cp := range f.rows {
		if cp.JobID == jobID && cp.Phase == phaseName && cp.Index == index {
			out := cp
			return &out, nil
		}
	}
	return nil, orcherr.ErrJobNotFound
}

func (f *fakeCheckpoints) List(ctx context.Context, jobID string) ([]artifact.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []artifact.Checkpoint
	for _, cp := range f.rows {
		if cp.JobID == jobID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeCheckpoints) ListByPhase(ctx context.Context, jobID, phaseName string) ([]artifact.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []artifact.Checkpoint
	for _, cp := range f.rows {
		if cp.JobID == jobID && cp.Phase == phaseName {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeCheckpoints) DeleteJob(ctx context.Context, jobID string) error { return nil }

type fakeLeases struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLeases() *fakeLeases { return &fakeLeases{held: map[string]string{}} }

func (f *fakeLeases) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.held[resource]; ok && existing != owner {
		return false, nil
	}
	f.held[resource] = owner
	return true, nil
}

func (f *fakeLeases) Release(ctx context.Context, resource, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[resource] == owner {
		delete(f.held, resource)
	}
	return nil
}

type fakeAttempts struct {
	mu    sync.Mutex
	count map[string]int
}

func newFakeAttempts() *fakeAttempts { return &fakeAttempts{count: map[string]int{}} }

func (f *fakeAttempts) IncrementAndGet(ctx context.Context, jobID, phaseName string, index int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := jobID + "/" + phaseName
	f.count[key]++
	return f.count[key], nil
}

func (f *fakeAttempts) Reset(ctx context.Context, jobID, phaseName string, index int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.count, jobID+"/"+phaseName)
	return nil
}

type fakeRunner struct{ payload []byte }

func (r *fakeRunner) Run(ctx context.Context, j *job.Job, spec phase.Spec, index int64, input any) (executor.Result, error) {
	return executor.Result{Payload: r.payload}, nil
}

func buildSingletonRegistry() *phase.Registry {
	return phase.NewWithSpecs([]phase.Spec{
		{
			Name:    phase.Concept,
			Ordinal: 0,
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[phase.Name][]artifact.Checkpoint) (any, error) {
				return map[string]string{"prompt": j.Input.Prompt}, nil
			},
			Timeout:   time.Second,
			CostClass: "text-small",
			Cache:     phase.CacheNone,
			Retry: phase.RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				MaxDelay:    10 * time.Millisecond,
				Classify:    func(err error) orcherr.Kind { return orcherr.Transient },
			},
		},
	})
}

func newTestController(t *testing.T) (*Controller, *fakeStore, queue.Queue) {
	t.Helper()
	reg := buildSingletonRegistry()
	checkpoints := &fakeCheckpoints{}

	ex := &executor.Executor{
		Registry:    reg,
		Checkpoints: checkpoints,
		Cache:       nil,
		Leases:      newFakeLeases(),
		Attempts:    newFakeAttempts(),
		Runners:     map[phase.Name]executor.Runner{phase.Concept: &fakeRunner{payload: []byte(`{"ok":true}`)}},
		LeaseTTL:    time.Minute,
		Owner:       "api-1",
	}

	jobs := newFakeStore()
	q := queue.NewMemoryQueue()

	c := New(jobs, checkpoints, q, scheduler.New(reg), ex, Config{
		TickBudget:        time.Second,
		WriterConcurrency: 2,
		LeaseTTL:          time.Minute,
		ResumeStaleAfter:  time.Minute,
	}, "api-1")
	return c, jobs, q
}

func TestController_CreateEnqueuesAndValidates(t *testing.T) {
	c, jobs, q := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, j.Status)

	stored, err := jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", stored.OwnerID)

	item, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, j.ID, item.JobID)
}

func TestController_CreateRejectsShortPrompt(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Create(context.Background(), "owner-1", job.Input{Prompt: "short"})
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherr.ErrValidationFailed)
}

func TestController_CreateRejectsMissingPaymentRefWhenGateEnabled(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Billing.Enabled = true

	_, err := c.Create(context.Background(), "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherr.ErrValidationFailed)

	j, err := c.Create(context.Background(), "owner-1", job.Input{
		Prompt:     "a lighthouse keeper receives letters",
		PaymentRef: "ref-123",
	})
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, j.Status)
}

func TestController_TickCompletesSingletonJob(t *testing.T) {
	c, jobs, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.NoError(t, err)

	snap, err := c.Tick(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateComplete, snap.Status)
	assert.Equal(t, 100, snap.Progress)

	stored, err := jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateComplete, stored.Status)
}

func TestController_ConcurrentTickLoserObservesSnapshotUnchanged(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.NoError(t, err)

	held, err := c.Executor.Leases.Acquire(ctx, jobLeaseResource(j.ID), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	snap, err := c.Tick(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, snap.Status)
}

func TestController_CancelTransitionsNonTerminalJob(t *testing.T) {
	c, jobs, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, j.ID))

	stored, err := jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, stored.Status)
}

func TestController_CancelRejectsTerminalJob(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, j.ID))

	err = c.Cancel(ctx, j.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherr.ErrJobTerminal)
}

func TestController_ResumeAllReenqueuesStaleUnleasedJobs(t *testing.T) {
	c, jobs, q := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "owner-1", job.Input{Prompt: "a lighthouse keeper receives letters"})
	require.NoError(t, err)

	// Drain the Create-time enqueue so resumeAll's re-enqueue is the only item.
	_, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)

	stale := *jobs.jobs[j.ID]
	stale.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, jobs.Update(ctx, &stale))

	n, err := c.ResumeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, j.ID, item.JobID)
}
