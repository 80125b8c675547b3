package worker

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

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]*job.Job{}} }

func (f *fakeJobs) Get(ctx context.Context, id string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, orcherr.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Update(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
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

func (f *fakeCheckpoints) Get(ctx context.Context, jobID, phase string, index int64) (*artifact.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cp := range f.rows {
		if cp.JobID == jobID && cp.Phase == phase && cp.Index == index {
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

func (f *fakeCheckpoints) ListByPhase(ctx context.Context, jobID, phase string) ([]artifact.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []artifact.Checkpoint
	for _, cp := range f.rows {
		if cp.JobID == jobID && cp.Phase == phase {
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

func (f *fakeAttempts) IncrementAndGet(ctx context.Context, jobID, phase string, index int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := jobID + "/" + phase
	f.count[key]++
	return f.count[key], nil
}

func (f *fakeAttempts) Reset(ctx context.Context, jobID, phase string, index int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.count, jobID+"/"+phase)
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

func newTestWorker(t *testing.T) (*Worker, *fakeJobs, queue.Queue) {
	t.Helper()
	reg := buildSingletonRegistry()
	checkpoints := &fakeCheckpoints{}
	leases := newFakeLeases()

	ex := &executor.Executor{
		Registry:    reg,
		Checkpoints: checkpoints,
		Cache:       nil,
		Leases:      leases,
		Attempts:    newFakeAttempts(),
		Runners:     map[phase.Name]executor.Runner{phase.Concept: &fakeRunner{payload: []byte(`{"ok":true}`)}},
		LeaseTTL:    time.Minute,
		Owner:       "worker-1",
	}

	jobs := newFakeJobs()
	q := queue.NewMemoryQueue()

	w := &Worker{
		Queue:       q,
		Jobs:        jobs,
		Checkpoints: checkpoints,
		Scheduler:   scheduler.New(reg),
		Executor:    ex,
		Config: Config{
			TickBudget:        time.Second,
			VisibilityTimeout: time.Minute,
			WriterConcurrency: 2,
			JobLeaseTTL:       time.Minute,
		},
		Owner: "worker-1",
	}
	return w, jobs, q
}

func TestWorker_ProcessItem_CompletesSingletonJob(t *testing.T) {
	w, jobs, q := newTestWorker(t)
	ctx := context.Background()

	j := job.New("job-1", "owner-1", job.Input{Prompt: "a prompt long enough"}, time.Now())
	require.NoError(t, jobs.Update(ctx, j))
	require.NoError(t, q.Enqueue(ctx, j.ID, time.Now()))

	item, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)

	require.NoError(t, w.processItem(ctx, item))

	stored, err := jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateComplete, stored.Status)
	assert.Equal(t, 100, stored.Progress)
}

func TestWorker_ProcessItem_SkipsJobHeldByAnotherWorker(t *testing.T) {
	w, jobs, q := newTestWorker(t)
	ctx := context.Background()

	j := job.New("job-1", "owner-1", job.Input{Prompt: "a prompt long enough"}, time.Now())
	require.NoError(t, jobs.Update(ctx, j))
	require.NoError(t, q.Enqueue(ctx, j.ID, time.Now()))

	_, err := w.Executor.Leases.Acquire(ctx, jobLeaseResource(j.ID), "someone-else", time.Minute)
	require.NoError(t, err)

	item, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, w.processItem(ctx, item))

	stored, err := jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, stored.Status, "job untouched while another worker holds its lease")
}
