package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/control"
	"github.com/inkforge/orchestrator/pkg/executor"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/manuscript"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/queue"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]*job.Job{}} }

func (m *memJobs) Create(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobs) Get(ctx context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, orcherr.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) Update(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobs) ListResumable(ctx context.Context, stale time.Time) ([]*job.Job, error) {
	return nil, nil
}

func (m *memJobs) GetByShareToken(ctx context.Context, token string) (*job.Job, error) {
	return nil, orcherr.ErrJobNotFound
}

type memCheckpoints struct{}

func (memCheckpoints) Put(ctx context.Context, cp artifact.Checkpoint) (bool, error) { return true, nil }
func (memCheckpoints) Get(ctx context.Context, jobID, phaseName string, index int64) (*artifact.Checkpoint, error) {
	return nil, orcherr.ErrJobNotFound
}
func (memCheckpoints) List(ctx context.Context, jobID string) ([]artifact.Checkpoint, error) {
	return nil, nil
}
func (memCheckpoints) ListByPhase(ctx context.Context, jobID, phaseName string) ([]artifact.Checkpoint, error) {
	return nil, nil
}
func (memCheckpoints) DeleteJob(ctx context.Context, jobID string) error { return nil }

type memLeases struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *memLeases) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if existing, ok := l.held[resource]; ok && existing != owner {
		return false, nil
	}
	l.held[resource] = owner
	return true, nil
}

func (l *memLeases) Release(ctx context.Context, resource, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[resource] == owner {
		delete(l.held, resource)
	}
	return nil
}

type memAttempts struct{}

func (memAttempts) IncrementAndGet(ctx context.Context, jobID, phaseName string, index int64) (int, error) {
	return 1, nil
}
func (memAttempts) Reset(ctx context.Context, jobID, phaseName string, index int64) error { return nil }

type memManuscripts struct{}

func (memManuscripts) Get(ctx context.Context, jobID string) (*manuscript.Manuscript, error) {
	return &manuscript.Manuscript{JobID: jobID, Title: "Good Boy"}, nil
}

func newTestServer(t *testing.T) (*Server, *memJobs) {
	t.Helper()
	reg := phase.NewWithSpecs([]phase.Spec{
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

	ex := &executor.Executor{
		Registry:    reg,
		Checkpoints: memCheckpoints{},
		Leases:      &memLeases{},
		Attempts:    memAttempts{},
		Runners:     map[phase.Name]executor.Runner{},
		LeaseTTL:    time.Minute,
		Owner:       "api-1",
	}

	jobs := newMemJobs()
	c := control.New(jobs, memCheckpoints{}, queue.NewMemoryQueue(), scheduler.New(reg), ex, control.Config{
		TickBudget: time.Second,
	}, "api-1")

	cfg := config.ServerConfig{AuthDisabled: true}
	srv, err := New(Options{
		Config:      cfg,
		Controller:  c,
		Manuscripts: memManuscripts{},
		Checkpoints: memCheckpoints{},
	})
	require.NoError(t, err)
	return srv, jobs
}

func TestServer_CreateAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(createRequest{Prompt: "a lighthouse keeper receives letters"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("X-Debug-Owner", "owner-1")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.JobID)

	statusReq := httptest.NewRequest(http.MethodGet, "/jobs/"+created.JobID, nil)
	statusRec := httptest.NewRecorder()
	srv.router.ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var snap job.Snapshot
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &snap))
	assert.Equal(t, created.JobID, snap.JobID)
	assert.Equal(t, job.StateQueued, snap.Status)
}

func TestServer_HealthzAndSchema(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schema", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StatusUnknownJobReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
