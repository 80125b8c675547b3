// Package executor implements the Step Executor: the eight-step
// contract for turning one ready phase instance into a persisted
// Checkpoint, or a classified failure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/cache"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

// Leases is the advisory-flag surface the Executor takes before running
// a step, satisfied by (*store.LeasesRepo).
type Leases interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, owner string) error
}

// Attempts is the durable per-instance retry counter, satisfied by
// (*store.StepAttemptsRepo). It survives a crash mid-attempt: a crash
// counts as one attempt on the next observation.
type Attempts interface {
	IncrementAndGet(ctx context.Context, jobID, phase string, index int64) (int, error)
	Reset(ctx context.Context, jobID, phase string, index int64) error
}

// Executor runs one phase instance to completion against a Registry of
// Runners, one per phase.Name.
type Executor struct {
	Registry    *phase.Registry
	Checkpoints artifact.Store
	Cache       cache.Store
	Leases      Leases
	Attempts    Attempts
	Runners     map[phase.Name]Runner
	LeaseTTL    time.Duration
	Owner       string // this worker's identity, for lease ownership
	Metrics     observability.Recorder
}

func (e *Executor) metrics() observability.Recorder {
	if e.Metrics == nil {
		return observability.NoopMetrics{}
	}
	return e.Metrics
}

// Outcome reports what happened to one instance, for the Worker Loop to
// fold into the Job's progress and to decide whether to keep ticking.
type Outcome struct {
	Instance    scheduler.Instance
	Checkpoint  *artifact.Checkpoint // nil only on CoverFailed; a cache hit carries the existing or newly written checkpoint
	CacheHit    bool
	CoverFailed bool // true iff this was the cover phase and its retry cap was exhausted; not fatal
}

// Execute runs the full eight-step contract for one ready instance.
// A non-nil, non-fatal error means the instance should be retried on a
// future tick (possibly after RetryAfter); a fatal error (orcherr.Kind
// .Fatal()) should propagate to fail the whole Job.
func (e *Executor) Execute(ctx context.Context, j *job.Job, inst scheduler.Instance) (Outcome, error) {
	spec, ok := e.Registry.Get(inst.Phase)
	if !ok {
		return Outcome{}, orcherr.Classify(orcherr.Consistency, fmt.Errorf("executor: no spec for phase %q", inst.Phase))
	}

	// Step 1: acquire the advisory lease for this instance. If another
	// worker already holds it, Execute returns a Transient
	// orcherr.ErrLeaseHeld, so the instance is retried on a later tick.
	resource := leaseResource(j.ID, inst)
	ttl := e.LeaseTTL
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	acquired, err := e.Leases.Acquire(ctx, resource, e.Owner, ttl)
	if err != nil {
		return Outcome{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("executor: acquire lease: %w", err))
	}
	if !acquired {
		return Outcome{}, orcherr.Classify(orcherr.Transient, orcherr.ErrLeaseHeld)
	}
	defer func() {
		if err := e.Leases.Release(ctx, resource, e.Owner); err != nil {
			slog.Warn("executor: release lease failed", "resource", resource, "err", err)
		}
	}()

	// Step 2: build the phase input from upstream checkpoints.
	upstream, err := e.upstreamByPhase(ctx, j.ID, spec)
	if err != nil {
		return Outcome{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("executor: load upstream checkpoints: %w", err))
	}
	input, err := spec.BuildInput(ctx, j, inst.Index, upstream)
	if err != nil {
		return Outcome{}, orcherr.Classify(orcherr.Consistency, fmt.Errorf("executor: build input: %w", err))
	}

	// Step 3: fingerprint and check the cache.
	fp, err := cache.Fingerprint(string(spec.Name), input, configVersion)
	if err != nil {
		return Outcome{}, orcherr.Classify(orcherr.Consistency, fmt.Errorf("executor: fingerprint: %w", err))
	}
	if spec.Cache != phase.CacheNone {
		if hit, err := e.resolveCacheHit(ctx, j, spec, inst, fp); err != nil {
			slog.Warn("executor: cache lookup failed, proceeding live", "instance", inst.String(), "err", err)
		} else if hit != nil {
			e.metrics().RecordCacheHit(string(spec.Name))
			return *hit, nil
		}
		e.metrics().RecordCacheMiss(string(spec.Name))
	}

	attempt, err := e.Attempts.IncrementAndGet(ctx, j.ID, string(spec.Name), inst.Index)
	if err != nil {
		return Outcome{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("executor: increment attempts: %w", err))
	}
	maxAttempts := spec.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if attempt > maxAttempts {
		return Outcome{}, orcherr.Classify(orcherr.Consistency, fmt.Errorf("executor: %s exhausted its retry budget", inst.String()))
	}

	// Step 4: invoke the provider, bounded by the phase's timeout.
	runner, ok := e.Runners[spec.Name]
	if !ok {
		return Outcome{}, orcherr.Classify(orcherr.Consistency, fmt.Errorf("executor: no runner registered for phase %q", spec.Name))
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := runner.Run(runCtx, j, spec, inst.Index, input)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, orcherr.ErrCoverCapExceeded) {
			return Outcome{Instance: inst, CoverFailed: true}, nil
		}
		kind := spec.Retry.Classify(err)
		e.metrics().RecordPhaseError(string(spec.Name), string(kind))
		if attempt > 1 {
			e.metrics().RecordPhaseRetry(string(spec.Name))
		}
		return Outcome{}, e.classifyOrBackoff(kind, err, attempt, spec)
	}
	e.metrics().RecordPhaseInstance(string(spec.Name), duration)

	// Step 5: validate the output shape.
	if spec.Validate != nil {
		if verr := spec.Validate(result.Payload); verr != nil {
			return Outcome{}, e.classifyOrBackoff(orcherr.Transient, fmt.Errorf("%w: %v", orcherr.ErrValidationFailed, verr), attempt, spec)
		}
	}

	// Step 6: persist the checkpoint with precondition-absent semantics.
	cp := artifact.Checkpoint{
		JobID:       j.ID,
		Phase:       string(spec.Name),
		Index:       inst.Index,
		Payload:     result.Payload,
		Fingerprint: fp,
		TokensIn:    result.TokensIn,
		TokensOut:   result.TokensOut,
		DurationMS:  duration.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	writtenNow, err := e.Checkpoints.Put(ctx, cp)
	if err != nil {
		return Outcome{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("executor: persist checkpoint: %w", err))
	}
	if !writtenNow {
		// Another worker won the race; not an error, just not ours.
		existing, err := e.Checkpoints.Get(ctx, j.ID, string(spec.Name), inst.Index)
		if err != nil {
			return Outcome{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("executor: reload raced checkpoint: %w", err))
		}
		return Outcome{Instance: inst, Checkpoint: existing}, nil
	}

	// Step 7: record cache entry and reset the durable attempt counter
	// now that this instance has a Checkpoint.
	if spec.Cache != phase.CacheNone {
		scope := cacheScope(spec.Cache, j.OwnerID)
		if err := e.Cache.Put(ctx, cache.Entry{
			Fingerprint: fp,
			Scope:       scope,
			Location:    artifactLocation(j.ID, spec.Name, inst.Index),
			ContentHash: fp,
			CreatedAt:   time.Now().UTC(),
			LastHitAt:   time.Now().UTC(),
		}); err != nil {
			slog.Warn("executor: cache write failed, continuing", "instance", inst.String(), "err", err)
		}
	}
	if err := e.Attempts.Reset(ctx, j.ID, string(spec.Name), inst.Index); err != nil {
		slog.Warn("executor: reset attempts failed", "instance", inst.String(), "err", err)
	}

	// Step 8 (lease release) happens in the deferred Release above.
	return Outcome{Instance: inst, Checkpoint: &cp}, nil
}

// resolveCacheHit checks the Cache for fp and, on a hit, resolves its
// Location back to an existing Checkpoint's payload and republishes it
// as this instance's own Checkpoint, so a cache hit costs one relational
// write instead of re-invoking a provider.
func (e *Executor) resolveCacheHit(ctx context.Context, j *job.Job, spec phase.Spec, inst scheduler.Instance, fp string) (*Outcome, error) {
	scope := cacheScope(spec.Cache, j.OwnerID)
	entry, err := e.Cache.Get(ctx, scope, fp)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	srcJobID, srcPhase, srcIndex, err := parseArtifactLocation(entry.Location)
	if err != nil {
		return nil, fmt.Errorf("executor: parse cache location %q: %w", entry.Location, err)
	}
	source, err := e.Checkpoints.Get(ctx, srcJobID, srcPhase, srcIndex)
	if err != nil {
		return nil, fmt.Errorf("executor: load cached source checkpoint: %w", err)
	}

	cp := artifact.Checkpoint{
		JobID:       j.ID,
		Phase:       string(spec.Name),
		Index:       inst.Index,
		Payload:     source.Payload,
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
	}
	writtenNow, err := e.Checkpoints.Put(ctx, cp)
	if err != nil {
		return nil, err
	}
	if err := e.Cache.Touch(ctx, scope, fp, time.Now().UTC()); err != nil {
		slog.Warn("executor: cache touch failed", "fingerprint", fp, "err", err)
	}
	if !writtenNow {
		existing, err := e.Checkpoints.Get(ctx, j.ID, string(spec.Name), inst.Index)
		if err != nil {
			return nil, err
		}
		return &Outcome{Instance: inst, Checkpoint: existing, CacheHit: true}, nil
	}
	return &Outcome{Instance: inst, Checkpoint: &cp, CacheHit: true}, nil
}

// classifyOrBackoff wraps err with its classified Kind and, for
// Transient failures still within budget, a RetryAfter computed from the
// phase's configured backoff policy.
func (e *Executor) classifyOrBackoff(kind orcherr.Kind, err error, attempt int, spec phase.Spec) error {
	if kind.Fatal() {
		return orcherr.Classify(kind, err)
	}
	delay := backoffDelay(spec.Retry.BaseDelay, spec.Retry.MaxDelay, attempt)
	return orcherr.ClassifyRetryAfter(err, delay)
}

// backoffDelay derives the retry-after duration for a given attempt
// number from a cenkalti/backoff/v5 ExponentialBackOff's configured
// curve, read via its Multiplier rather than by stepping NextBackOff,
// since what the Step Executor needs is "the delay for attempt N" and
// not a stateful iterator.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max

	delay := float64(b.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= b.Multiplier
	}
	d := time.Duration(delay)
	if d > max {
		d = max
	}
	return d
}

// upstreamByPhase loads every Checkpoint for each of spec's declared
// dependencies, grouped by phase name, for BuildInput to consume.
func (e *Executor) upstreamByPhase(ctx context.Context, jobID string, spec phase.Spec) (map[phase.Name][]artifact.Checkpoint, error) {
	out := make(map[phase.Name][]artifact.Checkpoint, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		cps, err := e.Checkpoints.ListByPhase(ctx, jobID, string(dep))
		if err != nil {
			return nil, err
		}
		out[dep] = cps
	}
	return out, nil
}

func leaseResource(jobID string, inst scheduler.Instance) string {
	return fmt.Sprintf("step:%s:%s", jobID, inst.String())
}

// artifactLocation is the Cache Entry Location scheme: a reference
// string the Executor resolves back to an existing Checkpoint, rather
// than an independent Object Store key.
func artifactLocation(jobID string, name phase.Name, index int64) string {
	return fmt.Sprintf("%s/%s/%d", jobID, name, index)
}

func parseArtifactLocation(location string) (jobID, phaseName string, index int64, err error) {
	parts := strings.Split(location, "/")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed location %q", location)
	}
	idx, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed index in location %q: %w", location, err)
	}
	return parts[0], parts[1], idx, nil
}

func cacheScope(scope phase.CacheScope, ownerID string) string {
	if scope == phase.CacheGlobal {
		return "global"
	}
	return ownerID
}

// configVersion is bumped whenever a phase's prompt template or
// validation rules change in a way that should invalidate existing
// cache entries.
const configVersion = "v1"
