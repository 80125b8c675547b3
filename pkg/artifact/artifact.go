// Package artifact implements the Artifact Store: a key-value surface
// over (jobId, phaseName, index) with upsert-with-precondition writes
// and the two secondary queries the Scheduler and Progress Reporter
// need.
package artifact

import (
	"context"
	"time"
)

// Checkpoint is the durable, validated output of one phase instance.
type Checkpoint struct {
	JobID       string
	Phase       string
	Index       int64
	Payload     []byte // phase output, JSON-encoded, strongly typed per phase
	Fingerprint string
	TokensIn    int
	TokensOut   int
	DurationMS  int64
	CreatedAt   time.Time
}

// Store is the Artifact Store's surface. Writes are upsert-with-
// precondition: Put reports writtenNow=false (not an error) when another
// writer already holds the key. The caller discards its own result and
// treats the existing Checkpoint as authoritative; this keeps a retried
// or duplicated step idempotent.
type Store interface {
	// Put writes a Checkpoint if absent. writtenNow is false if a
	// Checkpoint for (JobID, Phase, Index) already existed; the existing
	// payload is never overwritten (invariant: "success is final").
	Put(ctx context.Context, cp Checkpoint) (writtenNow bool, err error)

	// Get returns the Checkpoint at (jobID, phase, index), or
	// orcherr.ErrJobNotFound-wrapped error if absent.
	Get(ctx context.Context, jobID, phase string, index int64) (*Checkpoint, error)

	// List returns every Checkpoint for a job, ordered by (phase ordinal
	// proxy: insertion order, index ascending) — callers needing phase
	// ordinal order should consult the Phase Registry separately.
	List(ctx context.Context, jobID string) ([]Checkpoint, error)

	// ListByPhase returns every Checkpoint instance for one phase of a
	// job, index ascending — used to gather a fan-out phase's full
	// output set before running a downstream dependency.
	ListByPhase(ctx context.Context, jobID, phase string) ([]Checkpoint, error)

	// DeleteJob cascades: removes every Checkpoint owned by jobID (spec
	// §3 "Ownership & lifetimes" — deleting the Job cascades).
	DeleteJob(ctx context.Context, jobID string) error
}
