package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// CheckpointsRepo implements artifact.Store over the checkpoints table.
type CheckpointsRepo struct{ s *Store }

var _ artifact.Store = (*CheckpointsRepo)(nil)

func (r *CheckpointsRepo) Put(ctx context.Context, cp artifact.Checkpoint) (bool, error) {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	// Precondition "absent": check-then-insert inside one transaction.
	// The primary key on (job_id, phase, idx) keeps at most one
	// Checkpoint per key. The transaction runs at the driver's default
	// isolation, so on Postgres or MySQL two workers racing on one key
	// can both pass the check; the loser's INSERT then fails with a
	// duplicate-key error rather than returning false.
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: put checkpoint: begin: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT 1 FROM checkpoints WHERE job_id=` + r.s.placeholder(1) + ` AND phase=` + r.s.placeholder(2) + ` AND idx=` + r.s.placeholder(3)
	var one int
	err = tx.QueryRowContext(ctx, q, cp.JobID, cp.Phase, cp.Index).Scan(&one)
	switch {
	case err == nil:
		// Already present: another worker won the race. Not an error.
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("store: put checkpoint: check: %w", err)
	}

	ins := `INSERT INTO checkpoints (job_id, phase, idx, payload, fingerprint, tokens_in, tokens_out, duration_ms, created_at)
		VALUES (` + r.s.phList(9) + `)`
	if _, err := tx.ExecContext(ctx, ins, cp.JobID, cp.Phase, cp.Index, string(cp.Payload), cp.Fingerprint, cp.TokensIn, cp.TokensOut, cp.DurationMS, cp.CreatedAt); err != nil {
		return false, fmt.Errorf("store: put checkpoint: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: put checkpoint: commit: %w", err)
	}
	return true, nil
}

func (r *CheckpointsRepo) Get(ctx context.Context, jobID, phase string, index int64) (*artifact.Checkpoint, error) {
	q := `SELECT job_id, phase, idx, payload, fingerprint, tokens_in, tokens_out, duration_ms, created_at
		FROM checkpoints WHERE job_id=` + r.s.placeholder(1) + ` AND phase=` + r.s.placeholder(2) + ` AND idx=` + r.s.placeholder(3)
	row := r.s.db.QueryRowContext(ctx, q, jobID, phase, index)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s/%s/%d: %w", jobID, phase, index, orcherr.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get checkpoint: %w", err)
	}
	return cp, nil
}

func (r *CheckpointsRepo) List(ctx context.Context, jobID string) ([]artifact.Checkpoint, error) {
	q := `SELECT job_id, phase, idx, payload, fingerprint, tokens_in, tokens_out, duration_ms, created_at
		FROM checkpoints WHERE job_id=` + r.s.placeholder(1) + ` ORDER BY phase, idx`
	return r.queryCheckpoints(ctx, q, jobID)
}

func (r *CheckpointsRepo) ListByPhase(ctx context.Context, jobID, phase string) ([]artifact.Checkpoint, error) {
	q := `SELECT job_id, phase, idx, payload, fingerprint, tokens_in, tokens_out, duration_ms, created_at
		FROM checkpoints WHERE job_id=` + r.s.placeholder(1) + ` AND phase=` + r.s.placeholder(2) + ` ORDER BY idx`
	return r.queryCheckpoints(ctx, q, jobID, phase)
}

func (r *CheckpointsRepo) DeleteJob(ctx context.Context, jobID string) error {
	q := `DELETE FROM checkpoints WHERE job_id=` + r.s.placeholder(1)
	if _, err := r.s.db.ExecContext(ctx, q, jobID); err != nil {
		return fmt.Errorf("store: delete job checkpoints: %w", err)
	}
	return nil
}

func (r *CheckpointsRepo) queryCheckpoints(ctx context.Context, q string, args ...any) ([]artifact.Checkpoint, error) {
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []artifact.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (*artifact.Checkpoint, error) {
	var cp artifact.Checkpoint
	var payload string
	if err := row.Scan(&cp.JobID, &cp.Phase, &cp.Index, &payload, &cp.Fingerprint, &cp.TokensIn, &cp.TokensOut, &cp.DurationMS, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.Payload = []byte(payload)
	return &cp, nil
}
