package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StepAttemptsRepo persists the per-instance attempt counter the Step
// Executor uses to survive a crash mid-attempt: a crash counts as one
// attempt on the next observation.
type StepAttemptsRepo struct{ s *Store }

// IncrementAndGet bumps the counter for (jobID, phase, index) and returns
// the new total, creating the row on the first attempt.
func (r *StepAttemptsRepo) IncrementAndGet(ctx context.Context, jobID, phase string, index int64) (int, error) {
	now := time.Now().UTC()

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: increment step attempts: begin: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT attempts FROM step_attempts WHERE job_id=` + r.s.placeholder(1) + ` AND phase=` + r.s.placeholder(2) + ` AND idx=` + r.s.placeholder(3)
	var attempts int
	err = tx.QueryRowContext(ctx, q, jobID, phase, index).Scan(&attempts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		attempts = 1
		ins := `INSERT INTO step_attempts (job_id, phase, idx, attempts, updated_at) VALUES (` + r.s.phList(5) + `)`
		if _, err := tx.ExecContext(ctx, ins, jobID, phase, index, attempts, now); err != nil {
			return 0, fmt.Errorf("store: increment step attempts: insert: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("store: increment step attempts: select: %w", err)
	default:
		attempts++
		upd := `UPDATE step_attempts SET attempts=` + r.s.placeholder(1) + `, updated_at=` + r.s.placeholder(2) +
			` WHERE job_id=` + r.s.placeholder(3) + ` AND phase=` + r.s.placeholder(4) + ` AND idx=` + r.s.placeholder(5)
		if _, err := tx.ExecContext(ctx, upd, attempts, now, jobID, phase, index); err != nil {
			return 0, fmt.Errorf("store: increment step attempts: update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: increment step attempts: commit: %w", err)
	}
	return attempts, nil
}

// Reset clears the counter after a successful Checkpoint write.
func (r *StepAttemptsRepo) Reset(ctx context.Context, jobID, phase string, index int64) error {
	q := `DELETE FROM step_attempts WHERE job_id=` + r.s.placeholder(1) + ` AND phase=` + r.s.placeholder(2) + ` AND idx=` + r.s.placeholder(3)
	if _, err := r.s.db.ExecContext(ctx, q, jobID, phase, index); err != nil {
		return fmt.Errorf("store: reset step attempts: %w", err)
	}
	return nil
}
