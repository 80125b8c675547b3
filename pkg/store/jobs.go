package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// JobsRepo persists job.Job rows.
type JobsRepo struct{ s *Store }

func (r *JobsRepo) Create(ctx context.Context, j *job.Job) error {
	q := `INSERT INTO jobs
		(id, owner_id, prompt, genre, target_length_words, voice, mode, status, phase, progress, error, payment_ref, share_token, cover_status, created_at, updated_at, started_at, ended_at)
		VALUES (` + r.s.phList(18) + `)`
	_, err := r.s.db.ExecContext(ctx, q,
		j.ID, j.OwnerID, j.Input.Prompt, j.Input.Genre, j.Input.TargetLengthWords, j.Input.Voice, string(j.Input.Mode),
		string(j.Status), j.Phase, j.Progress, nullString(j.Error), nullString(j.PaymentRef), nullString(j.ShareToken),
		string(j.CoverStatus), j.CreatedAt, j.UpdatedAt, nullTime(j.StartedAt), nullTime(j.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

func (r *JobsRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	q := `SELECT id, owner_id, prompt, genre, target_length_words, voice, mode, status, phase, progress, error, payment_ref, share_token, cover_status, created_at, updated_at, started_at, ended_at
		FROM jobs WHERE id = ` + r.s.placeholder(1)
	row := r.s.db.QueryRowContext(ctx, q, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

// GetByShareToken looks up a job by its share link token (pkg/share).
func (r *JobsRepo) GetByShareToken(ctx context.Context, token string) (*job.Job, error) {
	q := `SELECT id, owner_id, prompt, genre, target_length_words, voice, mode, status, phase, progress, error, payment_ref, share_token, cover_status, created_at, updated_at, started_at, ended_at
		FROM jobs WHERE share_token = ` + r.s.placeholder(1)
	row := r.s.db.QueryRowContext(ctx, q, token)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job by share token: %w", err)
	}
	return j, nil
}

// Update writes back the full row. Callers must hold the job lease.
func (r *JobsRepo) Update(ctx context.Context, j *job.Job) error {
	q := `UPDATE jobs SET status=` + r.s.placeholder(1) + `, phase=` + r.s.placeholder(2) + `, progress=` + r.s.placeholder(3) +
		`, error=` + r.s.placeholder(4) + `, payment_ref=` + r.s.placeholder(5) + `, share_token=` + r.s.placeholder(6) +
		`, cover_status=` + r.s.placeholder(7) + `, updated_at=` + r.s.placeholder(8) + `, started_at=` + r.s.placeholder(9) +
		`, ended_at=` + r.s.placeholder(10) + ` WHERE id=` + r.s.placeholder(11)
	res, err := r.s.db.ExecContext(ctx, q,
		string(j.Status), j.Phase, j.Progress, nullString(j.Error), nullString(j.PaymentRef), nullString(j.ShareToken),
		string(j.CoverStatus), j.UpdatedAt, nullTime(j.StartedAt), nullTime(j.EndedAt), j.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return orcherr.ErrJobNotFound
	}
	return nil
}

// ListResumable returns queued or running jobs whose last-update time is
// older than `stale`, for Controller.ResumeAll(). It does not consult
// the leases table; ResumeAll checks each job's lease itself.
func (r *JobsRepo) ListResumable(ctx context.Context, stale time.Time) ([]*job.Job, error) {
	q := `SELECT id, owner_id, prompt, genre, target_length_words, voice, mode, status, phase, progress, error, payment_ref, share_token, cover_status, created_at, updated_at, started_at, ended_at
		FROM jobs WHERE status IN ('queued','running') AND updated_at < ` + r.s.placeholder(1)
	rows, err := r.s.db.QueryContext(ctx, q, stale)
	if err != nil {
		return nil, fmt.Errorf("store: list resumable: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan resumable: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var genre, voice, phase, errStr, paymentRef, shareToken sql.NullString
	var mode, status, coverStatus string
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.OwnerID, &j.Input.Prompt, &genre, &j.Input.TargetLengthWords, &voice, &mode,
		&status, &phase, &j.Progress, &errStr, &paymentRef, &shareToken, &coverStatus,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Input.Genre = genre.String
	j.Input.Voice = voice.String
	j.Input.Mode = job.Mode(mode)
	j.Status = job.State(status)
	j.Phase = phase.String
	j.Error = errStr.String
	j.PaymentRef = paymentRef.String
	j.ShareToken = shareToken.String
	j.CoverStatus = job.CoverStatus(coverStatus)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		j.EndedAt = &t
	}
	return &j, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
