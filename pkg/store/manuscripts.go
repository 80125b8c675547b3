package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/manuscript"
	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// ManuscriptsRepo persists manuscript.Manuscript rows, one per completed
// job.
type ManuscriptsRepo struct{ s *Store }

func (r *ManuscriptsRepo) Put(ctx context.Context, m *manuscript.Manuscript) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal manuscript: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	q := `INSERT INTO manuscripts (job_id, title, blurb, payload, created_at) VALUES (` + r.s.phList(5) + `)`
	_, err = r.s.db.ExecContext(ctx, q, m.JobID, m.Title, m.Blurb, string(payload), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: put manuscript: %w", err)
	}
	return nil
}

func (r *ManuscriptsRepo) Get(ctx context.Context, jobID string) (*manuscript.Manuscript, error) {
	q := `SELECT payload, created_at FROM manuscripts WHERE job_id=` + r.s.placeholder(1)
	row := r.s.db.QueryRowContext(ctx, q, jobID)

	var payload string
	var createdAt time.Time
	if err := row.Scan(&payload, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, orcherr.ErrJobNotFound
		}
		return nil, fmt.Errorf("store: get manuscript: %w", err)
	}

	var m manuscript.Manuscript
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("store: unmarshal manuscript: %w", err)
	}
	m.JobID = jobID
	m.CreatedAt = createdAt
	return &m, nil
}
