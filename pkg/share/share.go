// Package share implements the read-only share-link surface: a job's
// manuscript can be handed out via an opaque share token without
// requiring the bearer-JWT auth every other endpoint needs. The
// cross-cutting concern (unauthenticated but scoped read) lives in its
// own small package rather than special-cased inside the main HTTP
// handler set.
package share

import (
	"context"
	"fmt"

	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/manuscript"
	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// Jobs is the narrow lookup the Service needs, satisfied by
// (*store.JobsRepo).
type Jobs interface {
	GetByShareToken(ctx context.Context, token string) (*job.Job, error)
}

// Manuscripts is the narrow read the Service needs, satisfied by
// (*store.ManuscriptsRepo).
type Manuscripts interface {
	Get(ctx context.Context, jobID string) (*manuscript.Manuscript, error)
}

// Service resolves a share token to the manuscript it grants read access
// to, refusing tokens whose job has not finished.
type Service struct {
	Jobs        Jobs
	Manuscripts Manuscripts
}

// Resolve looks up token's job and returns its manuscript. A token for a
// job that exists but has not reached job.StateComplete returns
// orcherr.ErrJobNotFound, the same sentinel an unknown token returns —
// a share link never reveals whether a token is simply unready versus
// never issued.
func (s *Service) Resolve(ctx context.Context, token string) (*manuscript.Manuscript, error) {
	j, err := s.Jobs.GetByShareToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("share: resolve token: %w", err)
	}
	if j.Status != job.StateComplete {
		return nil, orcherr.ErrJobNotFound
	}
	m, err := s.Manuscripts.Get(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("share: load manuscript: %w", err)
	}
	return m, nil
}
