package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// LeasesRepo implements time-bounded exclusive ownership over a resource
// string, covering both the executor's "running-this-step" advisory
// flag and the worker's job-level lease. Backed by the leases table
// rather than in-process locking so the guarantee holds across worker
// processes.
type LeasesRepo struct{ s *Store }

// Acquire attempts to take the lease on resource for owner until expiry.
// It succeeds if no lease exists, or the existing lease has expired.
func (r *LeasesRepo) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: acquire lease: begin: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT owner, expires_at FROM leases WHERE resource=` + r.s.placeholder(1)
	var curOwner string
	var curExpiry time.Time
	err = tx.QueryRowContext(ctx, q, resource).Scan(&curOwner, &curExpiry)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		ins := `INSERT INTO leases (resource, owner, expires_at) VALUES (` + r.s.phList(3) + `)`
		if _, err := tx.ExecContext(ctx, ins, resource, owner, expires); err != nil {
			return false, fmt.Errorf("store: acquire lease: insert: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("store: acquire lease: check: %w", err)
	case curOwner == owner || curExpiry.Before(now):
		// Either we already hold it (renew) or the lease expired,
		// recoverable by the next observing worker. Matching the owner
		// read above lets only one of several racing takers replace it.
		upd := `UPDATE leases SET owner=` + r.s.placeholder(1) + `, expires_at=` + r.s.placeholder(2) + ` WHERE resource=` + r.s.placeholder(3) + ` AND owner=` + r.s.placeholder(4)
		res, err := tx.ExecContext(ctx, upd, owner, expires, resource, curOwner)
		if err != nil {
			return false, fmt.Errorf("store: acquire lease: update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	default:
		// Another owner holds a live lease.
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: acquire lease: commit: %w", err)
	}
	return true, nil
}

// Release drops the lease if held by owner. Releasing a lease you don't
// hold (e.g. because it already expired and was stolen) is a no-op, not
// an error.
func (r *LeasesRepo) Release(ctx context.Context, resource, owner string) error {
	q := `DELETE FROM leases WHERE resource=` + r.s.placeholder(1) + ` AND owner=` + r.s.placeholder(2)
	if _, err := r.s.db.ExecContext(ctx, q, resource, owner); err != nil {
		return fmt.Errorf("store: release lease: %w", err)
	}
	return nil
}

// Renew extends an already-held lease's TTL. It fails with
// orcherr.ErrLeaseHeld if another owner has since taken it (e.g. after
// expiry during a long-running step).
func (r *LeasesRepo) Renew(ctx context.Context, resource, owner string, ttl time.Duration) error {
	expires := time.Now().UTC().Add(ttl)
	q := `UPDATE leases SET expires_at=` + r.s.placeholder(1) + ` WHERE resource=` + r.s.placeholder(2) + ` AND owner=` + r.s.placeholder(3)
	res, err := r.s.db.ExecContext(ctx, q, expires, resource, owner)
	if err != nil {
		return fmt.Errorf("store: renew lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return orcherr.ErrLeaseHeld
	}
	return nil
}
