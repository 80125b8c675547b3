package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/cache"
)

// CacheRepo implements cache.Store over the cache_entries table.
type CacheRepo struct{ s *Store }

var _ cache.Store = (*CacheRepo)(nil)

func (r *CacheRepo) Get(ctx context.Context, scope, fingerprint string) (*cache.Entry, error) {
	q := `SELECT fingerprint, scope, location, content_hash, created_at, last_hit_at
		FROM cache_entries WHERE fingerprint=` + r.s.placeholder(1) + ` AND scope IN (` + r.s.placeholder(2) + `, 'global')`
	row := r.s.db.QueryRowContext(ctx, q, fingerprint, scope)

	var e cache.Entry
	err := row.Scan(&e.Fingerprint, &e.Scope, &e.Location, &e.ContentHash, &e.CreatedAt, &e.LastHitAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cache entry: %w", err)
	}
	return &e, nil
}

// Put publishes a cache entry atomically: a single INSERT...ON CONFLICT
// (emulated as delete-then-insert inside a transaction for portability
// across sqlite/mysql/postgres) means readers never observe a partial
// entry.
func (r *CacheRepo) Put(ctx context.Context, e cache.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.LastHitAt.IsZero() {
		e.LastHitAt = e.CreatedAt
	}

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: put cache entry: begin: %w", err)
	}
	defer tx.Rollback()

	del := `DELETE FROM cache_entries WHERE fingerprint=` + r.s.placeholder(1)
	if _, err := tx.ExecContext(ctx, del, e.Fingerprint); err != nil {
		return fmt.Errorf("store: put cache entry: delete: %w", err)
	}

	ins := `INSERT INTO cache_entries (fingerprint, scope, location, content_hash, created_at, last_hit_at)
		VALUES (` + r.s.phList(6) + `)`
	if _, err := tx.ExecContext(ctx, ins, e.Fingerprint, e.Scope, e.Location, e.ContentHash, e.CreatedAt, e.LastHitAt); err != nil {
		return fmt.Errorf("store: put cache entry: insert: %w", err)
	}

	return tx.Commit()
}

func (r *CacheRepo) Touch(ctx context.Context, scope, fingerprint string, when time.Time) error {
	q := `UPDATE cache_entries SET last_hit_at=` + r.s.placeholder(1) + ` WHERE fingerprint=` + r.s.placeholder(2)
	_, err := r.s.db.ExecContext(ctx, q, when, fingerprint)
	if err != nil {
		return fmt.Errorf("store: touch cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	q := `DELETE FROM cache_entries WHERE last_hit_at < ` + r.s.placeholder(1)
	res, err := r.s.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
