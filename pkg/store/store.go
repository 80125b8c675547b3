// Package store is the relational persistence layer backing the Artifact
// Store, Job Controller, Cache and lease subsystems: database/sql
// without an ORM, pooled through config.DBPool as a single *sql.DB per
// DSN, driver blank-imports, SQLite pinned to one connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/inkforge/orchestrator/pkg/config"
)

// Store wraps a *sql.DB with the dialect-aware query helpers used by the
// Jobs, Checkpoints, Cache, Manuscripts and Leases repositories.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open acquires a pooled connection for cfg (via config.DBPool) and wraps
// it as a Store. Callers share one DBPool across Stores so repeated calls
// with the same DSN reuse the same *sql.DB.
func Open(pool *config.DBPool, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := pool.Get(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db, dialect: cfg.Dialect()}, nil
}

// Migrate applies the schema. It is idempotent: every statement is
// CREATE ... IF NOT EXISTS, simple and repeatable enough to skip a
// dedicated migration tool for a project this size.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	slog.Info("store: schema migrated", "dialect", s.dialect)
	return nil
}

// DB exposes the underlying pool for repositories and for ad-hoc
// transactions that span more than one repository.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the normalized SQL dialect ("sqlite", "postgres", "mysql").
func (s *Store) Dialect() string { return s.dialect }

// placeholder returns the dialect-correct positional parameter for
// argument index n (1-based), since Postgres uses $1, $2... while SQLite
// and MySQL use ?.
func (s *Store) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// phList builds a comma-separated placeholder list for n arguments
// starting at position 1, e.g. "?, ?, ?" or "$1, $2, $3".
func (s *Store) phList(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += s.placeholder(i)
	}
	return out
}

// Jobs returns the Jobs repository.
func (s *Store) Jobs() *JobsRepo { return &JobsRepo{s: s} }

// Checkpoints returns the Checkpoints repository.
func (s *Store) Checkpoints() *CheckpointsRepo { return &CheckpointsRepo{s: s} }

// Cache returns the Cache repository.
func (s *Store) Cache() *CacheRepo { return &CacheRepo{s: s} }

// Manuscripts returns the Manuscripts repository.
func (s *Store) Manuscripts() *ManuscriptsRepo { return &ManuscriptsRepo{s: s} }

// Leases returns the Leases repository.
func (s *Store) Leases() *LeasesRepo { return &LeasesRepo{s: s} }

// StepAttempts returns the per-instance attempt-counter repository.
func (s *Store) StepAttempts() *StepAttemptsRepo { return &StepAttemptsRepo{s: s} }
