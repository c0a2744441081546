// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store provides PostgreSQL-backed implementations of all repositories.
type Store struct {
	db *sql.DB

	// Retry policy defaults applied by Enqueue when the caller does not
	// override them.
	defaultMaxRetries int
	defaultRetryDelay time.Duration
	claimTimeout      time.Duration
}

// Options tune queue behavior. Zero values fall back to defaults.
type Options struct {
	MaxRetries   int
	RetryDelay   time.Duration
	ClaimTimeout time.Duration
	MaxOpenConns int
}

// New opens a connection pool and verifies it.
func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:                db,
		defaultMaxRetries: opts.MaxRetries,
		defaultRetryDelay: opts.RetryDelay,
		claimTimeout:      opts.ClaimTimeout,
	}
	if s.defaultMaxRetries <= 0 {
		s.defaultMaxRetries = 5
	}
	if s.defaultRetryDelay <= 0 {
		s.defaultRetryDelay = 10 * time.Second
	}
	if s.claimTimeout <= 0 {
		s.claimTimeout = 5 * time.Minute
	}
	return s, nil
}

// DB exposes the underlying pool for migrations and metrics callbacks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
