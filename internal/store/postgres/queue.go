package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/store"

	"github.com/lib/pq"
)

const jobColumns = `id, queue, payload, state, priority, retry_count, max_retries,
	retry_delay_sec, definition, run_at, claimed_until, created_at, started_at,
	completed_at, output, last_error`

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*store.Job, error) {
	var j store.Job
	var retryDelaySec int
	err := row.Scan(&j.ID, &j.Queue, &j.Payload, &j.State, &j.Priority,
		&j.RetryCount, &j.MaxRetries, &retryDelaySec, &j.Definition, &j.RunAt,
		&j.ClaimedUntil, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.Output,
		&j.LastError)
	if err != nil {
		return nil, err
	}
	j.RetryDelay = time.Duration(retryDelaySec) * time.Second
	return &j, nil
}

// Enqueue durably persists a job in the created state. With an idempotency
// key the insert is ON CONFLICT DO NOTHING and the existing job is returned
// instead, so replays of the same logical event cannot double-enqueue.
func (s *Store) Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts ...store.EnqueueOption) (*store.Job, error) {
	cfg := store.ApplyEnqueueOptions(opts)
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = s.defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = s.defaultRetryDelay
	}
	if cfg.RunAt.IsZero() {
		cfg.RunAt = time.Now()
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	var key, definition sql.NullString
	if cfg.IdempotencyKey != "" {
		key = sql.NullString{String: cfg.IdempotencyKey, Valid: true}
	}
	if cfg.Definition != "" {
		definition = sql.NullString{String: cfg.Definition, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (queue, payload, priority, max_retries, retry_delay_sec, definition, idempotency_key, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING `+jobColumns,
		queue, payload, cfg.Priority, cfg.MaxRetries, int(cfg.RetryDelay.Seconds()),
		definition, key, cfg.RunAt)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", queue, err)
	}

	// Conflict on the idempotency key: hand back the existing job.
	row = s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, cfg.IdempotencyKey)
	j, err = scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deduplicated %s job: %w", queue, err)
	}
	return j, nil
}

// Claim atomically claims up to limit due jobs using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never receive the
// same job.
func (s *Store) Claim(ctx context.Context, queue string, limit int) ([]*store.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = $1 AND state IN ('created', 'retry') AND run_at <= NOW()
		ORDER BY priority DESC, run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}

	var jobs []*store.Job
	var ids []string
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		jobs = append(jobs, j)
		ids = append(ids, j.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim rows error: %w", err)
	}
	rows.Close()

	if len(jobs) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'active',
		    started_at = COALESCE(started_at, NOW()),
		    claimed_until = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = ANY($2)
	`, s.claimTimeout.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("claim update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	now := time.Now()
	until := now.Add(s.claimTimeout)
	for _, j := range jobs {
		j.State = store.JobStateActive
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.ClaimedUntil = &until
	}

	return jobs, nil
}

// Complete marks a job completed and records its output.
func (s *Store) Complete(ctx context.Context, jobID string, output json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'completed', completed_at = NOW(), claimed_until = NULL, output = $1
		WHERE id = $2 AND state = 'active'
	`, nullableJSON(output), jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail records a handler failure. Below the retry budget the job goes back to
// retry with an exponential backoff delay (delay * 2^attempt); after
// exhaustion it moves to failed and stays inspectable until archived.
func (s *Store) Fail(ctx context.Context, jobID string, jobErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'retry',
		    retry_count = retry_count + 1,
		    claimed_until = NULL,
		    last_error = $1,
		    run_at = NOW() + (retry_delay_sec * POWER(2, retry_count) * INTERVAL '1 second')
		WHERE id = $2 AND state = 'active' AND retry_count < max_retries
	`, jobErr, jobID)
	if err != nil {
		return fmt.Errorf("failed to retry job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Retries exhausted (or job no longer active): mark failed.
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'failed', completed_at = NOW(), claimed_until = NULL, last_error = $1
		WHERE id = $2 AND state = 'active'
	`, jobErr, jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	return nil
}

// Discard moves a job straight to failed. Permanent validation errors take
// this path so they are not retried pointlessly.
func (s *Store) Discard(ctx context.Context, jobID string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'failed', completed_at = NOW(), claimed_until = NULL, last_error = $1
		WHERE id = $2 AND state IN ('active', 'created', 'retry')
	`, reason, jobID)
	if err != nil {
		return fmt.Errorf("failed to discard job %s: %w", jobID, err)
	}
	return nil
}

// ExtendClaim pushes out the claim deadline for an in-flight job.
func (s *Store) ExtendClaim(ctx context.Context, jobID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET claimed_until = $1 WHERE id = $2 AND state = 'active'
	`, until, jobID)
	if err != nil {
		return fmt.Errorf("failed to extend claim of job %s: %w", jobID, err)
	}
	return nil
}

// ReapExpiredClaims returns crashed workers' jobs to a claimable state. The
// attempt still counts against the retry budget.
func (s *Store) ReapExpiredClaims(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = CASE WHEN retry_count < max_retries THEN 'retry' ELSE 'failed' END,
		    retry_count = retry_count + 1,
		    claimed_until = NULL,
		    last_error = 'claim expired',
		    run_at = NOW()
		WHERE state = 'active' AND claimed_until IS NOT NULL AND claimed_until < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired claims: %w", err)
	}
	return res.RowsAffected()
}

// ArchiveTerminal moves terminal jobs past the retention window into
// jobs_archive. Jobs are never silently dropped.
func (s *Store) ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		WITH moved AS (
			DELETE FROM jobs
			WHERE state IN ('completed', 'failed')
			  AND completed_at IS NOT NULL
			  AND completed_at < NOW() - ($1 * INTERVAL '1 second')
			RETURNING id, queue, payload, state, priority, retry_count, max_retries,
			          definition, run_at, created_at, started_at, completed_at, output, last_error
		)
		INSERT INTO jobs_archive (id, queue, payload, state, priority, retry_count,
		          max_retries, definition, run_at, created_at, started_at, completed_at,
		          output, last_error)
		SELECT * FROM moved
	`, retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to archive jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// HasPending reports whether a non-terminal instance of a scheduled
// definition exists.
func (s *Store) HasPending(ctx context.Context, definition string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE definition = $1 AND state IN ('created', 'retry', 'active')
		)
	`, definition).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending for %s: %w", definition, err)
	}
	return exists, nil
}

// Depth returns the number of claimable jobs across all queues.
func (s *Store) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE state IN ('created', 'retry')
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return n, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
