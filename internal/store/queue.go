package store

import (
	"context"
	"encoding/json"
	"time"
)

// Queue defines the durable job queue operations. Implementations must use
// SELECT ... FOR UPDATE SKIP LOCKED semantics for Claim so that a job is
// never handed to two workers at once.
type Queue interface {
	// Enqueue durably persists a job in the created state and returns it.
	// When an idempotency key is supplied and a job with that key already
	// exists, the existing job is returned unchanged.
	Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts ...EnqueueOption) (*Job, error)

	// Claim atomically claims up to limit due jobs for the queue and marks
	// them active. Returns a nil slice when nothing is due.
	Claim(ctx context.Context, queue string, limit int) ([]*Job, error)

	// Complete marks a job completed and records its output.
	Complete(ctx context.Context, jobID string, output json.RawMessage) error

	// Fail records a handler failure. The job transitions to retry with an
	// exponential backoff delay, or to failed once retries are exhausted.
	Fail(ctx context.Context, jobID string, jobErr string) error

	// Discard moves a job straight to failed without further retries. Used
	// for permanent validation errors.
	Discard(ctx context.Context, jobID string, reason string) error

	// ExtendClaim pushes out the claim deadline for an in-flight job
	// (heartbeat), so long-running handlers are not reaped.
	ExtendClaim(ctx context.Context, jobID string, until time.Time) error

	// ReapExpiredClaims returns active jobs whose claim deadline has passed
	// to a claimable state. Covers workers that crashed mid-job.
	ReapExpiredClaims(ctx context.Context) (int64, error)

	// ArchiveTerminal moves completed and failed jobs older than the
	// retention window into the archive table. Nothing is ever deleted
	// without first being archived.
	ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error)

	// HasPending reports whether a non-terminal job created from the given
	// scheduled definition exists. The scheduler uses this to guarantee at
	// most one pending instance per definition.
	HasPending(ctx context.Context, definition string) (bool, error)

	// Depth returns the number of claimable jobs across all queues.
	Depth(ctx context.Context) (int64, error)
}

// EnqueueConfig is the resolved set of options for one Enqueue call.
type EnqueueConfig struct {
	Priority       int
	MaxRetries     int
	RetryDelay     time.Duration
	RunAt          time.Time
	IdempotencyKey string
	Definition     string
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*EnqueueConfig)

// ApplyEnqueueOptions folds the options into a config for implementations.
func ApplyEnqueueOptions(opts []EnqueueOption) EnqueueConfig {
	var cfg EnqueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPriority sets the claim priority (higher first).
func WithPriority(p int) EnqueueOption {
	return func(c *EnqueueConfig) { c.Priority = p }
}

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) EnqueueOption {
	return func(c *EnqueueConfig) { c.MaxRetries = n }
}

// WithRetryDelay overrides the base backoff delay.
func WithRetryDelay(d time.Duration) EnqueueOption {
	return func(c *EnqueueConfig) { c.RetryDelay = d }
}

// WithRunAt delays the job until the given time.
func WithRunAt(t time.Time) EnqueueOption {
	return func(c *EnqueueConfig) { c.RunAt = t }
}

// WithIdempotencyKey makes the enqueue a no-op if a job with the same key
// already exists. Callers derive keys from natural identifiers, e.g. one
// cascade per ownership-change transaction.
func WithIdempotencyKey(k string) EnqueueOption {
	return func(c *EnqueueConfig) { c.IdempotencyKey = k }
}

// WithDefinition tags the job with the scheduled definition that created it.
func WithDefinition(name string) EnqueueOption {
	return func(c *EnqueueConfig) { c.Definition = name }
}
