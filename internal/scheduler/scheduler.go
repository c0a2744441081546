// Package scheduler creates recurring jobs from cron definitions and runs
// the queue maintenance loops (stale-claim reaping, archive sweeps).
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/store"

	"github.com/robfig/cron/v3"
)

// Definition binds a queue and payload to a cron expression. The scheduler
// guarantees at most one non-terminal instance of a definition at any time.
type Definition struct {
	Name     string
	Spec     string // cron expression
	Queue    string
	Payload  json.RawMessage
	Priority int
}

// Config for the maintenance loops.
type Config struct {
	ReapInterval    time.Duration // default 30s
	ArchiveInterval time.Duration // default 10m
	Retention       time.Duration // terminal jobs older than this are archived
}

func (c Config) withDefaults() Config {
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.ArchiveInterval <= 0 {
		c.ArchiveInterval = 10 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 72 * time.Hour
	}
	return c
}

// Scheduler owns the cron runner and the maintenance loops.
type Scheduler struct {
	queue store.Queue
	cron  *cron.Cron
	cfg   Config
	log   *slog.Logger
}

// New creates a scheduler. Definitions are registered with Register before
// Run.
func New(queue store.Queue, cfg Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		queue: queue,
		cron:  cron.New(),
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// Register adds a recurring definition.
func (s *Scheduler) Register(def Definition) error {
	if def.Name == "" || def.Queue == "" {
		return fmt.Errorf("definition needs a name and a queue")
	}
	_, err := s.cron.AddFunc(def.Spec, func() {
		s.fire(def)
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q for %s: %w", def.Spec, def.Name, err)
	}
	return nil
}

// fire enqueues one instance of the definition unless one is still pending.
// The existence check, not queue-level dedup, is what enforces the
// at-most-one-pending guarantee across missed and overlapping ticks.
func (s *Scheduler) fire(def Definition) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, err := s.queue.HasPending(ctx, def.Name)
	if err != nil {
		s.log.Warn("failed to check pending instance", "definition", def.Name, "error", err)
		return
	}
	if pending {
		s.log.Debug("skipping tick, previous instance still pending", "definition", def.Name)
		return
	}

	_, err = s.queue.Enqueue(ctx, def.Queue, def.Payload,
		store.WithDefinition(def.Name),
		store.WithPriority(def.Priority))
	if err != nil {
		s.log.Warn("failed to enqueue scheduled job", "definition", def.Name, "error", err)
		return
	}
	s.log.Debug("scheduled job enqueued", "definition", def.Name, "queue", def.Queue)
}

// Run starts the cron runner and maintenance loops, blocking until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	defer s.cron.Stop()

	reap := time.NewTicker(s.cfg.ReapInterval)
	defer reap.Stop()
	archive := time.NewTicker(s.cfg.ArchiveInterval)
	defer archive.Stop()

	s.log.Info("scheduler running",
		"definitions", len(s.cron.Entries()),
		"reap_interval", s.cfg.ReapInterval.String(),
		"retention", s.cfg.Retention.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-reap.C:
			n, err := s.queue.ReapExpiredClaims(ctx)
			if err != nil {
				s.log.Warn("claim reaping failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("returned abandoned jobs to the queue", "count", n)
			}

		case <-archive.C:
			n, err := s.queue.ArchiveTerminal(ctx, s.cfg.Retention)
			if err != nil {
				s.log.Warn("archive sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("archived terminal jobs", "count", n)
			}
		}
	}
}

// DefaultDefinitions are the recurring jobs the system ships with. The
// batch expiry sweep and the scheduled reconciliations exist because the
// notify channel is lossy by design; they bound how stale anything can get.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:    "expire-orders-sweep",
			Spec:    "*/10 * * * *",
			Queue:   store.QueueExpireOrders,
			Payload: json.RawMessage(`{"batch": true}`),
		},
		{
			Name:    "metadata-full-refresh",
			Spec:    "0 4 * * *",
			Queue:   store.QueueSyncMetadata,
			Payload: json.RawMessage(`{"full": true}`),
		},
		{
			Name:    "refresh-analytics",
			Spec:    "*/15 * * * *",
			Queue:   store.QueueAnalytics,
			Payload: json.RawMessage(`{}`),
		},
		{
			Name:    "reconcile-index",
			Spec:    "0 */6 * * *",
			Queue:   store.QueueReconcile,
			Payload: json.RawMessage(`{}`),
		},
	}
}
