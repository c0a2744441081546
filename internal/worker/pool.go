// Package worker contains the job queue consumers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrPermanent marks a handler failure as not worth retrying (malformed
// payload, missing foreign key). The pool discards the job instead of cycling
// it through the retry budget.
var ErrPermanent = errors.New("worker: permanent failure")

// Handler executes one job. It must be idempotent: at-least-once delivery
// means the same job may run more than once.
type Handler func(ctx context.Context, job *store.Job) (json.RawMessage, error)

// PoolConfig holds configuration for one queue's worker pool.
type PoolConfig struct {
	Queue             string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // poll backoff ceiling when the queue is empty
	HeartbeatInterval time.Duration
	ClaimExtension    time.Duration // how far each heartbeat pushes the claim deadline
	HandlerTimeout    time.Duration // ceiling on one attempt; also bounds the graceful drain
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.ClaimExtension <= 0 {
		c.ClaimExtension = 5 * time.Minute
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Minute
	}
	return c
}

// Pool runs the pull-loop for one queue: claim with SKIP LOCKED semantics,
// dispatch to bounded goroutines, heartbeat in-flight claims, report
// completion or failure.
type Pool struct {
	queue   store.Queue
	handler Handler
	cfg     PoolConfig
	log     *slog.Logger
	done    chan struct{}
}

// NewPool creates a pool. Run must be called to start it.
func NewPool(q store.Queue, cfg PoolConfig, handler Handler, log *slog.Logger) *Pool {
	return &Pool{
		queue:   q,
		handler: handler,
		cfg:     cfg.withDefaults(),
		log:     log.With("queue", cfg.Queue),
		done:    make(chan struct{}),
	}
}

// Run starts the pull-loop. It blocks until the context is cancelled, then
// waits for in-flight jobs to finish (graceful drain).
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool starting", "concurrency", p.cfg.Concurrency)

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup

	pollNow := make(chan struct{}, 1)
	currentBackoff := p.cfg.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("draining in-flight jobs")
			wg.Wait()
			close(p.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := p.cfg.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			jobs, err := p.queue.Claim(ctx, p.cfg.Queue, availableSlots)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("claim failed", "error", err)
				}
				continue
			}

			if len(jobs) == 0 {
				// empty queue: back off exponentially up to the ceiling
				currentBackoff *= 2
				if currentBackoff > p.cfg.MaxBackoff {
					currentBackoff = p.cfg.MaxBackoff
				}
				continue
			}
			currentBackoff = p.cfg.PollInterval

			for _, job := range jobs {
				sem <- struct{}{}
				wg.Add(1)
				go func(job *store.Job) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					p.processJob(ctx, job)
				}(job)
			}

			if len(jobs) == availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel closed once the pool has fully drained.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) processJob(ctx context.Context, job *store.Job) {
	// The attempt runs detached from the poll context: a drain waits for
	// in-flight work instead of aborting it, so cancelling the pool must not
	// cancel the handler. HandlerTimeout is the only bound on the attempt.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.HandlerTimeout)
	defer cancel()

	tracer := otel.Tracer("queue-worker")
	spanCtx, span := tracer.Start(jobCtx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.queue", job.Queue),
			attribute.Int("job.retry_count", job.RetryCount),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	// the job id doubles as the correlation id in handler logs
	spanCtx = logger.WithEventID(spanCtx, job.ID)

	// Heartbeat keeps the claim alive for slow handlers; detached from the
	// poll context so a drain does not drop the claim mid-job.
	hbCtx, cancelHB := context.WithCancel(context.Background())
	defer cancelHB()
	go p.runHeartbeat(hbCtx, job.ID)

	output, err := p.handler(spanCtx, job)
	if err == nil {
		if cerr := p.queue.Complete(context.Background(), job.ID, output); cerr != nil {
			p.log.Error("failed to record completion", "job_id", job.ID, "error", cerr)
		}
		return
	}

	span.RecordError(err)
	if errors.Is(err, ErrPermanent) {
		p.log.Warn("discarding job", "job_id", job.ID, "error", err)
		if derr := p.queue.Discard(context.Background(), job.ID, err.Error()); derr != nil {
			p.log.Error("failed to discard job", "job_id", job.ID, "error", derr)
		}
		return
	}

	p.log.Warn("job failed", "job_id", job.ID,
		"attempt", job.RetryCount+1, "max_retries", job.MaxRetries, "error", err)
	if ferr := p.queue.Fail(context.Background(), job.ID, err.Error()); ferr != nil {
		p.log.Error("failed to record failure", "job_id", job.ID, "error", ferr)
	}
}

func (p *Pool) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until := time.Now().Add(p.cfg.ClaimExtension)
			if err := p.queue.ExtendClaim(context.Background(), jobID, until); err != nil {
				p.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// DecodePayload unmarshals a job payload, mapping decode errors to
// ErrPermanent so malformed jobs are not retried.
func DecodePayload(job *store.Job, v interface{}) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", ErrPermanent, err)
	}
	return nil
}
