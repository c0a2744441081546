package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type enqueuedJob struct {
	queue   string
	payload json.RawMessage
	cfg     store.EnqueueConfig
}

// mockQueue is an in-memory store.Queue. Claim serves the pending slice in
// order; everything else records the call.
type mockQueue struct {
	mu         sync.Mutex
	pending    []*store.Job
	enqueued   []enqueuedJob
	completed  []string
	failed     []string
	discarded  []string
	enqueueErr error
}

func (q *mockQueue) Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts ...store.EnqueueOption) (*store.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	cfg := store.ApplyEnqueueOptions(opts)
	if cfg.IdempotencyKey != "" {
		for _, e := range q.enqueued {
			if e.cfg.IdempotencyKey == cfg.IdempotencyKey {
				return &store.Job{ID: "deduplicated", Queue: queue}, nil
			}
		}
	}
	q.enqueued = append(q.enqueued, enqueuedJob{queue: queue, payload: payload, cfg: cfg})
	return &store.Job{ID: "enqueued", Queue: queue, Payload: payload, State: store.JobStateCreated}, nil
}

func (q *mockQueue) Claim(ctx context.Context, queue string, limit int) ([]*store.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(q.pending) {
		n = len(q.pending)
	}
	jobs := q.pending[:n]
	q.pending = q.pending[n:]
	for _, j := range jobs {
		j.State = store.JobStateActive
	}
	return jobs, nil
}

func (q *mockQueue) Complete(ctx context.Context, jobID string, output json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *mockQueue) Fail(ctx context.Context, jobID string, jobErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, jobID)
	return nil
}

func (q *mockQueue) Discard(ctx context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discarded = append(q.discarded, jobID)
	return nil
}

func (q *mockQueue) ExtendClaim(ctx context.Context, jobID string, until time.Time) error {
	return nil
}

func (q *mockQueue) ReapExpiredClaims(ctx context.Context) (int64, error) { return 0, nil }

func (q *mockQueue) ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (q *mockQueue) HasPending(ctx context.Context, definition string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.enqueued {
		if e.cfg.Definition == definition {
			return true, nil
		}
	}
	return false, nil
}

func (q *mockQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *mockQueue) snapshot() (completed, failed, discarded []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.completed...),
		append([]string(nil), q.failed...),
		append([]string(nil), q.discarded...)
}

func (q *mockQueue) enqueuedJobs() []enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueuedJob(nil), q.enqueued...)
}

// mockNames covers the handler-facing slice of store.NameStore with canned
// results.
type mockNames struct {
	mu sync.Mutex

	transferChanged   bool
	transferCancelled []store.CancelledListing
	transferErr       error
	transferCalls     []string

	expireResult bool
	expireErr    error
	expireCalls  []string

	dueListings []string
	dueOffers   []string

	refreshedViews []string
	refreshErr     error
}

func (m *mockNames) GetName(ctx context.Context, id string) (*store.Name, error) {
	return nil, store.ErrNotFound
}

func (m *mockNames) GetProjection(ctx context.Context, nameID string) (*store.Projection, error) {
	return nil, store.ErrNotFound
}

func (m *mockNames) ListProjections(ctx context.Context, pageSize int, fn func(*store.Projection) error) error {
	return nil
}

func (m *mockNames) NameIDExists(ctx context.Context, id string) (bool, error) { return false, nil }

func (m *mockNames) ResolveNameID(ctx context.Context, table, rowID string) (string, error) {
	return "", store.ErrNotFound
}

func (m *mockNames) PendingOfferBuyers(ctx context.Context, nameID string) ([]string, error) {
	return nil, nil
}

func (m *mockNames) TransferOwnership(ctx context.Context, nameID, newOwner string) (bool, []store.CancelledListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferCalls = append(m.transferCalls, nameID+"->"+newOwner)
	if m.transferErr != nil {
		return false, nil, m.transferErr
	}
	return m.transferChanged, m.transferCancelled, nil
}

func (m *mockNames) ExpireOrder(ctx context.Context, orderType, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCalls = append(m.expireCalls, orderType+":"+orderID)
	return m.expireResult, m.expireErr
}

func (m *mockNames) ExpireDueOrders(ctx context.Context) ([]string, []string, error) {
	return m.dueListings, m.dueOffers, nil
}

func (m *mockNames) RefreshAnalytics(ctx context.Context, viewName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr != nil {
		return m.refreshErr
	}
	m.refreshedViews = append(m.refreshedViews, viewName)
	return nil
}
