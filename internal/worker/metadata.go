package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/grailsmarket/backend-sub003/internal/search"
	"github.com/grailsmarket/backend-sub003/internal/store"
)

// NameSyncer re-derives a single name's index document.
type NameSyncer interface {
	SyncName(ctx context.Context, nameID string) error
}

// Reconciler runs a full index repair pass.
type Reconciler interface {
	BulkReconcile(ctx context.Context) (search.ReconcileStats, error)
}

// MetadataHandler serves sync-entity-metadata jobs: re-derive one name's
// index document, or hand the whole index to the bulk reconciler when asked
// for a full refresh.
type MetadataHandler struct {
	pipe NameSyncer
	sync Reconciler
	log  *slog.Logger
}

// NewMetadataHandler wires the handler.
func NewMetadataHandler(pipe NameSyncer, sync Reconciler, log *slog.Logger) *MetadataHandler {
	return &MetadataHandler{pipe: pipe, sync: sync, log: log}
}

func (h *MetadataHandler) Handle(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	var payload store.SyncMetadataPayload
	if err := DecodePayload(job, &payload); err != nil {
		return nil, err
	}

	if payload.Full {
		stats, err := h.sync.BulkReconcile(ctx)
		if err != nil {
			return nil, fmt.Errorf("full metadata refresh failed: %w", err)
		}
		return json.Marshal(stats)
	}

	if payload.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required unless full is set", ErrPermanent)
	}
	if err := h.pipe.SyncName(ctx, payload.EntityID); err != nil {
		return nil, fmt.Errorf("metadata sync of %s failed: %w", payload.EntityID, err)
	}
	return nil, nil
}

// ReconcileHandler runs scheduled reconcile-index jobs. The drift classes
// the operator tooling scans for are all repaired by the same bulk pass.
type ReconcileHandler struct {
	sync Reconciler
	log  *slog.Logger
}

// NewReconcileHandler wires the handler.
func NewReconcileHandler(sync Reconciler, log *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{sync: sync, log: log}
}

func (h *ReconcileHandler) Handle(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	stats, err := h.sync.BulkReconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduled reconciliation failed: %w", err)
	}
	return json.Marshal(stats)
}
