package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/grailsmarket/backend-sub003/internal/store"
)

// AnalyticsHandler refreshes materialized aggregates, one view or all.
type AnalyticsHandler struct {
	names store.NameStore
	log   *slog.Logger
}

// NewAnalyticsHandler wires the handler.
func NewAnalyticsHandler(names store.NameStore, log *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{names: names, log: log}
}

func (h *AnalyticsHandler) Handle(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	var payload store.AnalyticsPayload
	if err := DecodePayload(job, &payload); err != nil {
		return nil, err
	}

	if err := h.names.RefreshAnalytics(ctx, payload.ViewName); err != nil {
		return nil, fmt.Errorf("analytics refresh failed: %w", err)
	}

	view := payload.ViewName
	if view == "" {
		view = "all"
	}
	h.log.Debug("analytics refreshed", "view", view)
	return nil, nil
}
