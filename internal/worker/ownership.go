package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/store"
)

// OwnershipHandler applies ownership-update jobs: transfer the owner, cancel
// every active listing for the name, and fan out one cancellation
// notification per cancelled listing.
type OwnershipHandler struct {
	names store.NameStore
	queue store.Queue
	log   *slog.Logger
}

// NewOwnershipHandler wires the cascade.
func NewOwnershipHandler(names store.NameStore, queue store.Queue, log *slog.Logger) *OwnershipHandler {
	return &OwnershipHandler{names: names, queue: queue, log: log}
}

type ownershipOutput struct {
	Changed   bool     `json:"changed"`
	Cancelled []string `json:"cancelled_listings,omitempty"`
}

// Handle is idempotent: if the stored owner already equals the new owner the
// job is a no-op, so a duplicate delivery (or a retry after a crash between
// commit and acknowledgment) changes nothing and notifies nobody.
func (h *OwnershipHandler) Handle(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	log := logger.FromContext(ctx, h.log)

	var payload store.OwnershipUpdatePayload
	if err := DecodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.EntityID == "" || payload.NewOwner == "" {
		return nil, fmt.Errorf("%w: entity_id and new_owner are required", ErrPermanent)
	}

	changed, cancelled, err := h.names.TransferOwnership(ctx, payload.EntityID, payload.NewOwner)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: name %s does not exist", ErrPermanent, payload.EntityID)
		}
		// anything before commit rolled back; safe to retry
		return nil, fmt.Errorf("ownership transfer of %s failed: %w", payload.EntityID, err)
	}

	output := ownershipOutput{Changed: changed}
	if !changed {
		log.Debug("ownership already applied",
			"entity_id", payload.EntityID, "owner", payload.NewOwner, "tx_hash", payload.TxHash)
		return json.Marshal(output)
	}

	// The cascade is durable at this point. Notification enqueues after the
	// commit are best-effort: a failure is logged, never rolled back, and the
	// idempotency key stops a retried job from duplicating them.
	for _, c := range cancelled {
		output.Cancelled = append(output.Cancelled, c.ListingID)

		body, err := json.Marshal(store.NotificationPayload{
			Type:      store.NotificationCancellation,
			Recipient: c.Seller,
			EntityID:  payload.EntityID,
			Metadata: map[string]string{
				"listing_id": c.ListingID,
				"price_wei":  c.PriceWei,
				"new_owner":  payload.NewOwner,
				"tx_hash":    payload.TxHash,
			},
		})
		if err != nil {
			log.Error("failed to encode cancellation notification", "error", err)
			continue
		}

		key := fmt.Sprintf("notify:cancel:%s:%s", c.ListingID, payload.TxHash)
		if _, err := h.queue.Enqueue(ctx, store.QueueNotification, body,
			store.WithIdempotencyKey(key)); err != nil {
			log.Error("failed to enqueue cancellation notification",
				"listing_id", c.ListingID, "recipient", c.Seller, "error", err)
		}
	}

	log.Info("ownership cascade applied",
		"entity_id", payload.EntityID, "new_owner", payload.NewOwner,
		"cancelled_listings", len(cancelled), "block", payload.BlockNumber)
	return json.Marshal(output)
}
