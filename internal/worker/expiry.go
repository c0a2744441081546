package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/grailsmarket/backend-sub003/internal/store"
)

// ExpiryHandler retires listings and offers past their expiry. One job shape
// covers both the targeted path (scheduled when the order was created) and
// the batch safety net that sweeps up anything whose targeted job was lost.
type ExpiryHandler struct {
	names store.NameStore
	queue store.Queue
	log   *slog.Logger
}

// NewExpiryHandler wires the handler.
func NewExpiryHandler(names store.NameStore, queue store.Queue, log *slog.Logger) *ExpiryHandler {
	return &ExpiryHandler{names: names, queue: queue, log: log}
}

type expiryOutput struct {
	Expired         bool `json:"expired,omitempty"`
	ExpiredListings int  `json:"expired_listings,omitempty"`
	ExpiredOffers   int  `json:"expired_offers,omitempty"`
}

func (h *ExpiryHandler) Handle(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	var payload store.ExpireOrdersPayload
	if err := DecodePayload(job, &payload); err != nil {
		return nil, err
	}

	if payload.Batch {
		listingIDs, offerIDs, err := h.names.ExpireDueOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("batch expiry failed: %w", err)
		}
		if len(listingIDs)+len(offerIDs) > 0 {
			h.log.Info("batch expiry swept orders",
				"listings", len(listingIDs), "offers", len(offerIDs))
		}
		return json.Marshal(expiryOutput{
			ExpiredListings: len(listingIDs),
			ExpiredOffers:   len(offerIDs),
		})
	}

	if payload.OrderID == "" {
		return nil, fmt.Errorf("%w: order_id is required for non-batch expiry", ErrPermanent)
	}
	switch payload.OrderType {
	case "listing", "offer":
	default:
		return nil, fmt.Errorf("%w: unknown order type %q", ErrPermanent, payload.OrderType)
	}

	// Already-expired or already-terminal orders come back false; duplicate
	// delivery lands here and changes nothing.
	expired, err := h.names.ExpireOrder(ctx, payload.OrderType, payload.OrderID)
	if err != nil {
		return nil, fmt.Errorf("expiry of %s %s failed: %w", payload.OrderType, payload.OrderID, err)
	}
	return json.Marshal(expiryOutput{Expired: expired})
}
