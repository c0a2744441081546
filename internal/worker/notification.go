package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grailsmarket/backend-sub003/internal/email"
	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/store"
)

// notification templates keyed by type. Subject and body are small text
// templates; {name} style placeholders are filled from the payload metadata
// plus entity_id/recipient.
var notificationTemplates = map[store.NotificationType]struct {
	Subject string
	Body    string
}{
	store.NotificationSale: {
		Subject: "Your listing sold",
		Body:    "Listing {listing_id} sold for {price_wei} wei.",
	},
	store.NotificationNewListing: {
		Subject: "A name you made an offer on was listed",
		Body:    "Name {entity_id} is now listed at {price_wei} wei (listing {listing_id}).",
	},
	store.NotificationPriceChange: {
		Subject: "Price changed on a name you watch",
		Body:    "Listing {listing_id} moved from {old_price_wei} to {price_wei} wei.",
	},
	store.NotificationNewOffer: {
		Subject: "New offer on your name",
		Body:    "{buyer} offered {amount_wei} wei on name {entity_id} (offer {offer_id}).",
	},
	store.NotificationCancellation: {
		Subject: "Your listing was cancelled",
		Body:    "Listing {listing_id} was cancelled because name {entity_id} changed owner (tx {tx_hash}).",
	},
	store.NotificationOrderExpired: {
		Subject: "Your order expired",
		Body:    "Your {order_type} {order_id} on name {entity_id} expired.",
	},
}

// NotificationHandler sends one email per send-notification job.
type NotificationHandler struct {
	sender email.Sender
	log    *slog.Logger
}

// NewNotificationHandler wires the handler.
func NewNotificationHandler(sender email.Sender, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{sender: sender, log: log}
}

// Handle delivers the notification. Duplicate delivery can duplicate an
// email; that is an accepted trade-off, not a defect.
func (h *NotificationHandler) Handle(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	var payload store.NotificationPayload
	if err := DecodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.Recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrPermanent)
	}

	tmpl, ok := notificationTemplates[payload.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrPermanent, payload.Type)
	}

	vars := map[string]string{
		"entity_id": payload.EntityID,
		"recipient": payload.Recipient,
	}
	for k, v := range payload.Metadata {
		vars[k] = v
	}

	subject := fillTemplate(tmpl.Subject, vars)
	body := fillTemplate(tmpl.Body, vars)

	if err := h.sender.Send(ctx, payload.Recipient, subject, body); err != nil {
		return nil, fmt.Errorf("failed to send %s notification: %w", payload.Type, err)
	}

	logger.FromContext(ctx, h.log).Info("notification sent", "type", string(payload.Type), "recipient", payload.Recipient)
	return nil, nil
}

func fillTemplate(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}
