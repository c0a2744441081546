// Package pipeline turns change events into index writes and downstream jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/notify"
	"github.com/grailsmarket/backend-sub003/internal/search"
	"github.com/grailsmarket/backend-sub003/internal/store"
)

// Indexer is the slice of the synchronizer the pipeline writes through.
type Indexer interface {
	Upsert(ctx context.Context, nameID string, doc *search.Document) error
	Remove(ctx context.Context, nameID string) error
}

// Pipeline is the listener-side consumer: for every row change it re-reads
// the authoritative projection, updates the index, and enqueues any
// notification work the change implies. It is a best-effort accelerator; the
// durable repair path is bulk reconciliation.
type Pipeline struct {
	names store.NameStore
	sync  Indexer
	queue store.Queue
	log   *slog.Logger
}

// New wires the pipeline.
func New(names store.NameStore, sync Indexer, queue store.Queue, log *slog.Logger) *Pipeline {
	return &Pipeline{names: names, sync: sync, queue: queue, log: log}
}

// listingRow is the slice of a listings row we read from payloads.
// Numeric columns arrive as bare JSON numbers from row_to_json; json.Number
// keeps wei amounts exact.
type listingRow struct {
	ID       string      `json:"id"`
	NameID   string      `json:"name_id"`
	Seller   string      `json:"seller"`
	PriceWei json.Number `json:"price_wei"`
	Status   string      `json:"status"`
}

type offerRow struct {
	ID        string      `json:"id"`
	NameID    string      `json:"name_id"`
	Buyer     string      `json:"buyer"`
	AmountWei json.Number `json:"amount_wei"`
	Status    string      `json:"status"`
}

// HandleEvent implements notify.Handler.
func (p *Pipeline) HandleEvent(ctx context.Context, ev *notify.ChangeEvent) error {
	rowID, err := ev.RowID()
	if err != nil {
		return fmt.Errorf("event on %s: %w", ev.Table, err)
	}

	// A delete of a name row maps directly to an index delete; everything
	// else is an upsert of the parent name's document.
	if ev.Table == "names" && ev.Operation == notify.OpDelete {
		if err := p.removeDoc(ctx, rowID); err != nil {
			return err
		}
		return nil
	}

	nameID := ev.NameID()
	if nameID == "" {
		// truncated payload: identity only, resolve the parent from the store
		nameID, err = p.names.ResolveNameID(ctx, ev.Table, rowID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// row already gone; reconciliation will catch any leftovers
				logger.FromContext(ctx, p.log).Debug("row vanished before processing",
					"table", ev.Table, "row_id", rowID)
				return nil
			}
			return err
		}
	}

	if err := p.syncName(ctx, nameID); err != nil {
		return err
	}

	p.enqueueNotifications(ctx, ev, nameID)
	return nil
}

// SyncName re-reads one name and upserts (or removes) its document. Also the
// entry point for sync-entity-metadata jobs.
func (p *Pipeline) SyncName(ctx context.Context, nameID string) error {
	return p.syncName(ctx, nameID)
}

func (p *Pipeline) syncName(ctx context.Context, nameID string) error {
	proj, err := p.names.GetProjection(ctx, nameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.removeDoc(ctx, nameID)
		}
		return fmt.Errorf("failed to load projection %s: %w", nameID, err)
	}

	doc, err := search.BuildDocument(proj, time.Now())
	if err != nil {
		return fmt.Errorf("failed to project %s: %w", nameID, err)
	}

	if err := p.sync.Upsert(ctx, nameID, doc); err != nil {
		return pauseOnUnavailable(err)
	}
	return nil
}

func (p *Pipeline) removeDoc(ctx context.Context, nameID string) error {
	if err := p.sync.Remove(ctx, nameID); err != nil {
		return pauseOnUnavailable(err)
	}
	return nil
}

// pauseOnUnavailable translates an unreachable index into the listener's
// pause signal so the event is retried instead of skipped.
func pauseOnUnavailable(err error) error {
	if errors.Is(err, search.ErrUnavailable) {
		return fmt.Errorf("%w: %v", notify.ErrPause, err)
	}
	return err
}

// enqueueNotifications derives notification jobs from the change itself.
// Failures here are logged, not returned: the index write already happened
// and notification delivery is best-effort at this point. Idempotency keys
// are natural keys of the change, so a replayed event cannot double-enqueue.
func (p *Pipeline) enqueueNotifications(ctx context.Context, ev *notify.ChangeEvent, nameID string) {
	if ev.Truncated {
		// not enough payload to classify; stale notifications are worse than
		// none, and the row data itself is already synced
		return
	}

	switch ev.Table {
	case "offers":
		p.offerNotifications(ctx, ev, nameID)
	case "listings":
		p.listingNotifications(ctx, ev, nameID)
	}
}

func (p *Pipeline) offerNotifications(ctx context.Context, ev *notify.ChangeEvent, nameID string) {
	if ev.Operation != notify.OpInsert {
		return
	}
	var row offerRow
	if err := json.Unmarshal(ev.Data, &row); err != nil || row.Status != string(store.OfferStatusPending) {
		return
	}

	name, err := p.names.GetName(ctx, nameID)
	if err != nil {
		logger.FromContext(ctx, p.log).Warn("cannot address new-offer notification",
			"name_id", nameID, "error", err)
		return
	}

	p.enqueueNotification(ctx, store.NotificationPayload{
		Type:      store.NotificationNewOffer,
		Recipient: name.Owner,
		EntityID:  nameID,
		Metadata: map[string]string{
			"offer_id":   row.ID,
			"amount_wei": row.AmountWei.String(),
			"buyer":      row.Buyer,
		},
	}, "notify:new-offer:"+row.ID)
}

func (p *Pipeline) listingNotifications(ctx context.Context, ev *notify.ChangeEvent, nameID string) {
	var row listingRow
	if err := json.Unmarshal(ev.Data, &row); err != nil {
		return
	}

	switch ev.Operation {
	case notify.OpInsert:
		if row.Status != string(store.ListingStatusActive) {
			return
		}
		p.fanOutToBuyers(ctx, nameID, store.NotificationNewListing,
			"notify:new-listing:"+row.ID, map[string]string{
				"listing_id": row.ID,
				"price_wei":  row.PriceWei.String(),
			})

	case notify.OpUpdate:
		var old listingRow
		if err := json.Unmarshal(ev.OldData, &old); err != nil {
			return
		}
		switch {
		case row.Status == string(store.ListingStatusSold) && old.Status == string(store.ListingStatusActive):
			p.enqueueNotification(ctx, store.NotificationPayload{
				Type:      store.NotificationSale,
				Recipient: row.Seller,
				EntityID:  nameID,
				Metadata: map[string]string{
					"listing_id": row.ID,
					"price_wei":  row.PriceWei.String(),
				},
			}, "notify:sale:"+row.ID)
		case row.Status == string(store.ListingStatusActive) && row.PriceWei != old.PriceWei:
			p.fanOutToBuyers(ctx, nameID, store.NotificationPriceChange,
				fmt.Sprintf("notify:price-change:%s:%s", row.ID, row.PriceWei.String()),
				map[string]string{
					"listing_id":    row.ID,
					"price_wei":     row.PriceWei.String(),
					"old_price_wei": old.PriceWei.String(),
				})
		}
	}
}

// fanOutToBuyers addresses one notification per pending-offer buyer.
func (p *Pipeline) fanOutToBuyers(ctx context.Context, nameID string, typ store.NotificationType, keyPrefix string, metadata map[string]string) {
	buyers, err := p.names.PendingOfferBuyers(ctx, nameID)
	if err != nil {
		logger.FromContext(ctx, p.log).Warn("cannot resolve watchers", "name_id", nameID, "error", err)
		return
	}
	for _, buyer := range buyers {
		p.enqueueNotification(ctx, store.NotificationPayload{
			Type:      typ,
			Recipient: buyer,
			EntityID:  nameID,
			Metadata:  metadata,
		}, keyPrefix+":"+buyer)
	}
}

func (p *Pipeline) enqueueNotification(ctx context.Context, payload store.NotificationPayload, idempotencyKey string) {
	log := logger.FromContext(ctx, p.log)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to encode notification payload", "error", err)
		return
	}
	if _, err := p.queue.Enqueue(ctx, store.QueueNotification, body,
		store.WithIdempotencyKey(idempotencyKey)); err != nil {
		log.Warn("failed to enqueue notification",
			"type", string(payload.Type), "recipient", payload.Recipient, "error", err)
	}
}
