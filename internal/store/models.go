// Package store contains the database layer for the market sync backend.
package store

import (
	"encoding/json"
	"time"
)

// Name is a registered name. Postgres is the source of truth for all of
// these rows; the search index only ever holds a projection of them.
type Name struct {
	ID           string
	Name         string
	Label        string
	Owner        string
	RegisteredAt *time.Time
	ExpiresAt    *time.Time
	Tags         []string
	Metadata     json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListingStatus represents the state of a listing.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusExpired   ListingStatus = "expired"
)

// Listing is a sell order for a name. A name has at most one active listing.
// PriceWei is the base-unit integer amount carried as a decimal string; it is
// never converted to a float anywhere in the pipeline.
type Listing struct {
	ID        string
	NameID    string
	Seller    string
	PriceWei  string
	Currency  string
	Status    ListingStatus
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OfferStatus represents the state of an offer.
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
)

// Offer is a buy order for a name.
type Offer struct {
	ID        string
	NameID    string
	Buyer     string
	AmountWei string
	Status    OfferStatus
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Projection is the denormalized view of a name used to build its search
// document. Derived fields are read fresh from the store, never taken from a
// trigger payload.
type Projection struct {
	Name            Name
	ActiveListing   *Listing
	HighestOfferWei string
	OfferCount      int
}

// CancelledListing is what an ownership cascade reports back for each listing
// it cancelled, enough to address one notification.
type CancelledListing struct {
	ListingID string
	Seller    string
	PriceWei  string
}

// JobState represents the lifecycle state of a queued job.
//
// created -> active -> completed
// active  -> retry  -> active (up to MaxRetries)
// retry exhausted   -> failed
// completed/failed  -> archived after the retention window
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateRetry     JobState = "retry"
	JobStateFailed    JobState = "failed"
	JobStateArchived  JobState = "archived"
)

// Terminal reports whether the state is an end state (archivable).
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Queue names. Every job belongs to exactly one of these.
const (
	QueueOwnershipUpdate = "ownership-update"
	QueueNotification    = "send-notification"
	QueueExpireOrders    = "expire-orders"
	QueueSyncMetadata    = "sync-entity-metadata"
	QueueAnalytics       = "refresh-analytics"
	QueueReconcile       = "reconcile-index"
)

// Job is a durable unit of work. Jobs are delivered at least once; handlers
// must be idempotent.
type Job struct {
	ID           string
	Queue        string
	Payload      json.RawMessage
	State        JobState
	Priority     int
	RetryCount   int
	MaxRetries   int
	RetryDelay   time.Duration
	Definition   *string // set when created by a scheduled definition
	RunAt        time.Time
	ClaimedUntil *time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Output       json.RawMessage
	LastError    *string
}

// Job payloads, one per queue.

type OwnershipUpdatePayload struct {
	EntityID    string `json:"entity_id"`
	NewOwner    string `json:"new_owner"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
}

// NotificationType enumerates the notification templates.
type NotificationType string

const (
	NotificationSale         NotificationType = "sale"
	NotificationNewListing   NotificationType = "new-listing"
	NotificationPriceChange  NotificationType = "price-change"
	NotificationNewOffer     NotificationType = "new-offer"
	NotificationCancellation NotificationType = "ownership-cancellation"
	NotificationOrderExpired NotificationType = "order-expired"
)

type NotificationPayload struct {
	Type      NotificationType  `json:"type"`
	Recipient string            `json:"recipient"`
	EntityID  string            `json:"entity_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type ExpireOrdersPayload struct {
	OrderType string `json:"order_type,omitempty"` // "listing" or "offer"
	OrderID   string `json:"order_id,omitempty"`
	Batch     bool   `json:"batch,omitempty"` // sweep everything past expiry
}

type SyncMetadataPayload struct {
	EntityID string `json:"entity_id,omitempty"`
	Full     bool   `json:"full,omitempty"` // full store -> index reconcile
}

type AnalyticsPayload struct {
	ViewName string `json:"view_name,omitempty"` // empty means all views
}
