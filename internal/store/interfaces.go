package store

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction to
// the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NameStore handles reads of domain rows and the ownership cascade. The
// listener and the workers share one implementation; neither ever mutates a
// row outside a transaction.
type NameStore interface {
	// GetName returns a name by its ID.
	GetName(ctx context.Context, id string) (*Name, error)

	// GetProjection returns the name plus its derived search fields (active
	// listing, offer aggregates), read fresh from the store.
	GetProjection(ctx context.Context, nameID string) (*Projection, error)

	// ListProjections streams every projection in primary-key order, pageSize
	// rows at a time, calling fn for each. Used by bulk reconciliation.
	ListProjections(ctx context.Context, pageSize int, fn func(*Projection) error) error

	// NameIDExists reports whether a name row exists. Used by the orphan scan.
	NameIDExists(ctx context.Context, id string) (bool, error)

	// ResolveNameID maps a row of a watched table to the name it belongs to.
	// Needed when a truncated change payload only carries the row id.
	ResolveNameID(ctx context.Context, table, rowID string) (string, error)

	// PendingOfferBuyers returns the distinct buyers with a pending offer on
	// the name. Used to fan out price-change notifications.
	PendingOfferBuyers(ctx context.Context, nameID string) ([]string, error)

	// TransferOwnership applies an ownership change in one transaction:
	// update the owner, cancel every active listing for the name, and report
	// the cancelled listings. If the stored owner already equals newOwner it
	// is a no-op and returns changed=false with no cancellations.
	TransferOwnership(ctx context.Context, nameID, newOwner string) (changed bool, cancelled []CancelledListing, err error)

	// ExpireOrder marks a single listing or offer expired if its expiry has
	// passed. Returns false if it was already terminal or not yet due.
	ExpireOrder(ctx context.Context, orderType, orderID string) (bool, error)

	// ExpireDueOrders is the batch safety net: marks every active listing and
	// pending offer past its expiry as expired. Returns the affected ids per
	// kind.
	ExpireDueOrders(ctx context.Context) (listingIDs, offerIDs []string, err error)

	// RefreshAnalytics refreshes one materialized view, or all of them when
	// viewName is empty.
	RefreshAnalytics(ctx context.Context, viewName string) error
}
