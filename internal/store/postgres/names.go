package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/grailsmarket/backend-sub003/internal/store"

	"github.com/lib/pq"
)

const nameColumns = `id, name, label, owner, registered_at, expires_at, tags, metadata, created_at, updated_at`

func scanName(row interface {
	Scan(dest ...interface{}) error
}) (*store.Name, error) {
	var n store.Name
	var tags pq.StringArray
	err := row.Scan(&n.ID, &n.Name, &n.Label, &n.Owner, &n.RegisteredAt,
		&n.ExpiresAt, &tags, &n.Metadata, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	n.Tags = []string(tags)
	return &n, nil
}

// GetName returns a name by its ID.
func (s *Store) GetName(ctx context.Context, id string) (*store.Name, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nameColumns+` FROM names WHERE id = $1`, id)
	n, err := scanName(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get name %s: %w", id, err)
	}
	return n, nil
}

// GetProjection reads the name and its derived search fields in one pass.
// This is the authoritative read the listener and workers use instead of
// trusting trigger payloads.
func (s *Store) GetProjection(ctx context.Context, nameID string) (*store.Projection, error) {
	n, err := s.GetName(ctx, nameID)
	if err != nil {
		return nil, err
	}

	p := &store.Projection{Name: *n}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name_id, seller, price_wei::text, currency, status, expires_at, created_at, updated_at
		FROM listings
		WHERE name_id = $1 AND status = 'active'
	`, nameID)
	var l store.Listing
	err = row.Scan(&l.ID, &l.NameID, &l.Seller, &l.PriceWei, &l.Currency,
		&l.Status, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	switch {
	case err == nil:
		p.ActiveListing = &l
	case errors.Is(err, sql.ErrNoRows):
		// no active listing
	default:
		return nil, fmt.Errorf("failed to read active listing for %s: %w", nameID, err)
	}

	var highest sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(amount_wei)::text
		FROM offers
		WHERE name_id = $1 AND status = 'pending'
	`, nameID).Scan(&p.OfferCount, &highest)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate offers for %s: %w", nameID, err)
	}
	if highest.Valid {
		p.HighestOfferWei = highest.String
	}

	return p, nil
}

// ListProjections streams every projection in primary-key order. One query
// per page of names plus the per-name derived reads; the bulk reconciler
// paces itself, so this favors simplicity over join tuning.
func (s *Store) ListProjections(ctx context.Context, pageSize int, fn func(*store.Projection) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}

	lastID := ""
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id FROM names
			WHERE id::text > $1
			ORDER BY id::text ASC
			LIMIT $2
		`, lastID, pageSize)
		if err != nil {
			return fmt.Errorf("failed to page names: %w", err)
		}

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}

		for _, id := range ids {
			p, err := s.GetProjection(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// deleted while paging, reconciliation will drop it
					continue
				}
				return err
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		lastID = ids[len(ids)-1]
	}
}

// NameIDExists reports whether a name row exists.
func (s *Store) NameIDExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM names WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check name %s: %w", id, err)
	}
	return exists, nil
}

// ResolveNameID maps a row of a watched table to its name id.
func (s *Store) ResolveNameID(ctx context.Context, table, rowID string) (string, error) {
	var query string
	switch table {
	case "names":
		return rowID, nil
	case "listings":
		query = `SELECT name_id FROM listings WHERE id = $1`
	case "offers":
		query = `SELECT name_id FROM offers WHERE id = $1`
	default:
		return "", fmt.Errorf("unwatched table %q", table)
	}

	var nameID string
	err := s.db.QueryRowContext(ctx, query, rowID).Scan(&nameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve name for %s %s: %w", table, rowID, err)
	}
	return nameID, nil
}

// PendingOfferBuyers returns distinct buyers with a pending offer on the name.
func (s *Store) PendingOfferBuyers(ctx context.Context, nameID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT buyer FROM offers
		WHERE name_id = $1 AND status = 'pending'
	`, nameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offer buyers for %s: %w", nameID, err)
	}
	defer rows.Close()

	var buyers []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		buyers = append(buyers, b)
	}
	return buyers, rows.Err()
}

// TransferOwnership applies an ownership change atomically. If the stored
// owner already equals newOwner the whole call is a no-op, which makes the
// ownership-update handler safe under duplicate delivery.
func (s *Store) TransferOwnership(ctx context.Context, nameID, newOwner string) (bool, []store.CancelledListing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin ownership transfer: %w", err)
	}
	defer tx.Rollback()

	var currentOwner string
	err = tx.QueryRowContext(ctx,
		`SELECT owner FROM names WHERE id = $1 FOR UPDATE`, nameID).Scan(&currentOwner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, store.ErrNotFound
		}
		return false, nil, fmt.Errorf("failed to lock name %s: %w", nameID, err)
	}

	if currentOwner == newOwner {
		return false, nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE names SET owner = $1, updated_at = NOW() WHERE id = $2`, newOwner, nameID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to update owner of %s: %w", nameID, err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE listings
		SET status = 'cancelled', updated_at = NOW()
		WHERE name_id = $1 AND status = 'active'
		RETURNING id, seller, price_wei::text
	`, nameID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to cancel listings of %s: %w", nameID, err)
	}

	var cancelled []store.CancelledListing
	for rows.Next() {
		var c store.CancelledListing
		if err := rows.Scan(&c.ListingID, &c.Seller, &c.PriceWei); err != nil {
			rows.Close()
			return false, nil, err
		}
		cancelled = append(cancelled, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit ownership transfer: %w", err)
	}

	return true, cancelled, nil
}

// ExpireOrder marks one listing or offer expired if its expiry has passed.
func (s *Store) ExpireOrder(ctx context.Context, orderType, orderID string) (bool, error) {
	var query string
	switch orderType {
	case "listing":
		query = `UPDATE listings SET status = 'expired', updated_at = NOW()
			WHERE id = $1 AND status = 'active' AND expires_at IS NOT NULL AND expires_at <= NOW()`
	case "offer":
		query = `UPDATE offers SET status = 'expired', updated_at = NOW()
			WHERE id = $1 AND status = 'pending' AND expires_at IS NOT NULL AND expires_at <= NOW()`
	default:
		return false, fmt.Errorf("unknown order type %q", orderType)
	}

	res, err := s.db.ExecContext(ctx, query, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to expire %s %s: %w", orderType, orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpireDueOrders is the batch safety net for orders whose single expiry job
// was lost.
func (s *Store) ExpireDueOrders(ctx context.Context) ([]string, []string, error) {
	listingRows, err := s.db.QueryContext(ctx, `
		UPDATE listings SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= NOW()
		RETURNING id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expire listings: %w", err)
	}
	listingIDs, err := collectIDs(listingRows)
	if err != nil {
		return nil, nil, err
	}

	offerRows, err := s.db.QueryContext(ctx, `
		UPDATE offers SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= NOW()
		RETURNING id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expire offers: %w", err)
	}
	offerIDs, err := collectIDs(offerRows)
	if err != nil {
		return nil, nil, err
	}

	return listingIDs, offerIDs, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// analyticsViews is the allowlist for RefreshAnalytics; view names are
// interpolated into DDL and must never come from payloads unchecked.
var analyticsViews = []string{"mv_name_stats", "mv_market_activity"}

// RefreshAnalytics refreshes one materialized view, or all of them when
// viewName is empty.
func (s *Store) RefreshAnalytics(ctx context.Context, viewName string) error {
	views := analyticsViews
	if viewName != "" {
		found := false
		for _, v := range analyticsViews {
			if v == viewName {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown analytics view %q", viewName)
		}
		views = []string{viewName}
	}

	for _, v := range views {
		if _, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY `+v); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", v, err)
		}
	}
	return nil
}
