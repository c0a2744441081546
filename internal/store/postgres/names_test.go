package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/grailsmarket/backend-sub003/internal/store"
)

var nameCols = []string{
	"id", "name", "label", "owner", "registered_at", "expires_at",
	"tags", "metadata", "created_at", "updated_at",
}

func nameRow(id, owner string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "vitalik.eth", "vitalik", owner, now, now.Add(365 * 24 * time.Hour),
		"{premium}", []byte(`{}`), now, now,
	}
}

func TestGetName_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM names WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nameCols))

	_, err := s.GetName(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestGetProjection(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM names WHERE id`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows(nameCols).AddRow(nameRow("n1", "0xabc")...))
	mock.ExpectQuery(`FROM listings`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name_id", "seller", "price_wei", "currency", "status",
			"expires_at", "created_at", "updated_at",
		}).AddRow("l1", "n1", "0xabc", "1500000000000000000", "ETH", "active", nil, now, now))
	mock.ExpectQuery(`FROM offers`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).
			AddRow(2, "900000000000000000"))

	p, err := s.GetProjection(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetProjection failed: %v", err)
	}
	if p.ActiveListing == nil || p.ActiveListing.PriceWei != "1500000000000000000" {
		t.Errorf("unexpected active listing: %+v", p.ActiveListing)
	}
	if p.OfferCount != 2 || p.HighestOfferWei != "900000000000000000" {
		t.Errorf("got offers count=%d highest=%q", p.OfferCount, p.HighestOfferWei)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetProjection_NoListingNoOffers(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM names WHERE id`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows(nameCols).AddRow(nameRow("n1", "0xabc")...))
	mock.ExpectQuery(`FROM listings`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM offers`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(0, nil))

	p, err := s.GetProjection(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetProjection failed: %v", err)
	}
	if p.ActiveListing != nil {
		t.Errorf("expected no active listing, got %+v", p.ActiveListing)
	}
	if p.OfferCount != 0 || p.HighestOfferWei != "" {
		t.Errorf("got offers count=%d highest=%q, want zero values", p.OfferCount, p.HighestOfferWei)
	}
}

func TestResolveNameID(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	// names rows are their own name id, no query needed
	id, err := s.ResolveNameID(context.Background(), "names", "n1")
	if err != nil || id != "n1" {
		t.Fatalf("got (%q, %v), want (n1, nil)", id, err)
	}

	mock.ExpectQuery(`SELECT name_id FROM listings`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"name_id"}).AddRow("n1"))

	id, err = s.ResolveNameID(context.Background(), "listings", "l1")
	if err != nil || id != "n1" {
		t.Fatalf("got (%q, %v), want (n1, nil)", id, err)
	}

	if _, err := s.ResolveNameID(context.Background(), "tenants", "x"); err == nil {
		t.Error("expected error for unwatched table")
	}
}

func TestTransferOwnership_NoOp(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner FROM names`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow("0xabc"))
	mock.ExpectRollback()

	changed, cancelled, err := s.TransferOwnership(context.Background(), "n1", "0xabc")
	if err != nil {
		t.Fatalf("TransferOwnership failed: %v", err)
	}
	if changed {
		t.Error("expected no-op when owner already matches")
	}
	if cancelled != nil {
		t.Errorf("expected no cancellations, got %v", cancelled)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransferOwnership_CancelsActiveListings(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner FROM names`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow("0xabc"))
	mock.ExpectExec(`UPDATE names SET owner`).
		WithArgs("0xdef", "n1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE listings`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller", "price_wei"}).
			AddRow("l1", "0xabc", "1500000000000000000").
			AddRow("l2", "0xabc", "2000000000000000000"))
	mock.ExpectCommit()

	changed, cancelled, err := s.TransferOwnership(context.Background(), "n1", "0xdef")
	if err != nil {
		t.Fatalf("TransferOwnership failed: %v", err)
	}
	if !changed {
		t.Error("expected owner change")
	}
	if len(cancelled) != 2 {
		t.Fatalf("got %d cancelled listings, want 2", len(cancelled))
	}
	if cancelled[0].ListingID != "l1" || cancelled[0].PriceWei != "1500000000000000000" {
		t.Errorf("unexpected first cancellation: %+v", cancelled[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransferOwnership_NameMissing(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner FROM names`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"owner"}))
	mock.ExpectRollback()

	_, _, err := s.TransferOwnership(context.Background(), "ghost", "0xdef")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestExpireOrder_AlreadyTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE listings SET status = 'expired'`).
		WithArgs("l1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	expired, err := s.ExpireOrder(context.Background(), "listing", "l1")
	if err != nil {
		t.Fatalf("ExpireOrder failed: %v", err)
	}
	if expired {
		t.Error("expected no-op for an order no longer active")
	}
}

func TestExpireOrder_UnknownType(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()
	_ = mock

	if _, err := s.ExpireOrder(context.Background(), "auction", "a1"); err == nil {
		t.Error("expected error for unknown order type")
	}
}

func TestRefreshAnalytics_RejectsUnknownView(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()
	_ = mock

	if err := s.RefreshAnalytics(context.Background(), "pg_shadow"); err == nil {
		t.Error("expected error for view outside the allowlist")
	}
}

func TestRefreshAnalytics_All(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_name_stats`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_market_activity`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RefreshAnalytics(context.Background(), ""); err != nil {
		t.Fatalf("RefreshAnalytics failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
