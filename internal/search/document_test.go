package search

import (
	"strings"
	"testing"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/store"
)

func testProjection(owner string) *store.Projection {
	now := time.Now()
	expires := now.Add(90 * 24 * time.Hour)
	return &store.Projection{
		Name: store.Name{
			ID:           "n1",
			Name:         "vitalik.eth",
			Label:        "vitalik",
			Owner:        owner,
			RegisteredAt: &now,
			ExpiresAt:    &expires,
			Tags:         []string{"premium"},
			UpdatedAt:    now,
		},
	}
}

func TestBuildDocument_Bare(t *testing.T) {
	doc, err := BuildDocument(testProjection("0xabc"), time.Now())
	if err != nil {
		t.Fatalf("BuildDocument failed: %v", err)
	}
	if doc.Status != "registered" {
		t.Errorf("got status %q, want registered", doc.Status)
	}
	if doc.PriceWei != nil || doc.PriceSort != nil || doc.ListedAt != nil {
		t.Error("unlisted name must not carry price fields")
	}
	if doc.HighestOfferWei != nil || doc.OfferCount != 0 {
		t.Error("name without offers must not carry offer fields")
	}
}

func TestBuildDocument_WithListingAndOffers(t *testing.T) {
	p := testProjection("0xabc")
	listedAt := time.Now().Add(-time.Hour)
	p.ActiveListing = &store.Listing{
		ID:        "l1",
		NameID:    "n1",
		Seller:    "0xabc",
		PriceWei:  "1500000000000000000",
		Status:    store.ListingStatusActive,
		CreatedAt: listedAt,
	}
	p.OfferCount = 3
	p.HighestOfferWei = "0900000000000000000"

	doc, err := BuildDocument(p, time.Now())
	if err != nil {
		t.Fatalf("BuildDocument failed: %v", err)
	}
	if doc.PriceWei == nil || *doc.PriceWei != "1500000000000000000" {
		t.Errorf("price not carried exactly: %v", doc.PriceWei)
	}
	if doc.PriceSort == nil || len(*doc.PriceSort) != 78 || !strings.HasSuffix(*doc.PriceSort, "1500000000000000000") {
		t.Errorf("unexpected price sort key: %v", doc.PriceSort)
	}
	if doc.ListedAt == nil || !doc.ListedAt.Equal(listedAt) {
		t.Errorf("listed_at not taken from the listing: %v", doc.ListedAt)
	}
	// leading zeros normalize away so equal amounts index identically
	if doc.HighestOfferWei == nil || *doc.HighestOfferWei != "900000000000000000" {
		t.Errorf("highest offer not normalized: %v", doc.HighestOfferWei)
	}
	if doc.OfferCount != 3 {
		t.Errorf("got offer count %d, want 3", doc.OfferCount)
	}
}

func TestBuildDocument_ExpiredName(t *testing.T) {
	p := testProjection("0xabc")
	past := time.Now().Add(-time.Hour)
	p.Name.ExpiresAt = &past

	doc, err := BuildDocument(p, time.Now())
	if err != nil {
		t.Fatalf("BuildDocument failed: %v", err)
	}
	if doc.Status != "expired" {
		t.Errorf("got status %q, want expired", doc.Status)
	}
}

func TestBuildDocument_RejectsBadAmount(t *testing.T) {
	p := testProjection("0xabc")
	p.ActiveListing = &store.Listing{ID: "l1", PriceWei: "1.5e18"}

	if _, err := BuildDocument(p, time.Now()); err == nil {
		t.Error("expected error for non-integer price")
	}
}
