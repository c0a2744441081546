package search

import (
	"fmt"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/store"
)

// Document is the denormalized projection of a name stored in the index,
// keyed by the name's primary key. It is never the source of truth; every
// field is derived from an authoritative store read.
type Document struct {
	Name             string     `json:"name"`
	Label            string     `json:"label"`
	Owner            string     `json:"owner"`
	Status           string     `json:"status"`
	Tags             []string   `json:"tags"`
	RegisteredAt     *time.Time `json:"registered_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ListedAt         *time.Time `json:"listed_at,omitempty"`
	PriceWei         *string    `json:"price_wei,omitempty"`
	PriceSort        *string    `json:"price_sort,omitempty"`
	HighestOfferWei  *string    `json:"highest_offer_wei,omitempty"`
	HighestOfferSort *string    `json:"highest_offer_sort,omitempty"`
	OfferCount       int        `json:"offer_count"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BuildDocument derives the index document from a fresh projection.
func BuildDocument(p *store.Projection, now time.Time) (*Document, error) {
	doc := &Document{
		Name:         p.Name.Name,
		Label:        p.Name.Label,
		Owner:        p.Name.Owner,
		Status:       nameStatus(p.Name, now),
		Tags:         p.Name.Tags,
		RegisteredAt: p.Name.RegisteredAt,
		ExpiresAt:    p.Name.ExpiresAt,
		OfferCount:   p.OfferCount,
		UpdatedAt:    p.Name.UpdatedAt,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	if l := p.ActiveListing; l != nil {
		price, err := store.NormalizeWei(l.PriceWei)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", l.ID, err)
		}
		sortKey, err := store.WeiSortKey(price)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", l.ID, err)
		}
		listedAt := l.CreatedAt
		doc.PriceWei = &price
		doc.PriceSort = &sortKey
		doc.ListedAt = &listedAt
	}

	if p.HighestOfferWei != "" {
		offer, err := store.NormalizeWei(p.HighestOfferWei)
		if err != nil {
			return nil, fmt.Errorf("name %s highest offer: %w", p.Name.ID, err)
		}
		sortKey, err := store.WeiSortKey(offer)
		if err != nil {
			return nil, fmt.Errorf("name %s highest offer: %w", p.Name.ID, err)
		}
		doc.HighestOfferWei = &offer
		doc.HighestOfferSort = &sortKey
	}

	return doc, nil
}

func nameStatus(n store.Name, now time.Time) string {
	if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
		return "expired"
	}
	return "registered"
}
