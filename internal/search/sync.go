// Package search owns the Elasticsearch projection of the store: index
// schema, incremental upserts and deletes, and bulk reconciliation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/store"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"golang.org/x/time/rate"
)

// ErrUnavailable wraps transport-level failures: the index cannot be reached
// at all. Callers treat this as transient and back off; everything else is a
// per-document problem.
var ErrUnavailable = errors.New("search: index unavailable")

// ErrSchemaMismatch is returned when the index exists with a different schema
// version. Recreating the index is destructive and must be an explicit
// operator action.
var ErrSchemaMismatch = errors.New("search: index schema mismatch, recreate required")

// Config for the synchronizer.
type Config struct {
	Index          string
	Schema         Schema
	PageSize       int        // store scan page size for reconciliation
	ReconcileRate  rate.Limit // docs/sec ceiling during bulk reconciliation
	ScrollDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Index == "" {
		c.Index = "names"
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.ReconcileRate <= 0 {
		c.ReconcileRate = 200
	}
	if c.ScrollDuration <= 0 {
		c.ScrollDuration = 2 * time.Minute
	}
	return c
}

// Synchronizer is the only writer to the index. All of its operations are
// idempotent, so the live listener path and a concurrently running
// reconciliation converge without any locking between them.
type Synchronizer struct {
	es      *elasticsearch.Client
	cfg     Config
	names   store.NameStore
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSynchronizer builds a synchronizer on an existing client.
func NewSynchronizer(es *elasticsearch.Client, names store.NameStore, cfg Config, log *slog.Logger) *Synchronizer {
	cfg = cfg.withDefaults()
	return &Synchronizer{
		es:      es,
		cfg:     cfg,
		names:   names,
		limiter: rate.NewLimiter(cfg.ReconcileRate, int(cfg.ReconcileRate)),
		log:     log,
	}
}

// Index returns the index name the synchronizer writes to.
func (s *Synchronizer) Index() string {
	return s.cfg.Index
}

// EnsureSchema idempotently creates the index if absent. If the index exists
// with a different schema version it returns ErrSchemaMismatch and changes
// nothing.
func (s *Synchronizer) EnsureSchema(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.cfg.Index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case 200:
		version, err := s.installedSchemaVersion(ctx)
		if err != nil {
			return err
		}
		if version != SchemaVersion {
			return fmt.Errorf("%w: index has version %d, want %d", ErrSchemaMismatch, version, SchemaVersion)
		}
		return nil
	case 404:
		return s.createIndex(ctx)
	default:
		return fmt.Errorf("unexpected exists response for %s: %s", s.cfg.Index, res.Status())
	}
}

// RecreateSchema drops and recreates the index. Destructive; only reachable
// from the operator CLI.
func (s *Synchronizer) RecreateSchema(ctx context.Context) error {
	res, err := s.es.Indices.Delete([]string{s.cfg.Index},
		s.es.Indices.Delete.WithContext(ctx),
		s.es.Indices.Delete.WithIgnoreUnavailable(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to delete index %s: %s", s.cfg.Index, res.Status())
	}
	return s.createIndex(ctx)
}

func (s *Synchronizer) createIndex(ctx context.Context) error {
	res, err := s.es.Indices.Create(s.cfg.Index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(bytes.NewReader([]byte(s.cfg.Schema.Body()))))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %s", s.cfg.Index, res.Status())
	}
	s.log.Info("created search index", "index", s.cfg.Index, "schema_version", SchemaVersion)
	return nil
}

func (s *Synchronizer) installedSchemaVersion(ctx context.Context) (int, error) {
	res, err := s.es.Indices.GetMapping(
		s.es.Indices.GetMapping.WithContext(ctx),
		s.es.Indices.GetMapping.WithIndex(s.cfg.Index))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("failed to read mapping of %s: %s", s.cfg.Index, res.Status())
	}

	var mapping map[string]struct {
		Mappings struct {
			Meta struct {
				SchemaVersion int `json:"schema_version"`
			} `json:"_meta"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&mapping); err != nil {
		return 0, fmt.Errorf("failed to decode mapping of %s: %w", s.cfg.Index, err)
	}
	for _, idx := range mapping {
		return idx.Mappings.Meta.SchemaVersion, nil
	}
	return 0, nil
}

// Upsert writes the full document keyed by the name id. Last write wins;
// replaying the same document is a no-op in effect.
func (s *Synchronizer) Upsert(ctx context.Context, nameID string, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", nameID, err)
	}

	res, err := s.es.Index(s.cfg.Index, bytes.NewReader(body),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(nameID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("upsert of %s rejected: %s", nameID, res.Status())
	}
	return nil
}

// Remove deletes the document. A document that is already absent is fine.
func (s *Synchronizer) Remove(ctx context.Context, nameID string) error {
	res, err := s.es.Delete(s.cfg.Index, nameID, s.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete of %s rejected: %s", nameID, res.Status())
	}
	return nil
}

// ReconcileStats summarises one bulk reconciliation run.
type ReconcileStats struct {
	Scanned  int64
	Upserted int64
	Failed   int64
	Orphans  int64
}

// BulkReconcile rewrites the entire store into the index as a stream of
// idempotent upserts, then deletes index documents whose store row is gone.
// Safe to run while the listener processes live events: convergence relies on
// idempotency, not mutual exclusion.
func (s *Synchronizer) BulkReconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	var upserted, failed int64 // touched from bulk indexer worker goroutines

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     s.es,
		Index:      s.cfg.Index,
		NumWorkers: 2,
	})
	if err != nil {
		return stats, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	now := time.Now()
	err = s.names.ListProjections(ctx, s.cfg.PageSize, func(p *store.Projection) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		doc, err := BuildDocument(p, now)
		if err != nil {
			// bad row data is a permanent error for this document; count it
			// and keep going, the rest of the index still converges
			atomic.AddInt64(&failed, 1)
			s.log.Error("skipping unprojectable row", "name_id", p.Name.ID, "error", err)
			return nil
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		stats.Scanned++
		return bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: p.Name.ID,
			Body:       bytes.NewReader(body),
			OnSuccess: func(context.Context, esutil.BulkIndexerItem, esutil.BulkIndexerResponseItem) {
				atomic.AddInt64(&upserted, 1)
			},
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, r esutil.BulkIndexerResponseItem, err error) {
				atomic.AddInt64(&failed, 1)
				s.log.Error("bulk upsert failed", "name_id", item.DocumentID,
					"reason", r.Error.Reason, "error", err)
			},
		})
	})
	closeErr := bi.Close(ctx)
	stats.Upserted = atomic.LoadInt64(&upserted)
	stats.Failed = atomic.LoadInt64(&failed)
	if err != nil {
		return stats, fmt.Errorf("reconcile store scan failed: %w", err)
	}
	if closeErr != nil {
		return stats, fmt.Errorf("%w: %v", ErrUnavailable, closeErr)
	}

	orphans, err := s.OrphanScan(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range orphans {
		if err := s.Remove(ctx, id); err != nil {
			return stats, err
		}
		stats.Orphans++
	}

	s.log.Info("bulk reconciliation finished",
		"scanned", stats.Scanned, "upserted", stats.Upserted,
		"failed", stats.Failed, "orphans_deleted", stats.Orphans)
	return stats, nil
}

// OrphanScan returns ids of index documents that have no corresponding store
// row.
func (s *Synchronizer) OrphanScan(ctx context.Context) ([]string, error) {
	var orphans []string
	err := s.eachIndexedID(ctx, func(id string) error {
		exists, err := s.names.NameIDExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			orphans = append(orphans, id)
		}
		return nil
	})
	return orphans, err
}

// Drift is one field disagreement between the index and the store.
type Drift struct {
	NameID     string
	Field      string
	StoreValue string
	IndexValue string
}

// DriftScan compares the authoritative projection against the indexed
// document for every name and reports field-level disagreements. Read-only;
// repair is BulkReconcile's job.
func (s *Synchronizer) DriftScan(ctx context.Context) ([]Drift, error) {
	var drifts []Drift
	now := time.Now()

	err := s.names.ListProjections(ctx, s.cfg.PageSize, func(p *store.Projection) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		want, err := BuildDocument(p, now)
		if err != nil {
			return err
		}

		got, found, err := s.fetchDocument(ctx, p.Name.ID)
		if err != nil {
			return err
		}
		if !found {
			drifts = append(drifts, Drift{NameID: p.Name.ID, Field: "_document", StoreValue: "present", IndexValue: "missing"})
			return nil
		}

		compare := func(field, storeVal, indexVal string) {
			if storeVal != indexVal {
				drifts = append(drifts, Drift{NameID: p.Name.ID, Field: field, StoreValue: storeVal, IndexValue: indexVal})
			}
		}
		compare("owner", want.Owner, got.Owner)
		compare("status", want.Status, got.Status)
		compare("price_wei", strOrEmpty(want.PriceWei), strOrEmpty(got.PriceWei))
		compare("highest_offer_wei", strOrEmpty(want.HighestOfferWei), strOrEmpty(got.HighestOfferWei))
		compare("offer_count", fmt.Sprint(want.OfferCount), fmt.Sprint(got.OfferCount))
		return nil
	})
	return drifts, err
}

func (s *Synchronizer) fetchDocument(ctx context.Context, nameID string) (*Document, bool, error) {
	res, err := s.es.Get(s.cfg.Index, nameID, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, false, nil
	}
	if res.IsError() {
		return nil, false, fmt.Errorf("get of %s rejected: %s", nameID, res.Status())
	}

	var envelope struct {
		Source Document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, false, fmt.Errorf("failed to decode document %s: %w", nameID, err)
	}
	return &envelope.Source, true, nil
}

// eachIndexedID scrolls over every document id in the index.
func (s *Synchronizer) eachIndexedID(ctx context.Context, fn func(id string) error) error {
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.cfg.Index),
		s.es.Search.WithScroll(s.cfg.ScrollDuration),
		s.es.Search.WithSize(s.cfg.PageSize),
		s.es.Search.WithBody(bytes.NewReader([]byte(`{"query":{"match_all":{}},"_source":false}`))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	scrollID := ""
	defer func() {
		if scrollID != "" {
			res, err := s.es.ClearScroll(s.es.ClearScroll.WithScrollID(scrollID))
			if err == nil {
				res.Body.Close()
			}
		}
	}()

	for {
		if res.IsError() {
			res.Body.Close()
			return fmt.Errorf("index scan rejected: %s", res.Status())
		}

		var page struct {
			ScrollID string `json:"_scroll_id"`
			Hits     struct {
				Hits []struct {
					ID string `json:"_id"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
			res.Body.Close()
			return fmt.Errorf("failed to decode scan page: %w", err)
		}
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
		scrollID = page.ScrollID

		if len(page.Hits.Hits) == 0 {
			return nil
		}
		for _, hit := range page.Hits.Hits {
			if err := fn(hit.ID); err != nil {
				return err
			}
		}

		res, err = s.es.Scroll(
			s.es.Scroll.WithContext(ctx),
			s.es.Scroll.WithScrollID(scrollID),
			s.es.Scroll.WithScroll(s.cfg.ScrollDuration))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
