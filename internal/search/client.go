package search

import (
	"fmt"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
)

// NewClient builds an Elasticsearch client. Constructed once at startup and
// handed to the synchronizer; no package-level singleton.
func NewClient(addresses []string) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     addresses,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    3,
		RetryBackoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 500 * time.Millisecond
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return es, nil
}
