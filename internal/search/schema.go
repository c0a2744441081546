package search

import "fmt"

// SchemaVersion is stored in the index _meta and checked by EnsureSchema.
// Bump it whenever the mapping below changes; the operator then has to
// recreate the index explicitly, online mapping migration is not supported.
const SchemaVersion = 3

// Schema holds the tunable parts of the index definition.
type Schema struct {
	NGramMin int
	NGramMax int
	Shards   int
	Replicas int
}

func (s Schema) withDefaults() Schema {
	if s.NGramMin <= 0 {
		s.NGramMin = 2
	}
	if s.NGramMax <= 0 {
		s.NGramMax = 10
	}
	if s.Shards <= 0 {
		s.Shards = 1
	}
	return s
}

// Body renders the index settings and mappings.
//
// name gets three views: full-text (standard), exact (keyword) and ngram for
// substring search. Prices are exact decimal strings plus a fixed-width sort
// key; the index never stores a float for a monetary amount.
func (s Schema) Body() string {
	s = s.withDefaults()
	return fmt.Sprintf(`{
  "settings": {
    "number_of_shards": %d,
    "number_of_replicas": %d,
    "index.max_ngram_diff": %d,
    "analysis": {
      "analyzer": {
        "name_ngram": {
          "type": "custom",
          "tokenizer": "name_ngram_tokenizer",
          "filter": ["lowercase"]
        },
        "name_text": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase"]
        }
      },
      "tokenizer": {
        "name_ngram_tokenizer": {
          "type": "ngram",
          "min_gram": %d,
          "max_gram": %d,
          "token_chars": ["letter", "digit"]
        }
      }
    }
  },
  "mappings": {
    "_meta": {"schema_version": %d},
    "properties": {
      "name": {
        "type": "text",
        "analyzer": "name_text",
        "fields": {
          "exact": {"type": "keyword"},
          "ngram": {"type": "text", "analyzer": "name_ngram", "search_analyzer": "name_text"}
        }
      },
      "label": {"type": "keyword"},
      "owner": {"type": "keyword"},
      "status": {"type": "keyword"},
      "tags": {"type": "keyword"},
      "registered_at": {"type": "date"},
      "expires_at": {"type": "date"},
      "listed_at": {"type": "date"},
      "price_wei": {"type": "keyword"},
      "price_sort": {"type": "keyword"},
      "highest_offer_wei": {"type": "keyword"},
      "highest_offer_sort": {"type": "keyword"},
      "offer_count": {"type": "integer"},
      "updated_at": {"type": "date"}
    }
  }
}`, s.Shards, s.Replicas, s.NGramMax-s.NGramMin, s.NGramMin, s.NGramMax, SchemaVersion)
}
