package search

import (
	"encoding/json"
	"testing"
)

func TestSchemaBody_IsValidJSON(t *testing.T) {
	var parsed struct {
		Settings map[string]interface{} `json:"settings"`
		Mappings struct {
			Meta struct {
				SchemaVersion int `json:"schema_version"`
			} `json:"_meta"`
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(Schema{}.Body()), &parsed); err != nil {
		t.Fatalf("schema body is not valid JSON: %v", err)
	}

	if parsed.Mappings.Meta.SchemaVersion != SchemaVersion {
		t.Errorf("got embedded version %d, want %d", parsed.Mappings.Meta.SchemaVersion, SchemaVersion)
	}

	// monetary fields must never be numeric in the mapping
	for _, field := range []string{"price_wei", "price_sort", "highest_offer_wei", "highest_offer_sort"} {
		prop, ok := parsed.Mappings.Properties[field]
		if !ok {
			t.Errorf("mapping missing field %s", field)
			continue
		}
		if prop.Type != "keyword" {
			t.Errorf("field %s mapped as %q, want keyword", field, prop.Type)
		}
	}
}

func TestSchemaBody_NGramRange(t *testing.T) {
	body := Schema{NGramMin: 3, NGramMax: 8}.Body()

	var parsed struct {
		Settings struct {
			MaxNGramDiff int `json:"index.max_ngram_diff"`
			Analysis     struct {
				Tokenizer struct {
					NameNGram struct {
						MinGram int `json:"min_gram"`
						MaxGram int `json:"max_gram"`
					} `json:"name_ngram_tokenizer"`
				} `json:"tokenizer"`
			} `json:"analysis"`
		} `json:"settings"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("schema body is not valid JSON: %v", err)
	}

	tok := parsed.Settings.Analysis.Tokenizer.NameNGram
	if tok.MinGram != 3 || tok.MaxGram != 8 {
		t.Errorf("got ngram range %d-%d, want 3-8", tok.MinGram, tok.MaxGram)
	}
	if parsed.Settings.MaxNGramDiff != 5 {
		t.Errorf("got max_ngram_diff %d, want 5", parsed.Settings.MaxNGramDiff)
	}
}
