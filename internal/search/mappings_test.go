package search

import (
	"encoding/json"
	"testing"
)

func TestMappingsAreValidJSON(t *testing.T) {
	t.Parallel()
	mappings := map[string]string{
		"prices":  priceIndexMapping,
		"deals":   dealIndexMapping,
		"metrics": metricsIndexMapping,
	}
	for name, body := range mappings {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			t.Errorf("%s mapping is not valid JSON: %v", name, err)
			continue
		}
		if _, ok := decoded["mappings"]; !ok {
			t.Errorf("%s mapping has no mappings section", name)
		}
	}
}

func TestDealMappingAnalyzer(t *testing.T) {
	t.Parallel()
	var decoded struct {
		Settings struct {
			Analysis struct {
				Analyzer map[string]struct {
					Filter []string `json:"filter"`
				} `json:"analyzer"`
			} `json:"analysis"`
		} `json:"settings"`
	}
	if err := json.Unmarshal([]byte(dealIndexMapping), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	analyzer, ok := decoded.Settings.Analysis.Analyzer["deal_analyzer"]
	if !ok {
		t.Fatal("deal_analyzer missing")
	}
	var hasStemmer bool
	for _, f := range analyzer.Filter {
		if f == "german_stemmer" {
			hasStemmer = true
		}
	}
	if !hasStemmer {
		t.Error("deal_analyzer lacks the german stemmer")
	}
}

func TestPriceDocumentMatchesMapping(t *testing.T) {
	t.Parallel()
	doc := priceDocument{
		ASIN:               "B005EOWBHC",
		ProductTitle:       "K120",
		CurrentPrice:       17.99,
		TargetPrice:        20.00,
		PreviousPrice:      19.99,
		PriceChangePercent: 12.5,
		Domain:             "de",
		Currency:           "EUR",
		Timestamp:          "2026-08-25T12:00:00Z",
		EventType:          "price_update",
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("decode document: %v", err)
	}

	var mapping struct {
		Mappings struct {
			Properties map[string]any `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(priceIndexMapping), &mapping); err != nil {
		t.Fatalf("decode mapping: %v", err)
	}

	for field := range fields {
		if _, ok := mapping.Mappings.Properties[field]; !ok {
			t.Errorf("document field %q has no declared mapping", field)
		}
	}
	if got, ok := fields["price_change_percent"]; !ok || got != 12.5 {
		t.Errorf("price_change_percent = %v (present %v), want 12.5", got, ok)
	}
}
