package search

// Index mappings, applied create-if-absent on connect.

// priceIndexMapping: exact product code, analyzed title with a keyword
// subfield, numeric price fields, and a raised result window for deep
// pagination over history.
const priceIndexMapping = `{
  "mappings": {
    "properties": {
      "asin": {"type": "keyword"},
      "product_title": {
        "type": "text",
        "analyzer": "standard",
        "fields": {"keyword": {"type": "keyword"}}
      },
      "current_price": {"type": "float"},
      "target_price": {"type": "float"},
      "previous_price": {"type": "float"},
      "price_change_percent": {"type": "float"},
      "domain": {"type": "keyword"},
      "currency": {"type": "keyword"},
      "timestamp": {"type": "date"},
      "event_type": {"type": "keyword"}
    }
  },
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "index": {"max_result_window": 50000}
  }
}`

// dealIndexMapping: titles run through deal_analyzer (standard tokenizer,
// lowercase, german stemmer, asciifolding) with keyword and
// completion-suggest subfields.
const dealIndexMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "deal_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "german_stemmer", "asciifolding"]
        }
      },
      "filter": {"german_stemmer": {"type": "stemmer", "language": "german"}}
    }
  },
  "mappings": {
    "properties": {
      "asin": {"type": "keyword"},
      "title": {
        "type": "text",
        "analyzer": "deal_analyzer",
        "fields": {
          "keyword": {"type": "keyword"},
          "suggest": {"type": "completion"}
        }
      },
      "description": {"type": "text", "analyzer": "deal_analyzer"},
      "current_price": {"type": "float"},
      "original_price": {"type": "float"},
      "discount_percent": {"type": "float"},
      "rating": {"type": "float"},
      "review_count": {"type": "integer"},
      "sales_rank": {"type": "integer"},
      "domain": {"type": "keyword"},
      "category": {"type": "keyword"},
      "prime_eligible": {"type": "boolean"},
      "url": {"type": "keyword"},
      "deal_score": {"type": "float"},
      "timestamp": {"type": "date"},
      "event_type": {"type": "keyword"}
    }
  }
}`

// metricsIndexMapping holds per-call token telemetry.
const metricsIndexMapping = `{
  "mappings": {
    "properties": {
      "timestamp": {"type": "date"},
      "operation": {"type": "keyword"},
      "tokens_consumed": {"type": "integer"},
      "tokens_left": {"type": "integer"},
      "refill_rate": {"type": "integer"},
      "refill_in": {"type": "integer"},
      "response_time_ms": {"type": "integer"},
      "asin_count": {"type": "integer"},
      "domain": {"type": "keyword"},
      "success": {"type": "boolean"},
      "error": {"type": "text"}
    }
  },
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  }
}`
