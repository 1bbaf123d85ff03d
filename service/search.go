package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/elastic/go-elasticsearch/v8"
)

// Index names.
const (
	IndexCAPAWorkflows     = "capa-workflows"
	IndexRegulatoryUpdates = "regulatory-updates"
)

// Indexer receives records for full-text search.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, doc any) error
}

// SearchIndex wraps an Elasticsearch client. A nil client disables indexing.
type SearchIndex struct {
	esClient *elasticsearch.Client
}

// NewSearchIndex connects to addr. An empty addr returns a disabled index.
func NewSearchIndex(addr string) (*SearchIndex, error) {
	if addr == "" {
		log.Println("[NewSearchIndex] ELASTICSEARCH_URL not set, search indexing disabled")
		return &SearchIndex{}, nil
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return &SearchIndex{esClient: client}, nil
}

// Enabled reports whether a client is configured.
func (s *SearchIndex) Enabled() bool {
	return s != nil && s.esClient != nil
}

// IndexDocument stores doc under id. Failures are logged and returned so callers may ignore them.
func (s *SearchIndex) IndexDocument(ctx context.Context, index, id string, doc any) error {
	if !s.Enabled() {
		return nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for indexing: %w", err)
	}

	res, err := s.esClient.Index(
		index,
		bytes.NewReader(body),
		s.esClient.Index.WithDocumentID(id),
		s.esClient.Index.WithContext(ctx),
	)
	if err != nil {
		log.Printf("[SearchIndex.IndexDocument] Elasticsearch indexing error: %v", err)
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Printf("[SearchIndex.IndexDocument] Elasticsearch indexing failed: %s", res.String())
		return fmt.Errorf("elasticsearch indexing failed: %s", res.Status())
	}
	return nil
}

// Search runs a multi_match query over fields and returns the _source of each hit.
func (s *SearchIndex) Search(ctx context.Context, index, query string, fields []string) ([]map[string]interface{}, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("elasticsearch client is not initialized")
	}

	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": fields,
			},
		},
	}
	body, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(index),
		s.esClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	documents := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		if hit.Source == nil {
			continue
		}
		documents = append(documents, hit.Source)
	}
	return documents, nil
}
