// Package hybrid matches fault descriptions against an OpenSearch index with
// keyword and kNN queries, tolerating kNN dialect and mapping differences
// between backend versions.
package hybrid

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"fault-matcher/config"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
)

// SearchHit is one document returned by the backend.
type SearchHit struct {
	ID        string
	Score     float64
	Source    map[string]any
	Highlight map[string][]string
}

// SearchResult is the decoded part of a search response the matcher uses.
type SearchResult struct {
	Total        int
	Hits         []SearchHit
	Aggregations json.RawMessage
}

// Backend is the search engine the hybrid path runs against.
type Backend interface {
	// Version returns the server version string, e.g. "2.11.1".
	Version(ctx context.Context) (string, error)
	Search(ctx context.Context, body map[string]any) (*SearchResult, error)
	// FieldMapping returns the "properties" block of the index mapping.
	FieldMapping(ctx context.Context) (map[string]any, error)
}

// OpenSearchBackend implements Backend with the official OpenSearch client.
type OpenSearchBackend struct {
	client *opensearchapi.Client
	index  string
}

func NewOpenSearchBackend(cfg *config.Config) (*OpenSearchBackend, error) {
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.OpenSearchAddresses,
			Username:  cfg.OpenSearchUsername,
			Password:  cfg.OpenSearchPassword,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.OpenSearchInsecureSkipVerify},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &OpenSearchBackend{client: client, index: cfg.OpenSearchIndex}, nil
}

func (b *OpenSearchBackend) Version(ctx context.Context) (string, error) {
	info, err := b.client.Info(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query opensearch info: %w", err)
	}
	return info.Version.Number, nil
}

func (b *OpenSearchBackend) Search(ctx context.Context, body map[string]any) (*SearchResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search body: %w", err)
	}

	resp, err := b.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{b.index},
		Body:    bytes.NewReader(payload),
	})
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Total:        resp.Hits.Total.Value,
		Hits:         make([]SearchHit, 0, len(resp.Hits.Hits)),
		Aggregations: resp.Aggregations,
	}
	for _, h := range resp.Hits.Hits {
		source := map[string]any{}
		if len(h.Source) > 0 {
			if err := json.Unmarshal(h.Source, &source); err != nil {
				return nil, fmt.Errorf("failed to decode hit %s: %w", h.ID, err)
			}
		}
		result.Hits = append(result.Hits, SearchHit{
			ID:        h.ID,
			Score:     float64(h.Score),
			Source:    source,
			Highlight: h.Highlight,
		})
	}
	return result, nil
}

func (b *OpenSearchBackend) FieldMapping(ctx context.Context) (map[string]any, error) {
	resp, err := b.client.Indices.Mapping.Get(ctx, &opensearchapi.MappingGetReq{Indices: []string{b.index}})
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping of %s: %w", b.index, err)
	}

	for _, idx := range resp.Indices {
		var mapping struct {
			Properties map[string]any `json:"properties"`
		}
		if err := json.Unmarshal(idx.Mappings, &mapping); err != nil {
			return nil, fmt.Errorf("failed to decode mapping of %s: %w", b.index, err)
		}
		return mapping.Properties, nil
	}
	return nil, fmt.Errorf("no mapping returned for %s", b.index)
}
