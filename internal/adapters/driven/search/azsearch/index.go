// Package azsearch provides a SearchIndex adapter for the Azure AI Search
// REST API: keyed upsert/delete batches plus hybrid retrieval with a
// server-side security filter and semantic reranking.
package azsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.SearchIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultAPIVersion = "2024-07-01"
	DefaultTimeout    = 30 * time.Second

	// DefaultBatchSize caps documents per indexing request; the service
	// accepts up to 1000 actions per batch.
	DefaultBatchSize = 500

	// vectorField is the index field holding chunk embeddings.
	vectorField = "vector"

	// chunkIDPageSize pages through ChunkIDs lookups.
	chunkIDPageSize = 1000
)

// Config holds configuration for the Azure AI Search index.
type Config struct {
	// Endpoint is the service endpoint, e.g. https://mysvc.search.windows.net.
	Endpoint string

	// IndexName is the target index (required).
	IndexName string

	// APIKey authenticates requests (required).
	APIKey string

	// APIVersion is the service API version.
	APIVersion string

	// SemanticConfiguration enables the semantic reranker when non-empty.
	SemanticConfiguration string

	// BatchSize caps documents per indexing request.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// Index talks to one Azure AI Search index.
type Index struct {
	client     *http.Client
	endpoint   string
	indexName  string
	apiKey     string
	apiVersion string
	semantic   string
	batchSize  int
}

// indexDocument is the wire shape of a chunk in the index schema.
// mergeOrUpload keeps any field absent from the payload, so every mutable
// field serializes unconditionally or a shrunk value (an emptied groupIds
// above all) would silently survive from the previous version. Delete
// actions ignore everything but the key.
type indexDocument struct {
	Action         string    `json:"@search.action,omitempty"`
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	DocumentTitle  string    `json:"documentTitle"`
	SourceURL      string    `json:"sourceUrl"`
	PageNumber     int       `json:"pageNumber"`
	SectionHeading string    `json:"sectionHeading"`
	Text           string    `json:"text"`
	Vector         []float32 `json:"vector"`
	Department     string    `json:"department"`
	DocType        string    `json:"docType"`
	LastModified   string    `json:"lastModified"`
	GroupIDs       []string  `json:"groupIds"`
}

type indexBatch struct {
	Value []indexDocument `json:"value"`
}

type indexBatchResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"value"`
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchRequest struct {
	Search                string        `json:"search,omitempty"`
	Filter                string        `json:"filter,omitempty"`
	Select                string        `json:"select,omitempty"`
	Top                   int           `json:"top,omitempty"`
	Skip                  int           `json:"skip,omitempty"`
	QueryType             string        `json:"queryType,omitempty"`
	SemanticConfiguration string        `json:"semanticConfiguration,omitempty"`
	VectorQueries         []vectorQuery `json:"vectorQueries,omitempty"`
}

type searchDocument struct {
	Score          float64  `json:"@search.score"`
	RerankScore    float64  `json:"@search.rerankerScore"`
	ID             string   `json:"id"`
	DocumentID     string   `json:"documentId"`
	DocumentTitle  string   `json:"documentTitle"`
	SourceURL      string   `json:"sourceUrl"`
	PageNumber     int      `json:"pageNumber"`
	SectionHeading string   `json:"sectionHeading"`
	Text           string   `json:"text"`
	Department     string   `json:"department"`
	DocType        string   `json:"docType"`
	LastModified   string   `json:"lastModified"`
	GroupIDs       []string `json:"groupIds"`
}

type searchResponse struct {
	Value []searchDocument `json:"value"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewIndex creates a new Azure AI Search index client.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azsearch: endpoint is required")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("azsearch: index name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azsearch: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Index{
		client:     &http.Client{Timeout: cfg.Timeout},
		endpoint:   cfg.Endpoint,
		indexName:  cfg.IndexName,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		semantic:   cfg.SemanticConfiguration,
		batchSize:  cfg.BatchSize,
	}, nil
}

// Upsert writes chunks as full-record replacements keyed by chunk ID.
func (x *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]indexDocument, 0, len(chunks))
	for _, chunk := range chunks {
		groups := chunk.GroupIDs
		if groups == nil {
			// A fully revoked document must carry an empty array that matches
			// no filter, not a missing or null field.
			groups = []string{}
		}
		docs = append(docs, indexDocument{
			Action:         "mergeOrUpload",
			ID:             chunk.ID,
			DocumentID:     chunk.DocumentID,
			DocumentTitle:  chunk.DocumentTitle,
			SourceURL:      chunk.SourceURL,
			PageNumber:     chunk.PageNumber,
			SectionHeading: chunk.SectionHeading,
			Text:           chunk.Text,
			Vector:         chunk.Vector,
			Department:     chunk.Department,
			DocType:        chunk.DocType,
			LastModified:   chunk.LastModified.UTC().Format(time.RFC3339),
			GroupIDs:       groups,
		})
	}
	return x.sendBatches(ctx, docs)
}

// Delete removes specific chunks by ID.
func (x *Index) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	docs := make([]indexDocument, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		docs = append(docs, indexDocument{Action: "delete", ID: id})
	}
	return x.sendBatches(ctx, docs)
}

// ChunkIDs returns every chunk ID currently indexed for a document.
func (x *Index) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	var ids []string
	for skip := 0; ; skip += chunkIDPageSize {
		resp, err := x.search(ctx, searchRequest{
			Filter: fmt.Sprintf("documentId eq '%s'", escapeODataString(documentID)),
			Select: "id",
			Top:    chunkIDPageSize,
			Skip:   skip,
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range resp.Value {
			ids = append(ids, doc.ID)
		}
		if len(resp.Value) < chunkIDPageSize {
			return ids, nil
		}
	}
}

// DeleteByDocument removes every chunk belonging to a document.
func (x *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	ids, err := x.ChunkIDs(ctx, documentID)
	if err != nil {
		return err
	}
	return x.Delete(ctx, ids)
}

// Query runs a hybrid lexical+vector search with the caller's group set
// applied as a server-side filter. An empty group set matches nothing, so
// the index is not queried at all.
func (x *Index) Query(ctx context.Context, q driven.SearchQuery) ([]driven.SearchHit, error) {
	if len(q.GroupIDs) == 0 {
		return nil, nil
	}

	req := searchRequest{
		Search: q.Text,
		Filter: groupFilter(q.GroupIDs),
		Top:    q.Top,
	}
	if x.semantic != "" {
		req.QueryType = "semantic"
		req.SemanticConfiguration = x.semantic
	}
	if len(q.Vector) > 0 {
		req.VectorQueries = []vectorQuery{{
			Kind:   "vector",
			Vector: q.Vector,
			Fields: vectorField,
			K:      q.Top,
		}}
	}

	resp, err := x.search(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]driven.SearchHit, 0, len(resp.Value))
	for _, doc := range resp.Value {
		modified, _ := time.Parse(time.RFC3339, doc.LastModified)
		hits = append(hits, driven.SearchHit{
			Chunk: domain.Chunk{
				ID:             doc.ID,
				DocumentID:     doc.DocumentID,
				DocumentTitle:  doc.DocumentTitle,
				SourceURL:      doc.SourceURL,
				PageNumber:     doc.PageNumber,
				SectionHeading: doc.SectionHeading,
				Text:           doc.Text,
				Department:     doc.Department,
				DocType:        doc.DocType,
				LastModified:   modified,
				GroupIDs:       doc.GroupIDs,
			},
			Score:       doc.Score,
			RerankScore: doc.RerankScore,
		})
	}
	return hits, nil
}

// Close releases resources.
func (x *Index) Close() error {
	return nil
}

func (x *Index) sendBatches(ctx context.Context, docs []indexDocument) error {
	for start := 0; start < len(docs); start += x.batchSize {
		end := start + x.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := x.sendBatch(ctx, docs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) sendBatch(ctx context.Context, docs []indexDocument) error {
	body, err := x.post(ctx, "docs/index", indexBatch{Value: docs})
	if err != nil {
		return err
	}

	var batchResp indexBatchResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for _, result := range batchResp.Value {
		// 404 on a delete action is reported as success by the service, so
		// any per-key failure here is a real error.
		if !result.Status {
			return fmt.Errorf("azsearch: indexing %q failed: %s", result.Key, result.ErrorMessage)
		}
	}
	return nil
}

func (x *Index) search(ctx context.Context, req searchRequest) (*searchResponse, error) {
	body, err := x.post(ctx, "docs/search", req)
	if err != nil {
		return nil, err
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if searchResp.Error != nil {
		return nil, fmt.Errorf("azsearch error: %s", searchResp.Error.Message)
	}
	return &searchResp, nil
}

func (x *Index) post(ctx context.Context, operation string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s/%s?api-version=%s",
		x.endpoint, x.indexName, operation, x.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", x.apiKey)

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("azsearch: %w: %s", domain.ErrQuotaExhausted, string(body))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("azsearch error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// groupFilter builds the OData security filter. A chunk is visible only
// when its groupIds field intersects the caller's group set.
func groupFilter(groupIDs []string) string {
	escaped := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		escaped = append(escaped, escapeODataString(id))
	}
	return fmt.Sprintf("groupIds/any(g: search.in(g, '%s', ','))", strings.Join(escaped, ","))
}

func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
