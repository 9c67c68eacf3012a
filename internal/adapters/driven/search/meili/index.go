// Package meili provides a SearchIndex adapter backed by Meilisearch, for
// self-hosted deployments that do not use a managed search service.
package meili

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	meilisearch "github.com/meilisearch/meilisearch-go"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.SearchIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultIndexName = "hrcopilot_chunks"

	// DefaultEmbedder is the Meilisearch embedder name used for hybrid
	// search with caller-provided vectors.
	DefaultEmbedder = "default"

	// taskPollInterval paces waits on Meilisearch's asynchronous tasks.
	taskPollInterval = 50 * time.Millisecond

	// chunkIDPageSize pages through ChunkIDs lookups.
	chunkIDPageSize = 1000
)

// Config holds configuration for the Meilisearch index.
type Config struct {
	// URL is the Meilisearch instance URL (required).
	URL string

	// APIKey authenticates requests.
	APIKey string

	// IndexName is the target index UID.
	IndexName string

	// Embedder names the configured embedder for hybrid search. Empty
	// disables the vector component.
	Embedder string
}

// Index talks to one Meilisearch index.
type Index struct {
	client    meilisearch.ServiceManager
	indexName string
	embedder  string
}

// chunkRecord is the wire shape of a chunk in the index. _vectors is an
// object keyed by embedder name, not a bare array.
type chunkRecord struct {
	ID             string               `json:"id"`
	DocumentID     string               `json:"documentId"`
	DocumentTitle  string               `json:"documentTitle"`
	SourceURL      string               `json:"sourceUrl"`
	PageNumber     int                  `json:"pageNumber"`
	SectionHeading string               `json:"sectionHeading"`
	Text           string               `json:"text"`
	Department     string               `json:"department"`
	DocType        string               `json:"docType"`
	LastModified   string               `json:"lastModified"`
	GroupIDs       []string             `json:"groupIds"`
	Vectors        map[string][]float32 `json:"_vectors,omitempty"`
}

// NewIndex creates a Meilisearch client and configures the chunk index.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("meili: URL is required")
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndexName
	}
	if cfg.Embedder == "" {
		cfg.Embedder = DefaultEmbedder
	}

	client := meilisearch.New(cfg.URL, meilisearch.WithAPIKey(cfg.APIKey))
	if _, err := client.Health(); err != nil {
		return nil, fmt.Errorf("meili: %w: %v", domain.ErrIndexUnavailable, err)
	}

	x := &Index{
		client:    client,
		indexName: cfg.IndexName,
		embedder:  cfg.Embedder,
	}
	if err := x.configure(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) configure() error {
	if _, err := x.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        x.indexName,
		PrimaryKey: "id",
	}); err != nil {
		// Creating an existing index fails; the settings calls below still
		// apply, so this is not fatal.
		_ = err
	}

	index := x.client.Index(x.indexName)
	filterable := []interface{}{"groupIds", "documentId", "department", "docType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		return fmt.Errorf("meili: update filterable attributes: %w", err)
	}
	searchable := []string{"documentTitle", "sectionHeading", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		return fmt.Errorf("meili: update searchable attributes: %w", err)
	}
	return nil
}

// Upsert writes chunks as full-record replacements keyed by chunk ID. The
// write is awaited so a following ChunkIDs call sees it.
func (x *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	records := make([]chunkRecord, 0, len(chunks))
	for _, chunk := range chunks {
		records = append(records, chunkRecord{
			ID:             chunk.ID,
			DocumentID:     chunk.DocumentID,
			DocumentTitle:  chunk.DocumentTitle,
			SourceURL:      chunk.SourceURL,
			PageNumber:     chunk.PageNumber,
			SectionHeading: chunk.SectionHeading,
			Text:           chunk.Text,
			Department:     chunk.Department,
			DocType:        chunk.DocType,
			LastModified:   chunk.LastModified.UTC().Format(time.RFC3339),
			GroupIDs:       chunk.GroupIDs,
			Vectors:        x.vectors(chunk.Vector),
		})
	}

	task, err := x.client.Index(x.indexName).AddDocuments(records, nil)
	if err != nil {
		return fmt.Errorf("meili: add documents: %w", err)
	}
	return x.waitForTask(ctx, task.TaskUID)
}

// Delete removes specific chunks by ID. Deleting an absent ID is not an
// error.
func (x *Index) Delete(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		task, err := x.client.Index(x.indexName).DeleteDocument(id, nil)
		if err != nil {
			return fmt.Errorf("meili: delete document %q: %w", id, err)
		}
		if err := x.waitForTask(ctx, task.TaskUID); err != nil {
			return err
		}
	}
	return nil
}

// ChunkIDs returns every chunk ID currently indexed for a document.
func (x *Index) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	var ids []string
	for offset := int64(0); ; offset += chunkIDPageSize {
		resp, err := x.client.Index(x.indexName).Search("", &meilisearch.SearchRequest{
			Filter:               fmt.Sprintf("documentId = %q", documentID),
			AttributesToRetrieve: []string{"id"},
			Limit:                chunkIDPageSize,
			Offset:               offset,
		})
		if err != nil {
			return nil, fmt.Errorf("meili: list chunks: %w", err)
		}
		for _, hit := range resp.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
		if int64(len(resp.Hits)) < chunkIDPageSize {
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

// Query runs a filtered search. When a vector is provided and an embedder is
// configured the query is hybrid; otherwise it is lexical.
func (x *Index) Query(ctx context.Context, q driven.SearchQuery) ([]driven.SearchHit, error) {
	if len(q.GroupIDs) == 0 {
		return nil, nil
	}

	req := &meilisearch.SearchRequest{
		Filter:           groupFilter(q.GroupIDs),
		Limit:            int64(q.Top),
		ShowRankingScore: true,
	}
	if len(q.Vector) > 0 && x.embedder != "" {
		req.Vector = q.Vector
		req.Hybrid = &meilisearch.SearchRequestHybrid{
			Embedder:      x.embedder,
			SemanticRatio: 0.5,
		}
	}

	resp, err := x.client.Index(x.indexName).Search(q.Text, req)
	if err != nil {
		return nil, fmt.Errorf("meili: search: %w", err)
	}

	hits := make([]driven.SearchHit, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		modified, _ := time.Parse(time.RFC3339, decodeString(hit, "lastModified"))
		hits = append(hits, driven.SearchHit{
			Chunk: domain.Chunk{
				ID:             decodeString(hit, "id"),
				DocumentID:     decodeString(hit, "documentId"),
				DocumentTitle:  decodeString(hit, "documentTitle"),
				SourceURL:      decodeString(hit, "sourceUrl"),
				PageNumber:     decodeInt(hit, "pageNumber"),
				SectionHeading: decodeString(hit, "sectionHeading"),
				Text:           decodeString(hit, "text"),
				Department:     decodeString(hit, "department"),
				DocType:        decodeString(hit, "docType"),
				LastModified:   modified,
				GroupIDs:       decodeStrings(hit, "groupIds"),
			},
			Score: decodeFloat(hit, "_rankingScore"),
		})
	}
	return hits, nil
}

// vectors wraps a chunk embedding in the per-embedder object Meilisearch
// expects, or nil when the chunk carries no vector.
func (x *Index) vectors(vector []float32) map[string][]float32 {
	if len(vector) == 0 {
		return nil
	}
	return map[string][]float32{x.embedder: vector}
}

// Close releases resources.
func (x *Index) Close() error {
	x.client.Close()
	return nil
}

func (x *Index) waitForTask(ctx context.Context, taskUID int64) error {
	task, err := x.client.WaitForTaskWithContext(ctx, taskUID, taskPollInterval)
	if err != nil {
		return fmt.Errorf("meili: wait for task: %w", err)
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return fmt.Errorf("meili: task failed: %s", task.Error.Message)
	}
	return nil
}

// groupFilter builds the security filter: a chunk is visible only when its
// groupIds field intersects the caller's group set.
func groupFilter(groupIDs []string) string {
	quoted := ""
	for i, id := range groupIDs {
		if i > 0 {
			quoted += ", "
		}
		quoted += fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf("groupIds IN [%s]", quoted)
}

func decodeString(hit meilisearch.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeStrings(hit meilisearch.Hit, key string) []string {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func decodeInt(hit meilisearch.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func decodeFloat(hit meilisearch.Hit, key string) float64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}
