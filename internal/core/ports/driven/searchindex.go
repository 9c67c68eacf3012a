package driven

import (
	"context"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// SearchIndex is the hosted search service: keyed upsert/delete plus hybrid
// query with a server-side security filter.
type SearchIndex interface {
	// Upsert writes chunks as full-record replacements keyed by chunk ID.
	Upsert(ctx context.Context, chunks []domain.Chunk) error

	// Delete removes specific chunks by ID. Deleting an absent ID is not an
	// error.
	Delete(ctx context.Context, chunkIDs []string) error

	// ChunkIDs returns every chunk ID currently indexed for a document.
	// Used to reconcile stale chunks when a document shrinks.
	ChunkIDs(ctx context.Context, documentID string) ([]string, error)

	// DeleteByDocument removes every chunk belonging to a document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Query runs a hybrid lexical+vector search. The GroupIDs filter is
	// applied by the index service itself; a chunk is eligible only when its
	// groupIds field intersects q.GroupIDs.
	Query(ctx context.Context, q SearchQuery) ([]SearchHit, error)

	// Close releases resources.
	Close() error
}

// SearchQuery describes one security-filtered retrieval.
type SearchQuery struct {
	// Text is the lexical query.
	Text string

	// Vector is the query embedding. Nil when the index vectorizes queries
	// itself or when hybrid search is degraded to lexical-only.
	Vector []float32

	// GroupIDs is the caller's resolved group set. Mandatory: an empty set
	// matches nothing.
	GroupIDs []string

	// Top is the number of hits requested after reranking.
	Top int
}

// SearchHit is one chunk returned by the index.
type SearchHit struct {
	Chunk domain.Chunk

	// Score is the hybrid relevance score.
	Score float64

	// RerankScore is the semantic reranker's score when available.
	RerankScore float64
}
