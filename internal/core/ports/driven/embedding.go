package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// When the search index is configured with an integrated vectorizer the
// service may be nil; retrieval then delegates vectorization to the index.
type EmbeddingService interface {
	// Embed generates a vector embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving input
	// order. Adapters split oversized inputs into service-sized batches.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g. 1536).
	Dimensions() int

	// Close releases resources.
	Close() error
}
