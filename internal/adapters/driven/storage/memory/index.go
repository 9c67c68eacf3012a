package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure SearchIndex implements the interface.
var _ driven.SearchIndex = (*SearchIndex)(nil)

// SearchIndex is an in-memory search index for testing and local runs.
// Scoring is term overlap plus cosine similarity when vectors are
// present; the group filter applies the same intersects-semantics a
// hosted index would enforce server-side.
type SearchIndex struct {
	mu     sync.RWMutex
	chunks map[string]domain.Chunk
}

// NewSearchIndex creates an empty in-memory index.
func NewSearchIndex() *SearchIndex {
	return &SearchIndex{chunks: make(map[string]domain.Chunk)}
}

// Upsert writes chunks keyed by ID.
func (s *SearchIndex) Upsert(_ context.Context, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

// Delete removes chunks by ID.
func (s *SearchIndex) Delete(_ context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.chunks, id)
	}
	return nil
}

// ChunkIDs returns the IDs indexed for a document.
func (s *SearchIndex) ChunkIDs(_ context.Context, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteByDocument removes every chunk of a document.
func (s *SearchIndex) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

// Query runs a filtered lexical+vector search over the stored chunks.
func (s *SearchIndex) Query(_ context.Context, q driven.SearchQuery) ([]driven.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenize(q.Text)
	var hits []driven.SearchHit

	for _, c := range s.chunks {
		if !domain.GroupsIntersect(c.GroupIDs, q.GroupIDs) {
			continue
		}

		score := lexicalScore(terms, c)
		if q.Vector != nil && c.Vector != nil {
			score += cosine(q.Vector, c.Vector)
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, driven.SearchHit{Chunk: c, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Top > 0 && len(hits) > q.Top {
		hits = hits[:q.Top]
	}
	return hits, nil
}

// Close is a no-op.
func (s *SearchIndex) Close() error { return nil }

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func lexicalScore(terms []string, c domain.Chunk) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(c.DocumentTitle + " " + c.SectionHeading + " " + c.Text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
