package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
	"github.com/res-labs/hrcopilot/internal/core/ports/driving"
	"github.com/res-labs/hrcopilot/internal/logger"
)

// Ensure Retriever implements the interface.
var _ driving.QueryService = (*Retriever)(nil)

// Retrieval defaults.
const (
	// DefaultRetrieveTop is how many candidates the index returns before
	// the final cut.
	DefaultRetrieveTop = 20

	// DefaultAnswerTop is how many chunks reach the synthesizer.
	DefaultAnswerTop = 5

	// DefaultFreshnessWindow bounds the recency boost.
	DefaultFreshnessWindow = 180 * 24 * time.Hour

	// DefaultFreshnessBoost is the score multiplier bonus for chunks
	// modified within the freshness window.
	DefaultFreshnessBoost = 0.1
)

// GroupResolver resolves a user's transitive group set.
type GroupResolver interface {
	UserGroups(ctx context.Context, userID string) ([]string, error)
}

// RetrieverConfig tunes retrieval.
type RetrieverConfig struct {
	RetrieveTop     int
	AnswerTop       int
	FreshnessWindow time.Duration
	FreshnessBoost  float64
}

// Retriever answers questions over the permission-trimmed index. The
// user's group set travels to the index as a server-side filter; no
// result the index returns is ever widened client-side, and a failure
// to resolve groups yields the fallback answer, never an unfiltered
// query.
type Retriever struct {
	groups      GroupResolver
	embedder    driven.EmbeddingService
	index       driven.SearchIndex
	synthesizer *Synthesizer
	cfg         RetrieverConfig
}

// NewRetriever creates the query service. The embedder may be nil when
// the index vectorizes queries itself.
func NewRetriever(groups GroupResolver, embedder driven.EmbeddingService, index driven.SearchIndex, synthesizer *Synthesizer, cfg RetrieverConfig) *Retriever {
	if cfg.RetrieveTop <= 0 {
		cfg.RetrieveTop = DefaultRetrieveTop
	}
	if cfg.AnswerTop <= 0 {
		cfg.AnswerTop = DefaultAnswerTop
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.FreshnessBoost <= 0 {
		cfg.FreshnessBoost = DefaultFreshnessBoost
	}
	return &Retriever{
		groups:      groups,
		embedder:    embedder,
		index:       index,
		synthesizer: synthesizer,
		cfg:         cfg,
	}
}

// AnswerQuery runs the full query pipeline. The asker always receives
// one of the three answer kinds; pipeline failures degrade to the fixed
// fallback with the request marked failed.
func (r *Retriever) AnswerQuery(ctx context.Context, userID, question string) (*domain.RetrievalResult, error) {
	result := &domain.RetrievalResult{
		RequestID: uuid.New().String(),
		Stage:     domain.StageReceived,
	}
	logger.Debug("Query %s from user %s", result.RequestID, userID)

	groups, err := r.groups.UserGroups(ctx, userID)
	if err != nil {
		logger.Error("Query %s: group resolution: %v", result.RequestID, err)
		return r.fail(ctx, result, fmt.Sprintf("group resolution failed: %v", err))
	}
	result.Groups = groups
	result.Stage = domain.StageGroupsResolved

	if len(groups) == 0 {
		// No groups means nothing is visible. Fail closed.
		result.Stage = domain.StageDone
		result.Answer = FallbackAnswer()
		return result, nil
	}

	hits, err := r.retrieve(ctx, question, groups)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Error("Query %s: retrieval: %v", result.RequestID, err)
		return r.fail(ctx, result, fmt.Sprintf("retrieval failed: %v", err))
	}
	result.Stage = domain.StageRetrieved

	if len(hits) == 0 {
		// Short-circuit: no LLM call on an empty result set.
		result.Stage = domain.StageDone
		result.Answer = FallbackAnswer()
		return result, nil
	}

	result.Chunks = r.rank(hits)
	result.Stage = domain.StageReranked

	answer, err := r.synthesizer.Synthesize(ctx, question, result.Chunks)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Error("Query %s: synthesis: %v", result.RequestID, err)
		return r.fail(ctx, result, fmt.Sprintf("synthesis failed: %v", err))
	}

	result.Answer = answer
	result.Stage = domain.StageDone
	return result, nil
}

// VisibleTitles returns the distinct document titles the user's filter
// admits for a probe query.
func (r *Retriever) VisibleTitles(ctx context.Context, userID, probe string) ([]string, error) {
	groups, err := r.groups.UserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	hits, err := r.retrieve(ctx, probe, groups)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(hits))
	var titles []string
	for _, hit := range hits {
		if _, ok := seen[hit.Chunk.DocumentTitle]; ok {
			continue
		}
		seen[hit.Chunk.DocumentTitle] = struct{}{}
		titles = append(titles, hit.Chunk.DocumentTitle)
	}
	sort.Strings(titles)
	return titles, nil
}

// retrieve runs the security-filtered hybrid search.
func (r *Retriever) retrieve(ctx context.Context, question string, groups []string) ([]driven.SearchHit, error) {
	query := driven.SearchQuery{
		Text:     question,
		GroupIDs: groups,
		Top:      r.cfg.RetrieveTop,
	}

	if r.embedder != nil {
		vector, err := r.embedder.Embed(ctx, question)
		if err != nil {
			// Degrade to lexical-only rather than failing the query.
			logger.Warn("Query embedding failed, lexical-only search: %v", err)
		} else {
			query.Vector = vector
		}
	}

	hits, err := r.index.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return hits, nil
}

// rank orders candidates by rerank score when the index provides one,
// applies the freshness boost, and cuts to the answer set.
func (r *Retriever) rank(hits []driven.SearchHit) []domain.RetrievedChunk {
	chunks := make([]domain.RetrievedChunk, 0, len(hits))
	now := time.Now()

	for _, hit := range hits {
		score := hit.Score
		if hit.RerankScore > 0 {
			score = hit.RerankScore
		}
		if !hit.Chunk.LastModified.IsZero() && now.Sub(hit.Chunk.LastModified) <= r.cfg.FreshnessWindow {
			score *= 1 + r.cfg.FreshnessBoost
		}
		chunks = append(chunks, domain.RetrievedChunk{
			Chunk:       hit.Chunk,
			Score:       score,
			RerankScore: hit.RerankScore,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})

	if len(chunks) > r.cfg.AnswerTop {
		chunks = chunks[:r.cfg.AnswerTop]
	}
	return chunks
}

// fail finishes a request with the fixed fallback answer and a warning.
func (r *Retriever) fail(_ context.Context, result *domain.RetrievalResult, warning string) (*domain.RetrievalResult, error) {
	result.Stage = domain.StageFailed
	answer := FallbackAnswer()
	answer.Warnings = append(answer.Warnings, warning)
	result.Answer = answer
	return result, nil
}
