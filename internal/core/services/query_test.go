package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

type queryFixture struct {
	directory *mockDirectory
	index     *mockIndex
	embedder  *mockEmbedder
	llm       *mockLLM
	retriever *Retriever
}

func newQueryFixture() *queryFixture {
	f := &queryFixture{
		directory: &mockDirectory{
			userGroups: map[string][]string{"alice": {"grp-hr"}},
		},
		index:    newMockIndex(),
		embedder: &mockEmbedder{},
		llm:      &mockLLM{reply: "Leave accrues monthly [1]."},
	}
	resolver := NewAclResolver(f.directory, newMockAclStore(), WithAclRetry(fastRetry))
	f.retriever = NewRetriever(resolver, f.embedder, f.index,
		NewSynthesizer(f.llm, SynthesizerConfig{}), RetrieverConfig{})
	return f
}

func hit(id, title, text string, score float64, modified time.Time) driven.SearchHit {
	return driven.SearchHit{
		Chunk: domain.Chunk{
			ID:            id,
			DocumentID:    "doc-" + id,
			DocumentTitle: title,
			SourceURL:     "https://example.com/" + id,
			PageNumber:    1,
			Text:          text,
			LastModified:  modified,
		},
		Score: score,
	}
}

func TestAnswerQueryHappyPath(t *testing.T) {
	f := newQueryFixture()
	f.index.queryHits = []driven.SearchHit{
		hit("c1", "Leave Policy", "Leave accrues at two days per month.", 2.0, time.Now()),
	}

	result, err := f.retriever.AnswerQuery(context.Background(), "alice", "How does leave accrue?")
	require.NoError(t, err)

	assert.Equal(t, domain.StageDone, result.Stage)
	assert.Equal(t, domain.AnswerCited, result.Answer.Kind)
	assert.Contains(t, result.Answer.Text, "[1]")
	assert.Contains(t, result.Answer.Text, "Sources:")
	require.Len(t, result.Answer.Citations, 1)
	assert.Equal(t, "Leave Policy", result.Answer.Citations[0].Title)

	// The group filter travelled to the index.
	assert.Equal(t, []string{"grp-hr"}, f.index.lastQuery.GroupIDs)
	assert.NotNil(t, f.index.lastQuery.Vector)
}

func TestAnswerQueryNoGroupsFailsClosed(t *testing.T) {
	f := newQueryFixture()
	f.directory.userGroups["alice"] = nil

	result, err := f.retriever.AnswerQuery(context.Background(), "alice", "anything")
	require.NoError(t, err)

	assert.Equal(t, domain.AnswerFallback, result.Answer.Kind)
	assert.Equal(t, FallbackText, result.Answer.Text)
	// The index was never queried.
	assert.Empty(t, f.index.lastQuery.Text)
}

func TestAnswerQueryGroupResolutionFailure(t *testing.T) {
	f := newQueryFixture()
	f.directory.userErr = errors.New("directory down")

	result, err := f.retriever.AnswerQuery(context.Background(), "alice", "anything")
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.AnswerFallback, result.Answer.Kind)
	assert.NotEmpty(t, result.Answer.Warnings)
	assert.Empty(t, f.index.lastQuery.Text)
}

func TestAnswerQueryZeroResultsSkipsLLM(t *testing.T) {
	f := newQueryFixture()

	result, err := f.retriever.AnswerQuery(context.Background(), "alice", "unknown topic")
	require.NoError(t, err)

	assert.Equal(t, domain.AnswerFallback, result.Answer.Kind)
	assert.Equal(t, FallbackText, result.Answer.Text)
	assert.Zero(t, f.llm.calls)
}

func TestAnswerQueryIndexFailure(t *testing.T) {
	f := newQueryFixture()
	f.index.queryErr = errors.New("503")

	result, err := f.retriever.AnswerQuery(context.Background(), "alice", "anything")
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.AnswerFallback, result.Answer.Kind)
	assert.Zero(t, f.llm.calls)
}

func TestAnswerQueryEmbeddingFailureDegradesToLexical(t *testing.T) {
	f := newQueryFixture()
	f.embedder.failTexts = map[string]bool{"How does leave accrue?": true}
	f.index.queryHits = []driven.SearchHit{
		hit("c1", "Leave Policy", "Leave accrues at two days per month.", 2.0, time.Now()),
	}

	result, err := f.retriever.AnswerQuery(context.Background(), "alice", "How does leave accrue?")
	require.NoError(t, err)

	assert.Equal(t, domain.AnswerCited, result.Answer.Kind)
	assert.Nil(t, f.index.lastQuery.Vector)
}

func TestRankPrefersRerankScoreAndFreshness(t *testing.T) {
	f := newQueryFixture()

	old := time.Now().Add(-2 * 365 * 24 * time.Hour)
	recent := time.Now().Add(-24 * time.Hour)

	staleHit := hit("stale", "Old Policy", "old text", 1.0, old)
	freshHit := hit("fresh", "New Policy", "new text", 1.0, recent)
	rerankedHit := hit("reranked", "Best Policy", "best text", 0.5, old)
	rerankedHit.RerankScore = 3.0

	ranked := f.retriever.rank([]driven.SearchHit{staleHit, freshHit, rerankedHit})
	require.Len(t, ranked, 3)

	assert.Equal(t, "reranked", ranked[0].Chunk.ID)
	assert.Equal(t, "fresh", ranked[1].Chunk.ID)
	assert.Equal(t, "stale", ranked[2].Chunk.ID)
}

func TestRankCutsToAnswerTop(t *testing.T) {
	f := newQueryFixture()

	var hits []driven.SearchHit
	for i := 0; i < 12; i++ {
		hits = append(hits, hit(string(rune('a'+i)), "Doc", "text", float64(i), time.Time{}))
	}

	ranked := f.retriever.rank(hits)
	assert.Len(t, ranked, DefaultAnswerTop)
	// Highest effective score first.
	assert.Equal(t, 11.0, ranked[0].Score)
}

func TestVisibleTitles(t *testing.T) {
	f := newQueryFixture()
	f.index.queryHits = []driven.SearchHit{
		hit("c1", "Leave Policy", "a", 1.0, time.Time{}),
		hit("c2", "Leave Policy", "b", 0.9, time.Time{}),
		hit("c3", "Travel Policy", "c", 0.8, time.Time{}),
	}

	titles, err := f.retriever.VisibleTitles(context.Background(), "alice", "policy")
	require.NoError(t, err)
	assert.Equal(t, []string{"Leave Policy", "Travel Policy"}, titles)
}

func TestVisibleTitlesNoGroups(t *testing.T) {
	f := newQueryFixture()
	f.directory.userGroups["alice"] = nil

	titles, err := f.retriever.VisibleTitles(context.Background(), "alice", "policy")
	require.NoError(t, err)
	assert.Empty(t, titles)
}
