package domain

// QueryStage tracks a query request through the retrieval pipeline.
type QueryStage string

// Retrieval pipeline stages.
const (
	StageReceived       QueryStage = "received"
	StageGroupsResolved QueryStage = "groups_resolved"
	StageRetrieved      QueryStage = "retrieved"
	StageReranked       QueryStage = "reranked"
	StageDone           QueryStage = "done"
	StageFailed         QueryStage = "failed"
)

// AnswerKind identifies which of the three user-visible outcomes an answer is.
type AnswerKind string

const (
	// AnswerCited is a normal grounded answer with a sources section.
	AnswerCited AnswerKind = "cited"

	// AnswerFallback is the fixed no-answer message. Its text is never
	// produced by the model.
	AnswerFallback AnswerKind = "fallback"

	// AnswerSensitive is the constrained sensitive-topic response with the
	// mandatory human-contact directive.
	AnswerSensitive AnswerKind = "sensitive"
)

// Citation points at a source passage that grounded part of an answer.
type Citation struct {
	Title string
	URL   string
	Page  int
}

// Answer is the synthesized response returned to the asker.
type Answer struct {
	Kind      AnswerKind
	Text      string
	Citations []Citation

	// Warnings carries operator-facing notes, e.g. a chunk excluded for
	// containing instruction-like content.
	Warnings []string
}

// RetrievedChunk is a chunk returned by the security-filtered search along
// with its scores.
type RetrievedChunk struct {
	Chunk Chunk

	// Score is the hybrid retrieval score.
	Score float64

	// RerankScore is the semantic reranker's score when the index provides
	// one, otherwise zero.
	RerankScore float64
}

// RetrievalResult is the full outcome of one query request.
type RetrievalResult struct {
	RequestID string
	Stage     QueryStage
	Groups    []string
	Chunks    []RetrievedChunk
	Answer    Answer
}
