package domain

import "errors"

// Domain errors represent pipeline failures with defined handling semantics.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionResolution indicates a document's ACL could not be fully
	// resolved. Never defaulted to open access: the document's last-known
	// ACL is preserved and the item is retried next cycle.
	ErrPermissionResolution = errors.New("permission resolution failed")

	// ErrQuotaExhausted indicates an external service rejected the call for
	// rate or quota reasons. Extraction degrades; other stages retry.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrExtractionDegraded flags a document whose text was extracted at
	// reduced quality. It is a recorded condition, not a failure: the
	// document still proceeds through indexing.
	ErrExtractionDegraded = errors.New("extraction degraded")

	// ErrContentIntegrity indicates a retrieved chunk contained
	// instruction-like content and was excluded from grounding.
	ErrContentIntegrity = errors.New("content integrity warning")

	// ErrGroundingFailure indicates the model had no supported basis for an
	// answer. The caller surfaces the fixed fallback, never a fabrication.
	ErrGroundingFailure = errors.New("no grounded answer")

	// ErrFeedUnavailable indicates the document store's change feed could
	// not be reached or returned an unusable response.
	ErrFeedUnavailable = errors.New("change feed unavailable")

	// ErrIndexUnavailable indicates the search index service is not
	// reachable or not configured.
	ErrIndexUnavailable = errors.New("search index unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not
	// configured or not reachable.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLLMUnavailable indicates the chat model service is not configured.
	ErrLLMUnavailable = errors.New("language model unavailable")
)
