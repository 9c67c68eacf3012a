package domain

import "time"

// ChangeType classifies a change-feed item.
type ChangeType int

const (
	// ChangeUpserted covers created and modified documents; both are
	// processed through the full ingestion chain.
	ChangeUpserted ChangeType = iota

	// ChangeDeleted marks a document removed from the store.
	ChangeDeleted
)

// DocumentChange is one item from a library's change feed.
type DocumentChange struct {
	Type ChangeType

	// Seq is the item's position within the feed batch. Positions are
	// monotonically increasing and are used to decide how far the cursor may
	// advance when some items fail permanently.
	Seq int

	// ResumeToken, when non-empty, is a cursor value that resumes the feed
	// just after this item. Feeds that only issue a tail token leave it empty.
	ResumeToken string

	Document SourceDocument
}

// SyncCursor is the persisted change-feed position for a library. It is read
// at the start of a sync cycle and replaced once, after the batch settles.
type SyncCursor struct {
	LibraryID string
	Token     string
	UpdatedAt time.Time
}

// ItemFailure records a change item that exhausted its retry budget during a
// sync cycle. Failed items are retried on the next cycle.
type ItemFailure struct {
	DocumentID string
	Seq        int
	Attempts   int
	Reason     string
}

// SyncReport summarises one sync cycle for a library.
type SyncReport struct {
	LibraryID string
	RunID     string

	StartedAt  time.Time
	FinishedAt time.Time

	// Processed counts documents that completed the full ingestion chain.
	Processed int

	// Removed counts documents whose chunks were deleted from the index.
	Removed int

	// ChunksWritten counts chunks upserted across all processed documents.
	ChunksWritten int

	Failures []ItemFailure

	// CursorAdvanced is false when permanent failures forced the cursor to
	// stay at (or before) the oldest unresolved item.
	CursorAdvanced bool
}

// Failed reports whether any item in the cycle exhausted its retries.
func (r *SyncReport) Failed() bool {
	return len(r.Failures) > 0
}
