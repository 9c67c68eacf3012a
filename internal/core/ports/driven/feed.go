package driven

import (
	"context"
	"errors"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// DocumentFeed is a library's view of the external document store: a delta
// query since a cursor plus a per-document byte fetch.
type DocumentFeed interface {
	// LibraryID returns the library this feed serves.
	LibraryID() string

	// Changes streams the change set since cursor. An empty cursor means a
	// full resync. On successful completion the error channel carries a
	// FeedComplete sentinel with the new cursor before both channels close.
	Changes(ctx context.Context, cursor string) (<-chan domain.DocumentChange, <-chan error)

	// Fetch downloads a document's raw bytes.
	Fetch(ctx context.Context, documentID string) ([]byte, error)

	// Stat returns the current store metadata for a single document, for
	// reprocessing outside a change cycle. Returns domain.ErrNotFound for
	// documents that no longer exist.
	Stat(ctx context.Context, documentID string) (*domain.SourceDocument, error)

	// Close releases resources.
	Close() error
}

// FeedFactory creates the feed for a configured library.
type FeedFactory interface {
	Feed(ctx context.Context, libraryID string) (DocumentFeed, error)
}

// FeedComplete is sent on the error channel when a change enumeration
// finishes successfully. It carries the cursor for the next cycle.
type FeedComplete struct {
	NewCursor string
}

// Error implements the error interface so FeedComplete can travel on the
// error channel.
func (FeedComplete) Error() string {
	return "feed complete"
}

// IsFeedComplete checks whether an error is the successful-completion
// sentinel. Returns the sentinel and true if it is.
func IsFeedComplete(err error) (*FeedComplete, bool) {
	var fc *FeedComplete
	if errors.As(err, &fc) {
		return fc, true
	}
	return nil, false
}
