package driven

import (
	"context"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// CursorStore persists each library's change-feed position.
type CursorStore interface {
	// Get retrieves the cursor for a library. Returns domain.ErrNotFound
	// when the library has never completed a cycle (full resync).
	Get(ctx context.Context, libraryID string) (*domain.SyncCursor, error)

	// Save atomically replaces the cursor for a library.
	Save(ctx context.Context, cursor domain.SyncCursor) error

	// Delete removes the cursor, forcing a full resync next cycle.
	Delete(ctx context.Context, libraryID string) error
}

// AclStore persists each document's last successfully resolved ACL so a
// failed resolution can leave the previous permissions untouched.
type AclStore interface {
	// Get returns the last-known ACL, or domain.ErrNotFound.
	Get(ctx context.Context, documentID string) (*domain.ResolvedAcl, error)

	// Save stores a fully resolved ACL. Partial resolutions are never saved.
	Save(ctx context.Context, acl domain.ResolvedAcl) error

	// Delete removes the stored ACL for a deleted document.
	Delete(ctx context.Context, documentID string) error
}

// FailureStore records change items that exhausted their retry budget so the
// next cycle retries exactly those documents.
type FailureStore interface {
	// Record stores or updates a failed item for a library.
	Record(ctx context.Context, libraryID string, failure domain.ItemFailure) error

	// List returns all recorded failures for a library.
	List(ctx context.Context, libraryID string) ([]domain.ItemFailure, error)

	// Resolve removes a failure after the document processed successfully
	// or was deleted.
	Resolve(ctx context.Context, libraryID, documentID string) error
}
