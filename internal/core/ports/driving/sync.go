package driving

import (
	"context"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// SyncOrchestrator coordinates change-feed synchronisation for libraries.
type SyncOrchestrator interface {
	// Run executes one sync cycle for a library and returns its report.
	Run(ctx context.Context, libraryID string) (*domain.SyncReport, error)

	// RunAll executes one cycle per configured library.
	RunAll(ctx context.Context) ([]*domain.SyncReport, error)

	// Resync drops the library's cursor and runs a full crawl.
	Resync(ctx context.Context, libraryID string) (*domain.SyncReport, error)

	// ReindexDocument re-runs a single document through the full ingestion
	// chain, exactly as a change-feed upsert would.
	ReindexDocument(ctx context.Context, libraryID, documentID string) error
}
