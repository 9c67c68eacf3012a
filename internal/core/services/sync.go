package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
	"github.com/res-labs/hrcopilot/internal/core/ports/driving"
	"github.com/res-labs/hrcopilot/internal/logger"
	"github.com/res-labs/hrcopilot/internal/retry"
)

// Ensure ChangeFeedSync implements the interface.
var _ driving.SyncOrchestrator = (*ChangeFeedSync)(nil)

// DefaultSyncWorkers bounds concurrent document processing per cycle.
const DefaultSyncWorkers = 4

// Extractor produces per-page text for a document's raw bytes.
type Extractor interface {
	Extract(ctx context.Context, doc domain.SourceDocument, content []byte) ([]domain.ExtractedPage, error)
}

// Splitter turns extracted pages into index-ready chunks.
type Splitter interface {
	Split(doc domain.SourceDocument, pages []domain.ExtractedPage) []domain.Chunk
}

// SyncConfig configures a sync cycle.
type SyncConfig struct {
	// Libraries are the configured library IDs, in RunAll order.
	Libraries []string

	// Workers bounds concurrent document processing.
	Workers int

	// ItemRetry is the per-item retry budget.
	ItemRetry retry.Config
}

// ChangeFeedSync runs the ingestion chain for each change-feed item:
// ACL resolution, fetch, extraction, chunking, embedding, index upsert
// with stale-chunk reconciliation. Deletions remove the document's
// chunks and stored ACL.
//
// The cursor is written exactly once per cycle, after every item has
// settled. When items fail permanently the cursor advances at most to
// the position just before the oldest failed item, so the next cycle
// replays it.
type ChangeFeedSync struct {
	feeds     driven.FeedFactory
	cursors   driven.CursorStore
	failures  driven.FailureStore
	resolver  *AclResolver
	extractor Extractor
	splitter  Splitter
	embedder  driven.EmbeddingService
	index     driven.SearchIndex
	cfg       SyncConfig
}

// NewChangeFeedSync creates the sync orchestrator. The embedder may be
// nil when the index vectorizes content itself.
func NewChangeFeedSync(
	feeds driven.FeedFactory,
	cursors driven.CursorStore,
	failures driven.FailureStore,
	resolver *AclResolver,
	extractor Extractor,
	splitter Splitter,
	embedder driven.EmbeddingService,
	index driven.SearchIndex,
	cfg SyncConfig,
) *ChangeFeedSync {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultSyncWorkers
	}
	if cfg.ItemRetry.Attempts == 0 {
		cfg.ItemRetry = retry.DefaultConfig
	}
	return &ChangeFeedSync{
		feeds:     feeds,
		cursors:   cursors,
		failures:  failures,
		resolver:  resolver,
		extractor: extractor,
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
	}
}

// Run executes one sync cycle for a library. Documents recorded as
// failed by earlier cycles are replayed first, so the delta window only
// has to cover what actually changed.
func (s *ChangeFeedSync) Run(ctx context.Context, libraryID string) (*domain.SyncReport, error) {
	token := ""
	cursor, err := s.cursors.Get(ctx, libraryID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	if cursor != nil {
		token = cursor.Token
	}
	s.retryFailures(ctx, libraryID)
	return s.runCycle(ctx, libraryID, token)
}

// retryFailures replays recorded failures through the single-document
// path. A document that fails again keeps its record for the next cycle.
func (s *ChangeFeedSync) retryFailures(ctx context.Context, libraryID string) {
	failures, err := s.failures.List(ctx, libraryID)
	if err != nil {
		logger.Warn("List recorded failures for %s: %v", libraryID, err)
		return
	}
	for _, failure := range failures {
		if err := s.ReindexDocument(ctx, libraryID, failure.DocumentID); err != nil {
			logger.Warn("Replay of %s failed: %v", failure.DocumentID, err)
		}
	}
}

// RunAll executes one cycle per configured library.
func (s *ChangeFeedSync) RunAll(ctx context.Context) ([]*domain.SyncReport, error) {
	reports := make([]*domain.SyncReport, 0, len(s.cfg.Libraries))
	var errs []error
	for _, libraryID := range s.cfg.Libraries {
		report, err := s.Run(ctx, libraryID)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", libraryID, err))
		}
	}
	return reports, errors.Join(errs...)
}

// Resync drops the library's cursor and runs a full crawl.
func (s *ChangeFeedSync) Resync(ctx context.Context, libraryID string) (*domain.SyncReport, error) {
	if err := s.cursors.Delete(ctx, libraryID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("delete cursor: %w", err)
	}
	return s.runCycle(ctx, libraryID, "")
}

// ReindexDocument re-runs a single document through the ingestion chain.
// A document that no longer exists in the store is removed from the index.
func (s *ChangeFeedSync) ReindexDocument(ctx context.Context, libraryID, documentID string) error {
	feed, err := s.feeds.Feed(ctx, libraryID)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	defer feed.Close()

	doc, err := feed.Stat(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if err := s.removeDocument(ctx, documentID); err != nil {
				return err
			}
			return s.failures.Resolve(ctx, libraryID, documentID)
		}
		return fmt.Errorf("stat document: %w", err)
	}

	_, err = retry.Do(ctx, s.cfg.ItemRetry, func(ctx context.Context) (int, error) {
		return s.processUpsert(ctx, feed, *doc)
	})
	if err != nil {
		return fmt.Errorf("reindex %s: %w", documentID, err)
	}
	return s.failures.Resolve(ctx, libraryID, documentID)
}

// itemResult is one settled change item.
type itemResult struct {
	change  domain.DocumentChange
	chunks  int
	removed bool
	err     error
}

//nolint:gocognit // Orchestration function coordinating multiple async operations
func (s *ChangeFeedSync) runCycle(ctx context.Context, libraryID, token string) (*domain.SyncReport, error) {
	feed, err := s.feeds.Feed(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	defer feed.Close()

	report := &domain.SyncReport{
		LibraryID: libraryID,
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	s.resolver.ClearRunCache()
	logger.Section("Sync " + libraryID)
	logger.Info("Starting sync cycle %s for library %s", report.RunID, libraryID)

	changesCh, errsCh := feed.Changes(ctx, token)

	var (
		mu      sync.Mutex
		results []itemResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	newCursor := ""
	var feedErr error

	for changesCh != nil || errsCh != nil {
		select {
		case <-ctx.Done():
			feedErr = ctx.Err()
			changesCh, errsCh = nil, nil

		case err, ok := <-errsCh:
			if !ok {
				errsCh = nil
				continue
			}
			if fc, done := driven.IsFeedComplete(err); done {
				newCursor = fc.NewCursor
				continue
			}
			feedErr = err
			changesCh, errsCh = nil, nil

		case change, ok := <-changesCh:
			if !ok {
				changesCh = nil
				continue
			}

			g.Go(func() error {
				res := itemResult{change: change}
				switch change.Type {
				case domain.ChangeDeleted:
					logger.Debug("Deleting: %s", change.Document.ID)
					_, res.err = retry.Do(gctx, s.cfg.ItemRetry, func(ctx context.Context) (struct{}, error) {
						return struct{}{}, s.removeDocument(ctx, change.Document.ID)
					})
					res.removed = res.err == nil

				case domain.ChangeUpserted:
					logger.Debug("Processing: %s", change.Document.ID)
					res.chunks, res.err = retry.Do(gctx, s.cfg.ItemRetry, func(ctx context.Context) (int, error) {
						return s.processUpsert(ctx, feed, change.Document)
					})
				}

				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		// Workers never return errors; this is group context cancellation.
		feedErr = err
	}

	s.settle(ctx, report, results, newCursor, token, feedErr != nil)
	report.FinishedAt = time.Now()

	if feedErr != nil {
		return report, fmt.Errorf("change feed: %w: %w", domain.ErrFeedUnavailable, feedErr)
	}

	logger.Info("Sync complete: %d processed, %d removed, %d chunk(s), %d failure(s)",
		report.Processed, report.Removed, report.ChunksWritten, len(report.Failures))
	return report, nil
}

// settle records per-item outcomes and writes the cursor once. On a feed
// error or permanent item failures the cursor never crosses the oldest
// unresolved item.
func (s *ChangeFeedSync) settle(ctx context.Context, report *domain.SyncReport, results []itemResult, newCursor, prevToken string, feedBroken bool) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].change.Seq < results[j].change.Seq
	})

	oldestFailed := -1
	for _, res := range results {
		doc := res.change.Document
		if res.err != nil {
			failure := domain.ItemFailure{
				DocumentID: doc.ID,
				Seq:        res.change.Seq,
				Attempts:   s.cfg.ItemRetry.Attempts,
				Reason:     res.err.Error(),
			}
			report.Failures = append(report.Failures, failure)
			if oldestFailed < 0 || res.change.Seq < oldestFailed {
				oldestFailed = res.change.Seq
			}
			if err := s.failures.Record(ctx, report.LibraryID, failure); err != nil {
				logger.Error("Record failure for %s: %v", doc.ID, err)
			}
			logger.Event("sync_item_failed", map[string]any{
				"library":  report.LibraryID,
				"document": doc.ID,
				"seq":      res.change.Seq,
				"reason":   res.err.Error(),
			})
			continue
		}

		if res.removed {
			report.Removed++
		} else {
			report.Processed++
			report.ChunksWritten += res.chunks
		}
		if err := s.failures.Resolve(ctx, report.LibraryID, doc.ID); err != nil {
			logger.Warn("Resolve failure record for %s: %v", doc.ID, err)
		}
	}

	if feedBroken {
		// The enumeration itself broke; the prior cursor stands and the
		// whole window replays next cycle.
		return
	}

	token := ""
	advanced := false
	switch {
	case oldestFailed < 0:
		token = newCursor
		advanced = token != ""

	default:
		// Advance at most to the last successful item before the oldest
		// failure, when the feed issues per-item resume tokens.
		for _, res := range results {
			if res.change.Seq >= oldestFailed {
				break
			}
			if res.change.ResumeToken != "" {
				token = res.change.ResumeToken
			}
		}
	}

	if token != "" && token != prevToken {
		cursor := domain.SyncCursor{
			LibraryID: report.LibraryID,
			Token:     token,
			UpdatedAt: time.Now(),
		}
		if err := s.cursors.Save(ctx, cursor); err != nil {
			logger.Error("Save cursor for %s: %v", report.LibraryID, err)
			return
		}
	}
	report.CursorAdvanced = advanced
}

// processUpsert runs the full ingestion chain for one document. ACL
// resolution happens first; a document whose permissions cannot be
// resolved is never written, and its previously indexed chunks keep
// their stored ACL.
func (s *ChangeFeedSync) processUpsert(ctx context.Context, feed driven.DocumentFeed, doc domain.SourceDocument) (int, error) {
	acl, err := s.resolver.Resolve(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("resolve acl: %w", err)
	}

	content, err := feed.Fetch(ctx, doc.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted between enumeration and fetch.
			return 0, s.removeDocument(ctx, doc.ID)
		}
		return 0, fmt.Errorf("fetch: %w", err)
	}

	pages, err := s.extractor.Extract(ctx, doc, content)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExtractionDegraded):
			logger.Event("extraction_degraded", map[string]any{
				"document": doc.ID,
				"library":  doc.LibraryID,
			})
		case errors.Is(err, domain.ErrInvalidInput):
			return 0, retry.Permanent(fmt.Errorf("extract: %w", err))
		default:
			return 0, fmt.Errorf("extract: %w", err)
		}
	}

	chunks := s.splitter.Split(doc, pages)
	if len(chunks) == 0 {
		// Nothing extractable; make sure older chunks are gone.
		if err := s.index.DeleteByDocument(ctx, doc.ID); err != nil {
			return 0, fmt.Errorf("delete empty document: %w", err)
		}
		return 0, nil
	}

	for i := range chunks {
		chunks[i].GroupIDs = acl.GroupIDs
	}

	chunks, err = s.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	// Collect the previous chunk set before upserting so a shrink can be
	// reconciled without a window where the document is absent.
	oldIDs, err := s.index.ChunkIDs(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("list chunk ids: %w", err)
	}

	if err := s.index.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}

	current := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		current[c.ID] = struct{}{}
	}
	var stale []string
	for _, id := range oldIDs {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.index.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("delete stale chunks: %w", err)
		}
		logger.Debug("Reconciled %d stale chunk(s) for %s", len(stale), doc.ID)
	}

	return len(chunks), nil
}

// embedChunks fills chunk vectors. A failed batch falls back to per-chunk
// embedding so one poisoned text cannot sink its whole batch.
func (s *ChangeFeedSync) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.Chunk, error) {
	if s.embedder == nil {
		return chunks, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].EmbeddingInput()
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err == nil {
		if len(vectors) != len(chunks) {
			return nil, fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vectors), len(chunks))
		}
		for i := range chunks {
			chunks[i].Vector = vectors[i]
		}
		return chunks, nil
	}

	logger.Warn("Batch embedding failed, retrying per chunk: %v", err)
	kept := make([]domain.Chunk, 0, len(chunks))
	for i := range chunks {
		vector, err := s.embedder.Embed(ctx, texts[i])
		if err != nil {
			logger.Warn("Dropping chunk %s: embed: %v", chunks[i].ID, err)
			continue
		}
		chunks[i].Vector = vector
		kept = append(kept, chunks[i])
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("embed: %w", domain.ErrEmbeddingUnavailable)
	}
	return kept, nil
}

// removeDocument drops a document's chunks and stored ACL.
func (s *ChangeFeedSync) removeDocument(ctx context.Context, documentID string) error {
	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.resolver.Forget(ctx, documentID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete acl: %w", err)
	}
	return nil
}
