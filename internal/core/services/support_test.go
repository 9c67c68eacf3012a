package services

import (
	"context"
	"sync"
	"time"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
	"github.com/res-labs/hrcopilot/internal/retry"
)

// fastRetry keeps test retries near-instant.
var fastRetry = retry.Config{
	Attempts:       2,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
	Timeout:        time.Second,
}

// mockDirectory is a test double for the directory service.
type mockDirectory struct {
	mu sync.Mutex

	perms    map[string][]domain.Principal
	permsErr error

	userGroups map[string][]string
	userErr    error

	parents   map[string][]string
	parentErr error

	permCalls   int
	userCalls   int
	parentCalls int
}

func (m *mockDirectory) DocumentPermissions(_ context.Context, _, documentID string) ([]domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permCalls++
	if m.permsErr != nil {
		return nil, m.permsErr
	}
	return m.perms[documentID], nil
}

func (m *mockDirectory) DirectUserGroups(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userCalls++
	if m.userErr != nil {
		return nil, m.userErr
	}
	return m.userGroups[userID], nil
}

func (m *mockDirectory) DirectParentGroups(_ context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentCalls++
	if m.parentErr != nil {
		return nil, m.parentErr
	}
	return m.parents[groupID], nil
}

// mockAclStore is an in-memory ACL store double.
type mockAclStore struct {
	mu    sync.Mutex
	acls  map[string]domain.ResolvedAcl
	saves int
}

func newMockAclStore() *mockAclStore {
	return &mockAclStore{acls: make(map[string]domain.ResolvedAcl)}
}

func (m *mockAclStore) Get(_ context.Context, documentID string) (*domain.ResolvedAcl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acl, ok := m.acls[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &acl, nil
}

func (m *mockAclStore) Save(_ context.Context, acl domain.ResolvedAcl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acls[acl.DocumentID] = acl
	m.saves++
	return nil
}

func (m *mockAclStore) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.acls, documentID)
	return nil
}

// mockCursorStore is an in-memory cursor store double.
type mockCursorStore struct {
	mu      sync.Mutex
	cursors map[string]domain.SyncCursor
	saves   int
}

func newMockCursorStore() *mockCursorStore {
	return &mockCursorStore{cursors: make(map[string]domain.SyncCursor)}
}

func (m *mockCursorStore) Get(_ context.Context, libraryID string) (*domain.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor, ok := m.cursors[libraryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cursor, nil
}

func (m *mockCursorStore) Save(_ context.Context, cursor domain.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[cursor.LibraryID] = cursor
	m.saves++
	return nil
}

func (m *mockCursorStore) Delete(_ context.Context, libraryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, libraryID)
	return nil
}

// mockFailureStore is an in-memory failure store double.
type mockFailureStore struct {
	mu       sync.Mutex
	failures map[string]map[string]domain.ItemFailure
}

func newMockFailureStore() *mockFailureStore {
	return &mockFailureStore{failures: make(map[string]map[string]domain.ItemFailure)}
}

func (m *mockFailureStore) Record(_ context.Context, libraryID string, failure domain.ItemFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[libraryID] == nil {
		m.failures[libraryID] = make(map[string]domain.ItemFailure)
	}
	m.failures[libraryID][failure.DocumentID] = failure
	return nil
}

func (m *mockFailureStore) List(_ context.Context, libraryID string) ([]domain.ItemFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ItemFailure
	for _, f := range m.failures[libraryID] {
		out = append(out, f)
	}
	return out, nil
}

func (m *mockFailureStore) Resolve(_ context.Context, libraryID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures[libraryID], documentID)
	return nil
}

// mockFeed is a test double for a document feed.
type mockFeed struct {
	libraryID string
	changes   []domain.DocumentChange
	newCursor string
	streamErr error

	contents map[string][]byte
	fetchErr error

	docs map[string]domain.SourceDocument

	mu     sync.Mutex
	closed bool
}

func (m *mockFeed) LibraryID() string { return m.libraryID }

func (m *mockFeed) Changes(_ context.Context, _ string) (<-chan domain.DocumentChange, <-chan error) {
	changesCh := make(chan domain.DocumentChange)
	errsCh := make(chan error, 1)

	go func() {
		defer close(changesCh)
		defer close(errsCh)
		for _, change := range m.changes {
			changesCh <- change
		}
		if m.streamErr != nil {
			errsCh <- m.streamErr
			return
		}
		errsCh <- &driven.FeedComplete{NewCursor: m.newCursor}
	}()

	return changesCh, errsCh
}

func (m *mockFeed) Fetch(_ context.Context, documentID string) ([]byte, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	content, ok := m.contents[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return content, nil
}

func (m *mockFeed) Stat(_ context.Context, documentID string) (*domain.SourceDocument, error) {
	doc, ok := m.docs[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

func (m *mockFeed) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// mockFeedFactory returns a fixed feed per library.
type mockFeedFactory struct {
	feeds map[string]*mockFeed
	err   error
}

func (m *mockFeedFactory) Feed(_ context.Context, libraryID string) (driven.DocumentFeed, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.feeds[libraryID], nil
}

// mockIndex is an in-memory search index double.
type mockIndex struct {
	mu     sync.Mutex
	chunks map[string]domain.Chunk

	queryHits []driven.SearchHit
	queryErr  error
	lastQuery driven.SearchQuery

	upsertErr error
	deleted   []string
}

func newMockIndex() *mockIndex {
	return &mockIndex{chunks: make(map[string]domain.Chunk)}
}

func (m *mockIndex) Upsert(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *mockIndex) Delete(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.chunks, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *mockIndex) ChunkIDs(_ context.Context, documentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockIndex) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, id)
			m.deleted = append(m.deleted, id)
		}
	}
	return nil
}

func (m *mockIndex) Query(_ context.Context, q driven.SearchQuery) ([]driven.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryHits, nil
}

func (m *mockIndex) Close() error { return nil }

// mockEmbedder is an embedding service double.
type mockEmbedder struct {
	mu         sync.Mutex
	batchErr   error
	failTexts  map[string]bool
	embedCalls int
	batchCalls int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls++
	if m.failTexts[text] {
		return nil, domain.ErrEmbeddingUnavailable
	}
	return []float32{float32(len(text)), 1}, nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	for _, t := range texts {
		if m.failTexts[t] {
			return nil, domain.ErrEmbeddingUnavailable
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 2 }
func (m *mockEmbedder) Close() error    { return nil }

// mockLLM is an LLM service double.
type mockLLM struct {
	reply string
	err   error

	lastSystem string
	lastUser   string
	calls      int
}

func (m *mockLLM) Complete(_ context.Context, system, user string, _ driven.CompleteOptions) (string, error) {
	m.calls++
	m.lastSystem = system
	m.lastUser = user
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *mockLLM) Close() error { return nil }

// stubExtractor returns canned pages or an error.
type stubExtractor struct {
	fn func(doc domain.SourceDocument, content []byte) ([]domain.ExtractedPage, error)
}

func (s *stubExtractor) Extract(_ context.Context, doc domain.SourceDocument, content []byte) ([]domain.ExtractedPage, error) {
	if s.fn != nil {
		return s.fn(doc, content)
	}
	return []domain.ExtractedPage{{
		DocumentID: doc.ID,
		PageNumber: 1,
		Text:       string(content),
		Confidence: 1.0,
		Method:     domain.ExtractionNative,
	}}, nil
}

// stubSplitter produces one chunk per page.
type stubSplitter struct{}

func (stubSplitter) Split(doc domain.SourceDocument, pages []domain.ExtractedPage) []domain.Chunk {
	var chunks []domain.Chunk
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:            domain.ChunkID(doc.ID, p.PageNumber, 0),
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			SourceURL:     doc.SourceURL,
			PageNumber:    p.PageNumber,
			Text:          p.Text,
			LastModified:  doc.ModifiedAt,
		})
	}
	return chunks
}
