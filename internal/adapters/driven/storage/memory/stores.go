// Package memory provides in-memory implementations of the storage ports
// for testing and local development.
package memory

import (
	"context"
	"sync"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure the stores implement their interfaces.
var (
	_ driven.CursorStore  = (*CursorStore)(nil)
	_ driven.AclStore     = (*AclStore)(nil)
	_ driven.FailureStore = (*FailureStore)(nil)
)

// CursorStore is an in-memory cursor store.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]domain.SyncCursor
}

// NewCursorStore creates an in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[string]domain.SyncCursor)}
}

// Get retrieves the cursor for a library.
func (s *CursorStore) Get(_ context.Context, libraryID string) (*domain.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[libraryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cursor, nil
}

// Save replaces the cursor for a library.
func (s *CursorStore) Save(_ context.Context, cursor domain.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursor.LibraryID] = cursor
	return nil
}

// Delete removes the cursor for a library.
func (s *CursorStore) Delete(_ context.Context, libraryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, libraryID)
	return nil
}

// AclStore is an in-memory ACL store.
type AclStore struct {
	mu   sync.RWMutex
	acls map[string]domain.ResolvedAcl
}

// NewAclStore creates an in-memory ACL store.
func NewAclStore() *AclStore {
	return &AclStore{acls: make(map[string]domain.ResolvedAcl)}
}

// Get returns the last-known ACL for a document.
func (s *AclStore) Get(_ context.Context, documentID string) (*domain.ResolvedAcl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acl, ok := s.acls[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &acl, nil
}

// Save stores a resolved ACL.
func (s *AclStore) Save(_ context.Context, acl domain.ResolvedAcl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acls[acl.DocumentID] = acl
	return nil
}

// Delete removes the stored ACL for a document.
func (s *AclStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.acls, documentID)
	return nil
}

// FailureStore is an in-memory failure store.
type FailureStore struct {
	mu       sync.RWMutex
	failures map[string]map[string]domain.ItemFailure
}

// NewFailureStore creates an in-memory failure store.
func NewFailureStore() *FailureStore {
	return &FailureStore{failures: make(map[string]map[string]domain.ItemFailure)}
}

// Record stores or updates a failed item.
func (s *FailureStore) Record(_ context.Context, libraryID string, failure domain.ItemFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[libraryID] == nil {
		s.failures[libraryID] = make(map[string]domain.ItemFailure)
	}
	s.failures[libraryID][failure.DocumentID] = failure
	return nil
}

// List returns all recorded failures for a library.
func (s *FailureStore) List(_ context.Context, libraryID string) ([]domain.ItemFailure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ItemFailure, 0, len(s.failures[libraryID]))
	for _, f := range s.failures[libraryID] {
		out = append(out, f)
	}
	return out, nil
}

// Resolve removes a failure record.
func (s *FailureStore) Resolve(_ context.Context, libraryID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures[libraryID], documentID)
	return nil
}
