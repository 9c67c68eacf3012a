// Package sqlite persists sync state (cursors, document ACLs, failed
// items) in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/res-labs/hrcopilot/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Store is the unified SQLite-backed state store. Individual port
// implementations are obtained through the accessor methods.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (and migrates) the database at dbPath. If dbPath is
// empty it defaults to ~/.hrcopilot/state.db.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".hrcopilot", "state.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode for concurrent readers during a sync cycle
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CursorStore returns a CursorStore backed by this store.
func (s *Store) CursorStore() driven.CursorStore {
	return &cursorStore{store: s}
}

// AclStore returns an AclStore backed by this store.
func (s *Store) AclStore() driven.AclStore {
	return &aclStore{store: s}
}

// FailureStore returns a FailureStore backed by this store.
func (s *Store) FailureStore() driven.FailureStore {
	return &failureStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Cursor Store ====================

type cursorStore struct {
	store *Store
}

var _ driven.CursorStore = (*cursorStore)(nil)

// Get retrieves the cursor for a library.
func (s *cursorStore) Get(ctx context.Context, libraryID string) (*domain.SyncCursor, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT token, updated_at FROM sync_cursors WHERE library_id = ?
	`, libraryID)

	cursor := domain.SyncCursor{LibraryID: libraryID}
	if err := row.Scan(&cursor.Token, &cursor.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting cursor: %w", err)
	}
	return &cursor, nil
}

// Save replaces the cursor for a library.
func (s *cursorStore) Save(ctx context.Context, cursor domain.SyncCursor) error {
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (library_id, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(library_id) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at
	`, cursor.LibraryID, cursor.Token, cursor.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor for a library.
func (s *cursorStore) Delete(ctx context.Context, libraryID string) error {
	_, err := s.store.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE library_id = ?`, libraryID)
	if err != nil {
		return fmt.Errorf("deleting cursor: %w", err)
	}
	return nil
}

// ==================== ACL Store ====================

type aclStore struct {
	store *Store
}

var _ driven.AclStore = (*aclStore)(nil)

// Get returns the last-known ACL for a document.
func (s *aclStore) Get(ctx context.Context, documentID string) (*domain.ResolvedAcl, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT group_ids, resolved_at FROM document_acls WHERE document_id = ?
	`, documentID)

	var groupsJSON string
	acl := domain.ResolvedAcl{DocumentID: documentID}
	if err := row.Scan(&groupsJSON, &acl.ResolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting acl: %w", err)
	}

	if err := json.Unmarshal([]byte(groupsJSON), &acl.GroupIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling group ids: %w", err)
	}
	return &acl, nil
}

// Save stores a fully resolved ACL.
func (s *aclStore) Save(ctx context.Context, acl domain.ResolvedAcl) error {
	groupsJSON, err := json.Marshal(acl.GroupIDs)
	if err != nil {
		return fmt.Errorf("marshalling group ids: %w", err)
	}
	if acl.ResolvedAt.IsZero() {
		acl.ResolvedAt = time.Now().UTC()
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO document_acls (document_id, group_ids, resolved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			group_ids = excluded.group_ids,
			resolved_at = excluded.resolved_at
	`, acl.DocumentID, string(groupsJSON), acl.ResolvedAt)
	if err != nil {
		return fmt.Errorf("saving acl: %w", err)
	}
	return nil
}

// Delete removes the stored ACL for a document.
func (s *aclStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.store.db.ExecContext(ctx, `DELETE FROM document_acls WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("deleting acl: %w", err)
	}
	return nil
}

// ==================== Failure Store ====================

type failureStore struct {
	store *Store
}

var _ driven.FailureStore = (*failureStore)(nil)

// Record stores or updates a failed item.
func (s *failureStore) Record(ctx context.Context, libraryID string, failure domain.ItemFailure) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO failed_items (library_id, document_id, seq, attempts, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(library_id, document_id) DO UPDATE SET
			seq = excluded.seq,
			attempts = excluded.attempts,
			reason = excluded.reason,
			recorded_at = excluded.recorded_at
	`, libraryID, failure.DocumentID, failure.Seq, failure.Attempts, failure.Reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	return nil
}

// List returns all recorded failures for a library, oldest position first.
func (s *failureStore) List(ctx context.Context, libraryID string) ([]domain.ItemFailure, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, seq, attempts, reason
		FROM failed_items WHERE library_id = ? ORDER BY seq
	`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer rows.Close()

	var failures []domain.ItemFailure
	for rows.Next() {
		var f domain.ItemFailure
		if err := rows.Scan(&f.DocumentID, &f.Seq, &f.Attempts, &f.Reason); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Resolve removes a failure record.
func (s *failureStore) Resolve(ctx context.Context, libraryID, documentID string) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM failed_items WHERE library_id = ? AND document_id = ?
	`, libraryID, documentID)
	if err != nil {
		return fmt.Errorf("resolving failure: %w", err)
	}
	return nil
}
