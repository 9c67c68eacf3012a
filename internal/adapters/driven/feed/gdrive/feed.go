// Package gdrive provides a DocumentFeed over the Google Drive changes API.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure Feed implements the interface.
var _ driven.DocumentFeed = (*Feed)(nil)

// Export formats for Google Workspace files, which have no binary content
// of their own.
const (
	exportMimeText = "text/plain"
	exportMimeCSV  = "text/csv"

	googleAppsPrefix = "application/vnd.google-apps."

	fileFields = "id, name, mimeType, webViewLink, modifiedTime, version, trashed, parents"
)

// Config identifies the library this feed serves.
type Config struct {
	// LibraryID is the pipeline's library identifier (required).
	LibraryID string

	// FolderID restricts the feed to files parented by a folder. Empty
	// means the whole drive.
	FolderID string

	// Department and DocType are stamped onto every document the feed
	// emits.
	Department string
	DocType    string
}

// Feed streams Drive changes. Unlike the delta-token feeds, the changes API
// pages with explicit tokens, so the last item of each page carries a
// resume token pointing at the next page.
type Feed struct {
	svc *drive.Service
	cfg Config
}

// NewFeed creates a feed on an authenticated Drive service.
func NewFeed(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Feed, error) {
	if cfg.LibraryID == "" {
		return nil, fmt.Errorf("gdrive: library ID is required")
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: create service: %w", err)
	}
	return &Feed{svc: svc, cfg: cfg}, nil
}

// NewFeedWithService builds a feed around an existing service, for tests.
func NewFeedWithService(svc *drive.Service, cfg Config) *Feed {
	return &Feed{svc: svc, cfg: cfg}
}

// LibraryID returns the library this feed serves.
func (f *Feed) LibraryID() string {
	return f.cfg.LibraryID
}

// Changes streams the change set since cursor. An empty cursor enumerates
// every current file, then hands back the drive's start page token so the
// next cycle is incremental.
func (f *Feed) Changes(ctx context.Context, cursor string) (<-chan domain.DocumentChange, <-chan error) {
	changes := make(chan domain.DocumentChange)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)

		if cursor == "" {
			f.fullEnumeration(ctx, changes, errs)
			return
		}
		f.incremental(ctx, cursor, changes, errs)
	}()

	return changes, errs
}

func (f *Feed) fullEnumeration(ctx context.Context, changes chan<- domain.DocumentChange, errs chan<- error) {
	// Capture the change position first so nothing modified during the
	// enumeration is missed by the next cycle.
	start, err := f.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		errs <- fmt.Errorf("%w: start page token: %v", domain.ErrFeedUnavailable, err)
		return
	}

	query := "trashed = false"
	if f.cfg.FolderID != "" {
		query = fmt.Sprintf("'%s' in parents and trashed = false", f.cfg.FolderID)
	}

	seq := 0
	pageToken := ""
	for {
		call := f.svc.Files.List().Q(query).
			Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
			PageSize(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			errs <- fmt.Errorf("%w: list files: %v", domain.ErrFeedUnavailable, err)
			return
		}

		for _, file := range page.Files {
			select {
			case <-ctx.Done():
				return
			case changes <- domain.DocumentChange{
				Type:     domain.ChangeUpserted,
				Seq:      seq,
				Document: f.document(file),
			}:
				seq++
			}
		}

		if page.NextPageToken == "" {
			errs <- &driven.FeedComplete{NewCursor: start.StartPageToken}
			return
		}
		pageToken = page.NextPageToken
	}
}

func (f *Feed) incremental(ctx context.Context, cursor string, changes chan<- domain.DocumentChange, errs chan<- error) {
	seq := 0
	pageToken := cursor
	for {
		page, err := f.svc.Changes.List(pageToken).
			Fields(googleapi.Field("nextPageToken, newStartPageToken, changes(fileId, removed, file(" + fileFields + "))")).
			IncludeRemoved(true).
			PageSize(100).
			Context(ctx).
			Do()
		if err != nil {
			errs <- fmt.Errorf("%w: list changes: %v", domain.ErrFeedUnavailable, err)
			return
		}

		for i, change := range page.Changes {
			item, ok := f.change(change)
			if !ok {
				continue
			}
			item.Seq = seq
			if i == len(page.Changes)-1 && page.NextPageToken != "" {
				item.ResumeToken = page.NextPageToken
			}
			select {
			case <-ctx.Done():
				return
			case changes <- item:
				seq++
			}
		}

		if page.NewStartPageToken != "" {
			errs <- &driven.FeedComplete{NewCursor: page.NewStartPageToken}
			return
		}
		if page.NextPageToken == "" {
			errs <- fmt.Errorf("%w: change page missing continuation token", domain.ErrFeedUnavailable)
			return
		}
		pageToken = page.NextPageToken
	}
}

// Fetch downloads a document's raw bytes. Google Workspace files are
// exported to a portable format first.
func (f *Feed) Fetch(ctx context.Context, documentID string) ([]byte, error) {
	file, err := f.svc.Files.Get(documentID).Fields("id, mimeType").Context(ctx).Do()
	if err != nil {
		return nil, f.wrapAPIError(err)
	}

	if exportMime, ok := exportFormat(file.MimeType); ok {
		r, err := f.svc.Files.Export(documentID, exportMime).Context(ctx).Download()
		if err != nil {
			return nil, f.wrapAPIError(err)
		}
		defer r.Body.Close()
		return io.ReadAll(r.Body)
	}

	r, err := f.svc.Files.Get(documentID).Context(ctx).Download()
	if err != nil {
		return nil, f.wrapAPIError(err)
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// Stat returns the current store metadata for a single document.
func (f *Feed) Stat(ctx context.Context, documentID string) (*domain.SourceDocument, error) {
	file, err := f.svc.Files.Get(documentID).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, f.wrapAPIError(err)
	}
	if file.Trashed {
		return nil, fmt.Errorf("gdrive: file %s is trashed: %w", documentID, domain.ErrNotFound)
	}
	doc := f.document(file)
	return &doc, nil
}

// Close releases resources.
func (f *Feed) Close() error {
	return nil
}

func (f *Feed) change(change *drive.Change) (domain.DocumentChange, bool) {
	if change.Removed || change.File == nil || change.File.Trashed {
		return domain.DocumentChange{
			Type: domain.ChangeDeleted,
			Document: domain.SourceDocument{
				ID:        change.FileId,
				LibraryID: f.cfg.LibraryID,
				Deleted:   true,
			},
		}, true
	}
	if !f.inScope(change.File) {
		return domain.DocumentChange{}, false
	}
	if change.File.MimeType == googleAppsPrefix+"folder" {
		return domain.DocumentChange{}, false
	}
	return domain.DocumentChange{
		Type:     domain.ChangeUpserted,
		Document: f.document(change.File),
	}, true
}

func (f *Feed) inScope(file *drive.File) bool {
	if f.cfg.FolderID == "" {
		return true
	}
	for _, parent := range file.Parents {
		if parent == f.cfg.FolderID {
			return true
		}
	}
	return false
}

func (f *Feed) document(file *drive.File) domain.SourceDocument {
	modified, _ := time.Parse(time.RFC3339, file.ModifiedTime)
	mimeType := file.MimeType
	if exportMime, ok := exportFormat(mimeType); ok {
		// Downstream extraction sees the exported format, not the
		// Workspace type.
		mimeType = exportMime
	}
	return domain.SourceDocument{
		ID:           file.Id,
		LibraryID:    f.cfg.LibraryID,
		Title:        file.Name,
		SourceURL:    file.WebViewLink,
		MIMEType:     mimeType,
		VersionToken: strconv.FormatInt(file.Version, 10),
		ModifiedAt:   modified,
		Department:   f.cfg.Department,
		DocType:      f.cfg.DocType,
	}
}

func (f *Feed) wrapAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			return fmt.Errorf("gdrive: %w", domain.ErrNotFound)
		case 429:
			return fmt.Errorf("gdrive: %w", domain.ErrQuotaExhausted)
		}
	}
	return fmt.Errorf("gdrive: %w", err)
}

func exportFormat(mimeType string) (string, bool) {
	if !strings.HasPrefix(mimeType, googleAppsPrefix) {
		return "", false
	}
	switch strings.TrimPrefix(mimeType, googleAppsPrefix) {
	case "spreadsheet":
		return exportMimeCSV, true
	default:
		return exportMimeText, true
	}
}
