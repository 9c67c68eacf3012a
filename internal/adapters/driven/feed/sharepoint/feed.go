// Package sharepoint provides a DocumentFeed over the Microsoft Graph drive
// delta API: one feed per configured SharePoint document library.
package sharepoint

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/res-labs/hrcopilot/internal/adapters/driven/msgraph"
	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure Feed implements the interface.
var _ driven.DocumentFeed = (*Feed)(nil)

// Config identifies the library this feed serves.
type Config struct {
	// LibraryID is the pipeline's library identifier (required).
	LibraryID string

	// DriveID is the SharePoint drive backing the library (required).
	DriveID string

	// FolderID scopes the delta query to a folder subtree. Empty means the
	// drive root.
	FolderID string

	// Department and DocType are stamped onto every document the feed
	// emits.
	Department string
	DocType    string
}

// Feed streams drive changes through Graph's delta query. The delta API
// issues a single tail token per enumeration, so change items carry no
// per-item resume token: a partially failed batch replays from the previous
// cursor.
type Feed struct {
	client *msgraph.Client
	cfg    Config
}

type driveItemPage struct {
	Value     []driveItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

type driveItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WebURL       string    `json:"webUrl"`
	ETag         string    `json:"eTag"`
	LastModified time.Time `json:"lastModifiedDateTime"`
	File         *struct {
		MIMEType string `json:"mimeType"`
	} `json:"file"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
}

// NewFeed creates a feed for one SharePoint library.
func NewFeed(client *msgraph.Client, cfg Config) (*Feed, error) {
	if cfg.LibraryID == "" {
		return nil, fmt.Errorf("sharepoint: library ID is required")
	}
	if cfg.DriveID == "" {
		return nil, fmt.Errorf("sharepoint: drive ID is required")
	}
	return &Feed{client: client, cfg: cfg}, nil
}

// LibraryID returns the library this feed serves.
func (f *Feed) LibraryID() string {
	return f.cfg.LibraryID
}

// Changes streams the change set since cursor. The cursor is the deltaLink
// from the previous enumeration; empty means a full resync.
func (f *Feed) Changes(ctx context.Context, cursor string) (<-chan domain.DocumentChange, <-chan error) {
	changes := make(chan domain.DocumentChange)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)

		next := cursor
		if next == "" {
			next = f.deltaURL()
		}

		seq := 0
		for {
			var page driveItemPage
			if err := f.client.GetJSON(ctx, next, &page); err != nil {
				errs <- fmt.Errorf("%w: delta query: %v", domain.ErrFeedUnavailable, err)
				return
			}

			for _, item := range page.Value {
				change, ok := f.itemChange(item, seq)
				if !ok {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case changes <- change:
					seq++
				}
			}

			if page.DeltaLink != "" {
				errs <- &driven.FeedComplete{NewCursor: page.DeltaLink}
				return
			}
			if page.NextLink == "" {
				errs <- fmt.Errorf("%w: delta page missing continuation link", domain.ErrFeedUnavailable)
				return
			}
			next = page.NextLink
		}
	}()

	return changes, errs
}

// Fetch downloads a document's raw bytes.
func (f *Feed) Fetch(ctx context.Context, documentID string) ([]byte, error) {
	return f.client.GetBytes(ctx, fmt.Sprintf("/drives/%s/items/%s/content",
		url.PathEscape(f.cfg.DriveID), url.PathEscape(documentID)))
}

// Stat returns the current store metadata for a single document.
func (f *Feed) Stat(ctx context.Context, documentID string) (*domain.SourceDocument, error) {
	var item driveItem
	err := f.client.GetJSON(ctx, fmt.Sprintf("/drives/%s/items/%s",
		url.PathEscape(f.cfg.DriveID), url.PathEscape(documentID)), &item)
	if err != nil {
		return nil, err
	}
	if item.File == nil {
		return nil, fmt.Errorf("sharepoint: item %s is not a file: %w", documentID, domain.ErrNotFound)
	}
	doc := f.document(item)
	return &doc, nil
}

// Close releases resources.
func (f *Feed) Close() error {
	return nil
}

func (f *Feed) deltaURL() string {
	if f.cfg.FolderID != "" {
		return fmt.Sprintf("/drives/%s/items/%s/delta",
			url.PathEscape(f.cfg.DriveID), url.PathEscape(f.cfg.FolderID))
	}
	return fmt.Sprintf("/drives/%s/root/delta", url.PathEscape(f.cfg.DriveID))
}

func (f *Feed) itemChange(item driveItem, seq int) (domain.DocumentChange, bool) {
	if item.Deleted != nil {
		return domain.DocumentChange{
			Type: domain.ChangeDeleted,
			Seq:  seq,
			Document: domain.SourceDocument{
				ID:        item.ID,
				LibraryID: f.cfg.LibraryID,
				Deleted:   true,
			},
		}, true
	}
	// Folders and other non-file items carry no content to index.
	if item.File == nil {
		return domain.DocumentChange{}, false
	}
	return domain.DocumentChange{
		Type:     domain.ChangeUpserted,
		Seq:      seq,
		Document: f.document(item),
	}, true
}

func (f *Feed) document(item driveItem) domain.SourceDocument {
	mimeType := ""
	if item.File != nil {
		mimeType = item.File.MIMEType
	}
	return domain.SourceDocument{
		ID:           item.ID,
		LibraryID:    f.cfg.LibraryID,
		Title:        item.Name,
		SourceURL:    item.WebURL,
		MIMEType:     mimeType,
		VersionToken: item.ETag,
		ModifiedAt:   item.LastModified,
		Department:   f.cfg.Department,
		DocType:      f.cfg.DocType,
	}
}
