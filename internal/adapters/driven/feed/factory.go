// Package feed assembles DocumentFeed adapters for configured libraries.
package feed

import (
	"context"
	"fmt"

	"google.golang.org/api/option"

	"github.com/res-labs/hrcopilot/internal/adapters/driven/feed/gdrive"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/feed/sharepoint"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/msgraph"
	"github.com/res-labs/hrcopilot/internal/config"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.FeedFactory = (*Factory)(nil)

// Factory builds the feed for a configured library based on its provider.
type Factory struct {
	cfg         *config.Config
	graphClient *msgraph.Client
	driveOpts   []option.ClientOption
}

// NewFactory creates a feed factory. The Graph client may be nil when no
// SharePoint library is configured; Drive client options likewise apply
// only to Google Drive libraries.
func NewFactory(cfg *config.Config, graphClient *msgraph.Client, driveOpts ...option.ClientOption) *Factory {
	return &Factory{
		cfg:         cfg,
		graphClient: graphClient,
		driveOpts:   driveOpts,
	}
}

// Feed creates the feed for a configured library.
func (f *Factory) Feed(ctx context.Context, libraryID string) (driven.DocumentFeed, error) {
	library, ok := f.cfg.Library(libraryID)
	if !ok {
		return nil, fmt.Errorf("feed: library %q is not configured", libraryID)
	}

	switch library.Provider {
	case config.ProviderSharePoint:
		if f.graphClient == nil {
			return nil, fmt.Errorf("feed: library %q needs Graph credentials", libraryID)
		}
		return sharepoint.NewFeed(f.graphClient, sharepoint.Config{
			LibraryID:  library.ID,
			DriveID:    library.DriveID,
			FolderID:   library.FolderID,
			Department: library.Department,
			DocType:    library.DocType,
		})
	case config.ProviderGDrive:
		return gdrive.NewFeed(ctx, gdrive.Config{
			LibraryID:  library.ID,
			FolderID:   library.FolderID,
			Department: library.Department,
			DocType:    library.DocType,
		}, f.driveOpts...)
	default:
		return nil, fmt.Errorf("feed: library %q has unknown provider %q", libraryID, library.Provider)
	}
}
