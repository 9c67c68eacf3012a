package driven

import (
	"context"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// DirectoryService exposes the identity/directory provider. Adapters follow
// continuation tokens internally; every method returns the complete result
// set or an error, never a partial page.
type DirectoryService interface {
	// DocumentPermissions returns every principal (direct or inherited)
	// granted access to a document.
	DocumentPermissions(ctx context.Context, libraryID, documentID string) ([]domain.Principal, error)

	// DirectUserGroups returns the groups a user is a direct member of.
	// Transitive expansion is the AclResolver's job.
	DirectUserGroups(ctx context.Context, userID string) ([]string, error)

	// DirectParentGroups returns the groups a group is itself a direct
	// member of (nesting), for fixed-point expansion.
	DirectParentGroups(ctx context.Context, groupID string) ([]string, error)
}
