package msgraph

import (
	"context"
	"fmt"
	"net/url"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure Directory implements the interface.
var _ driven.DirectoryService = (*Directory)(nil)

// Directory answers permission and group-membership questions from Graph.
// Continuation links are followed internally; callers always get the
// complete result set or an error.
type Directory struct {
	client *Client
}

// NewDirectory creates a directory service on an authenticated client.
func NewDirectory(client *Client) *Directory {
	return &Directory{client: client}
}

type permissionsPage struct {
	Value []struct {
		GrantedToV2           *identitySet  `json:"grantedToV2"`
		GrantedTo             *identitySet  `json:"grantedTo"`
		GrantedToIdentitiesV2 []identitySet `json:"grantedToIdentitiesV2"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type identitySet struct {
	User *struct {
		ID string `json:"id"`
	} `json:"user"`
	Group *struct {
		ID string `json:"id"`
	} `json:"group"`
	SiteGroup *struct {
		ID string `json:"id"`
	} `json:"siteGroup"`
}

type directoryObjectsPage struct {
	Value []struct {
		Type string `json:"@odata.type"`
		ID   string `json:"id"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// DocumentPermissions returns every principal granted access to a drive
// item, direct and inherited alike.
func (d *Directory) DocumentPermissions(ctx context.Context, libraryID, documentID string) ([]domain.Principal, error) {
	next := fmt.Sprintf("/drives/%s/items/%s/permissions",
		url.PathEscape(libraryID), url.PathEscape(documentID))

	var principals []domain.Principal
	seen := make(map[string]struct{})
	for next != "" {
		var page permissionsPage
		if err := d.client.GetJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, permission := range page.Value {
			grantees := permission.GrantedToIdentitiesV2
			if permission.GrantedToV2 != nil {
				grantees = append(grantees, *permission.GrantedToV2)
			}
			if permission.GrantedTo != nil {
				grantees = append(grantees, *permission.GrantedTo)
			}
			for _, grantee := range grantees {
				principal, ok := granteePrincipal(grantee)
				if !ok {
					continue
				}
				key := string(principal.Kind) + ":" + principal.ID
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				principals = append(principals, principal)
			}
		}
		next = page.NextLink
	}
	return principals, nil
}

// DirectUserGroups returns the groups a user is a direct member of.
func (d *Directory) DirectUserGroups(ctx context.Context, userID string) ([]string, error) {
	return d.memberOf(ctx, fmt.Sprintf("/users/%s/memberOf", url.PathEscape(userID)))
}

// DirectParentGroups returns the groups a group is itself a direct member
// of, for nesting expansion.
func (d *Directory) DirectParentGroups(ctx context.Context, groupID string) ([]string, error) {
	return d.memberOf(ctx, fmt.Sprintf("/groups/%s/memberOf", url.PathEscape(groupID)))
}

func (d *Directory) memberOf(ctx context.Context, next string) ([]string, error) {
	var groups []string
	for next != "" {
		var page directoryObjectsPage
		if err := d.client.GetJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, object := range page.Value {
			// memberOf also returns directory roles and administrative
			// units; only group memberships matter for access trimming.
			if object.Type != "#microsoft.graph.group" {
				continue
			}
			groups = append(groups, object.ID)
		}
		next = page.NextLink
	}
	return groups, nil
}

func granteePrincipal(grantee identitySet) (domain.Principal, bool) {
	switch {
	case grantee.Group != nil:
		return domain.Principal{ID: grantee.Group.ID, Kind: domain.PrincipalGroup}, true
	case grantee.SiteGroup != nil:
		return domain.Principal{ID: grantee.SiteGroup.ID, Kind: domain.PrincipalGroup}, true
	case grantee.User != nil:
		return domain.Principal{ID: grantee.User.ID, Kind: domain.PrincipalUser}, true
	default:
		return domain.Principal{}, false
	}
}
