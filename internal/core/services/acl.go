package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
	"github.com/res-labs/hrcopilot/internal/logger"
	"github.com/res-labs/hrcopilot/internal/retry"
)

// DefaultUserGroupTTL bounds how stale a cached user group set may be on
// the query path.
const DefaultUserGroupTTL = 5 * time.Minute

// AclResolver computes a document's canonical access set and a user's
// transitive group membership from the directory service.
//
// Resolution is all-or-nothing: any directory failure fails the whole
// resolution and nothing is persisted, so a document can never be indexed
// with a partially expanded ACL.
type AclResolver struct {
	directory driven.DirectoryService
	aclStore  driven.AclStore
	retryCfg  retry.Config
	userTTL   time.Duration

	mu sync.Mutex
	// parents caches group -> direct parent groups for the current run.
	parents map[string][]string
	// userGroups caches a user's transitive group set briefly so repeated
	// queries do not hammer the directory.
	userGroups map[string]userGroupsEntry
}

type userGroupsEntry struct {
	groups    []string
	fetchedAt time.Time
}

// AclResolverOption configures the resolver.
type AclResolverOption func(*AclResolver)

// WithUserGroupTTL sets the user group cache TTL.
func WithUserGroupTTL(ttl time.Duration) AclResolverOption {
	return func(r *AclResolver) {
		if ttl > 0 {
			r.userTTL = ttl
		}
	}
}

// WithAclRetry sets the retry budget for directory calls.
func WithAclRetry(cfg retry.Config) AclResolverOption {
	return func(r *AclResolver) {
		r.retryCfg = cfg
	}
}

// NewAclResolver creates a resolver. The ACL store holds each document's
// last successful resolution so failures can fail closed.
func NewAclResolver(directory driven.DirectoryService, aclStore driven.AclStore, opts ...AclResolverOption) *AclResolver {
	r := &AclResolver{
		directory:  directory,
		aclStore:   aclStore,
		retryCfg:   retry.DefaultConfig,
		userTTL:    DefaultUserGroupTTL,
		parents:    make(map[string][]string),
		userGroups: make(map[string]userGroupsEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClearRunCache drops the per-run group expansion cache. Called at the
// start of each sync cycle so membership changes are observed.
func (r *AclResolver) ClearRunCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parents = make(map[string][]string)
}

// Resolve computes the document's access set: group grantees are kept
// as granted, user grantees are expanded to the user's transitive groups.
// The result is persisted to the ACL store before returning.
func (r *AclResolver) Resolve(ctx context.Context, doc domain.SourceDocument) (*domain.ResolvedAcl, error) {
	principals, err := retry.Do(ctx, r.retryCfg, func(ctx context.Context) ([]domain.Principal, error) {
		return r.directory.DocumentPermissions(ctx, doc.LibraryID, doc.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("document %s: permissions: %w: %w", doc.ID, domain.ErrPermissionResolution, err)
	}

	var groups []string
	for _, p := range principals {
		switch p.Kind {
		case domain.PrincipalGroup:
			// A granted group is used exactly as granted. Expanding it
			// to parent groups would widen access.
			groups = append(groups, p.ID)

		case domain.PrincipalUser:
			userGroups, err := r.transitiveUserGroups(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("document %s: expand user %s: %w: %w",
					doc.ID, p.ID, domain.ErrPermissionResolution, err)
			}
			groups = append(groups, userGroups...)
		}
	}

	acl := domain.NewResolvedAcl(doc.ID, groups, time.Now())
	if err := r.aclStore.Save(ctx, *acl); err != nil {
		return nil, fmt.Errorf("document %s: save acl: %w", doc.ID, err)
	}

	logger.Debug("Resolved ACL for %s: %d group(s)", doc.ID, len(acl.GroupIDs))
	return acl, nil
}

// LastKnown returns the document's previously stored ACL, if any.
func (r *AclResolver) LastKnown(ctx context.Context, documentID string) (*domain.ResolvedAcl, error) {
	return r.aclStore.Get(ctx, documentID)
}

// Forget removes the stored ACL for a deleted document.
func (r *AclResolver) Forget(ctx context.Context, documentID string) error {
	return r.aclStore.Delete(ctx, documentID)
}

// UserGroups returns the user's transitive group set for query-time
// security filtering, served from a short-TTL cache.
func (r *AclResolver) UserGroups(ctx context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	if entry, ok := r.userGroups[userID]; ok && time.Since(entry.fetchedAt) < r.userTTL {
		groups := entry.groups
		r.mu.Unlock()
		return groups, nil
	}
	r.mu.Unlock()

	groups, err := r.transitiveUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w: %w", userID, domain.ErrPermissionResolution, err)
	}

	r.mu.Lock()
	r.userGroups[userID] = userGroupsEntry{groups: groups, fetchedAt: time.Now()}
	r.mu.Unlock()
	return groups, nil
}

// transitiveUserGroups expands a user's direct groups to the fixed point
// over nested group membership.
func (r *AclResolver) transitiveUserGroups(ctx context.Context, userID string) ([]string, error) {
	direct, err := retry.Do(ctx, r.retryCfg, func(ctx context.Context) ([]string, error) {
		return r.directory.DirectUserGroups(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("direct groups: %w", err)
	}

	seen := make(map[string]struct{}, len(direct))
	queue := make([]string, 0, len(direct))
	for _, g := range direct {
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			queue = append(queue, g)
		}
	}

	for len(queue) > 0 {
		group := queue[0]
		queue = queue[1:]

		parents, err := r.parentGroups(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("parents of %s: %w", group, err)
		}
		for _, p := range parents {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	return groups, nil
}

// parentGroups returns a group's direct parents, cached for the run.
func (r *AclResolver) parentGroups(ctx context.Context, groupID string) ([]string, error) {
	r.mu.Lock()
	if parents, ok := r.parents[groupID]; ok {
		r.mu.Unlock()
		return parents, nil
	}
	r.mu.Unlock()

	parents, err := retry.Do(ctx, r.retryCfg, func(ctx context.Context) ([]string, error) {
		return r.directory.DirectParentGroups(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.parents[groupID] = parents
	r.mu.Unlock()
	return parents, nil
}
