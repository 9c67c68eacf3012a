package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

func TestResolveGroupGranteesKeptAsGranted(t *testing.T) {
	directory := &mockDirectory{
		perms: map[string][]domain.Principal{
			"doc-1": {
				{ID: "grp-hr", Kind: domain.PrincipalGroup},
				{ID: "grp-all", Kind: domain.PrincipalGroup},
			},
		},
		// Parents exist but must not widen a granted group.
		parents: map[string][]string{"grp-hr": {"grp-everyone"}},
	}
	store := newMockAclStore()
	resolver := NewAclResolver(directory, store, WithAclRetry(fastRetry))

	acl, err := resolver.Resolve(context.Background(), domain.SourceDocument{ID: "doc-1", LibraryID: "lib"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"grp-all", "grp-hr"}, acl.GroupIDs)
	assert.Zero(t, directory.parentCalls)
}

func TestResolveUserGranteeExpandsTransitively(t *testing.T) {
	directory := &mockDirectory{
		perms: map[string][]domain.Principal{
			"doc-1": {{ID: "alice", Kind: domain.PrincipalUser}},
		},
		userGroups: map[string][]string{"alice": {"grp-payroll"}},
		parents: map[string][]string{
			"grp-payroll": {"grp-finance"},
			"grp-finance": {"grp-staff"},
		},
	}
	store := newMockAclStore()
	resolver := NewAclResolver(directory, store, WithAclRetry(fastRetry))

	acl, err := resolver.Resolve(context.Background(), domain.SourceDocument{ID: "doc-1"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"grp-finance", "grp-payroll", "grp-staff"}, acl.GroupIDs)

	// Persisted for fail-closed reuse.
	stored, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, acl.GroupIDs, stored.GroupIDs)
}

func TestResolveCyclicNestingTerminates(t *testing.T) {
	directory := &mockDirectory{
		perms: map[string][]domain.Principal{
			"doc-1": {{ID: "bob", Kind: domain.PrincipalUser}},
		},
		userGroups: map[string][]string{"bob": {"grp-a"}},
		parents: map[string][]string{
			"grp-a": {"grp-b"},
			"grp-b": {"grp-a"},
		},
	}
	resolver := NewAclResolver(directory, newMockAclStore(), WithAclRetry(fastRetry))

	acl, err := resolver.Resolve(context.Background(), domain.SourceDocument{ID: "doc-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"grp-a", "grp-b"}, acl.GroupIDs)
}

func TestResolveFailureIsFailClosed(t *testing.T) {
	directory := &mockDirectory{permsErr: errors.New("throttled")}
	store := newMockAclStore()
	resolver := NewAclResolver(directory, store, WithAclRetry(fastRetry))

	_, err := resolver.Resolve(context.Background(), domain.SourceDocument{ID: "doc-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionResolution)

	// Nothing partial was written.
	assert.Zero(t, store.saves)
}

func TestResolvePartialExpansionNeverSaved(t *testing.T) {
	directory := &mockDirectory{
		perms: map[string][]domain.Principal{
			"doc-1": {
				{ID: "grp-ok", Kind: domain.PrincipalGroup},
				{ID: "carol", Kind: domain.PrincipalUser},
			},
		},
		userErr: errors.New("directory down"),
	}
	store := newMockAclStore()
	resolver := NewAclResolver(directory, store, WithAclRetry(fastRetry))

	_, err := resolver.Resolve(context.Background(), domain.SourceDocument{ID: "doc-1"})
	require.ErrorIs(t, err, domain.ErrPermissionResolution)
	assert.Zero(t, store.saves)
}

func TestParentExpansionCachedPerRun(t *testing.T) {
	directory := &mockDirectory{
		perms: map[string][]domain.Principal{
			"doc-1": {{ID: "alice", Kind: domain.PrincipalUser}},
			"doc-2": {{ID: "dave", Kind: domain.PrincipalUser}},
		},
		userGroups: map[string][]string{
			"alice": {"grp-shared"},
			"dave":  {"grp-shared"},
		},
		parents: map[string][]string{"grp-shared": {"grp-top"}},
	}
	resolver := NewAclResolver(directory, newMockAclStore(), WithAclRetry(fastRetry))
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, domain.SourceDocument{ID: "doc-1"})
	require.NoError(t, err)
	callsAfterFirst := directory.parentCalls

	_, err = resolver.Resolve(ctx, domain.SourceDocument{ID: "doc-2"})
	require.NoError(t, err)

	// The second resolution expanded the same groups entirely from the
	// run cache.
	assert.Equal(t, callsAfterFirst, directory.parentCalls)

	resolver.ClearRunCache()
	_, err = resolver.Resolve(ctx, domain.SourceDocument{ID: "doc-1"})
	require.NoError(t, err)
	assert.Greater(t, directory.parentCalls, callsAfterFirst)
}

func TestUserGroupsCachedWithTTL(t *testing.T) {
	directory := &mockDirectory{
		userGroups: map[string][]string{"alice": {"grp-hr"}},
	}
	resolver := NewAclResolver(directory, newMockAclStore(),
		WithAclRetry(fastRetry), WithUserGroupTTL(time.Hour))
	ctx := context.Background()

	first, err := resolver.UserGroups(ctx, "alice")
	require.NoError(t, err)
	second, err := resolver.UserGroups(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, directory.userCalls)
}

func TestUserGroupsFailureReturnsError(t *testing.T) {
	directory := &mockDirectory{userErr: errors.New("503")}
	resolver := NewAclResolver(directory, newMockAclStore(), WithAclRetry(fastRetry))

	_, err := resolver.UserGroups(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrPermissionResolution)
}

func TestForgetRemovesStoredAcl(t *testing.T) {
	store := newMockAclStore()
	resolver := NewAclResolver(&mockDirectory{}, store, WithAclRetry(fastRetry))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, *domain.NewResolvedAcl("doc-1", []string{"grp"}, time.Now())))
	require.NoError(t, resolver.Forget(ctx, "doc-1"))

	_, err := store.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
