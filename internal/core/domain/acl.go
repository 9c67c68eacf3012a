package domain

import (
	"sort"
	"time"
)

// PrincipalKind distinguishes the grantee types a document store reports.
type PrincipalKind string

const (
	// PrincipalUser is an individual user grantee.
	PrincipalUser PrincipalKind = "user"

	// PrincipalGroup is a directory group grantee.
	PrincipalGroup PrincipalKind = "group"
)

// Principal is one grantee on a document's permission list.
type Principal struct {
	ID   string
	Kind PrincipalKind
}

// ResolvedAcl is the canonical access-control set for a document: the
// deduplicated transitive closure of group membership for every principal
// granted access. A resolution either fully succeeds or is never written.
type ResolvedAcl struct {
	DocumentID string
	GroupIDs   []string
	ResolvedAt time.Time
}

// NewResolvedAcl builds a ResolvedAcl with a sorted, deduplicated group set.
func NewResolvedAcl(documentID string, groupIDs []string, resolvedAt time.Time) *ResolvedAcl {
	seen := make(map[string]struct{}, len(groupIDs))
	unique := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	return &ResolvedAcl{
		DocumentID: documentID,
		GroupIDs:   unique,
		ResolvedAt: resolvedAt,
	}
}

// GroupsIntersect reports whether two group sets share at least one
// identifier. It is the client-side mirror of the index service's security
// filter, used by the in-memory index and the validation command.
func GroupsIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
