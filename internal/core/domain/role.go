package domain

import (
	"fmt"
	"sort"
	"strings"
)

// RoleKind is one member of the closed role catalog.
type RoleKind string

const (
	RoleAdmin   RoleKind = "ADMIN"
	RoleHR      RoleKind = "HR"
	RoleManager RoleKind = "MANAGER"
	RoleUser    RoleKind = "USER"
)

// AuthorityPrefix is prepended to a role kind to form an authority token.
const AuthorityPrefix = "ROLE_"

// catalog lists every role kind with its canonical description, in
// declaration order.
var catalog = []struct {
	kind        RoleKind
	description string
}{
	{RoleAdmin, "Administrator with full system access"},
	{RoleHR, "Human Resources with employee management access"},
	{RoleManager, "Manager with department management access"},
	{RoleUser, "Regular user with basic access"},
}

// privilegeRank orders kinds from least to most privileged. Projections and
// role listings are sorted by it.
var privilegeRank = map[RoleKind]int{
	RoleUser:    0,
	RoleManager: 1,
	RoleHR:      2,
	RoleAdmin:   3,
}

// RoleKinds returns every catalog kind in declaration order.
func RoleKinds() []RoleKind {
	kinds := make([]RoleKind, len(catalog))
	for i, c := range catalog {
		kinds[i] = c.kind
	}
	return kinds
}

// ParseRoleKind accepts a kind name in any letter case.
func ParseRoleKind(s string) (RoleKind, error) {
	k := RoleKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", ValidationFailure("roleName", fmt.Errorf("unknown role %q", s))
	}
	return k, nil
}

func (k RoleKind) Valid() bool {
	_, ok := privilegeRank[k]
	return ok
}

// Description returns the catalog description, or "" for unknown kinds.
func (k RoleKind) Description() string {
	for _, c := range catalog {
		if c.kind == k {
			return c.description
		}
	}
	return ""
}

// Authority returns the authorization token for the kind, e.g. "ROLE_ADMIN".
func (k RoleKind) Authority() string {
	return AuthorityPrefix + string(k)
}

func (k RoleKind) String() string { return string(k) }

// Role is a persisted catalog entry.
type Role struct {
	ID          int64
	Kind        RoleKind
	Description string
}

// NewRole builds the canonical, not yet persisted, row for kind.
func NewRole(kind RoleKind) Role {
	return Role{Kind: kind, Description: kind.Description()}
}

// RoleSet is a user's role membership keyed by kind. A nil RoleSet means the
// roles were not loaded, which is different from an empty set.
type RoleSet map[RoleKind]Role

// NewRoleSet builds a set from roles; later duplicates of a kind win.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r.Kind] = r
	}
	return s
}

func (s RoleSet) Has(kind RoleKind) bool {
	_, ok := s[kind]
	return ok
}

// Add inserts r and reports whether the set changed.
func (s *RoleSet) Add(r Role) bool {
	if *s == nil {
		*s = make(RoleSet)
	}
	if _, ok := (*s)[r.Kind]; ok {
		return false
	}
	(*s)[r.Kind] = r
	return true
}

// Remove deletes kind and reports whether the set changed.
func (s RoleSet) Remove(kind RoleKind) bool {
	if _, ok := s[kind]; !ok {
		return false
	}
	delete(s, kind)
	return true
}

// Roles returns the members ordered by ascending privilege.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return privilegeRank[out[i].Kind] < privilegeRank[out[j].Kind]
	})
	return out
}

// Kinds returns the member kinds ordered by ascending privilege.
func (s RoleSet) Kinds() []RoleKind {
	roles := s.Roles()
	kinds := make([]RoleKind, len(roles))
	for i, r := range roles {
		kinds[i] = r.Kind
	}
	return kinds
}

// Names is Kinds as plain strings.
func (s RoleSet) Names() []string {
	kinds := s.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Clone returns an independent copy; a nil set stays nil.
func (s RoleSet) Clone() RoleSet {
	if s == nil {
		return nil
	}
	out := make(RoleSet, len(s))
	for k, r := range s {
		out[k] = r
	}
	return out
}
