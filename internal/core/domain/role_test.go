package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoleKind(t *testing.T) {
	for _, in := range []string{"ADMIN", "admin", " Manager ", "hr", "User"} {
		k, err := ParseRoleKind(in)
		require.NoError(t, err, in)
		assert.True(t, k.Valid(), in)
	}

	_, err := ParseRoleKind("SUPERUSER")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParseRoleKind("")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoleKind_AuthorityAndDescription(t *testing.T) {
	assert.Equal(t, "ROLE_ADMIN", RoleAdmin.Authority())
	assert.Equal(t, "ROLE_USER", RoleUser.Authority())
	assert.Equal(t, "Regular user with basic access", RoleUser.Description())
	assert.Empty(t, RoleKind("NOPE").Description())
}

func TestRoleKinds_CoversCatalog(t *testing.T) {
	assert.Equal(t, []RoleKind{RoleAdmin, RoleHR, RoleManager, RoleUser}, RoleKinds())
}

func TestRoleSet_AddRemoveIdempotent(t *testing.T) {
	var s RoleSet

	assert.True(t, s.Add(NewRole(RoleUser)))
	assert.False(t, s.Add(NewRole(RoleUser)))
	assert.Len(t, s, 1)

	assert.True(t, s.Remove(RoleUser))
	assert.False(t, s.Remove(RoleUser))
	assert.Empty(t, s)
}

func TestRoleSet_OrderedByPrivilege(t *testing.T) {
	s := NewRoleSet(NewRole(RoleAdmin), NewRole(RoleUser), NewRole(RoleHR), NewRole(RoleManager))

	assert.Equal(t, []string{"USER", "MANAGER", "HR", "ADMIN"}, s.Names())
	assert.Equal(t, s.Names(), s.Clone().Names())
}

func TestRoleSet_NilStaysNil(t *testing.T) {
	var s RoleSet
	assert.Nil(t, s.Clone())
	assert.Empty(t, s.Names())
	assert.False(t, s.Has(RoleUser))
}

func TestUser_ApplyProfile(t *testing.T) {
	u := NewUser("a@x.com", "g1", "A", "", NewRole(RoleUser))
	name, same := "B", "A"

	assert.False(t, u.ApplyProfile(nil, nil))
	assert.False(t, u.ApplyProfile(&same, nil))
	assert.True(t, u.ApplyProfile(&name, nil))
	assert.Equal(t, "B", u.Name)
	assert.Equal(t, "", u.Picture)
}

func TestUser_CloneIsDeep(t *testing.T) {
	u := NewUser("a@x.com", "g1", "A", "", NewRole(RoleUser))
	c := u.Clone()
	c.Roles.Add(NewRole(RoleAdmin))

	assert.False(t, u.Roles.Has(RoleAdmin))
	assert.True(t, c.Roles.Has(RoleAdmin))
}
