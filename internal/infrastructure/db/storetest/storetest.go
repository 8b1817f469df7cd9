// Package storetest holds the behaviour every ports.IdentityStore adapter
// must share. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ports.IdentityStore

// Run exercises the store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.IdentityStore)
	}{
		{"InsertAssignsIDAndVersion", testInsert},
		{"Uniqueness", testUniqueness},
		{"VersionCheck", testVersionCheck},
		{"NilRolesLeavesMembershipUntouched", testNilRoles},
		{"RoleReplacement", testRoleReplacement},
		{"UnknownRoleRejected", testUnknownRole},
		{"UpdateMissingUser", testUpdateMissing},
		{"SaveRoleIfAbsentKeepsFirst", testSaveRoleIfAbsent},
		{"ConcurrentRoleSeeding", testConcurrentSeeding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// Seed stores the full role catalog and returns the USER role.
func Seed(t *testing.T, s ports.IdentityStore) domain.Role {
	t.Helper()
	var user domain.Role
	for _, k := range domain.RoleKinds() {
		r, err := s.SaveRoleIfAbsent(context.Background(), domain.NewRole(k))
		require.NoError(t, err)
		if k == domain.RoleUser {
			user = *r
		}
	}
	return user
}

func testInsert(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()
	role := Seed(t, s)

	u, err := s.Save(ctx, domain.NewUser("a@x.com", "g1", "A", "", role))
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, int64(1), u.Version)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Equal(t, []string{"USER"}, u.Roles.Names())

	plain, err := s.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, plain.RolesLoaded())
	assert.Equal(t, "A", plain.Name)

	withRoles, err := s.FindByExternalIDWithRoles(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, withRoles.ID)
	assert.True(t, withRoles.Roles.Has(domain.RoleUser))

	_, err = s.FindByExternalID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testUniqueness(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()
	role := Seed(t, s)

	_, err := s.Save(ctx, domain.NewUser("a@x.com", "g1", "", "", role))
	require.NoError(t, err)

	_, err = s.Save(ctx, domain.NewUser("a@x.com", "g2", "", "", role))
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
	assertDuplicateKey(t, err, "a@x.com")
	_, err = s.Save(ctx, domain.NewUser("b@x.com", "g1", "", "", role))
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
	assertDuplicateKey(t, err, "g1")

	_, err = s.FindByEmail(ctx, "b@x.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = s.FindByExternalID(ctx, "g2")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

// assertDuplicateKey checks that err names the identity that collided.
func assertDuplicateKey(t *testing.T, err error, key string) {
	t.Helper()
	var de *domain.Error
	if assert.ErrorAs(t, err, &de) {
		assert.Equal(t, key, de.Key)
	}
}

func testVersionCheck(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()
	role := Seed(t, s)

	u, err := s.Save(ctx, domain.NewUser("a@x.com", "g1", "A", "", role))
	require.NoError(t, err)

	stale := u.Clone()
	u.Name = "B"
	u, err = s.Save(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Version)

	stale.Name = "C"
	_, err = s.Save(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	got, err := s.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)
	assert.Equal(t, int64(2), got.Version)
}

func testNilRoles(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()
	role := Seed(t, s)
	admin, err := s.FindRoleByKind(ctx, domain.RoleAdmin)
	require.NoError(t, err)

	u, err := s.Save(ctx, domain.NewUser("a@x.com", "g1", "A", "", role))
	require.NoError(t, err)
	u.Roles.Add(*admin)
	u, err = s.Save(ctx, u)
	require.NoError(t, err)

	profileOnly := u.Clone()
	profileOnly.Roles = nil
	profileOnly.Picture = "pic"
	saved, err := s.Save(ctx, profileOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"USER", "ADMIN"}, saved.Roles.Names())
	assert.Equal(t, "pic", saved.Picture)
	assert.Equal(t, int64(3), saved.Version)
}

func testRoleReplacement(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()
	role := Seed(t, s)
	hr, err := s.FindRoleByKind(ctx, domain.RoleHR)
	require.NoError(t, err)

	u, err := s.Save(ctx, domain.NewUser("a@x.com", "g1", "", "", role))
	require.NoError(t, err)

	u.Roles = domain.NewRoleSet(*hr)
	u, err = s.Save(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"HR"}, u.Roles.Names())

	u.Roles = domain.NewRoleSet()
	u, err = s.Save(ctx, u)
	require.NoError(t, err)
	assert.True(t, u.RolesLoaded())
	assert.Empty(t, u.Roles.Names())

	got, err := s.FindByEmailWithRoles(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, got.Roles.Names())
}

func testUnknownRole(t *testing.T, s ports.IdentityStore) {
	_, err := s.Save(context.Background(), domain.NewUser("a@x.com", "g1", "", "", domain.NewRole(domain.RoleUser)))
	assert.ErrorIs(t, err, domain.ErrRoleNotFound)

	_, err = s.FindByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testUpdateMissing(t *testing.T, s ports.IdentityStore) {
	Seed(t, s)

	_, err := s.Save(context.Background(), &domain.User{ID: 42, Email: "x@x.com", ExternalID: "g", Version: 1})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testSaveRoleIfAbsent(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()

	first, err := s.SaveRoleIfAbsent(ctx, domain.Role{Kind: domain.RoleHR, Description: "first"})
	require.NoError(t, err)
	second, err := s.SaveRoleIfAbsent(ctx, domain.Role{Kind: domain.RoleHR, Description: "second"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first", second.Description)

	_, err = s.FindRoleByKind(ctx, domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrRoleNotFound)
}

func testConcurrentSeeding(t *testing.T, s ports.IdentityStore) {
	ctx := context.Background()
	const workers = 8

	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.SaveRoleIfAbsent(ctx, domain.NewRole(domain.RoleManager))
			errs[i] = err
			if err == nil {
				ids[i] = r.ID
			}
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}
