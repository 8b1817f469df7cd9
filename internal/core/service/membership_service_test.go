package service

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

func newMembershipFixture(t *testing.T) (ports.MembershipService, *countingStore) {
	t.Helper()
	store := &countingStore{IdentityStore: seededStore(t)}
	users := NewReconciliationService(store, zerolog.Nop())
	_, err := users.CreateUser(context.Background(), claim("a@x.com", "g1", strPtr("A"), nil))
	require.NoError(t, err)
	return NewMembershipService(store, nil, zerolog.Nop()), store
}

func TestMembershipService_AssignRole_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newMembershipFixture(t)

	first, err := svc.AssignRole(ctx, "a@x.com", domain.RoleManager)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	savesAfterFirst := store.saves

	second, err := svc.AssignRole(ctx, "a@x.com", domain.RoleManager)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, savesAfterFirst, store.saves, "no-op must not write")
	assert.Equal(t, first.User.Version, second.User.Version)
	assert.Equal(t, []string{"USER", "MANAGER"}, second.User.Roles.Names())
}

func TestMembershipService_RemoveRole_AbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, store := newMembershipFixture(t)
	saves := store.saves

	res, err := svc.RemoveRole(ctx, "a@x.com", domain.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, saves, store.saves)
	assert.Equal(t, []string{"USER"}, res.User.Roles.Names())
}

func TestMembershipService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMembershipFixture(t)

	_, err := svc.AssignRole(ctx, "a@x.com", domain.RoleAdmin)
	require.NoError(t, err)
	roles, err := svc.GetRoles(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Contains(t, kindsOf(roles), domain.RoleAdmin)

	_, err = svc.RemoveRole(ctx, "a@x.com", domain.RoleAdmin)
	require.NoError(t, err)
	roles, err = svc.GetRoles(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotContains(t, kindsOf(roles), domain.RoleAdmin)
}

func TestMembershipService_RemoveLastRoleIsAllowed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMembershipFixture(t)

	res, err := svc.RemoveRole(ctx, "a@x.com", domain.RoleUser)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.User.Roles)

	roles, err := svc.GetRoles(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestMembershipService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMembershipFixture(t)

	_, err := svc.AssignRole(ctx, "missing@x.com", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = svc.RemoveRole(ctx, "missing@x.com", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = svc.GetRoles(ctx, "missing@x.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestMembershipService_UnknownKind(t *testing.T) {
	svc, _ := newMembershipFixture(t)

	_, err := svc.AssignRole(context.Background(), "a@x.com", domain.RoleKind("ROOT"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMembershipService_StaleWriteIsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	svc, store := newMembershipFixture(t)

	var once sync.Once
	store.saveHook = func(u *domain.User) {
		// Another writer bumps the version between our read and our write.
		once.Do(func() {
			fresh, err := store.IdentityStore.FindByEmail(ctx, u.Email)
			require.NoError(t, err)
			_, err = store.IdentityStore.Save(ctx, fresh)
			require.NoError(t, err)
		})
	}

	_, err := svc.AssignRole(ctx, "a@x.com", domain.RoleHR)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	// Retrying the whole read-modify-write succeeds.
	var res *ports.MembershipResult
	err = RetryOnConflict(ctx, 3, nil, func(ctx context.Context) error {
		var err error
		res, err = svc.AssignRole(ctx, "a@x.com", domain.RoleHR)
		return err
	})
	require.NoError(t, err)
	assert.True(t, res.User.Roles.Has(domain.RoleHR))
}

func TestMembershipService_ConcurrentAssignNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMembershipFixture(t)

	kinds := []domain.RoleKind{domain.RoleAdmin, domain.RoleHR, domain.RoleManager}
	var wg sync.WaitGroup
	errs := make([]error, len(kinds))
	for i, k := range kinds {
		wg.Add(1)
		go func(i int, k domain.RoleKind) {
			defer wg.Done()
			errs[i] = RetryOnConflict(ctx, 10, nil, func(ctx context.Context) error {
				_, err := svc.AssignRole(ctx, "a@x.com", k)
				return err
			})
		}(i, k)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	roles, err := svc.GetRoles(ctx, "a@x.com")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]domain.RoleKind{domain.RoleUser, domain.RoleManager, domain.RoleHR, domain.RoleAdmin},
		kindsOf(roles))
}

func TestMembershipService_InvalidatesAuthorityCache(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	cache := newFakeCache()
	users := NewReconciliationService(store, zerolog.Nop())
	svc := NewMembershipService(store, cache, zerolog.Nop())
	authorities := NewAuthorityService(store, cache, zerolog.Nop())

	_, err := users.CreateUser(ctx, claim("a@x.com", "g1", nil, nil))
	require.NoError(t, err)

	got, err := authorities.AuthoritiesForExternalID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER"}, got)

	_, err = svc.AssignRole(ctx, "a@x.com", domain.RoleAdmin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"email:a@x.com", "external_id:g1"}, cache.invalidated)

	got, err = authorities.AuthoritiesForExternalID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, got)
}

func kindsOf(roles []domain.Role) []domain.RoleKind {
	out := make([]domain.RoleKind, len(roles))
	for i, r := range roles {
		out[i] = r.Kind
	}
	return out
}
