package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/identity-system/internal/core/domain"
)

func TestProjectAuthorities_Deterministic(t *testing.T) {
	a := domain.NewRoleSet(domain.NewRole(domain.RoleAdmin), domain.NewRole(domain.RoleUser))
	b := domain.NewRoleSet(domain.NewRole(domain.RoleUser), domain.NewRole(domain.RoleAdmin))

	assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, ProjectAuthorities(a))
	assert.Equal(t, ProjectAuthorities(a), ProjectAuthorities(b))
	for i := 0; i < 20; i++ {
		assert.Equal(t, ProjectAuthorities(a), ProjectAuthorities(a.Clone()))
	}
}

func TestProjectAuthorities_EmptyAndFull(t *testing.T) {
	assert.Empty(t, ProjectAuthorities(nil))
	assert.NotNil(t, ProjectAuthorities(domain.RoleSet{}))

	all := domain.RoleSet{}
	for _, k := range domain.RoleKinds() {
		all.Add(domain.NewRole(k))
	}
	assert.Equal(t, []string{"ROLE_USER", "ROLE_MANAGER", "ROLE_HR", "ROLE_ADMIN"}, ProjectAuthorities(all))
}

func TestAuthorityService_UnknownUserYieldsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthorityService(seededStore(t), nil, zerolog.Nop())

	byEmail, err := svc.AuthoritiesForEmail(ctx, "missing@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{}, byEmail)

	byExternal, err := svc.AuthoritiesForExternalID(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{}, byExternal)
}

func TestAuthorityService_CachesHitsButNotMisses(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{IdentityStore: seededStore(t)}
	cache := newFakeCache()
	users := NewReconciliationService(store, zerolog.Nop())
	svc := NewAuthorityService(store, cache, zerolog.Nop())

	_, err := svc.AuthoritiesForEmail(ctx, "a@x.com")
	require.NoError(t, err)
	_, ok := cache.entries["email:a@x.com"]
	assert.False(t, ok, "unknown user must not be cached")

	_, err = users.CreateUser(ctx, claim("a@x.com", "g1", nil, nil))
	require.NoError(t, err)
	lookups := store.lookups

	first, err := svc.AuthoritiesForEmail(ctx, "a@x.com")
	require.NoError(t, err)
	second, err := svc.AuthoritiesForEmail(ctx, "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"ROLE_USER"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, lookups+1, store.lookups, "second lookup must be served from cache")
}

func TestAuthorityService_CacheReadFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	users := NewReconciliationService(store, zerolog.Nop())
	svc := NewAuthorityService(store, cache, zerolog.Nop())

	_, err := users.CreateUser(ctx, claim("a@x.com", "g1", nil, nil))
	require.NoError(t, err)

	got, err := svc.AuthoritiesForEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER"}, got)
}

func TestAuthorityService_LookupRacingRevocationIsNotCached(t *testing.T) {
	ctx := context.Background()
	base := seededStore(t)
	cache := newFakeCache()
	users := NewReconciliationService(base, zerolog.Nop())
	members := NewMembershipService(base, cache, zerolog.Nop())
	store := &countingStore{IdentityStore: base}
	svc := NewAuthorityService(store, cache, zerolog.Nop())

	_, err := users.CreateUser(ctx, claim("a@x.com", "g1", nil, nil))
	require.NoError(t, err)
	_, err = members.AssignRole(ctx, "a@x.com", domain.RoleAdmin)
	require.NoError(t, err)

	// The role is revoked after the lookup has read the user but before it
	// writes the cache.
	store.lookupHook = func() {
		_, err := members.RemoveRole(ctx, "a@x.com", domain.RoleAdmin)
		require.NoError(t, err)
	}
	during, err := svc.AuthoritiesForEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, during)
	assert.Equal(t, 1, cache.rejected)

	after, err := svc.AuthoritiesForEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER"}, after)
	assert.NotContains(t, after, "ROLE_ADMIN")
}

type failingStore struct {
	countingStore
	err error
}

func (s *failingStore) FindByEmailWithRoles(context.Context, string) (*domain.User, error) {
	return nil, s.err
}

func TestAuthorityService_StoreFailureIsNotSwallowed(t *testing.T) {
	boom := errors.New("connection refused")
	store := &failingStore{countingStore: countingStore{IdentityStore: seededStore(t)}, err: boom}
	svc := NewAuthorityService(store, nil, zerolog.Nop())

	_, err := svc.AuthoritiesForEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, boom)
}
