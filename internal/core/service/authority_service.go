package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// AuthorityCache stores projected authorities under a lookup key (see
// emailKey / externalIDKey). Cache failures are never fatal to a lookup.
//
// Every key carries a generation that Invalidate advances. Get reports the
// generation it observed and Set stores only while the key is still at that
// generation, so a lookup that raced a role change never repopulates the
// cache with the roles it read before the change.
type AuthorityCache interface {
	Get(ctx context.Context, key string) (authorities []string, gen int64, ok bool, err error)
	Set(ctx context.Context, key string, gen int64, authorities []string) (stored bool, err error)
	Invalidate(ctx context.Context, keys ...string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]string, int64, bool, error) {
	return nil, 0, false, nil
}
func (noopCache) Set(context.Context, string, int64, []string) (bool, error) { return false, nil }
func (noopCache) Invalidate(context.Context, ...string) error              { return nil }

func emailKey(email string) string           { return "email:" + email }
func externalIDKey(externalID string) string { return "external_id:" + externalID }

// ProjectAuthorities maps each role to "ROLE_<KIND>". The result is ordered
// by ascending privilege, so equal sets always project identically.
func ProjectAuthorities(roles domain.RoleSet) []string {
	kinds := roles.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.Authority()
	}
	return out
}

type authorityService struct {
	store ports.IdentityStore
	cache AuthorityCache
	log   zerolog.Logger
}

// NewAuthorityService returns an AuthorityService. cache may be nil.
func NewAuthorityService(store ports.IdentityStore, cache AuthorityCache, log zerolog.Logger) ports.AuthorityService {
	if cache == nil {
		cache = noopCache{}
	}
	return &authorityService{store: store, cache: cache, log: log}
}

func (s *authorityService) AuthoritiesForEmail(ctx context.Context, email string) ([]string, error) {
	return s.lookup(ctx, emailKey(email), func() (*domain.User, error) {
		return s.store.FindByEmailWithRoles(ctx, email)
	})
}

func (s *authorityService) AuthoritiesForExternalID(ctx context.Context, externalID string) ([]string, error) {
	return s.lookup(ctx, externalIDKey(externalID), func() (*domain.User, error) {
		return s.store.FindByExternalIDWithRoles(ctx, externalID)
	})
}

func (s *authorityService) lookup(ctx context.Context, key string, load func() (*domain.User, error)) ([]string, error) {
	cached, gen, ok, cacheErr := s.cache.Get(ctx, key)
	if cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("authority cache read failed")
	} else if ok {
		return cached, nil
	}

	user, err := load()
	if err != nil {
		// Unknown users have no privileges. Not cached so a later creation
		// is visible immediately.
		if errors.Is(err, domain.ErrUserNotFound) {
			return []string{}, nil
		}
		return nil, err
	}

	authorities := ProjectAuthorities(user.Roles)
	if cacheErr != nil {
		return authorities, nil
	}
	stored, err := s.cache.Set(ctx, key, gen, authorities)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("key", key).Msg("authority cache write failed")
	case !stored:
		s.log.Debug().Str("key", key).Msg("authorities changed during lookup, not cached")
	}
	return authorities, nil
}

// invalidateAuthorities drops both cache entries of u.
func invalidateAuthorities(ctx context.Context, cache AuthorityCache, log zerolog.Logger, u *domain.User) {
	if err := cache.Invalidate(ctx, emailKey(u.Email), externalIDKey(u.ExternalID)); err != nil {
		log.Warn().Err(err).Str("email", u.Email).Msg("authority cache invalidation failed")
	}
}
