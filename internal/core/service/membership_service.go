package service

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

type membershipService struct {
	store ports.IdentityStore
	cache AuthorityCache
	log   zerolog.Logger
}

// NewMembershipService returns a MembershipService. cache may be nil; when
// set, a user's cached authorities are dropped after each role change.
func NewMembershipService(store ports.IdentityStore, cache AuthorityCache, log zerolog.Logger) ports.MembershipService {
	if cache == nil {
		cache = noopCache{}
	}
	return &membershipService{store: store, cache: cache, log: log}
}

// AssignRole adds kind to the user's roles. Assigning a role the user
// already holds returns the unchanged user.
//
// The save is version-checked: a concurrent change to the same user fails
// with ConcurrentModification and the whole call may be retried.
func (s *membershipService) AssignRole(ctx context.Context, email string, kind domain.RoleKind) (_ *ports.MembershipResult, err error) {
	ctx, span := startSpan(ctx, "membership.AssignRole", attribute.String("role", kind.String()))
	defer func() { endSpan(span, err) }()

	user, role, err := s.load(ctx, email, kind)
	if err != nil {
		return nil, err
	}

	if !user.Roles.Add(*role) {
		s.log.Debug().Str("email", email).Str("role", kind.String()).Msg("user already has role")
		return &ports.MembershipResult{User: user}, nil
	}

	saved, err := s.save(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("email", email).Str("role", kind.String()).Msg("role assigned")
	return &ports.MembershipResult{User: saved, Changed: true}, nil
}

// RemoveRole drops kind from the user's roles. Removing a role the user
// does not hold returns the unchanged user. Removing the last role is
// allowed and leaves the user without roles.
func (s *membershipService) RemoveRole(ctx context.Context, email string, kind domain.RoleKind) (_ *ports.MembershipResult, err error) {
	ctx, span := startSpan(ctx, "membership.RemoveRole", attribute.String("role", kind.String()))
	defer func() { endSpan(span, err) }()

	user, _, err := s.load(ctx, email, kind)
	if err != nil {
		return nil, err
	}

	if !user.Roles.Remove(kind) {
		s.log.Debug().Str("email", email).Str("role", kind.String()).Msg("user does not have role")
		return &ports.MembershipResult{User: user}, nil
	}

	saved, err := s.save(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(saved.Roles) == 0 {
		s.log.Warn().Str("email", email).Msg("user has no roles left")
	}
	s.log.Info().Str("email", email).Str("role", kind.String()).Msg("role removed")
	return &ports.MembershipResult{User: saved, Changed: true}, nil
}

// GetRoles returns the user's roles ordered by ascending privilege.
func (s *membershipService) GetRoles(ctx context.Context, email string) ([]domain.Role, error) {
	user, err := s.store.FindByEmailWithRoles(ctx, email)
	if err != nil {
		return nil, err
	}
	return user.Roles.Roles(), nil
}

// load resolves the user with roles and then the catalog role, failing with
// NotFound for either.
func (s *membershipService) load(ctx context.Context, email string, kind domain.RoleKind) (*domain.User, *domain.Role, error) {
	if !kind.Valid() {
		return nil, nil, domain.ValidationFailure("roleName", nil)
	}

	user, err := s.store.FindByEmailWithRoles(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	role, err := s.store.FindRoleByKind(ctx, kind)
	if err != nil {
		return nil, nil, err
	}
	if user.Roles == nil {
		user.Roles = domain.RoleSet{}
	}
	return user, role, nil
}

func (s *membershipService) save(ctx context.Context, user *domain.User) (*domain.User, error) {
	saved, err := s.store.Save(ctx, user)
	if err != nil {
		return nil, err
	}
	invalidateAuthorities(ctx, s.cache, s.log, saved)
	return saved, nil
}
