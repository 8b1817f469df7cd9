package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

type reconciliationService struct {
	store ports.IdentityStore
	log   zerolog.Logger
}

// NewReconciliationService returns a ReconciliationService backed by store.
func NewReconciliationService(store ports.IdentityStore, log zerolog.Logger) ports.ReconciliationService {
	return &reconciliationService{store: store, log: log}
}

// CreateUser registers a new user holding only the USER role. An existing
// user with the same email or external ID fails with DuplicateIdentity, as
// does losing a concurrent creation race at the store's uniqueness check.
func (s *reconciliationService) CreateUser(ctx context.Context, claim ports.IdentityClaim) (*domain.User, error) {
	if err := validateClaim(claim); err != nil {
		return nil, err
	}

	existing, err := s.findExisting(ctx, claim, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Warn().Str("email", claim.Email).Msg("user already exists")
		return nil, domain.DuplicateIdentity(claim.Email)
	}

	return s.create(ctx, claim)
}

// UpdateProfile applies the non-nil fields of update. Nothing is written
// when no field differs from the stored value.
func (s *reconciliationService) UpdateProfile(ctx context.Context, email string, update ports.ProfileUpdate) (*domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, domain.ValidationFailure("email", errors.New("is required"))
	}

	user, err := s.store.FindByEmailWithRoles(ctx, email)
	if err != nil {
		return nil, err
	}

	updated, _, err := s.applyProfile(ctx, user, update.Name, update.Picture)
	return updated, err
}

// Reconcile is the idempotent create-or-update used on every sign-in.
// Losing a creation race to a concurrent caller falls back to the update
// path instead of failing.
func (s *reconciliationService) Reconcile(ctx context.Context, claim ports.IdentityClaim) (_ *ports.ReconcileResult, err error) {
	ctx, span := startSpan(ctx, "reconciliation.Reconcile")
	defer func() { endSpan(span, err) }()

	if err := validateClaim(claim); err != nil {
		return nil, err
	}

	existing, err := s.findExisting(ctx, claim, true)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.reconcileExisting(ctx, existing, claim)
	}

	created, err := s.create(ctx, claim)
	if err == nil {
		return &ports.ReconcileResult{User: created, Outcome: ports.OutcomeCreated}, nil
	}
	if !errors.Is(err, domain.ErrDuplicateIdentity) {
		return nil, err
	}

	s.log.Info().Str("email", claim.Email).Msg("lost creation race, reconciling as update")
	existing, findErr := s.findExisting(ctx, claim, true)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, err
	}
	return s.reconcileExisting(ctx, existing, claim)
}

func (s *reconciliationService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.store.FindByEmailWithRoles(ctx, email)
}

func (s *reconciliationService) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return s.store.FindByExternalIDWithRoles(ctx, externalID)
}

func (s *reconciliationService) reconcileExisting(ctx context.Context, user *domain.User, claim ports.IdentityClaim) (*ports.ReconcileResult, error) {
	updated, changed, err := s.applyProfile(ctx, user, claim.Name, claim.Picture)
	if err != nil {
		return nil, err
	}
	outcome := ports.OutcomeUnchanged
	if changed {
		outcome = ports.OutcomeUpdated
	}
	return &ports.ReconcileResult{User: updated, Outcome: outcome}, nil
}

func (s *reconciliationService) create(ctx context.Context, claim ports.IdentityClaim) (*domain.User, error) {
	role, err := s.store.FindRoleByKind(ctx, domain.RoleUser)
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			s.log.Error().Msg("default USER role missing, role catalog not seeded")
			return nil, domain.RoleCatalogUninitialized(domain.RoleUser)
		}
		return nil, fmt.Errorf("resolve default role: %w", err)
	}

	user := domain.NewUser(claim.Email, claim.ExternalID, deref(claim.Name), deref(claim.Picture), *role)
	saved, err := s.store.Save(ctx, user)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("email", saved.Email).Int64("user_id", saved.ID).Msg("user created")
	return saved, nil
}

// applyProfile writes user back only if a field changed. Memberships are
// left untouched by the write.
func (s *reconciliationService) applyProfile(ctx context.Context, user *domain.User, name, picture *string) (*domain.User, bool, error) {
	if !user.ApplyProfile(name, picture) {
		s.log.Debug().Str("email", user.Email).Msg("profile unchanged, skipping write")
		return user, false, nil
	}

	toSave := user.Clone()
	toSave.Roles = nil
	saved, err := s.store.Save(ctx, toSave)
	if err != nil {
		return nil, false, err
	}

	s.log.Info().Str("email", saved.Email).Int64("version", saved.Version).Msg("user profile updated")
	return saved, true, nil
}

// findExisting looks a claim up by email, then by external ID. It returns
// nil without error when neither matches.
func (s *reconciliationService) findExisting(ctx context.Context, claim ports.IdentityClaim, withRoles bool) (*domain.User, error) {
	byEmail, byExternalID := s.store.FindByEmail, s.store.FindByExternalID
	if withRoles {
		byEmail, byExternalID = s.store.FindByEmailWithRoles, s.store.FindByExternalIDWithRoles
	}

	user, err := byEmail(ctx, claim.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	user, err = byExternalID(ctx, claim.ExternalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	return nil, nil
}

func validateClaim(claim ports.IdentityClaim) error {
	if strings.TrimSpace(claim.Email) == "" {
		return domain.ValidationFailure("email", errors.New("is required"))
	}
	if strings.TrimSpace(claim.ExternalID) == "" {
		return domain.ValidationFailure("googleId", errors.New("is required"))
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
