package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// IdentityClaim is an externally verified identity presented by a caller.
// Nil Name or Picture means "not asserted" and never clears a stored value.
type IdentityClaim struct {
	Email      string
	ExternalID string
	Name       *string
	Picture    *string
}

// ProfileUpdate carries the mutable profile fields; nil fields are skipped.
type ProfileUpdate struct {
	Name    *string
	Picture *string
}

// ReconcileOutcome says which branch a reconciliation took.
type ReconcileOutcome string

const (
	OutcomeCreated   ReconcileOutcome = "created"
	OutcomeUpdated   ReconcileOutcome = "updated"
	OutcomeUnchanged ReconcileOutcome = "unchanged"
)

// ReconcileResult is returned by ReconciliationService.Reconcile.
type ReconcileResult struct {
	User    *domain.User
	Outcome ReconcileOutcome
}

// ReconciliationService creates and updates users from identity claims.
type ReconciliationService interface {
	CreateUser(ctx context.Context, claim IdentityClaim) (*domain.User, error)
	UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (*domain.User, error)
	Reconcile(ctx context.Context, claim IdentityClaim) (*ReconcileResult, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)
}

// MembershipResult is returned by role assignment and removal.
// Changed is false for the idempotent no-op branch.
type MembershipResult struct {
	User    *domain.User
	Changed bool
}

// MembershipService applies role changes to users.
type MembershipService interface {
	AssignRole(ctx context.Context, email string, kind domain.RoleKind) (*MembershipResult, error)
	RemoveRole(ctx context.Context, email string, kind domain.RoleKind) (*MembershipResult, error)
	GetRoles(ctx context.Context, email string) ([]domain.Role, error)
}

// AuthorityService resolves a user's authority tokens. An unknown user
// yields an empty slice, never an error.
type AuthorityService interface {
	AuthoritiesForEmail(ctx context.Context, email string) ([]string, error)
	AuthoritiesForExternalID(ctx context.Context, externalID string) ([]string, error)
}
