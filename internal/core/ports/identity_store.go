package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// IdentityStore is the durable storage for users and catalog roles.
//
// Lookups return a domain NotFound error when nothing matches. The plain
// Find* methods leave User.Roles nil; the *WithRoles variants populate it
// from a single consistent read.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	FindByEmailWithRoles(ctx context.Context, email string) (*domain.User, error)
	FindByExternalIDWithRoles(ctx context.Context, externalID string) (*domain.User, error)
	FindRoleByKind(ctx context.Context, kind domain.RoleKind) (*domain.Role, error)

	// Save inserts a user with ID 0, otherwise updates the row whose version
	// equals user.Version. It is transactional: the version is checked and
	// incremented atomically and a nil role set leaves memberships untouched.
	// The returned user has its roles populated.
	//
	// Failures: DuplicateIdentity on an email/external ID uniqueness hit,
	// ConcurrentModification on a stale version, NotFound when the row is gone.
	Save(ctx context.Context, user *domain.User) (*domain.User, error)

	// SaveRoleIfAbsent inserts the role unless a row of the same kind exists
	// and returns the persisted row either way.
	SaveRoleIfAbsent(ctx context.Context, role domain.Role) (*domain.Role, error)

	Ping(ctx context.Context) error
}
