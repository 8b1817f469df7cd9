package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// SeedRoleCatalog makes sure one role row exists per catalog kind. It is
// idempotent and safe to run from several instances at once: a lost insert
// race resolves to the row the winner wrote.
func SeedRoleCatalog(ctx context.Context, store ports.IdentityStore, log zerolog.Logger) error {
	log.Info().Msg("initializing role catalog")

	for _, kind := range domain.RoleKinds() {
		_, err := store.FindRoleByKind(ctx, kind)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrRoleNotFound) {
			return fmt.Errorf("seed role %s: %w", kind, err)
		}

		role, err := store.SaveRoleIfAbsent(ctx, domain.NewRole(kind))
		if err != nil {
			return fmt.Errorf("seed role %s: %w", kind, err)
		}
		log.Info().Str("role", kind.String()).Int64("role_id", role.ID).Msg("role created")
	}

	log.Info().Msg("role catalog initialized")
	return nil
}

// VerifyRoleCatalog reports RoleCatalogUninitialized for every catalog
// kind without a persisted row, combined into one error.
func VerifyRoleCatalog(ctx context.Context, store ports.IdentityStore) error {
	var missing error
	for _, kind := range domain.RoleKinds() {
		if _, err := store.FindRoleByKind(ctx, kind); err != nil {
			if !errors.Is(err, domain.ErrRoleNotFound) {
				return fmt.Errorf("verify role %s: %w", kind, err)
			}
			missing = multierr.Append(missing, domain.RoleCatalogUninitialized(kind))
		}
	}
	return missing
}
