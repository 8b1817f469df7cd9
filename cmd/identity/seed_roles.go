package main

import (
	"github.com/spf13/cobra"

	"github.com/99minutos/identity-system/internal/core/service"
	"github.com/99minutos/identity-system/pkg/logger"
)

var seedRolesCmd = &cobra.Command{
	Use:   "seed-roles",
	Short: "Insert any missing role catalog rows (ADMIN, HR, MANAGER, USER)",
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openStore(cmd.Context(), cfg, logger.Get())
		if err != nil {
			return err
		}
		defer be.close(cmd.Context())

		if err := service.SeedRoleCatalog(cmd.Context(), be.store, logger.With("role_catalog")); err != nil {
			return err
		}
		return service.VerifyRoleCatalog(cmd.Context(), be.store)
	},
}

func init() {
	rootCmd.AddCommand(seedRolesCmd)
}
