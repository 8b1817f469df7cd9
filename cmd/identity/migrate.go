package main

import (
	"github.com/spf13/cobra"

	"github.com/99minutos/identity-system/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the users, roles and user_roles schema (postgres) or unique indexes (mongo)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Get()

		be, err := openStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer be.close(cmd.Context())

		if err := be.migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.StoreDriver).Msg("migration complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
