package main

import (
	"fmt"

	"go-flowdesk/internal/core/postgres/repository"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != "postgres" {
			return fmt.Errorf("migrate needs storage.driver postgres, got %q", cfg.Storage.Driver)
		}

		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		if err := repository.Migrate(cmd.Context(), db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("schema migrated", "database", cfg.DB.Name)
		return nil
	},
}
