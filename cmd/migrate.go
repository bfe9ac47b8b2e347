package cmd

import (
	"context"
	"fmt"

	"github.com/frahmantamala/courier-backoffice/db"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "to run the embedded db migrations",
	}
	migrateRollback bool
	migrateStatus   bool
)

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "to rollback the latest version of sql migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print the migration status and exit")
}

func runMigration(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	conn, err := goose.OpenDBWithDriver("pgx", cfg.Database.Source)
	if err != nil {
		return fmt.Errorf("goose: failed to open DB: %w", err)
	}
	defer conn.Close()

	goose.SetBaseFS(db.Migrations)
	goose.SetTableName("schema_migrations")

	command := "up"
	switch {
	case migrateStatus:
		command = "status"
	case migrateRollback:
		command = "down"
	}

	if err := goose.RunContext(ctx, command, conn, db.MigrationsDir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
