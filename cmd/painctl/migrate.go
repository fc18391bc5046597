package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/painmgmt-api/internal/config"
	pgstore "github.com/jwalitptl/painmgmt-api/internal/repository/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	var steps int
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				var err error
				if steps > 0 {
					err = m.Steps(steps)
				} else {
					err = m.Up()
				}
				return report(cmd, err, "Migrations applied", "No migrations to apply")
			})
		},
	}
	upCmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 applies all)")

	var downSteps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				return report(cmd, m.Steps(-downSteps), "Migrations rolled back", "No migrations to roll back")
			})
		},
	}
	downCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied")
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read version: %w", err)
				}
				cmd.Printf("Current version: %d (dirty: %t)\n", v, dirty)
				return nil
			})
		},
	}

	var forceVersion int
	forceCmd := &cobra.Command{
		Use:   "force",
		Short: "Force the schema version after a failed migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceVersion <= 0 {
				return errors.New("--version is required")
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(forceVersion); err != nil {
					return fmt.Errorf("force failed: %w", err)
				}
				cmd.Printf("Migration version forced to %d\n", forceVersion)
				return nil
			})
		},
	}
	forceCmd.Flags().IntVar(&forceVersion, "version", 0, "version to force")

	cmd.AddCommand(upCmd, downCmd, versionCmd, forceCmd)
	return cmd
}

func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations need the postgres driver, configured %q", cfg.Database.Driver)
	}

	db, err := pgstore.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath(cfg.Database), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn("failed to close migration instance", "source_error", fmt.Sprint(srcErr), "db_error", fmt.Sprint(dbErr))
		}
	}()
	return fn(m)
}

func migrationsPath(c config.DatabaseConfig) string {
	if c.MigrationsPath == "" {
		return "file://migrations"
	}
	return c.MigrationsPath
}

func report(cmd *cobra.Command, err error, done, none string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		cmd.Println(none)
		return nil
	case err != nil:
		return fmt.Errorf("migration failed: %w", err)
	}
	cmd.Println(done)
	return nil
}
