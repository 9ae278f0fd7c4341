package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/pagesync/backend/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigration(cmd, func(m *db.Migration) error {
					if err := m.Up(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigration(cmd, func(m *db.Migration) error {
					if err := m.Down(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigration(cmd, func(m *db.Migration) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if dirty {
						warnColor.Fprintf(out, "Schema version %d (dirty)\n", version)
						return nil
					}
					fmt.Fprintf(out, "Schema version %d\n", version)
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigration(cmd *cobra.Command, fn func(m *db.Migration) error) error {
	database, err := db.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(db.NewMigration(database, nil))
}
