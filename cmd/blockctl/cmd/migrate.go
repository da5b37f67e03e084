package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/database"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var dbPath string

	open := func() (*database.DB, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, err
		}
		path := dbPath
		if path == "" {
			path = cfg.Database.Path
		}
		db, err := database.Open(database.Config{
			Path:        path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // closing on exit

			n, err := db.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			printf(cmd.OutOrStdout(), "applied %d migrations to %s\n", n, db.Path())
			return nil
		},
	}
	c.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: database.path from config)")

	c.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // closing on exit

			applied, pending, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, m := range applied {
				printf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			for _, m := range pending {
				printf(out, "pending  %s  %s\n", m.Version, m.Name)
			}
			if len(applied)+len(pending) == 0 {
				printf(out, "no migrations\n")
			}

			st, err := db.StoreStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading store stats: %w", err)
			}
			printf(out, "store: %d tabs, %d variables, %d bytes\n", st.Tabs, st.Variables, st.SizeBytes)
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // closing on exit

			m, err := db.Rollback(cmd.Context())
			if err != nil {
				return fmt.Errorf("rolling back: %w", err)
			}
			if m.Version == "" {
				printf(cmd.OutOrStdout(), "nothing to roll back on %s\n", db.Path())
				return nil
			}
			printf(cmd.OutOrStdout(), "rolled back %s (%s) on %s\n", m.Version, m.Name, db.Path())
			return nil
		},
	})

	return c
}
