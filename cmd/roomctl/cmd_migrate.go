package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/roombot/config"
	"github.com/onnwee/roombot/db"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	migrateCmd.PersistentFlags().String("dsn", "", "Postgres DSN (default: DB_DSN)")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, db.RunMigrations)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, db.MigrateDown)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(dbx *sql.DB) error {
			v, dirty, err := db.GetMigrationVersion(dbx)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", v, state)
			return nil
		})
	},
}

func withDB(cmd *cobra.Command, fn func(*sql.DB) error) error {
	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dsn = cfg.DBDsn
	}
	dbx, err := db.Connect(cmd.Context(), db.Postgres, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = dbx.Close() }()
	return fn(dbx)
}
