/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/brainforce/apiserver/config"
	"github.com/brainforce/apiserver/internal/db"
	"github.com/brainforce/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// migrateCmd groups the schema migration subcommands.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration("up", func(cfg config.DatabaseConfig) error {
			return db.MigrateUp(cfg)
		})
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration("down", func(cfg config.DatabaseConfig) error {
			return db.MigrateDown(cfg, migrateDownSteps)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		version, dirty, err := db.MigrationVersion(cfg.Database)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

func runMigration(direction string, run func(config.DatabaseConfig) error) error {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	if err := run(cfg.Database); err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	version, dirty, err := db.MigrationVersion(cfg.Database)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("migrations applied",
		slog.String("direction", direction),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)

	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back; 0 rolls back all")
}
