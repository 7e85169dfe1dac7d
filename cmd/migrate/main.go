// Command migration discovers, creates, and applies the analytics
// store's numbered up/down SQL migration files.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stash-indexer/internal/config"
	"github.com/sawpanic/stash-indexer/internal/logging"
	"github.com/sawpanic/stash-indexer/internal/migrate"
	"github.com/sawpanic/stash-indexer/internal/store"
)

func init() {
	migrate.MigrationsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stash_indexer_migrations_applied_total",
		Help: "Number of migration files applied by the migration tool.",
	})
}

var (
	migrationsDir string
	logLevel      string
	resetForce    bool
)

var rootCmd = &cobra.Command{
	Use:   "migration",
	Short: "Manage the analytics store's schema migrations",
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new pair of up/down migration files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := migrate.Create(migrationsDir, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created migration %06d_%s\n", version, args[0])
		return nil
	},
}

var toCmd = &cobra.Command{
	Use:   "to <version|latest>",
	Short: "Migrate the schema to the given version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		target, err := resolveTarget(args[0])
		if err != nil {
			return err
		}

		if err := migrate.To(cmd.Context(), db, migrationsDir, target); err != nil {
			return fmt.Errorf("migration: apply: %w", err)
		}
		fmt.Printf("now at version %d\n", target)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Migrate the schema all the way down to version 0 and clear the version record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			return fmt.Errorf("migration: reset requires --force")
		}
		db, closeDB, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		if err := migrate.To(cmd.Context(), db, migrationsDir, 0); err != nil {
			return fmt.Errorf("migration: reset: %w", err)
		}
		if err := db.Exec(cmd.Context(), "ALTER TABLE schema_migrations DELETE WHERE 1=1"); err != nil {
			return fmt.Errorf("migration: reset: clear schema_migrations: %w", err)
		}
		fmt.Println("reset to version 0")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the schema's current version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		v, err := migrate.Version(cmd.Context(), db)
		if err != nil {
			fmt.Println("unknown")
			return nil
		}
		fmt.Println(v)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "directory holding NNNNNN_name.{up,down}.sql files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "zerolog level (debug, info, warn, error)")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "confirm the destructive reset-to-zero migration")

	rootCmd.AddCommand(createCmd, toCmd, resetCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore resolves config and opens the analytics store, initializing
// logging first since any cobra command may be the process entry point.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	logging.Init(logLevel, false)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("migration: load config: %w", err)
	}

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("migration: open clickhouse: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("migration: close store")
		}
	}, nil
}

// resolveTarget parses "latest" or a decimal version out of a to/target
// argument.
func resolveTarget(arg string) (uint32, error) {
	if arg == "latest" {
		return migrate.LatestVersion(migrationsDir)
	}
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("migration: invalid target version %q: %w", arg, err)
	}
	return uint32(v), nil
}
