package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/postgres"
	"github.com/wiye1050/gestionclinica-sub004/internal/app/bootstrap"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withDB(cmd, func(db *gorm.DB) error {
				if err := postgres.Migrate(db, -steps); err != nil {
					return err
				}
				return printVersion(cmd, db)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd, func(db *gorm.DB) error {
					if err := postgres.Migrate(db, 0); err != nil {
						return err
					}
					return printVersion(cmd, db)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd, func(db *gorm.DB) error {
					return printVersion(cmd, db)
				})
			},
		},
	)
	return cmd
}

func withDB(cmd *cobra.Command, fn func(db *gorm.DB) error) error {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.StoreDriver != bootstrap.StoreDriverPostgres {
		return fmt.Errorf("migrations need STORE_DRIVER=postgres, got %s", cfg.StoreDriver)
	}
	db, err := postgres.Connect(commandContext(cmd), cfg.DatabaseURL, 2)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *gorm.DB) error {
	version, dirty, err := postgres.MigrationVersion(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%v)\n", version, dirty)
	return nil
}
