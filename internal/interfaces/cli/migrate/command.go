// Package migrate applies the realtime schema to the configured database.
package migrate

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gestionale/internal/infrastructure/config"
	"gestionale/internal/infrastructure/database"
	"gestionale/internal/infrastructure/persistence/models"
	"gestionale/internal/shared/logger"
)

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  `Create or update the buffered notification and presence tables.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger, "release"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.NewLogger()

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if err := database.Get().AutoMigrate(
		&models.BufferedNotificationModel{},
		&models.PresenceRecordModel{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Infow("migration completed", "driver", cfg.Database.Driver)
	return nil
}
