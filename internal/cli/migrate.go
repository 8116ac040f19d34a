package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"interactive-report-service/internal/config"
	"interactive-report-service/internal/infra/postgres"
	pgmigrations "interactive-report-service/internal/infra/postgres/migrations"
	"interactive-report-service/internal/logger"
)

// NewMigrateCmd applies database migrations and optionally seeds report content.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New("report-service", cfg.Log.Level)
			if err := runMigrationsWithConfig(cmd.Context(), cfg, log); err != nil {
				return err
			}
			if !seed {
				return nil
			}
			return seedContent(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "load the configured content into postgres after migrating")
	return cmd
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, log logrus.FieldLogger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info("database up to date")
		return nil
	}
	log.WithField("group", group.String()).Info("migrations applied")
	return nil
}

func seedContent(ctx context.Context, cfg config.Config, log logrus.FieldLogger) error {
	bundle, err := loadBundle(cfg)
	if err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.NewContentLoader(pool).Seed(ctx, bundle); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"questions": len(bundle.Questions), "pages": len(bundle.Pages)}).Info("content seeded")
	return nil
}
