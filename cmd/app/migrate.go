package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/config"
	"github.com/BuzzLyutic/taskstar/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			return runMigrate(cmd.Context(), config.Load(), logger)
		},
	}
}

func runMigrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	stmts, err := migrations.Up()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for i, sql := range stmts {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	logger.Info("Schema is up to date", zap.Int("migrations", len(stmts)))
	return nil
}
