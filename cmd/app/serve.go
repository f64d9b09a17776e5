package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/app"
	"github.com/BuzzLyutic/taskstar/internal/config"
	"github.com/BuzzLyutic/taskstar/internal/handler"
	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/redisstore"
	"github.com/BuzzLyutic/taskstar/internal/repo"
	"github.com/BuzzLyutic/taskstar/internal/session"
	"github.com/BuzzLyutic/taskstar/internal/worker"
)

func serveCmd() *cobra.Command {
	var (
		port    string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			cfg := config.Load()
			if port != "" {
				cfg.Port = port
			}
			if migrate {
				if err := runMigrate(cmd.Context(), cfg, logger); err != nil {
					return err
				}
			}
			return runServe(cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")

	return cmd
}

func runServe(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Successfully connected to the Database!")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Successfully connected to Redis!")

	issuer := identity.NewIssuer([]byte(cfg.JWTSecret), cfg.AccessTokenTTL)
	events := redisstore.NewEvents(rdb)
	authority := identity.NewAuthority(pool, issuer, events, logger, identity.AuthorityConfig{
		RefreshTTL:               cfg.RefreshTokenTTL,
		RequireEmailConfirmation: cfg.RequireEmailConfirmation,
	})

	client := identity.NewClient(authority, redisstore.NewCredentials(rdb, cfg.ClientID, cfg.RefreshTokenTTL), events, logger)
	defer client.Close()

	store := session.NewStore(client, logger)
	defer store.Close()
	go store.Init(ctx)

	workspace := app.NewWorkspace(store, repo.NewTaskRepo(pool, issuer), logger)
	defer workspace.Close()

	router := handler.NewRouter(store,
		handler.NewAuthHandler(store, authority, logger),
		handler.NewTaskHandler(workspace, logger),
	)

	janitor := worker.NewJanitor(pool, events, logger, cfg.WorkerCount, cfg.JanitorInterval)
	janitor.Start(ctx)
	defer janitor.Stop()

	srv := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped successfully!")
	return nil
}
