// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jkidune/go-petsync/internal/config"
	"github.com/jkidune/go-petsync/petsync"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "petsyncd",
	Short: "petsyncd - clinic synchronization server",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "version", Version)

	store, pool, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	service, err := petsync.NewSyncService(store, &petsync.ServiceConfig{
		AppName:               "petsyncd",
		SchemaVersion:         1,
		RegisteredEntityTypes: cfg.Sync.EntityTypes,
		MaxBatchSize:          cfg.Sync.MaxBatchSize,
		MaxPayloadBytes:       cfg.Sync.MaxPayloadBytes,
	}, logger)
	if err != nil {
		return err
	}

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret"
		logger.Warn("PETSYNC_JWT_SECRET not set, using development secret")
	}
	jwtAuth := petsync.NewJWTAuth(jwtSecret)

	router := newRouter(service, jwtAuth, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		logger.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newStore selects the system-of-record backend. Postgres when a DSN is
// configured; otherwise the in-memory demo store. The demo store is an
// explicit mode for local development, never a fallback after a failed
// Postgres connection.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (petsync.Store, *pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database URL configured, running with in-memory demo store")
		return petsync.NewMemStore(), nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database URL: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store, err := petsync.NewPGStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("system-of-record store initialized")
	return store, pool, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
