package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/api"
	"github.com/agentmesh/relay/internal/config"
	"github.com/agentmesh/relay/internal/delivery"
	"github.com/agentmesh/relay/internal/relay"
	"github.com/agentmesh/relay/internal/sessionstore"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Delivery store: Redis when configured, in-memory otherwise
	var store delivery.Store
	if cfg.RedisURL != "" {
		redisStore, err := delivery.NewRedisStore(ctx, cfg.RedisURL, cfg.OfflineTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		store = redisStore
		logger.Info().Msg("using Redis delivery store")
	} else {
		store = delivery.NewMemoryStore(cfg.OfflineTTL)
		logger.Info().Msg("using in-memory delivery store")
	}
	defer store.Close()

	// Durable session records: Postgres preferred, SQLite as fallback
	var sessions sessionstore.Store
	if cfg.DatabaseURL != "" {
		pg, err := sessionstore.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		sessions = pg
		logger.Info().Msg("connected to PostgreSQL session store")
	} else if cfg.SQLitePath != "" {
		sq, err := sessionstore.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		sessions = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite session store")
	}
	if sessions != nil {
		defer sessions.Close()
	}

	svc := relay.New(cfg, logger, store, sessions)
	svc.Start(ctx)

	router := api.NewRouter(logger, svc)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting relay server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Dispatcher stops after finishing its in-flight message; queued
	// messages stay queued.
	if err := svc.Stop(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("dispatcher did not stop cleanly")
	}

	logger.Info().Msg("server stopped")
}
