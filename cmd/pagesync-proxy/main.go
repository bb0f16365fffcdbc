// Command pagesync-proxy serves synchronized paginated collections of an
// upstream list API over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/pagesync/pkg/cache"
	"github.com/Sternrassler/pagesync/pkg/logging"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		logger := logging.NewLogger("pagesync-proxy")
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("pagesync-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store       cache.Store
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			opts = &redis.Options{Addr: cfg.RedisURL}
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
		store = cache.NewRedisStore(redisClient)
	} else {
		memory := cache.NewMemoryStore(10_000)
		defer memory.Close()
		store = memory
	}

	srv, err := newServer(cfg, store, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create collections")
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("upstream", cfg.UpstreamURL+cfg.UpstreamPath).
		Int("collections", len(cfg.Collections)).
		Msg("Starting pagesync proxy")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}
