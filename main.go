package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/api"
	"github.com/zlnvch/layerlink/cache"
	"github.com/zlnvch/layerlink/cache/redis"
	"github.com/zlnvch/layerlink/config"
	"github.com/zlnvch/layerlink/logging"
	"github.com/zlnvch/layerlink/metrics"
	"github.com/zlnvch/layerlink/store"
	"github.com/zlnvch/layerlink/store/dynamo"
	"github.com/zlnvch/layerlink/store/memory"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	ctx := context.Background()

	var layerlinkStore store.LayerlinkStore
	switch cfg.CommentStore {
	case config.CommentStoreDynamo:
		layerlinkStore, err = dynamo.NewDynamoLayerlinkStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
	default:
		layerlinkStore, err = memory.NewMemoryLayerlinkStore()
	}
	if err != nil {
		log.Fatal().Err(err).Str("commentStore", cfg.CommentStore).Msg("Failed to create comment store")
	}

	var layerlinkCache cache.LayerlinkCache
	if cfg.RedisEndpoint != "" {
		redisCache, err := redis.NewRedisLayerlinkCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create redis cache")
		}
		layerlinkCache = redisCache
	}

	m, err := metrics.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	layerlinkAPI := api.NewLayerlinkAPI(layerlinkStore, api.Options{
		Cache:                 layerlinkCache,
		Metrics:               m,
		IdentitySecret:        cfg.IdentitySecret,
		CommentFlushInterval:  cfg.CommentFlushInterval,
		MaxMembersPerDocument: cfg.MaxMembersPerDocument,
	}, shutdownCtx)

	mux := http.NewServeMux()
	layerlinkAPI.RegisterRoutes(mux, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              ":" + cfg.HostPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("hostPort", cfg.HostPort).Bool("identityRequired", len(cfg.IdentitySecret) > 0).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-shutdownCtx.Done()
	log.Info().Msg("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	select {
	case <-layerlinkAPI.Done():
	case <-ctx.Done():
		log.Warn().Msg("Comment flush did not finish before shutdown timeout")
	}
}
