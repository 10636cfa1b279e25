package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/api"
	"listing-sync-service/internal/config"
	"listing-sync-service/internal/httpclient"
	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/marketplace"
	redisCache "listing-sync-service/internal/redis"
	"listing-sync-service/internal/repository"
	"listing-sync-service/internal/service"
)

// setupLogging configures structured logging. Production emits plain JSON;
// everywhere else gets the console writer.
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.Logger.With().Str("service", cfg.ServiceName).Logger()
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeCache sets up Redis cache with cluster support
func initializeCache(cfg *config.Config) *redisCache.CacheClient {
	return redisCache.NewCacheClient(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisTTL,
		cfg.RedisKeyPrefix,
	)
}

// initializeStockService wires the rate-limited marketplace client behind
// the manual stock correction surface
func initializeStockService(cfg *config.Config, lockMgr *locks.Manager) *service.StockService {
	rlc := httpclient.NewRateLimitedClient(&http.Client{Timeout: cfg.RequestTimeout}, httpclient.Options{
		MaxRetries:         cfg.HTTPMaxRetries,
		BackoffBase:        cfg.BackoffBase,
		BackoffCeiling:     cfg.BackoffCeiling,
		ServerErrorCeiling: cfg.ServerErrorCeiling,
		RatePerSecond:      cfg.RateLimitPerSecond,
		Burst:              cfg.RateLimitBurst,
	})

	credentials := make(map[string]marketplace.Credentials, len(cfg.MarketplaceCredentials))
	for ref, c := range cfg.MarketplaceCredentials {
		credentials[ref] = marketplace.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
	}
	tokens := marketplace.NewTokenService(cfg.MarketplaceAuthURL, rlc, credentials)

	factory := func(token string) interfaces.StockLevelAPI {
		return marketplace.NewInventoryClient(cfg.MarketplaceBaseURL, token, rlc)
	}

	return service.NewStockService(lockMgr, tokens, factory, cfg.MarketplaceEnv, 5*time.Minute)
}

// startHTTPServer starts the sync API server
func startHTTPServer(cfg *config.Config, syncService *service.SyncService, stockService *service.StockService) *http.Server {
	handler := api.NewSyncHandler(syncService, stockService)
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: handler.SetupRoutes(),
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Sync API server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return srv
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Sync API...")

	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced shutdown")
	}

	log.Info().Msg("Sync API stopped")
}

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg)
	log.Info().Msg("Starting Sync API...")

	db := initializeDatabase(cfg)
	defer db.Close()

	cache := initializeCache(cfg)
	defer cache.Close()

	jobRepo := repository.NewJobRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	lockRepo := repository.NewLockRepository(db)
	lockMgr := locks.NewManager(lockRepo)

	syncService, err := service.NewSyncService(jobRepo, unitRepo, cache, lockMgr, service.ServiceConfig{
		DefaultMaxRetries: cfg.DefaultMaxRetries,
		LockTimeout:       cfg.LockTimeout,
		CacheTimeout:      2 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sync service")
	}

	stockService := initializeStockService(cfg, lockMgr)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startHTTPServer(cfg, syncService, stockService)

	log.Info().Msg("Sync API started")

	gracefulShutdown(cancel, srv)
}
