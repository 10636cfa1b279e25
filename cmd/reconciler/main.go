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
	"listing-sync-service/internal/kafka"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/marketplace"
	redisCache "listing-sync-service/internal/redis"
	"listing-sync-service/internal/repository"
	syncengine "listing-sync-service/internal/sync"
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

// initializeKafka sets up the result publisher and sale event consumer
func initializeKafka(cfg *config.Config) (*kafka.Publisher, *kafka.Consumer) {
	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaResultsTopic)
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaSalesTopic)
	return publisher, consumer
}

// initializeMarketplace wires the rate-limited HTTP client, token service
// and listing adapter for the configured marketplace
func initializeMarketplace(cfg *config.Config) (*marketplace.Client, *marketplace.TokenService) {
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
	client := marketplace.NewClient(cfg.MarketplaceBaseURL, rlc)

	return client, tokens
}

// startHTTPServer starts the HTTP server for monitoring
func startHTTPServer(cfg *config.Config, circuit *httpclient.CircuitBreaker) *http.Server {
	handler := api.NewReconcilerHandler(circuit)
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: handler.SetupReconcilerRoutes(),
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reconciler HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return srv
}

// runLockSweeper periodically deletes expired inventory locks
func runLockSweeper(ctx context.Context, lockMgr *locks.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Starting expired lock sweeper")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping expired lock sweeper")
			return
		case <-ticker.C:
			removed, err := lockMgr.CleanupExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to sweep expired locks")
				continue
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("Swept expired inventory locks")
			}
		}
	}
}

// startBackgroundServices starts the drain loop, lock sweeper and sale
// event consumer
func startBackgroundServices(ctx context.Context, cfg *config.Config, processor *syncengine.Processor, lockMgr *locks.Manager, consumer interfaces.SaleConsumer, saleHandler *syncengine.SaleHandler) {
	go processor.Run(ctx)
	go runLockSweeper(ctx, lockMgr, cfg.LockSweepInterval)

	go func() {
		if err := consumer.ConsumeSales(ctx, saleHandler); err != nil {
			log.Error().Err(err).Msg("Sale event consumption stopped")
		}
	}()
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Reconciler...")

	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced shutdown")
	}

	// Let in-flight jobs settle before the process exits
	time.Sleep(5 * time.Second)

	log.Info().Msg("Reconciler stopped")
}

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg)
	log.Info().Msg("Starting Reconciler...")

	db := initializeDatabase(cfg)
	defer db.Close()

	publisher, consumer := initializeKafka(cfg)
	defer publisher.Close()
	defer consumer.Close()

	cache := initializeCache(cfg)
	defer cache.Close()

	jobRepo := repository.NewJobRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	lockRepo := repository.NewLockRepository(db)
	lockMgr := locks.NewManager(lockRepo)

	adapter, tokens := initializeMarketplace(cfg)
	circuit := httpclient.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown)

	contentBuilder := marketplace.NewListingContentBuilder()
	processor := syncengine.NewProcessor(jobRepo, unitRepo, lockMgr, cache, adapter, tokens, circuit, publisher, contentBuilder, syncengine.Options{
		BatchSize:         cfg.BatchSize,
		JobDelay:          cfg.JobDelay,
		PollInterval:      cfg.PollInterval,
		LockTimeout:       cfg.LockTimeout,
		RetryBackoffCap:   cfg.RetryBackoffCap,
		ProcessingTimeout: cfg.ProcessingTimeout,
		MarketplaceEnv:    cfg.MarketplaceEnv,
		InstanceID:        cfg.InstanceID,
	})

	saleHandler := syncengine.NewSaleHandler(jobRepo, unitRepo, cache, cfg.DefaultMaxRetries)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startHTTPServer(cfg, circuit)
	startBackgroundServices(ctx, cfg, processor, lockMgr, consumer, saleHandler)

	log.Info().Msg("Reconciler started, draining queue...")

	gracefulShutdown(cancel, srv)
}
