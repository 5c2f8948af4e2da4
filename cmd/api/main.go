package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"catalog-api/internal/auth"
	"catalog-api/internal/config"
	"catalog-api/internal/database"
	"catalog-api/internal/images"
	"catalog-api/internal/logger"
	"catalog-api/internal/metrics"
	"catalog-api/internal/repository"
	"catalog-api/internal/server"
	"catalog-api/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *server.Server, logger *zap.Logger, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	logger.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// The server has 30 seconds to finish the requests it is handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Close store and cache connections
	if err := apiServer.Close(); err != nil {
		logger.Error("Error closing server resources", zap.Error(err))
	}

	logger.Info("Server exiting")
	done <- true
}

// openStore connects the configured document store and returns the product
// repository together with the function releasing its connections.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.ProductRepository, func(context.Context) error, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		log.Warn("Using the in-memory product store, products are lost on restart")
		return repository.NewMemoryProductRepository(), func(context.Context) error { return nil }, nil

	case config.StoreDriverPostgres:
		db, err := database.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(db, log); err != nil {
			db.Close()
			return nil, nil, err
		}
		version, err := database.GetMigrationStatus(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("Database migrations completed successfully", zap.Int64("schema_version", version))
		return repository.NewPostgresProductRepository(db, log), func(context.Context) error { return db.Close() }, nil

	default:
		client, err := database.ConnectMongo(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, nil, err
		}
		collection := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		if err := database.EnsureIndexes(ctx, collection); err != nil {
			log.Warn("Could not ensure product indexes", zap.Error(err))
		}
		return repository.NewMongoProductRepository(collection, log), client.Disconnect, nil
	}
}

// bootstrapAuth fetches the token trust material once. Any failure is fatal
// to startup.
func bootstrapAuth(ctx context.Context, cfg *config.Config, log *zap.Logger) (*auth.Policy, error) {
	bootstrap := auth.NewBootstrap(nil, auth.Options{
		KeysURL:          cfg.Auth.KeysURL,
		Timeout:          cfg.Auth.FetchTimeout,
		ValidateAudience: cfg.Auth.ValidateAudience,
		Audience:         cfg.Auth.Audience,
	}, log)
	return bootstrap.Run(ctx)
}

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Server.Env, logger.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting catalog API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
	)

	ctx := context.Background()

	// Fetch token trust material before serving anything
	var policy *auth.Policy
	if cfg.Features.RequireAuth {
		policy, err = bootstrapAuth(ctx, cfg, log)
		if err != nil {
			log.Fatal("Authentication bootstrap failed", zap.Error(err))
		}
		log.Info("Token policy ready", zap.String("issuer", policy.Issuer()))
	}

	// Open the product store
	products, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open product store", zap.Error(err))
	}
	cleanup := []func(context.Context) error{closeStore}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	catalogMetrics := metrics.New(registry)

	// Image storage
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Images.ContentRoot, 0o755); err != nil {
		log.Fatal("Failed to prepare image content root", zap.String("root", cfg.Images.ContentRoot), zap.Error(err))
	}
	imageManager := images.NewManager(fs, images.Config{
		ContentRoot:   cfg.Images.ContentRoot,
		PublicBaseURL: cfg.Images.PublicBaseURL,
		AllowedTypes:  cfg.Images.AllowedTypes,
	}, products, log, catalogMetrics)

	// Rate limiting is enabled only when Redis is configured
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, rate limiting will fail open", zap.Error(err))
		}
		cleanup = append(cleanup, func(context.Context) error { return redisClient.Close() })
	}

	// Create server
	srv, err := server.NewServer(cfg, log, server.Dependencies{
		Catalog:  service.NewCatalogService(products, imageManager),
		Policy:   policy,
		Redis:    redisClient,
		Metrics:  catalogMetrics,
		Gatherer: registry,
		Cleanup:  cleanup,
	})
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(srv, log, done)

	log.Info("Server listening", zap.String("addr", srv.Addr))

	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal("HTTP server error", zap.Error(err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Info("Graceful shutdown complete")
}
