package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalog-api/internal/auth"
	"catalog-api/internal/config"
	"catalog-api/internal/metrics"
	custommiddleware "catalog-api/internal/middleware"
	"catalog-api/internal/service"
	"catalog-api/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Dependencies are the components the server routes to
type Dependencies struct {
	Catalog service.CatalogService
	// Policy validates bearer tokens; required when FEATURE_REQUIRE_AUTH is on
	Policy *auth.Policy
	// Redis enables rate limiting of write routes when non-nil
	Redis    *redis.Client
	Metrics  *metrics.CatalogMetrics
	Gatherer prometheus.Gatherer
	// Cleanup runs in order when the server is closed
	Cleanup []func(context.Context) error
}

type Server struct {
	*http.Server
	config  *config.Config
	logger  *zap.Logger
	cleanup []func(context.Context) error
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*Server, error) {
	if cfg.Features.RequireAuth && deps.Policy == nil {
		return nil, errors.New("authentication is required but no token policy was provided")
	}

	router := chi.NewRouter()

	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.Server.IsDevelopment()))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.MetricsMiddleware(deps.Metrics))
	if cfg.Features.RequestLogging {
		router.Use(custommiddleware.LoggingMiddleware(logger))
	}

	router.Get("/health", healthHandler(deps.Catalog, logger))
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := transport.NewCatalogHandler(deps.Catalog, logger, transport.HandlerOptions{
		StrictValidation: cfg.Features.StrictValidation,
		MaxUploadBytes:   cfg.Images.MaxUploadMB << 20,
	})
	handler.RegisterRoutes(router, routeGuards(cfg, logger, deps))

	logger.Info("Catalog routes registered",
		zap.Bool("strict_validation", cfg.Features.StrictValidation),
		zap.Bool("request_logging", cfg.Features.RequestLogging),
		zap.Bool("require_auth", cfg.Features.RequireAuth),
		zap.Bool("rate_limit", deps.Redis != nil),
	)

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		config:  cfg,
		logger:  logger,
		cleanup: deps.Cleanup,
	}

	return server, nil
}

// routeGuards builds the middleware for read and write routes from the
// configured feature set.
func routeGuards(cfg *config.Config, logger *zap.Logger, deps Dependencies) transport.RouteGuards {
	var guards transport.RouteGuards

	if cfg.Features.RequireAuth {
		authMiddleware := custommiddleware.AuthMiddleware(deps.Policy, logger)
		guards.Write = append(guards.Write, authMiddleware)
		if len(cfg.Auth.WriteRoles) > 0 {
			guards.Write = append(guards.Write, custommiddleware.RequireRole(cfg.Auth.WriteRoles, logger))
		}
		if cfg.Auth.ProtectReads {
			guards.Read = append(guards.Read, authMiddleware)
		}
	}

	if deps.Redis != nil {
		guards.Write = append(guards.Write, custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "catalog_write",
		}, logger))
	}

	return guards
}

func healthHandler(catalog service.CatalogService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := catalog.Ping(ctx); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			custommiddleware.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		custommiddleware.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Close releases store and cache connections
func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for _, fn := range s.cleanup {
		if err := fn(ctx); err != nil {
			s.logger.Error("Failed to release resource", zap.Error(err))
			errs = append(errs, err)
		}
	}

	s.logger.Sync()
	return errors.Join(errs...)
}
