package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/cache"
	"github.com/homeyield/selection-server-go/internal/config"
	"github.com/homeyield/selection-server-go/internal/database"
	"github.com/homeyield/selection-server-go/internal/handler"
	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/jobs"
	"github.com/homeyield/selection-server-go/internal/middleware"
	"github.com/homeyield/selection-server-go/internal/redis"
	"github.com/homeyield/selection-server-go/internal/repository"
	"github.com/homeyield/selection-server-go/internal/service"
	"github.com/homeyield/selection-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	// Contexts without a request logger, such as background runs, log globally.
	zerolog.DefaultContextLogger = &log.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	selectionRepo := repository.NewSelectionRepository(db.DB)
	analysisRepo := repository.NewAnalysisRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	viewCache := cache.NewRedisViewCache(redisClient.Client, cfg.ViewCacheTTL())

	selectionService := service.NewSelectionService(selectionRepo, viewCache, broker)
	analysisService := service.NewAnalysisService(analysisRepo)
	reconcileService := service.NewReconcileService(db, selectionRepo, analysisRepo, viewCache, broker)

	runner := service.NewReconcileRunner(
		reconcileService,
		service.NewRedisRunTracker(redisClient.Client, cfg.ReconcileMarkerTTL()),
		cfg.ReconcileTimeout(),
	)

	identityMiddleware := middleware.NewIdentityMiddleware(func(clientID string) identity.Storage {
		return identity.NewRedisStorage(redisClient.Client, clientID, config.ClientCookieMaxAge)
	}, cfg.CookieSecure)
	authMiddleware := middleware.NewAuthMiddleware(userRepo)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		middleware.NewRedisRateLimiter(redisClient.Client), cfg.RateLimitPerMin,
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler()
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	selectionHandler := handler.NewSelectionHandler(selectionService, runner)
	authHandler := handler.NewAuthHandler(runner, reconcileService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(identityMiddleware.Handler)
		r.Use(authMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(rateLimitMiddleware.Handler)

			r.Mount("/session", sessionHandler.Routes())
			r.Mount("/analyses", analysisHandler.Routes())
			r.Mount("/selections", selectionHandler.Routes())

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Post("/auth/signed-in", authHandler.SignedIn)
				r.Post("/reconcile", authHandler.Reconcile)
			})
		})
	})

	repairJob := jobs.NewRepairJob(selectionRepo, reconcileService, cfg.RepairInterval(), cfg.RepairBatchSize)
	repairJob.Start()
	defer repairJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Background reconciles outlive their requests; let them finish before
	// the database and redis connections close.
	runner.Stop()

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
