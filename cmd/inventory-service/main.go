package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/cache"
	"github.com/branchpos/branchpos-backend/internal/inventory/consumers"
	"github.com/branchpos/branchpos-backend/internal/inventory/events"
	"github.com/branchpos/branchpos-backend/internal/inventory/handler"
	"github.com/branchpos/branchpos-backend/internal/inventory/jobs"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/internal/inventory/scan"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/auth"
	"github.com/branchpos/branchpos-backend/pkg/config"
	"github.com/branchpos/branchpos-backend/pkg/database"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/messaging"
	"github.com/branchpos/branchpos-backend/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

const serviceName = "inventory-service"

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().
		Str("store", cfg.Inventory.Store).
		Str("underflow_policy", cfg.Inventory.UnderflowPolicy).
		Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := map[string]func(context.Context) map[string]string{}

	// System of record
	var catalog repository.Catalog
	switch cfg.Inventory.Store {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory catalog, stock is lost on restart")
		catalog = repository.NewMemoryCatalog(log)
	default:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		catalog = repository.NewProductRepository(db, log)
		health["database"] = db.Health
	}

	// Messaging is optional; without it events are dropped and sales are not consumed
	var rmq *messaging.RabbitMQ
	var publisher *events.InventoryEventPublisher
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}
		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		go rmq.WatchConnection(ctx)
		health["rabbitmq"] = func(context.Context) map[string]string { return rmq.Health() }
	}

	// Expiry report cache
	var reports cache.ReportCache = cache.NewMemoryReportCache()
	if cfg.Redis.Enabled {
		redisCache := cache.NewRedisReportCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to Redis")
		}
		defer redisCache.Close()
		reports = redisCache
		health["redis"] = redisCache.Health
	}

	m := metrics.New()

	inventoryService := service.NewInventoryService(catalog, publisher, reports, m, service.ConfigFrom(&cfg.Inventory), log)
	registry := scan.NewRegistry(inventoryService, publisher, m, cfg.Inventory.ScanFeedbackDelay, log)

	if rmq != nil {
		salesConsumer, err := consumers.NewSalesEventConsumer(rmq, inventoryService, m, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sales event consumer")
		}
		if err := salesConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start sales event consumer")
		}
	}

	scheduler, err := jobs.NewScheduler(inventoryService, registry, jobs.Config{
		SweepInterval: cfg.Inventory.ExpirySweepInterval,
		SessionTTL:    cfg.Inventory.ScanSessionTTL,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create job scheduler")
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start job scheduler")
	}

	verifier := auth.NewVerifier(&cfg.JWT)
	handlers := handler.NewHandlers(inventoryService, registry, log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", httputil.BranchHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":        "healthy",
			"service":       serviceName,
			"scan_sessions": registry.Len(),
		}
		for name, check := range health {
			body[name] = check(r.Context())
		}
		httputil.JSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(verifier.Middleware(log))
		r.Use(httputil.BranchMiddleware)
		r.Mount("/", handlers.Routes())
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers and jobs before draining HTTP
	cancel()
	if err := scheduler.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop job scheduler")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
