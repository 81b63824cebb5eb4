package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"concord/internal/broker"
	"concord/internal/config"
	"concord/internal/constants"
	"concord/internal/deliberation"
	"concord/internal/logger"
	"concord/internal/registry"
	"concord/pkg/bootstrap"
	"concord/pkg/health"
	"concord/pkg/logging"
	"concord/pkg/metrics"
	"concord/pkg/middleware"
	"concord/pkg/migrations"
	"concord/pkg/ratelimit"
	"concord/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	mongoClient *mongo.Client
	checkers    *health.CheckerRegistry

	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("registry-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// The deliberation archive browse API needs the same MongoDB the bus
	// archives into; without it the registry still serves everything else.
	if a.Config.Database.MongoDB.URI != "" {
		mongoClient, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "MongoDB connection failed, deliberation browse API disabled", "error", err)
		} else {
			a.mongoClient = mongoClient
		}
	}

	tp, err := tracing.Init(a.Config.Tracing, "registry-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterRegistryMetrics()

	a.checkers = health.NewCheckerRegistry()
	a.checkers.Register(health.NewPostgreSQLChecker(a.db))
	if a.mongoClient != nil {
		a.checkers.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	service, err := a.initService(ctx)
	if err != nil {
		return err
	}

	a.initHTTPServer(service)
	return nil
}

// initService wires the repository, changelog, and optional config event
// producer into the registry service. The producer is best-effort: a broker
// outage degrades bus reload latency to the polling interval, it does not
// block registry writes.
func (a *App) initService(ctx context.Context) (registry.Service, error) {
	repo := registry.NewRepository(a.db)
	opts := []registry.ServiceOption{
		registry.WithChangeLog(registry.NewChangeLogRepository(a.db)),
	}

	if a.Config.Broker.Type == "kafka" && a.Config.Broker.Kafka.ConfigUpdateTopic != "" {
		producer, err := broker.NewProducer(a.Config.Broker, a.Logger)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event producer, bus reload falls back to polling", "error", err)
		} else {
			a.Producer = producer
			opts = append(opts, registry.WithConfigEvents(
				registry.NewConfigEventProducer(producer, a.Config.Broker.Kafka.ConfigUpdateTopic),
			))
		}
	}

	return registry.NewService(repo, a.Config.Identity.BindingTTL, opts...), nil
}

func (a *App) initHTTPServer(service registry.Service) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("registry-service"))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Registry.RateLimit.Enabled {
		rlCfg := ratelimit.DefaultConfig()
		if a.Config.Registry.RateLimit.RPS > 0 {
			rlCfg.RPS = a.Config.Registry.RateLimit.RPS
		}
		if a.Config.Registry.RateLimit.Burst > 0 {
			rlCfg.Burst = a.Config.Registry.RateLimit.Burst
		}
		if a.Config.Registry.RateLimit.CleanupInterval > 0 {
			rlCfg.CleanupInterval = time.Duration(a.Config.Registry.RateLimit.CleanupInterval) * time.Second
		}
		if a.Config.Registry.RateLimit.MaxAge > 0 {
			rlCfg.MaxAge = time.Duration(a.Config.Registry.RateLimit.MaxAge) * time.Second
		}
		router.Use(ratelimit.RateLimitMiddleware(rlCfg))
	}

	handler := registry.NewHandler(service, a.Logger)
	handler.RegisterRoutes(router)

	if a.mongoClient != nil {
		archive := deliberation.NewMongoArchive(a.mongoClient.Database(a.Config.Database.MongoDB.Database))
		registry.NewDeliberationHandler(archive, a.Logger).RegisterRoutes(router)
	}

	router.GET("/health", func(c *gin.Context) {
		result := a.checkers.Check(c.Request.Context())
		statusCode := http.StatusOK
		if result.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, result)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gCtx.Err()
	})

	err := g.Wait()
	if err == context.Canceled {
		return a.Shutdown(ctx)
	}
	if err != nil {
		_ = a.Shutdown(ctx)
		return err
	}
	return a.Shutdown(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "registry-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down registry service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
