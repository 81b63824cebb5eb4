package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"

	"concord/internal/audit"
	"concord/internal/broker"
	"concord/internal/config"
	"concord/internal/config_handler"
	"concord/internal/constants"
	"concord/internal/deliberation"
	"concord/internal/healthmon"
	"concord/internal/identity"
	"concord/internal/logger"
	"concord/internal/maci"
	"concord/internal/pipeline"
	"concord/internal/policy"
	"concord/internal/publisher"
	"concord/internal/recovery"
	"concord/internal/registry"
	"concord/internal/routing"
	"concord/internal/scoring"
	"concord/internal/semantic"
	"concord/internal/validator"
	"concord/pkg/bootstrap"
	"concord/pkg/cel"
	"concord/pkg/circuitbreaker"
	"concord/pkg/errors"
	"concord/pkg/health"
	"concord/pkg/logging"
	"concord/pkg/metrics"
	"concord/pkg/middleware"
	"concord/pkg/migrations"
	"concord/pkg/retry"
	"concord/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	resolver     *identity.Resolver
	escalator    *deliberation.Escalator
	queue        *deliberation.Queue
	pipeline     *pipeline.Pipeline
	publisher    *publisher.Publisher
	sink         *audit.Sink
	aggregator   *healthmon.Aggregator
	orchestrator *recovery.Orchestrator

	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("bus-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if a.Config.Constitution.Hash == "" {
		return fmt.Errorf("constitution.hash is required; the bus refuses to start without one")
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker("bus-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "bus-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterPipelineMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	if a.Config.Database.MongoDB.URI != "" {
		mongoClient, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "MongoDB connection failed, deliberation archive disabled", "error", err)
		} else {
			a.mongoClient = mongoClient
		}
	}

	return nil
}

func (a *App) initComponents(ctx context.Context) error {
	namespace := a.Config.Broker.Kafka.Namespace
	if namespace == "" {
		namespace = "concord"
	}
	auditTopic := a.Config.Broker.Kafka.AuditTopic
	if auditTopic == "" {
		auditTopic = constants.DefaultAuditTopic
	}

	a.sink = audit.NewSink(a.Producer, auditTopic, 1024, a.Logger)
	a.publisher = publisher.New(a.Producer, a.sink, namespace, a.Logger)

	provider := semantic.NewHTTPProvider(a.Config.Semantic, a.Config.CircuitBreaker)
	scorer := scoring.NewScorer(a.Config.Scoring, a.Config.Semantic, provider, a.Logger)

	store := identity.NewPostgresStore(a.db)
	a.resolver = identity.NewResolver(store, a.Config.Identity, a.Logger)
	if err := a.resolver.Reload(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial identity bindings", "error", err)
	}

	tokens := identity.NewTokenService(a.Config.Deliberation.Token, identity.NewRedisRedemptions(a.redisClient))

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	ruleSource := registry.NewRepository(a.db)
	a.escalator = deliberation.NewEscalator(ruleSource, evaluator, a.Config.Deliberation.ReloadSeconds, a.Logger)

	var archive deliberation.Archiver
	if a.mongoClient != nil {
		mongoDB := a.mongoClient.Database(a.Config.Database.MongoDB.Database)
		if err := migrations.EnsureMongoCollection(ctx, mongoDB); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure archive indexes", "error", err)
		}
		archive = deliberation.NewMongoArchive(mongoDB)
	}

	policyClient := policy.NewHTTPClient(a.Config.Policy, a.Config.CircuitBreaker)
	a.queue = deliberation.NewQueue(
		a.Config.Deliberation,
		policyClient,
		tokens,
		a.escalator,
		archive,
		a.publisher,
		a.Logger,
	)

	router := routing.NewRouter(a.Config.Routing.DeliberationThreshold, a.publisher, a.queue, a.Logger)

	a.aggregator = healthmon.NewAggregator(a.Config.Health, a.Logger)
	a.aggregator.Track(healthmon.Dependency{
		Name:    constants.DependencySemantic,
		Breaker: provider.Breaker(),
	})
	a.aggregator.Track(healthmon.Dependency{
		Name:    constants.DependencyPolicy,
		Breaker: policyClient.Breaker(),
	})
	a.aggregator.Track(healthmon.Dependency{
		Name:  constants.DependencyRedis,
		Check: health.NewRedisChecker(a.redisClient).Check,
	})
	a.aggregator.Track(healthmon.Dependency{
		Name:  constants.DependencyIdentity,
		Check: health.NewPostgreSQLChecker(a.db).Check,
	})
	a.aggregator.Track(healthmon.Dependency{
		Name:  constants.DependencyKafka,
		Check: health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers).Check,
	})
	if a.mongoClient != nil {
		a.aggregator.Track(healthmon.Dependency{
			Name:  constants.DependencyArchive,
			Check: health.NewMongoDBChecker(a.mongoClient).Check,
		})
	}

	a.orchestrator = recovery.NewOrchestrator(
		a.Config.Recovery,
		a.queue,
		scorer,
		map[string]*circuitbreaker.Wrapper{
			constants.DependencySemantic: provider.Breaker(),
			constants.DependencyPolicy:   policyClient.Breaker(),
		},
		a.Logger,
	)
	a.aggregator.Subscribe(a.orchestrator.Observe)

	a.pipeline = pipeline.New(
		pipeline.Config{
			WorkerCount: a.Config.Routing.WorkerCount,
			LaneDepth:   a.Config.Routing.LaneDepth,
			RetryPolicy: retry.Policy{
				MaxAttempts:     a.Config.Recovery.Retry.MaxAttempts,
				InitialInterval: a.Config.Recovery.Retry.InitialInterval,
				MaxInterval:     a.Config.Recovery.Retry.MaxInterval,
				Multiplier:      a.Config.Recovery.Retry.Multiplier,
			},
		},
		validator.New(a.Config.Constitution.Hash),
		scorer,
		maci.NewEnforcer(),
		a.resolver,
		router,
		a.publisher,
		a.orchestrator,
		a.Logger,
	)

	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("bus-service"))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	// Reviewer decisions for escalated deliberations come in through here.
	router.POST("/api/v1/deliberations/:id/decision", a.handleDecision)

	unhealthyBelow := a.Config.Health.UnhealthyThreshold
	if unhealthyBelow <= 0 {
		unhealthyBelow = 0.25
	}
	router.GET("/health", func(c *gin.Context) {
		snapshot := a.aggregator.Snapshot()
		statusCode := http.StatusOK
		if snapshot.Aggregate < unhealthyBelow {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, snapshot)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
	return nil
}

type decisionRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (a *App) handleDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := a.queue.Decide(c.Request.Context(), c.Param("id"), req.Approved, req.Reason); err != nil {
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	c.Status(http.StatusAccepted)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	a.queue.Start(gCtx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error { return a.pipeline.Run(gCtx) })
	g.Go(func() error { return a.sink.Run(gCtx) })
	g.Go(func() error { return a.resolver.Run(gCtx) })
	g.Go(func() error { return a.escalator.Run(gCtx) })
	g.Go(func() error { return a.aggregator.Run(gCtx) })

	if a.Config.Broker.Kafka.ConfigUpdateTopic != "" {
		configConsumer, err := broker.NewConsumer(a.Config.Broker, a.Logger)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled", "error", err)
		} else {
			configConsumer.SetServiceName("bus-service")
			defer configConsumer.Close()
			reloadHandler := config_handler.NewHandler(a.resolver, a.escalator, a.Logger)

			g.Go(func() error {
				configCtx := logging.WithServiceName(gCtx, "bus-service")
				a.Logger.InfowCtx(configCtx, "Starting config update event consumer",
					"topic", a.Config.Broker.Kafka.ConfigUpdateTopic,
				)
				return configConsumer.Consume(gCtx, a.Config.Broker.Kafka.ConfigUpdateTopic, reloadHandler.HandleConfigUpdateEvent)
			})
		}
	}

	inboundTopic := a.Config.Broker.Kafka.InboundTopic
	if inboundTopic == "" {
		inboundTopic = constants.DefaultInboundTopic
	}
	g.Go(func() error {
		return a.Consumer.Consume(gCtx, inboundTopic, a.pipeline.Handle)
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
	shutdownCtx := logging.WithServiceName(ctx, "bus-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down bus service")

	a.queue.Drain()

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

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
