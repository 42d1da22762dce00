package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"linguahub/config"
	"linguahub/controllers"
	"linguahub/db"
	"linguahub/internal/events"
	"linguahub/internal/identity"
	"linguahub/internal/logger"
	"linguahub/internal/submission"
	"linguahub/internal/telemetry"
	"linguahub/middlewares"
	"linguahub/routes"
	"linguahub/services"
	"linguahub/websocket"
)

func main() {
	// Load the configuration from the YAML file named by CONFIG_PATH
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, logg, cfg.Tracing.ServiceName, cfg.Tracing.Enabled)
	if err != nil {
		logg.Fatal("Failed to set up tracing", "error", err)
	}

	// Connect to MongoDB using the URI from the configuration
	if err := db.ConnectMongoDB(cfg.Database.URI); err != nil {
		logg.Fatal("Failed to connect to MongoDB", "error", err)
	}
	logg.Info("Connected to MongoDB", "database", db.DatabaseName(cfg.Database.URI))

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, db.MongoDatabase); err != nil {
		cancel()
		logg.Fatal("Failed to create indexes", "error", err)
	}
	cancel()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logg.Fatal("Failed to init identity provider", "provider", cfg.Identity.Provider, "error", err)
	}

	hub := websocket.NewHub(logg)

	var (
		idem     services.IdempotencyStore = submission.NewMemoryStore()
		notifier services.Notifier         = hub
		limiter  middlewares.SubmissionLimiter
	)
	if cfg.Redis.Addr != "" {
		rdb, err := submission.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logg.Fatal("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		}
		defer rdb.Close()
		idem = submission.NewRedisStore(rdb)
		limiter = submission.NewRateLimiter(rdb, cfg.RateLimit.SubmissionsPerMinute, time.Minute)

		notifier = events.NewStreamNotifier(rdb, events.DefaultStreamKey, hub, logg)
		consumer := events.NewStreamConsumer(rdb, events.DefaultStreamKey, hub, logg)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logg.Error("Progression event consumer stopped", "error", err)
			}
		}()
		logg.Info("Connected to Redis", "addr", cfg.Redis.Addr)
	} else {
		logg.Warn("Redis not configured: idempotency keys kept in memory, submission rate limit off, events delivered locally")
	}

	rbac, err := middlewares.NewRBAC(cfg.Database.URI, cfg.RBAC.PersistPolicies, logg)
	if err != nil {
		logg.Fatal("Failed to initialize RBAC", "error", err)
	}

	audit := db.NewAuditLog(db.MongoDatabase)
	svc := services.NewProgressionService(services.ProgressionDeps{
		Store:             db.NewProgressionStore(db.MongoDatabase),
		Content:           db.NewContentStore(db.MongoDatabase),
		XPLog:             audit,
		Notifier:          notifier,
		Idempotency:       idem,
		IdempotencyTTL:    cfg.IdempotencyTTL(),
		Rules:             cfg.Rules(),
		Log:               logg,
		MaxCommitAttempts: cfg.Progression.MaxCommitAttempts,
	})

	router := setupRouter(cfg, logg, routerDeps{
		verifier: verifier,
		svc:      svc,
		audit:    audit,
		rbac:     rbac,
		hub:      hub,
		limiter:  limiter,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logg.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	logg.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("Server shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Error("Tracer shutdown failed", "error", err)
	}
	if err := db.MongoClient.Disconnect(shutdownCtx); err != nil {
		logg.Error("MongoDB disconnect failed", "error", err)
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (identity.Verifier, error) {
	if cfg.Identity.Provider == "cognito" {
		return identity.NewCognitoVerifier(ctx, cfg.Identity.Cognito.Region)
	}
	return identity.NewJWTVerifier(cfg.Identity.JWTSecret)
}

type routerDeps struct {
	verifier identity.Verifier
	svc      *services.ProgressionService
	audit    *db.AuditLog
	rbac     *middlewares.RBAC
	hub      *websocket.Hub
	limiter  middlewares.SubmissionLimiter
}

func setupRouter(cfg *config.Config, logg *logger.Logger, d routerDeps) *gin.Engine {
	if cfg.Server.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(middlewares.RequestLogger(logg))

	// Set trusted proxies (adjust as needed)
	router.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", controllers.IdempotencyKeyHeader, middlewares.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", middlewares.RequestIDHeader},
		AllowCredentials: true,
	}))
	router.OPTIONS("/*path", func(c *gin.Context) { c.Status(204) })

	router.GET("/healthz", controllers.Healthz(func(ctx context.Context) error {
		return db.MongoClient.Ping(ctx, nil)
	}))

	pc := controllers.NewProgressionController(d.svc, logg)
	ac := controllers.NewAdminController(d.svc, d.audit, logg)

	// Protected routes (bearer auth)
	auth := router.Group("/")
	auth.Use(middlewares.AuthMiddleware(d.verifier, d.svc, logg))
	{
		routes.SetupProgressionRoutes(auth, pc, middlewares.RateLimitMiddleware(d.limiter, logg))
		routes.SetupLeaderboardRoutes(auth, pc)
		routes.SetupAdminRoutes(auth, ac, d.rbac)
	}

	routes.SetupWebSocketRoutes(router, d.hub, middlewares.WebSocketAuthMiddleware(d.verifier, d.svc, logg))

	return router
}
