package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/cashier_backend/api"
	"github.com/mmdatafocus/cashier_backend/authgate"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/eventlog"
	"github.com/mmdatafocus/cashier_backend/ledger"
	"github.com/mmdatafocus/cashier_backend/memstore"
	"github.com/mmdatafocus/cashier_backend/middlewares"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/registry"
	"github.com/mmdatafocus/cashier_backend/salesync"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/mmdatafocus/cashier_backend/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// app is filled in once dependencies are connected. The readiness gate keeps
// requests away from it until ready is set.
type app struct {
	ready   atomic.Bool
	handler *api.Handler
	applier *workflow.LedgerSyncApplier
	outbox  *models.LedgerOutboxStore
	loaders middlewares.RegisterReader
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	memoryMode := strings.EqualFold(strings.TrimSpace(os.Getenv("STORE_DRIVER")), "memory")

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a := &app{
		handler: &api.Handler{Logger: logger},
		applier: &workflow.LedgerSyncApplier{Logger: logger},
	}

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe and scrapes.
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		if !a.ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	authed := r.Group("/api", middlewares.AuthMiddleware())
	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if !memoryMode && strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limiter := &lazyRateLimiter{
			limit:  int64(config.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
			window: time.Duration(config.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		}
		authed.Use(limiter.Middleware)
	}
	authed.Use(func(c *gin.Context) {
		middlewares.LoaderMiddleware(a.loaders)(c)
	})
	a.handler.Routes(authed)

	// Push deliveries must carry the subscription's OIDC token; without an audience the route stays off.
	pushAuth := api.PushAuthConfigFromEnv()
	if !pushAuth.Enabled() {
		logger.WithFields(logrus.Fields{"field": "startup"}).Warn("PUBSUB_PUSH_AUDIENCE not set; /pubsub/ledger-sync is disabled")
	}
	r.POST("/pubsub/ledger-sync", func(c *gin.Context) {
		if !pushAuth.Enabled() || a.applier.Writer == nil {
			customNotFoundHandler(c)
			c.Abort()
		}
	}, api.PubSubPushAuth(pushAuth, logger), func(c *gin.Context) {
		api.LedgerSyncPushHandler(a.applier, logger)(c)
	})
	// Ops tooling: replay ledger outbox rows that were marked DEAD/FAILED.
	r.POST("/internal/ops/outbox/replay", middlewares.AuthMiddleware(), func(c *gin.Context) {
		if a.outbox == nil {
			customNotFoundHandler(c)
			return
		}
		api.OutboxReplayHandler(a.outbox)(c)
	})
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if memoryMode {
		wireMemory(a, logger)
	} else {
		wireDatabase(workersCtx, a, logger)
	}
	a.ready.Store(true)

	storeDriver := "mysql"
	if memoryMode {
		storeDriver = "memory"
	}
	logger.WithFields(logrus.Fields{
		"info":  "Connection Established",
		"store": storeDriver,
	}).Info("cashier ledger listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.StopLedgerTopic()
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// wireMemory runs the ledger on in-process stores with no outbox. Pushed replicas are
// kept in memory.
func wireMemory(a *app, logger *logrus.Logger) {
	registerStore := memstore.NewRegisterStore()
	registers := registry.New(registerStore, logger)
	l := ledger.New(memstore.NewEventStore(), memstore.NewSalesFeed(), registers, ledgerOptions(logger)...)

	a.handler.Registry = registers
	a.handler.Ledger = l
	a.handler.Gate = authgate.New(memstore.NewSupervisorStore(), logger)
	a.handler.Registers = registerStore
	a.loaders = registerStore
	a.applier.Writer = memstore.NewReplicaStore()
	logger.WithFields(logrus.Fields{"field": "startup"}).Warn("STORE_DRIVER=memory; ledger data is lost on restart")
}

func wireDatabase(ctx context.Context, a *app, logger *logrus.Logger) {
	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()

	// AutoMigrate can run DDL that blocks tables; run it as a separate job with SKIP_MIGRATIONS=true.
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	registerStore := models.NewCashRegisterStore(db)
	registers := registry.New(registerStore, logger)
	events := eventlog.New(models.NewLedgerEventStore(db), eventlog.RedisSnapshots{},
		eventlog.WithLogger(logger),
		eventlog.WithSnapshotTTL(time.Duration(config.IntFromEnv("LEDGER_SNAPSHOT_TTL_HOURS", 24))*time.Hour),
	)
	sales := models.NewPosSaleFeed(db)
	l := ledger.New(events, sales, registers, ledgerOptions(logger)...)

	a.handler.Registry = registers
	a.handler.Ledger = l
	a.handler.Gate = authgate.New(models.NewSupervisorStore(db), logger)
	a.handler.Registers = registerStore
	a.loaders = registerStore
	a.applier.Writer = &workflow.GormReplicaWriter{DB: db}
	a.applier.Lock = config.GetRedisLock()
	a.outbox = models.NewLedgerOutboxStore(db)

	// Start outbox dispatcher (publishes AFTER commit).
	var publisher workflow.Publisher = workflow.PubSubPublisher{}
	if config.OutboxDirectProcessing() {
		publisher = workflow.DirectPublisher{Applier: a.applier}
	}
	outboxMetrics := workflow.NewOutboxMetrics(prometheus.DefaultRegisterer)
	dispatcher := workflow.NewOutboxDispatcher(a.outbox, publisher, logger)
	dispatcher.Metrics = outboxMetrics
	go dispatcher.Run(ctx)
	go refreshOutboxBacklog(ctx, outboxMetrics, a.outbox, logger)

	if config.SalesSyncEnabled() {
		businessIds := splitAndTrim(os.Getenv("SALES_SYNC_BUSINESS_IDS"))
		syncer, err := salesync.NewSyncer(salesync.ClientConfigFromEnv(), sales, registerStore, salesync.RedisCursors{}, logger)
		if err != nil {
			config.LogError(logger, "server.go", "wireDatabase", "Starting POS sales sync", businessIds, err)
		} else {
			interval := time.Duration(config.IntFromEnv("SALES_SYNC_INTERVAL_SECONDS", 60)) * time.Second
			go syncer.Run(ctx, businessIds, interval)
		}
	}
}

func ledgerOptions(logger *logrus.Logger) []ledger.Option {
	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithMetrics(ledger.NewMetrics(prometheus.DefaultRegisterer)),
	}
	if config.LedgerBalanceCacheEnabled() {
		opts = append(opts, ledger.WithReplayCache(config.IntFromEnv("LEDGER_BALANCE_CACHE_SIZE", 1024)))
	}
	return opts
}

func refreshOutboxBacklog(ctx context.Context, metrics *workflow.OutboxMetrics, outbox *models.LedgerOutboxStore, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		if err := metrics.RefreshBacklog(ctx, outbox); err != nil && ctx.Err() == nil {
			config.LogError(logger, "server.go", "refreshOutboxBacklog", "Counting outbox rows", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// lazyRateLimiter resolves the redis client per request; redis connects after the
// routes are mounted.
type lazyRateLimiter struct {
	limit  int64
	window time.Duration
}

func (l *lazyRateLimiter) Middleware(c *gin.Context) {
	rdb := config.GetRedisDB()
	if rdb == nil {
		c.Next()
		return
	}
	middlewares.NewRateLimiter(rdb, l.limit, l.window).Middleware()(c)
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"field":          "http",
				"path":           c.FullPath(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
