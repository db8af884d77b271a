package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rvm-io/rvm-server/internal/auth"
	"github.com/rvm-io/rvm-server/internal/bundle"
	"github.com/rvm-io/rvm-server/internal/cloud"
	"github.com/rvm-io/rvm-server/internal/config"
	"github.com/rvm-io/rvm-server/internal/handler"
	"github.com/rvm-io/rvm-server/internal/lifecycle"
	"github.com/rvm-io/rvm-server/internal/logx"
	"github.com/rvm-io/rvm-server/internal/reconcile"
	"github.com/rvm-io/rvm-server/internal/service"
	"github.com/rvm-io/rvm-server/internal/store"
	"github.com/rvm-io/rvm-server/internal/stream"
)

func main() {
	logger, closeLogger, err := logx.Init("rvm-server")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := closeLogger(); err != nil {
			slog.Error("failed to close logger", "error", err)
		}
	}()

	stdLog := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	log.SetFlags(0)
	log.SetOutput(stdLog.Writer())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	slog.Info("configuration loaded", "component", "config",
		"region", cfg.Region, "stack_prefix", cfg.StackPrefix, "workflow_role", cfg.WorkflowRole,
		"account_concurrency", cfg.AccountConcurrency)

	dbPath := filepath.Join(cfg.DataDir, "rvm-server.db")
	slog.Info("initializing database", "component", "store", "db_path", dbPath)
	if err := store.InitDB(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.CloseDB()
	slog.Info("database initialized", "component", "store")

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS configuration: %v", err)
	}

	sessions := cloud.NewSTSSessionFactory(awsCfg, cfg)
	fetcher := bundle.NewS3Fetcher(s3.NewFromConfig(awsCfg))
	executor := reconcile.NewExecutor(cfg.DeleteWaitTimeout)
	coordinator := reconcile.NewCoordinator(cfg, sessions, executor)

	hub := stream.NewHub()
	runStore := store.NewRunStore()
	runSvc := service.NewRunService(fetcher, coordinator, runStore, hub)

	purgeCtx, stopPurger := context.WithCancel(context.Background())
	purgerDone := runSvc.StartPurger(purgeCtx, 1*time.Hour, cfg.RunRetention)
	slog.Info("run history purger started", "component", "run_service", "retention", cfg.RunRetention.String())

	drainState := lifecycle.NewDrainManager()
	runHandler := handler.NewRunHandler(runSvc, hub, drainState)

	if cfg.AuthTokenHash == "" {
		slog.Warn("no auth token hash configured, API authentication is disabled", "component", "auth")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logx.RequestIDMiddleware())
	r.Use(logx.AccessLogMiddleware("api_http"))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Extensions", "Sec-WebSocket-Protocol"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if drainState.IsDraining() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(auth.Middleware(cfg.AuthTokenHash))
	runHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		// Triggered runs block until the sweep completes; don't cut
		// them off at the HTTP layer.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api server starting", "component", "http_server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down API server...")

	drainState.StartDraining()
	stopPurger()
	purgerDone()

	runCtx, runCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer runCancel()
	if err := drainState.WaitRuns(runCtx); err != nil {
		log.Printf("Shutdown with in-flight runs remaining: %d", drainState.ActiveRuns())
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer drainCancel()
	if err := drainState.WaitWebSockets(drainCtx); err != nil {
		log.Printf("API drained with timeout, remaining active websockets: %d", drainState.ActiveWebSockets())
	}

	log.Println("Server exited")
}
