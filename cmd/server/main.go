package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/approval"
	"github.com/ksred/navflow-api/internal/auth"
	"github.com/ksred/navflow-api/internal/config"
	"github.com/ksred/navflow-api/internal/database"
	"github.com/ksred/navflow-api/internal/nav"
	"github.com/ksred/navflow-api/internal/notify"
	"github.com/ksred/navflow-api/internal/pricing"
	"github.com/ksred/navflow-api/internal/registry"
	"github.com/ksred/navflow-api/internal/scheduler"
	"github.com/ksred/navflow-api/internal/valuation"
	"github.com/ksred/navflow-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the NAV API server with graceful shutdown support
// It sets up all required services, database connections, and API routes
func main() {
	cfg, err := config.Load("")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	registryService := registry.NewService(db)
	registryHandlers := registry.NewGinHandlers(registryService)

	marketData := pricing.NewSimulatedProvider("SIMULATED")
	calculator := valuation.NewCalculator(valuation.Config{
		MovementWarnPct:  decimal.NewFromFloat(cfg.Valuation.MovementWarnPct),
		MovementErrorPct: decimal.NewFromFloat(cfg.Valuation.MovementErrorPct),
		StalePriceDays:   cfg.Valuation.StalePriceDays,
	})

	navService := nav.NewService(db, registryService, marketData, marketData, calculator)
	navHandlers := nav.NewGinHandlers(navService)

	notifier := notify.NewLogNotifier(cfg.Notify.Recipients)

	approvalService := approval.NewService(db, navService.GetDB(), registryService, notifier)
	approvalHandlers := approval.NewGinHandlers(approvalService)

	// Create and start the daily valuation scheduler
	if cfg.Scheduler.Enabled {
		navScheduler, err := scheduler.NewScheduler(navService, approvalService, notifier, cfg.Scheduler)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to initialize scheduler")
		}
		if err := navScheduler.Start(); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to start scheduler")
		}
		defer navScheduler.Stop()
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, registryHandlers, navHandlers, approvalHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Fund and NAV routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	registryHandlers *registry.GinHandlers,
	navHandlers *nav.GinHandlers,
	approvalHandlers *approval.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Fund registry routes
		funds := v1.Group("/funds")
		funds.Use(middleware.JWTAuth(jwtSecret))
		{
			funds.GET("/:fund_id/config", registryHandlers.GetFundConfigHandler())
			funds.PUT("/:fund_id/config", registryHandlers.SaveFundConfigHandler())
			funds.GET("/classes/:share_class_id/nav", registryHandlers.GetLatestNAVHandler())
		}

		// NAV routes
		navGroup := v1.Group("/nav")
		navGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			navGroup.POST("/calculate", navHandlers.CalculateNAVHandler())
			navGroup.POST("/verify", navHandlers.VerifyNAVHandler())
			navGroup.GET("/records/:fund_id/:share_class_id/:date", navHandlers.GetNAVHandler())
			navGroup.GET("/transitions/:nav_id", navHandlers.GetNAVTransitionsHandler())
			navGroup.GET("/runs/:run_id", navHandlers.GetRunHandler())
		}

		// Approval workflow routes
		approvals := v1.Group("/approvals")
		approvals.Use(middleware.JWTAuth(jwtSecret))
		{
			approvals.GET("/:approval_id", approvalHandlers.GetApprovalHandler())
			approvals.POST("/:approval_id/approve", approvalHandlers.ApproveHandler())
			approvals.POST("/:approval_id/reject", approvalHandlers.RejectHandler())
			approvals.POST("/:approval_id/publish", approvalHandlers.PublishHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/nav/run", navHandlers.RunDailyNAVHandler())
			internal.POST("/nav/run/:date/retry", navHandlers.RetryRunHandler())
			internal.POST("/nav/runs/:run_id/approvals", approvalHandlers.CreateApprovalHandler())
		}
	}
}
