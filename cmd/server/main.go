package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/config"
	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/handlers"
	"github.com/matatufleet/booking-backend/internal/middleware"
	"github.com/matatufleet/booking-backend/internal/services"
	"github.com/matatufleet/booking-backend/pkg/daraja"
	"github.com/matatufleet/booking-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Matatu Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize repositories
	tripRepo := database.NewTripRepository(db)
	holdRepo := database.NewSeatHoldRepository(db)
	bookingRepo := database.NewBookingRepository(db)
	paymentRepo := database.NewPaymentRepository(db)
	refundRepo := database.NewRefundRepository(db)
	eventRepo := database.NewWebhookEventRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db)

	// Initialize provider client
	mpesaClient := daraja.NewClient(daraja.Config{
		BaseURL:        cfg.Mpesa.BaseURL(),
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		InitiatorName:  cfg.Mpesa.InitiatorName,
		SecurityCred:   cfg.Mpesa.SecurityCred,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		ResultURL:      cfg.Mpesa.ResultURL,
		Timeout:        cfg.Mpesa.HTTPTimeout,
	})

	// Initialize services
	logger.Info("Initializing services...")
	auditService := services.NewAuditService(auditRepo, logger)
	inventoryService := services.NewSeatInventoryService(holdRepo, tripRepo, logger, cfg.Booking.HoldTTL)
	orchestrator := services.NewPaymentOrchestratorService(
		paymentRepo, bookingRepo, holdRepo, mpesaClient, auditService, logger,
		cfg.Booking.Currency, cfg.Mpesa.HTTPTimeout, cfg.Booking.PaymentTimeout,
	)
	refundService := services.NewRefundService(
		refundRepo, paymentRepo, bookingRepo, tripRepo, mpesaClient,
		auditService, logger, cfg.Refund.AutoApproveLimit,
	)
	bookingService := services.NewBookingService(
		bookingRepo, holdRepo, paymentRepo, orchestrator, refundService,
		logger, cfg.Booking.HoldTTL,
	)
	ingestService := services.NewWebhookIngestService(
		eventRepo, orchestrator, refundService, auditService, logger,
		cfg.Mpesa.WebhookSecret,
	)
	reclaimer := services.NewHoldReclaimerService(
		holdRepo, bookingRepo, paymentRepo, auditService, logger,
		cfg.Booking.SweepBatchSize,
	)
	sweeper := services.NewSweepService(
		reclaimer, orchestrator, logger,
		cfg.Booking.SweepInterval, cfg.Booking.SweepBatchSize,
	)

	jwtValidator := jwt.NewValidator(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Initialize handlers
	tripHandler := handlers.NewTripHandler(tripRepo, inventoryService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	paymentHandler := handlers.NewPaymentHandler(orchestrator, ingestService, logger)
	refundHandler := handlers.NewRefundHandler(refundService, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthCheckHandler(db))

	// Provider callbacks authenticate with the webhook signature, not JWT
	webhooks := router.Group("/webhooks/mpesa")
	{
		webhooks.POST("/stk", paymentHandler.STKCallback)
		webhooks.POST("/b2c", paymentHandler.B2CResultCallback)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtValidator))
	{
		trips := api.Group("/trips")
		{
			trips.POST("", tripHandler.CreateTrip)
			trips.GET("", tripHandler.ListTrips)
			trips.GET("/:trip_id", tripHandler.GetTrip)
			trips.GET("/:trip_id/accounting", tripHandler.CheckTripAccounting)
			trips.POST("/:trip_id/cancel", tripHandler.CancelTrip)
		}

		bookings := api.Group("/bookings")
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListBookings)
			bookings.GET("/:booking_id", bookingHandler.GetBookingStatus)
			bookings.POST("/:booking_id/cancel", bookingHandler.CancelBooking)
			bookings.POST("/:booking_id/retry-payment", bookingHandler.RetryPayment)
		}

		payments := api.Group("/payments")
		{
			payments.GET("/:payment_id", paymentHandler.GetPaymentStatus)
			payments.GET("/:payment_id/provider-status", paymentHandler.GetProviderStatus)
			payments.GET("/:payment_id/refunds", refundHandler.ListPaymentRefunds)
		}

		refunds := api.Group("/refunds")
		{
			refunds.POST("", refundHandler.RequestRefund)
			refunds.GET("/:refund_id", refundHandler.GetRefund)
			refunds.POST("/:refund_id/approve", refundHandler.ApproveRefund)
			refunds.POST("/:refund_id/process", refundHandler.ProcessRefund)
			refunds.POST("/:refund_id/cancel", refundHandler.CancelRefund)
		}
	}

	// Start background sweeps
	if err := sweeper.Start(); err != nil {
		logger.Fatalf("Failed to start sweep service: %v", err)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
		}

		entry := logger.WithFields(fields)
		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
