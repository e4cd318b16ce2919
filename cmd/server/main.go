package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/memstore"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/pgstore"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Storage
	var (
		st           store.Store
		db           *gorm.DB
		pgLogHandler *logging.PGHandler
		ping         handlers.Pinger
	)
	switch cfg.StorageDriver {
	case "postgres":
		var err error
		db, err = database.Connect(cfg)
		if err != nil {
			slog.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		if err := database.Migrate(ctx, db); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
		st = pgstore.New(db)
		ping = func(ctx context.Context) error { return database.Ping(ctx, db) }

		// ERROR+ records are also batched into system_logs.
		pgLogHandler = logging.NewPGHandler(db, 5*time.Second)
		logging.Setup(pgLogHandler)
		logging.StartCleanup(ctx, db, 24*time.Hour)
	default:
		slog.Warn("using in-memory storage; all data is lost on restart")
		st = memstore.New()
	}

	// Services
	if cfg.StorageDriver == "postgres" && cfg.EntitlementCacheTTL > 0 {
		slog.Warn("entitlement cache enabled on shared storage; other replicas may serve a stale status until it expires",
			"ttl", cfg.EntitlementCacheTTL.String())
	}
	gate := privilege.NewGate(st)
	entitlementService := services.NewEntitlementService(st, entitlement.NewCache(cfg.EntitlementCacheSize, cfg.EntitlementCacheTTL))
	moderationService := services.NewModerationService(st, gate, entitlementService, services.RedeemConfig{
		GlobalCodes:       cfg.RedeemCodes,
		Validity:          cfg.RedeemValidity,
		AttemptsPerMinute: cfg.RedeemAttemptsPerMinute,
	})
	paymentService := services.NewPaymentService(st, entitlementService)
	identityService := services.NewIdentityService(st)

	var verifier services.IdentityVerifier
	if cfg.OIDCClientID != "" {
		v, err := services.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			slog.Error("oidc provider discovery failed", "issuer", cfg.OIDCIssuerURL, "error", err)
			os.Exit(1)
		}
		verifier = v
	} else {
		slog.Warn("OIDC_CLIENT_ID not set; /api/auth/exchange is disabled")
	}
	authService := services.NewAuthService(cfg, identityService, verifier)

	if cfg.StripeWebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET not set; stripe webhooks are rejected")
	}

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return ulid.Make().String() },
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
	}))
	app.Use(middleware.Metrics())
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, gate, routes.Handlers{
		Auth:        handlers.NewAuthHandler(authService),
		Health:      handlers.NewHealthHandler(ping),
		Entitlement: handlers.NewEntitlementHandler(entitlementService, moderationService),
		Moderation:  handlers.NewModerationHandler(moderationService),
		Webhook:     handlers.NewWebhookHandler(paymentService, cfg.StripeWebhookSecret),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "storage", cfg.StorageDriver)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	stopBackground()
	if pgLogHandler != nil {
		pgLogHandler.Stop()
	}
	sentry.Flush(2 * time.Second)

	// Close database connections
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("database close error", "error", err)
			}
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error",
			"request_id", c.Locals("requestid"),
			"method", c.Method(),
			"path", c.Path(),
			"error", err.Error(),
		)
		message = "Internal server error"
	}

	resp := dto.ErrorResponse{Error: true, Message: message}
	if code >= 500 {
		resp.Kind = apperr.Name(apperr.ErrInternal)
	}
	return c.Status(code).JSON(resp)
}
