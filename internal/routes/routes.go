package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	Health      *handlers.HealthHandler
	Entitlement *handlers.EntitlementHandler
	Moderation  *handlers.ModerationHandler
	Webhook     *handlers.WebhookHandler
}

func Setup(app *fiber.App, cfg *config.Config, gate *privilege.Gate, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/exchange", h.Auth.Exchange)

	// End-user routes. JWT is applied per route so public routes stay public.
	api.Get("/entitlement", middleware.JWTProtected(cfg), h.Entitlement.Current)
	api.Post("/entitlement/redeem", middleware.JWTProtected(cfg), h.Entitlement.Redeem)
	api.Get("/me/grant-notification", middleware.JWTProtected(cfg), h.Entitlement.GrantNotification)

	// check-status answers for any signed-in user, moderator or not.
	api.Get("/mod/check-status", middleware.JWTProtected(cfg), h.Moderation.CheckStatus)

	mod := api.Group("/mod", middleware.JWTProtected(cfg), middleware.ModeratorRequired(gate))
	mod.Get("/users", h.Moderation.ListUsers)
	mod.Get("/users/:id", h.Moderation.GetUser)
	mod.Get("/users/:id/activity", h.Moderation.GetUserActivity)
	mod.Get("/users/:id/premium-history", h.Moderation.GetPremiumHistory)
	mod.Post("/users/:id/grant-premium", h.Moderation.GrantPremium)
	mod.Post("/users/:id/revoke-premium", h.Moderation.RevokePremium)
	mod.Post("/users/:id/codes", h.Moderation.IssueCode)
	mod.Put("/users/:id/role", h.Moderation.SetRole)
	mod.Delete("/users/:id/role", h.Moderation.RemoveRole)
	mod.Get("/audit/logs", h.Moderation.ListAuditLogs)
	mod.Delete("/audit/logs/:id", h.Moderation.DeleteAuditLog)

	// Webhooks authenticate by signature, not JWT.
	webhooks := api.Group("/webhooks")
	webhooks.Post("/stripe", h.Webhook.HandleStripe)
}
