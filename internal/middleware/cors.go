package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
)

// CORS serves browser clients. Sessions travel in the Authorization header, never in cookies,
// so credentials stay disabled. X-Request-ID is exposed so clients can quote it in support tickets.
func CORS(cfg *config.Config) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: strings.Join([]string{
			fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAuthorization, fiber.HeaderAccept,
		}, ", "),
		AllowMethods: strings.Join([]string{
			fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete, fiber.MethodOptions,
		}, ", "),
		ExposeHeaders: fiber.HeaderXRequestID,
		MaxAge:        600,
	})
}
