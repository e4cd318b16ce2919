package middleware

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/session"
)

// JWTProtected accepts only HS256 session tokens issued by AuthService.Exchange.
// A validly signed token whose sub is not an internal user id is still rejected.
func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     jwtware.SigningKey{JWTAlg: jwtware.HS256, Key: []byte(cfg.JWTSecret)},
		SuccessHandler: requireSubject,
		ErrorHandler:   func(c *fiber.Ctx, _ error) error { return rejectSession(c) },
	})
}

func requireSubject(c *fiber.Ctx) error {
	if _, err := session.GetUserID(c); err != nil {
		return rejectSession(c)
	}
	return c.Next()
}

func rejectSession(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error:   true,
		Message: "Unauthorized: invalid or expired token",
	})
}
