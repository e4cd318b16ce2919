package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/session"
)

// ModeratorRequired turns away callers who hold no moderator role at all.
// It is a coarse pre-check only: each moderation operation still checks its own capability.
func ModeratorRequired(gate *privilege.Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := session.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		role, err := gate.Role(c.UserContext(), userID)
		if err != nil {
			slog.Error("moderator check failed", "request_id", session.RequestID(c), "user_id", userID.String(), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Kind: apperr.Name(apperr.ErrInternal), Message: "Internal server error",
			})
		}
		if role == "" {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Kind: apperr.Name(apperr.ErrAuthorization), Message: "Moderator access required",
			})
		}
		return c.Next()
	}
}
