package handlers

import (
	"errors"
	"log/slog"

	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/session"
)

// respondError maps a service error onto its HTTP status and a dto.ErrorResponse.
// Authorization and internal failures get a generic message; the detail stays in the logs.
func respondError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrInvalidToken) {
		return unauthorized(c, err.Error())
	}

	kind := apperr.Kind(err)
	status := statusFor(kind)
	message := err.Error()

	switch kind {
	case apperr.ErrAuthorization:
		message = "Insufficient privileges"
	case apperr.ErrInternal:
		message = "Internal server error"
		slog.Error("request failed",
			"request_id", session.RequestID(c),
			"method", c.Method(),
			"path", c.Path(),
			"error", err.Error(),
		)
		if hub := sentryfiber.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
	}

	return c.Status(status).JSON(dto.ErrorResponse{
		Error:   true,
		Kind:    apperr.Name(kind),
		Message: message,
	})
}

func statusFor(kind error) int {
	switch kind {
	case apperr.ErrValidation:
		return fiber.StatusBadRequest
	case apperr.ErrAuthorization:
		return fiber.StatusForbidden
	case apperr.ErrForbiddenRevocation, apperr.ErrConflict:
		return fiber.StatusConflict
	case apperr.ErrNotFound:
		return fiber.StatusNotFound
	case apperr.ErrRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Kind: apperr.Name(apperr.ErrValidation), Message: message,
	})
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}
