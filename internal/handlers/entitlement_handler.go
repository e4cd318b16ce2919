package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/session"
)

// EntitlementHandler serves the end-user side: current status, code redemption and grant notices.
type EntitlementHandler struct {
	entitlements *services.EntitlementService
	moderation   *services.ModerationService
}

func NewEntitlementHandler(entitlements *services.EntitlementService, moderation *services.ModerationService) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements, moderation: moderation}
}

func (h *EntitlementHandler) Current(c *fiber.Ctx) error {
	userID, err := session.GetUserID(c)
	if err != nil {
		return unauthorized(c, "Unauthorized")
	}
	return c.JSON(h.entitlements.Current(c.UserContext(), userID))
}

func (h *EntitlementHandler) Redeem(c *fiber.Ctx) error {
	userID, err := session.GetUserID(c)
	if err != nil {
		return unauthorized(c, "Unauthorized")
	}

	var req dto.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := h.moderation.RedeemCode(c.UserContext(), userID, req.Code)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.RedeemResponse{Accepted: res.Accepted, Until: res.Until})
}

func (h *EntitlementHandler) GrantNotification(c *fiber.Ctx) error {
	userID, err := session.GetUserID(c)
	if err != nil {
		return unauthorized(c, "Unauthorized")
	}

	n, err := h.moderation.PendingGrantNotification(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.NewGrantNotificationResponse(n))
}
