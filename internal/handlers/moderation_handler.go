package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/session"
)

// ModerationHandler serves /api/mod. Authorization is decided by the service on every call.
type ModerationHandler struct {
	moderationService *services.ModerationService
}

func NewModerationHandler(moderationService *services.ModerationService) *ModerationHandler {
	return &ModerationHandler{moderationService: moderationService}
}

func (h *ModerationHandler) actor(c *fiber.Ctx) (services.Actor, bool) {
	userID, err := session.GetUserID(c)
	if err != nil {
		return services.Actor{}, false
	}
	return services.Actor{UserID: userID, NetworkOrigin: session.NetworkOrigin(c)}, true
}

func (h *ModerationHandler) CheckStatus(c *fiber.Ctx) error {
	userID, err := session.GetUserID(c)
	if err != nil {
		return unauthorized(c, "Unauthorized")
	}

	st, err := h.moderationService.CheckStatus(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}

	resp := dto.CheckStatusResponse{
		IsModerator:  st.IsModerator,
		Capabilities: make([]string, 0, len(st.Capabilities)),
		Advisory:     true,
	}
	if st.IsModerator {
		role := string(st.Role)
		resp.Role = &role
	}
	for _, a := range st.Capabilities {
		resp.Capabilities = append(resp.Capabilities, string(a))
	}
	return c.JSON(resp)
}

func (h *ModerationHandler) ListUsers(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	pageNum, page := pageParams(c)

	users, total, err := h.moderationService.ListUsers(c.UserContext(), actor, c.Query("search"), page)
	if err != nil {
		return respondError(c, err)
	}

	resp := dto.UserListResponse{
		Users:      make([]dto.ModUser, 0, len(users)),
		Pagination: dto.Pagination{Page: pageNum, Limit: page.Limit, Total: total},
	}
	for _, u := range users {
		resp.Users = append(resp.Users, toModUser(u))
	}
	return c.JSON(resp)
}

func (h *ModerationHandler) GetUser(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	sum, err := h.moderationService.GetUserDetail(c.UserContext(), actor, target)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toModUser(sum))
}

func (h *ModerationHandler) GetUserActivity(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	act, err := h.moderationService.GetUserActivity(c.UserContext(), actor, target)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.UserActivityResponse{
		User:        dto.NewUserResponse(act.User),
		Entitlement: act.Status,
		Timeline:    act.Timeline,
	})
}

func (h *ModerationHandler) GetPremiumHistory(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	hist, err := h.moderationService.GetPremiumHistory(c.UserContext(), actor, target)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.PremiumHistoryResponse{Records: hist.Records, AuditEntries: hist.AuditEntries})
}

func (h *ModerationHandler) GrantPremium(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	var req dto.GrantPremiumRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := h.moderationService.GrantPremium(c.UserContext(), actor, target, req.DurationDays, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.GrantPremiumResponse{Until: res.Until, Status: res.Status})
}

func (h *ModerationHandler) RevokePremium(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	var req dto.RevokePremiumRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	st, err := h.moderationService.RevokePremium(c.UserContext(), actor, target, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.RevokePremiumResponse{OK: true, Status: st})
}

func (h *ModerationHandler) IssueCode(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	var req dto.IssueCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	code, err := h.moderationService.IssueCode(c.UserContext(), actor, target, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.IssueCodeResponse{Code: code.Code, ExpiresAt: code.ExpiresAt})
}

func (h *ModerationHandler) SetRole(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	var req dto.SetRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.moderationService.SetModRole(c.UserContext(), actor, target, privilege.Role(req.Role), req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ModerationHandler) RemoveRole(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	target, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	var req dto.RemoveRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.moderationService.RemoveModRole(c.UserContext(), actor, target, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ModerationHandler) ListAuditLogs(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}

	q, err := auditQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	pageNum, page := pageParams(c)

	entries, total, err := h.moderationService.ListAuditLog(c.UserContext(), actor, q, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.AuditLogResponse{
		Entries:    entries,
		Pagination: dto.Pagination{Page: pageNum, Limit: page.Limit, Total: total},
	})
}

func (h *ModerationHandler) DeleteAuditLog(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return unauthorized(c, "Unauthorized")
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid audit entry ID")
	}
	return respondError(c, h.moderationService.DeleteAuditEntry(c.UserContext(), actor, id))
}

func pageParams(c *fiber.Ctx) (int, services.Page) {
	pageNum := c.QueryInt("page", 1)
	if pageNum < 1 {
		pageNum = 1
	}
	return pageNum, services.PageFor(pageNum, c.QueryInt("limit", 0))
}

type queryError string

func (e queryError) Error() string { return string(e) }

func auditQuery(c *fiber.Ctx) (services.AuditQuery, error) {
	var q services.AuditQuery
	if raw := c.Query("action"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				q.Actions = append(q.Actions, a)
			}
		}
	}
	if raw := c.Query("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, queryError("Invalid actor_id")
		}
		q.ActorID = &id
	}
	if raw := c.Query("target_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, queryError("Invalid target_id")
		}
		q.TargetUserID = &id
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, queryError("since must be an RFC 3339 timestamp")
		}
		q.Since = &t
	}
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, queryError("before must be an RFC 3339 timestamp")
		}
		q.Before = &t
	}
	return q, nil
}

func toModUser(s services.UserSummary) dto.ModUser {
	u := dto.ModUser{
		UserResponse:      dto.NewUserResponse(s.User),
		ExternalSubjectID: s.User.ExternalSubjectID,
		Entitlement:       s.Status,
	}
	if s.Role != "" {
		role := string(s.Role)
		u.ModRole = &role
	}
	return u
}
