package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
)

type GrantPremiumRequest struct {
	DurationDays *int   `json:"duration_days"`
	Reason       string `json:"reason"`
}

type GrantPremiumResponse struct {
	Until  *time.Time         `json:"until"`
	Status entitlement.Status `json:"status"`
}

type RevokePremiumRequest struct {
	Reason string `json:"reason"`
}

type RevokePremiumResponse struct {
	OK     bool               `json:"ok"`
	Status entitlement.Status `json:"status"`
}

type IssueCodeRequest struct {
	Reason string `json:"reason"`
}

type IssueCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SetRoleRequest struct {
	Role   string `json:"role"`
	Reason string `json:"reason"`
}

type RemoveRoleRequest struct {
	Reason string `json:"reason"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type ModUser struct {
	UserResponse
	ExternalSubjectID string             `json:"external_subject_id"`
	Entitlement       entitlement.Status `json:"entitlement"`
	ModRole           *string            `json:"mod_role"`
}

type UserListResponse struct {
	Users      []ModUser  `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type UserActivityResponse struct {
	User        UserResponse               `json:"user"`
	Entitlement entitlement.Status         `json:"entitlement"`
	Timeline    []models.EntitlementRecord `json:"timeline"`
}

type AuditLogResponse struct {
	Entries    []models.AuditLogEntry `json:"entries"`
	Pagination Pagination             `json:"pagination"`
}

type PremiumHistoryResponse struct {
	Records      []models.EntitlementRecord `json:"records"`
	AuditEntries []models.AuditLogEntry     `json:"audit_entries"`
}

type CheckStatusResponse struct {
	IsModerator  bool     `json:"is_moderator"`
	Role         *string  `json:"role"`
	Capabilities []string `json:"capabilities"`
	// Advisory is always true: the server re-checks the role on every request.
	Advisory bool `json:"advisory"`
}
