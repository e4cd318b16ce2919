package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
)

type RedeemRequest struct {
	Code string `json:"code"`
}

type RedeemResponse struct {
	Accepted bool       `json:"accepted"`
	Until    *time.Time `json:"until,omitempty"`
}

type GrantNotificationResponse struct {
	Pending      bool       `json:"pending"`
	DurationDays *int       `json:"duration_days,omitempty"`
	Note         string     `json:"note,omitempty"`
	GrantedAt    *time.Time `json:"granted_at,omitempty"`
}

func NewGrantNotificationResponse(n *models.GrantNotification) GrantNotificationResponse {
	if n == nil {
		return GrantNotificationResponse{Pending: false}
	}
	at := n.CreatedAt
	return GrantNotificationResponse{Pending: true, DurationDays: n.DurationDays, Note: n.Note, GrantedAt: &at}
}
