package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

// Audit actions. The set is closed; listing filters reject anything else.
const (
	AuditGrantPremium       = "grant_premium"
	AuditRevokePremium      = "revoke_premium"
	AuditViewPremiumHistory = "view_premium_history"
	AuditViewUserActivity   = "view_user_activity"
	AuditViewAuditLog       = "view_audit_log"
	AuditIssuePremiumCode   = "issue_premium_code"
	AuditGrantModRole       = "grant_mod_role"
	AuditRevokeModRole      = "revoke_mod_role"
)

var auditActions = map[string]bool{
	AuditGrantPremium:       true,
	AuditRevokePremium:      true,
	AuditViewPremiumHistory: true,
	AuditViewUserActivity:   true,
	AuditViewAuditLog:       true,
	AuditIssuePremiumCode:   true,
	AuditGrantModRole:       true,
	AuditRevokeModRole:      true,
}

func ValidAuditAction(a string) bool {
	return auditActions[a]
}

// Actor is the authenticated moderator behind a request.
type Actor struct {
	UserID        uuid.UUID
	NetworkOrigin *string
}

type auditEntry struct {
	actor   Actor
	target  *uuid.UUID
	action  string
	before  any
	after   any
	details any
	reason  string
}

// appendAudit writes one entry through tx. Timestamps never run backwards for an actor, even if the
// wall clock does.
func appendAudit(ctx context.Context, tx store.Audit, now time.Time, e auditEntry) (models.AuditLogEntry, error) {
	latest, err := tx.LatestAuditTime(ctx, e.actor.UserID)
	if err != nil {
		return models.AuditLogEntry{}, err
	}
	at := now
	if at.Before(latest) {
		at = latest
	}

	row := models.AuditLogEntry{
		ActorID:       e.actor.UserID,
		TargetUserID:  e.target,
		Action:        e.action,
		Before:        snapshot(e.before),
		After:         snapshot(e.after),
		Details:       snapshot(e.details),
		NetworkOrigin: e.actor.NetworkOrigin,
		CreatedAt:     at,
	}
	if e.reason != "" {
		reason := e.reason
		row.Reason = &reason
	}
	if err := tx.AppendAudit(ctx, &row); err != nil {
		return models.AuditLogEntry{}, err
	}
	return row, nil
}

func snapshot(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// storeErr converts a failure from the persistence layer into an error kind callers can act on.
// Errors that already carry a kind pass through unchanged.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.Kind(err) != apperr.ErrInternal, errors.Is(err, apperr.ErrInternal):
		return err
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %s: %w", apperr.ErrConflict, op, err)
	default:
		return apperr.Internal(op, err)
	}
}
