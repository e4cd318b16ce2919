// Package store declares the persistence contract shared by the Postgres and in-memory backends.
//
// Entitlement records and audit entries are append-only: the contract exposes no operation that
// updates or deletes them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
	// ErrConflict reports a concurrent write the backend aborted; the unit may be retried.
	ErrConflict = errors.New("write conflict")
)

type Page struct {
	Limit  int
	Offset int
}

type AuditFilter struct {
	Actions      []string
	ActorID      *uuid.UUID
	TargetUserID *uuid.UUID
	Since        *time.Time // inclusive
	Before       *time.Time // exclusive
	Ascending    bool
}

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	CreateSettings(ctx context.Context, s *models.UserSettings) error
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserBySubject(ctx context.Context, subject string) (models.User, error)
	UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error
	ListUsers(ctx context.Context, search string, page Page) ([]models.User, int64, error)
}

type Ledger interface {
	AppendRecord(ctx context.Context, rec *models.EntitlementRecord) error
	// LatestRecords returns at most one record per source: the most recent one.
	LatestRecords(ctx context.Context, userID uuid.UUID) ([]models.EntitlementRecord, error)
	// ListRecords returns the user's full history, oldest first.
	ListRecords(ctx context.Context, userID uuid.UUID) ([]models.EntitlementRecord, error)
	HasRecordReference(ctx context.Context, userID uuid.UUID, source, reference string) (bool, error)
}

type RoleReader interface {
	GetModRole(ctx context.Context, userID uuid.UUID) (models.ModRole, error)
}

type Roles interface {
	RoleReader
	UpsertModRole(ctx context.Context, role *models.ModRole) error
	DeleteModRole(ctx context.Context, userID uuid.UUID) error
}

type AuditReader interface {
	ListAudit(ctx context.Context, f AuditFilter, page Page) ([]models.AuditLogEntry, int64, error)
}

type Audit interface {
	AuditReader
	AppendAudit(ctx context.Context, e *models.AuditLogEntry) error
	// LatestAuditTime returns the newest entry time for an actor, or the zero time.
	LatestAuditTime(ctx context.Context, actorID uuid.UUID) (time.Time, error)
}

type Payments interface {
	CreateSubscriptionLink(ctx context.Context, link *models.SubscriptionLink) error
	GetSubscriptionLink(ctx context.Context, subscriptionID string) (models.SubscriptionLink, error)
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, ev *models.ProcessedEvent) error
}

type Codes interface {
	CreatePremiumCode(ctx context.Context, code *models.PremiumCode) error
	// ListRedeemableCodes returns unredeemed codes for the user that have not expired at now.
	ListRedeemableCodes(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PremiumCode, error)
	// MarkCodeRedeemed sets redeemed_at only if the code is still unredeemed; false means it was already used.
	MarkCodeRedeemed(ctx context.Context, codeID uuid.UUID, at time.Time) (bool, error)
}

type Notifications interface {
	CreateGrantNotification(ctx context.Context, n *models.GrantNotification) error
	// AcknowledgeGrantNotification returns the oldest unacknowledged notification and marks it read.
	AcknowledgeGrantNotification(ctx context.Context, userID uuid.UUID, at time.Time) (models.GrantNotification, error)
}

type Store interface {
	Users
	Ledger
	Roles
	Audit
	Payments
	Codes
	Notifications

	// Atomic runs fn as one unit: either every write made through tx becomes visible or none does.
	// Callers passing the same non-empty lockKey are serialized.
	Atomic(ctx context.Context, lockKey string, fn func(tx Store) error) error
}

// EntitlementLockKey serializes writers of one user's entitlement records.
func EntitlementLockKey(userID uuid.UUID) string {
	return "entitlement:" + userID.String()
}
