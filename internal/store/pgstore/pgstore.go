// Package pgstore implements store.Store on PostgreSQL through GORM.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}
	return err
}

// Atomic runs fn in a transaction. A non-empty lockKey takes a transaction-scoped advisory lock,
// released on commit or rollback.
func (s *Store) Atomic(ctx context.Context, lockKey string, fn func(tx store.Store) error) error {
	return translate(s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if lockKey != "" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey).Error; err != nil {
				return fmt.Errorf("advisory lock: %w", err)
			}
		}
		return fn(&Store{db: tx})
	}))
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return translate(s.conn(ctx).Create(u).Error)
}

func (s *Store) CreateSettings(ctx context.Context, us *models.UserSettings) error {
	return translate(s.conn(ctx).Create(us).Error)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var u models.User
	err := s.conn(ctx).Where("id = ?", id).First(&u).Error
	return u, translate(err)
}

func (s *Store) GetUserBySubject(ctx context.Context, subject string) (models.User, error) {
	var u models.User
	err := s.conn(ctx).Where("external_subject_id = ?", subject).First(&u).Error
	return u, translate(err)
}

func (s *Store) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error {
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]any{
		"email":      email,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, search string, page store.Page) ([]models.User, int64, error) {
	q := s.conn(ctx).Model(&models.User{})
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + escapeLike(search) + "%"
		q = q.Where("email ILIKE ? OR display_name ILIKE ? OR external_subject_id ILIKE ?", like, like, like)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var users []models.User
	if err := paginate(q, page).Order("created_at DESC, id").Find(&users).Error; err != nil {
		return nil, 0, translate(err)
	}
	return users, total, nil
}

// Ledger

func (s *Store) AppendRecord(ctx context.Context, rec *models.EntitlementRecord) error {
	return translate(s.conn(ctx).Create(rec).Error)
}

func (s *Store) LatestRecords(ctx context.Context, userID uuid.UUID) ([]models.EntitlementRecord, error) {
	var recs []models.EntitlementRecord
	err := s.conn(ctx).Raw(
		`SELECT DISTINCT ON (source) * FROM entitlement_records WHERE user_id = ? ORDER BY source, id DESC`,
		userID,
	).Scan(&recs).Error
	if err != nil {
		return nil, translate(err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (s *Store) ListRecords(ctx context.Context, userID uuid.UUID) ([]models.EntitlementRecord, error) {
	var recs []models.EntitlementRecord
	err := s.conn(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&recs).Error
	return recs, translate(err)
}

func (s *Store) HasRecordReference(ctx context.Context, userID uuid.UUID, source, reference string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.EntitlementRecord{}).
		Where("user_id = ? AND source = ? AND reference = ?", userID, source, reference).
		Count(&n).Error
	return n > 0, translate(err)
}

// Roles

func (s *Store) GetModRole(ctx context.Context, userID uuid.UUID) (models.ModRole, error) {
	var r models.ModRole
	err := s.conn(ctx).Where("user_id = ?", userID).First(&r).Error
	return r, translate(err)
}

func (s *Store) UpsertModRole(ctx context.Context, role *models.ModRole) error {
	return translate(s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "granted_by", "granted_at"}),
	}).Create(role).Error)
}

func (s *Store) DeleteModRole(ctx context.Context, userID uuid.UUID) error {
	res := s.conn(ctx).Where("user_id = ?", userID).Delete(&models.ModRole{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Audit

func (s *Store) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	return translate(s.conn(ctx).Create(e).Error)
}

func (s *Store) ListAudit(ctx context.Context, f store.AuditFilter, page store.Page) ([]models.AuditLogEntry, int64, error) {
	q := s.conn(ctx).Model(&models.AuditLogEntry{})
	if len(f.Actions) > 0 {
		q = q.Where("action IN ?", f.Actions)
	}
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if f.TargetUserID != nil {
		q = q.Where("target_user_id = ?", *f.TargetUserID)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Before != nil {
		q = q.Where("created_at < ?", *f.Before)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	order := "id DESC"
	if f.Ascending {
		order = "id ASC"
	}
	var entries []models.AuditLogEntry
	if err := paginate(q, page).Order(order).Find(&entries).Error; err != nil {
		return nil, 0, translate(err)
	}
	return entries, total, nil
}

func (s *Store) LatestAuditTime(ctx context.Context, actorID uuid.UUID) (time.Time, error) {
	var latest sql.NullTime
	err := s.conn(ctx).Model(&models.AuditLogEntry{}).
		Select("MAX(created_at)").
		Where("actor_id = ?", actorID).
		Row().Scan(&latest)
	if err != nil {
		return time.Time{}, translate(err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// Payments

func (s *Store) CreateSubscriptionLink(ctx context.Context, link *models.SubscriptionLink) error {
	return translate(s.conn(ctx).Create(link).Error)
}

func (s *Store) GetSubscriptionLink(ctx context.Context, subscriptionID string) (models.SubscriptionLink, error) {
	var l models.SubscriptionLink
	err := s.conn(ctx).Where("subscription_id = ?", subscriptionID).First(&l).Error
	return l, translate(err)
}

func (s *Store) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.ProcessedEvent{}).Where("event_id = ?", eventID).Count(&n).Error
	return n > 0, translate(err)
}

func (s *Store) MarkEventProcessed(ctx context.Context, ev *models.ProcessedEvent) error {
	return translate(s.conn(ctx).Create(ev).Error)
}

// Codes

func (s *Store) CreatePremiumCode(ctx context.Context, code *models.PremiumCode) error {
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	return translate(s.conn(ctx).Create(code).Error)
}

func (s *Store) ListRedeemableCodes(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PremiumCode, error) {
	var codes []models.PremiumCode
	err := s.conn(ctx).
		Where("user_id = ? AND redeemed_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at ASC").
		Find(&codes).Error
	return codes, translate(err)
}

func (s *Store) MarkCodeRedeemed(ctx context.Context, codeID uuid.UUID, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.PremiumCode{}).
		Where("id = ? AND redeemed_at IS NULL", codeID).
		Update("redeemed_at", at)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Notifications

func (s *Store) CreateGrantNotification(ctx context.Context, n *models.GrantNotification) error {
	return translate(s.conn(ctx).Create(n).Error)
}

func (s *Store) AcknowledgeGrantNotification(ctx context.Context, userID uuid.UUID, at time.Time) (models.GrantNotification, error) {
	var n models.GrantNotification
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("user_id = ? AND acknowledged_at IS NULL", userID).
			Order("id ASC").
			First(&n).Error
		if err != nil {
			return err
		}
		n.AcknowledgedAt = &at
		return tx.Model(&models.GrantNotification{}).Where("id = ?", n.ID).Update("acknowledged_at", at).Error
	})
	if err != nil {
		return models.GrantNotification{}, translate(err)
	}
	return n, nil
}

func paginate(q *gorm.DB, page store.Page) *gorm.DB {
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
