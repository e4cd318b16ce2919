package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

const (
	maxReasonLen     = 1000
	maxGrantDays     = 36500
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// ModerationService is the only writer of manual overrides and audit entries.
// Every operation re-checks the caller's role through the gate before touching data.
type ModerationService struct {
	store        store.Store
	gate         *privilege.Gate
	entitlements *EntitlementService
	sanitizer    *bluemonday.Policy
	redeem       *redeemer
	now          func() time.Time
}

type RedeemConfig struct {
	GlobalCodes       []string
	Validity          time.Duration
	AttemptsPerMinute int
}

func NewModerationService(st store.Store, gate *privilege.Gate, entitlements *EntitlementService, rc RedeemConfig) *ModerationService {
	return &ModerationService{
		store:        st,
		gate:         gate,
		entitlements: entitlements,
		sanitizer:    bluemonday.StrictPolicy(),
		redeem:       newRedeemer(rc),
		now:          utcNow,
	}
}

type GrantResult struct {
	Until  *time.Time
	Status entitlement.Status
}

type UserSummary struct {
	User   models.User
	Status entitlement.Status
	Role   privilege.Role
}

type UserActivity struct {
	User     models.User
	Status   entitlement.Status
	Timeline []models.EntitlementRecord
}

type PremiumHistory struct {
	Records      []models.EntitlementRecord
	AuditEntries []models.AuditLogEntry
}

type AuditQuery struct {
	Actions      []string
	ActorID      *uuid.UUID
	TargetUserID *uuid.UUID
	Since        *time.Time
	Before       *time.Time
}

type Page struct {
	Limit  int
	Offset int
}

// ModStatus is advisory: clients may use it to shape UI, never to authorize.
type ModStatus struct {
	IsModerator  bool
	Role         privilege.Role
	Capabilities []privilege.Action
}

func (s *ModerationService) GrantPremium(ctx context.Context, actor Actor, target uuid.UUID, durationDays *int, reason string) (GrantResult, error) {
	res, err := s.grantPremium(ctx, actor, target, durationDays, reason)
	countAction(AuditGrantPremium, err)
	return res, err
}

func (s *ModerationService) grantPremium(ctx context.Context, actor Actor, target uuid.UUID, durationDays *int, reason string) (GrantResult, error) {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.GrantPremium); err != nil {
		return GrantResult{}, err
	}
	reason, err := s.cleanReason(reason)
	if err != nil {
		return GrantResult{}, err
	}
	if durationDays != nil && (*durationDays <= 0 || *durationDays > maxGrantDays) {
		return GrantResult{}, apperr.Validation("duration_days must be between 1 and %d", maxGrantDays)
	}
	if err := s.requireUser(ctx, target); err != nil {
		return GrantResult{}, err
	}

	var res GrantResult
	err = s.atomic(ctx, "grant premium", store.EntitlementLockKey(target), func(tx store.Store, now time.Time) error {
		recs, err := tx.LatestRecords(ctx, target)
		if err != nil {
			return err
		}
		before := entitlement.Resolve(recs, now)

		rec := models.EntitlementRecord{
			UserID:    target,
			Source:    string(entitlement.SourceManualOverride),
			GrantedBy: &actor.UserID,
			Reason:    reason,
			CreatedAt: now,
		}
		if durationDays != nil {
			until := now.AddDate(0, 0, *durationDays)
			rec.ValidUntil = &until
		}
		if err := tx.AppendRecord(ctx, &rec); err != nil {
			return err
		}
		after := entitlement.Resolve(append(recs, rec), now)

		if _, err := appendAudit(ctx, tx, now, auditEntry{
			actor:   actor,
			target:  &target,
			action:  AuditGrantPremium,
			before:  before,
			after:   after,
			details: map[string]any{"record_id": rec.ID, "duration_days": durationDays, "until": rec.ValidUntil},
			reason:  reason,
		}); err != nil {
			return err
		}

		if err := tx.CreateGrantNotification(ctx, &models.GrantNotification{
			UserID:       target,
			RecordID:     rec.ID,
			DurationDays: durationDays,
			Note:         reason,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		res = GrantResult{Until: rec.ValidUntil, Status: after}
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}
	s.entitlements.Invalidate(target)
	return res, nil
}

// RevokePremium ends the live manual or code grant for target. A live provider subscription cannot be revoked.
func (s *ModerationService) RevokePremium(ctx context.Context, actor Actor, target uuid.UUID, reason string) (entitlement.Status, error) {
	st, err := s.revokePremium(ctx, actor, target, reason)
	countAction(AuditRevokePremium, err)
	return st, err
}

func (s *ModerationService) revokePremium(ctx context.Context, actor Actor, target uuid.UUID, reason string) (entitlement.Status, error) {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.RevokePremium); err != nil {
		return entitlement.Inactive, err
	}
	reason, err := s.cleanReason(reason)
	if err != nil {
		return entitlement.Inactive, err
	}
	if err := s.requireUser(ctx, target); err != nil {
		return entitlement.Inactive, err
	}

	var after entitlement.Status
	err = s.atomic(ctx, "revoke premium", store.EntitlementLockKey(target), func(tx store.Store, now time.Time) error {
		recs, err := tx.LatestRecords(ctx, target)
		if err != nil {
			return err
		}
		before := entitlement.Resolve(recs, now)
		if before.Source == entitlement.SourceProviderSubscription {
			return fmt.Errorf("%w: premium comes from an active paid subscription; the user must cancel it with the payment provider",
				apperr.ErrForbiddenRevocation)
		}

		source := entitlement.SourceManualOverride
		if before.Source == entitlement.SourceRedeemableCode {
			source = entitlement.SourceRedeemableCode
		}
		until := now
		rec := models.EntitlementRecord{
			UserID:     target,
			Source:     string(source),
			ValidUntil: &until,
			GrantedBy:  &actor.UserID,
			Reason:     reason,
			CreatedAt:  now,
		}
		if err := tx.AppendRecord(ctx, &rec); err != nil {
			return err
		}
		after = entitlement.Resolve(append(recs, rec), now)

		_, err = appendAudit(ctx, tx, now, auditEntry{
			actor:   actor,
			target:  &target,
			action:  AuditRevokePremium,
			before:  before,
			after:   after,
			details: map[string]any{"record_id": rec.ID, "source": source},
			reason:  reason,
		})
		return err
	})
	if err != nil {
		return entitlement.Inactive, err
	}
	s.entitlements.Invalidate(target)
	return after, nil
}

// ListAuditLog is itself not recorded. Network origins are hidden from read-only moderators.
func (s *ModerationService) ListAuditLog(ctx context.Context, actor Actor, q AuditQuery, page Page) ([]models.AuditLogEntry, int64, error) {
	role, err := s.gate.Check(ctx, actor.UserID, privilege.ViewAuditLog)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range q.Actions {
		if !ValidAuditAction(a) {
			return nil, 0, apperr.Validation("unknown audit action %q", a)
		}
	}
	if q.Since != nil && q.Before != nil && !q.Since.Before(*q.Before) {
		return nil, 0, apperr.Validation("since must be before before")
	}

	var (
		entries []models.AuditLogEntry
		total   int64
	)
	// The page is read before the view is recorded, so a listing never contains its own entry.
	err = s.atomic(ctx, "list audit log", "", func(tx store.Store, now time.Time) error {
		var err error
		entries, total, err = tx.ListAudit(ctx, store.AuditFilter{
			Actions:      q.Actions,
			ActorID:      q.ActorID,
			TargetUserID: q.TargetUserID,
			Since:        q.Since,
			Before:       q.Before,
		}, normalizePage(page))
		if err != nil {
			return err
		}
		_, err = appendAudit(ctx, tx, now, auditEntry{
			actor:   actor,
			action:  AuditViewAuditLog,
			details: auditQueryDetails(q, total),
		})
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	countAction(AuditViewAuditLog, nil)
	return redactFor(role, entries), total, nil
}

func auditQueryDetails(q AuditQuery, total int64) map[string]any {
	d := map[string]any{"matched": total}
	if len(q.Actions) > 0 {
		d["actions"] = q.Actions
	}
	if q.ActorID != nil {
		d["actor_id"] = q.ActorID.String()
	}
	if q.TargetUserID != nil {
		d["target_user_id"] = q.TargetUserID.String()
	}
	if q.Since != nil {
		d["since"] = q.Since.UTC()
	}
	if q.Before != nil {
		d["before"] = q.Before.UTC()
	}
	return d
}

// GetPremiumHistory returns the target's ledger and the audit entries that changed it, and records the view.
func (s *ModerationService) GetPremiumHistory(ctx context.Context, actor Actor, target uuid.UUID) (PremiumHistory, error) {
	role, err := s.gate.Check(ctx, actor.UserID, privilege.ViewPremiumHistory)
	if err != nil {
		return PremiumHistory{}, err
	}
	if err := s.requireUser(ctx, target); err != nil {
		return PremiumHistory{}, err
	}

	var hist PremiumHistory
	err = s.atomic(ctx, "premium history", "", func(tx store.Store, now time.Time) error {
		recs, err := tx.ListRecords(ctx, target)
		if err != nil {
			return err
		}
		entries, _, err := tx.ListAudit(ctx, store.AuditFilter{
			Actions:      []string{AuditGrantPremium, AuditRevokePremium, AuditIssuePremiumCode},
			TargetUserID: &target,
			Ascending:    true,
		}, store.Page{})
		if err != nil {
			return err
		}
		if _, err := appendAudit(ctx, tx, now, auditEntry{
			actor:   actor,
			target:  &target,
			action:  AuditViewPremiumHistory,
			details: map[string]any{"records": len(recs), "audit_entries": len(entries)},
		}); err != nil {
			return err
		}
		hist = PremiumHistory{Records: nonNil(recs), AuditEntries: redactFor(role, entries)}
		return nil
	})
	if err != nil {
		return PremiumHistory{}, err
	}
	countAction(AuditViewPremiumHistory, nil)
	return hist, nil
}

// GetUserActivity returns the target's full entitlement timeline and records the view.
func (s *ModerationService) GetUserActivity(ctx context.Context, actor Actor, target uuid.UUID) (UserActivity, error) {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.ViewUserActivity); err != nil {
		return UserActivity{}, err
	}
	u, err := s.loadUser(ctx, target)
	if err != nil {
		return UserActivity{}, err
	}

	var act UserActivity
	err = s.atomic(ctx, "user activity", "", func(tx store.Store, now time.Time) error {
		recs, err := tx.ListRecords(ctx, target)
		if err != nil {
			return err
		}
		if _, err := appendAudit(ctx, tx, now, auditEntry{
			actor:   actor,
			target:  &target,
			action:  AuditViewUserActivity,
			details: map[string]any{"records": len(recs)},
		}); err != nil {
			return err
		}
		act = UserActivity{User: u, Status: entitlement.Resolve(recs, now), Timeline: nonNil(recs)}
		return nil
	})
	if err != nil {
		return UserActivity{}, err
	}
	countAction(AuditViewUserActivity, nil)
	return act, nil
}

func (s *ModerationService) ListUsers(ctx context.Context, actor Actor, search string, page Page) ([]UserSummary, int64, error) {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.ViewUsers); err != nil {
		return nil, 0, err
	}
	users, total, err := s.store.ListUsers(ctx, strings.TrimSpace(search), normalizePage(page))
	if err != nil {
		return nil, 0, apperr.Internal("list users", err)
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		sum, err := s.summarize(ctx, u)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sum)
	}
	return out, total, nil
}

func (s *ModerationService) GetUserDetail(ctx context.Context, actor Actor, target uuid.UUID) (UserSummary, error) {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.ViewUserDetail); err != nil {
		return UserSummary{}, err
	}
	u, err := s.loadUser(ctx, target)
	if err != nil {
		return UserSummary{}, err
	}
	return s.summarize(ctx, u)
}

func (s *ModerationService) summarize(ctx context.Context, u models.User) (UserSummary, error) {
	st, err := s.entitlements.Resolve(ctx, u.ID)
	if err != nil {
		return UserSummary{}, err
	}
	role, err := s.gate.Role(ctx, u.ID)
	if err != nil {
		return UserSummary{}, err
	}
	return UserSummary{User: u, Status: st, Role: role}, nil
}

// SetModRole grants or changes target's moderator role. Super admins cannot change their own role.
func (s *ModerationService) SetModRole(ctx context.Context, actor Actor, target uuid.UUID, role privilege.Role, reason string) error {
	err := s.setModRole(ctx, actor, target, role, reason)
	countAction(AuditGrantModRole, err)
	return err
}

func (s *ModerationService) setModRole(ctx context.Context, actor Actor, target uuid.UUID, role privilege.Role, reason string) error {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.ManageModRoles); err != nil {
		return err
	}
	reason, err := s.cleanReason(reason)
	if err != nil {
		return err
	}
	if !role.Valid() {
		return apperr.Validation("role must be read_only, full or super_admin")
	}
	if target == actor.UserID {
		return apperr.Validation("moderators cannot change their own role")
	}
	if err := s.requireUser(ctx, target); err != nil {
		return err
	}

	return s.atomic(ctx, "set mod role", "modrole:"+target.String(), func(tx store.Store, now time.Time) error {
		before, err := currentRole(ctx, tx, target)
		if err != nil {
			return err
		}
		if err := tx.UpsertModRole(ctx, &models.ModRole{
			UserID:    target,
			Role:      string(role),
			GrantedBy: &actor.UserID,
			GrantedAt: now,
		}); err != nil {
			return err
		}
		_, err = appendAudit(ctx, tx, now, auditEntry{
			actor:  actor,
			target: &target,
			action: AuditGrantModRole,
			before: map[string]any{"role": before},
			after:  map[string]any{"role": role},
			reason: reason,
		})
		return err
	})
}

func (s *ModerationService) RemoveModRole(ctx context.Context, actor Actor, target uuid.UUID, reason string) error {
	err := s.removeModRole(ctx, actor, target, reason)
	countAction(AuditRevokeModRole, err)
	return err
}

func (s *ModerationService) removeModRole(ctx context.Context, actor Actor, target uuid.UUID, reason string) error {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.ManageModRoles); err != nil {
		return err
	}
	reason, err := s.cleanReason(reason)
	if err != nil {
		return err
	}
	if target == actor.UserID {
		return apperr.Validation("moderators cannot change their own role")
	}
	if err := s.requireUser(ctx, target); err != nil {
		return err
	}

	return s.atomic(ctx, "remove mod role", "modrole:"+target.String(), func(tx store.Store, now time.Time) error {
		before, err := currentRole(ctx, tx, target)
		if err != nil {
			return err
		}
		if before == nil {
			return apperr.NotFound("mod role")
		}
		if err := tx.DeleteModRole(ctx, target); err != nil {
			return err
		}
		_, err = appendAudit(ctx, tx, now, auditEntry{
			actor:  actor,
			target: &target,
			action: AuditRevokeModRole,
			before: map[string]any{"role": before},
			after:  map[string]any{"role": nil},
			reason: reason,
		})
		return err
	})
}

// BootstrapSuperAdmin makes target a super admin without a gate check. Operators run it from the
// command line to seed the first moderator; it is not reachable over HTTP.
func (s *ModerationService) BootstrapSuperAdmin(ctx context.Context, target uuid.UUID, reason string) error {
	reason, err := s.cleanReason(reason)
	if err != nil {
		return err
	}
	if err := s.requireUser(ctx, target); err != nil {
		return err
	}

	return s.atomic(ctx, "bootstrap super admin", "modrole:"+target.String(), func(tx store.Store, now time.Time) error {
		before, err := currentRole(ctx, tx, target)
		if err != nil {
			return err
		}
		if before != nil && *before == string(privilege.RoleSuperAdmin) {
			return fmt.Errorf("%w: user is already a super admin", apperr.ErrConflict)
		}
		if err := tx.UpsertModRole(ctx, &models.ModRole{
			UserID:    target,
			Role:      string(privilege.RoleSuperAdmin),
			GrantedAt: now,
		}); err != nil {
			return err
		}
		_, err = appendAudit(ctx, tx, now, auditEntry{
			actor:   Actor{UserID: target},
			target:  &target,
			action:  AuditGrantModRole,
			before:  map[string]any{"role": before},
			after:   map[string]any{"role": privilege.RoleSuperAdmin},
			details: map[string]any{"bootstrap": true},
			reason:  reason,
		})
		return err
	})
}

// DeleteAuditEntry exists so the capability can be asked for. Audit entries are immutable for every role.
func (s *ModerationService) DeleteAuditEntry(ctx context.Context, actor Actor, entryID int64) error {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.DeleteAuditEntry); err != nil {
		return err
	}
	return fmt.Errorf("%w: audit entry %d is immutable", apperr.ErrAuthorization, entryID)
}

func (s *ModerationService) CheckStatus(ctx context.Context, userID uuid.UUID) (ModStatus, error) {
	role, err := s.gate.Role(ctx, userID)
	if err != nil {
		return ModStatus{}, err
	}
	st := ModStatus{IsModerator: role != "", Role: role, Capabilities: []privilege.Action{}}
	for _, a := range []privilege.Action{
		privilege.ViewUsers, privilege.ViewUserDetail, privilege.ViewUserActivity, privilege.ViewAuditLog,
		privilege.ViewPremiumHistory, privilege.GrantPremium, privilege.RevokePremium, privilege.IssuePremiumCode,
		privilege.ManageModRoles,
	} {
		if privilege.Allowed(role, a) {
			st.Capabilities = append(st.Capabilities, a)
		}
	}
	return st, nil
}

// PendingGrantNotification returns and acknowledges the user's oldest unread grant notice, or nil.
func (s *ModerationService) PendingGrantNotification(ctx context.Context, userID uuid.UUID) (*models.GrantNotification, error) {
	n, err := s.store.AcknowledgeGrantNotification(ctx, userID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("acknowledge grant notification", err)
	}
	return &n, nil
}

// atomic runs fn as one unit and retries once when the backend reports a write conflict.
func (s *ModerationService) atomic(ctx context.Context, op, lockKey string, fn func(tx store.Store, now time.Time) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.store.Atomic(ctx, lockKey, func(tx store.Store) error {
			return fn(tx, s.now())
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	return storeErr(op, err)
}

func (s *ModerationService) cleanReason(reason string) (string, error) {
	reason = strings.TrimSpace(s.sanitizer.Sanitize(reason))
	if reason == "" {
		return "", apperr.Validation("reason is required")
	}
	if len([]rune(reason)) > maxReasonLen {
		return "", apperr.Validation("reason must be at most %d characters", maxReasonLen)
	}
	return reason, nil
}

func (s *ModerationService) loadUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, apperr.NotFound("user")
	}
	if err != nil {
		return models.User{}, apperr.Internal("load user", err)
	}
	return u, nil
}

func (s *ModerationService) requireUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.loadUser(ctx, id)
	return err
}

func currentRole(ctx context.Context, tx store.Roles, userID uuid.UUID) (*string, error) {
	r, err := tx.GetModRole(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r.Role, nil
}

func redactFor(role privilege.Role, entries []models.AuditLogEntry) []models.AuditLogEntry {
	out := make([]models.AuditLogEntry, len(entries))
	copy(out, entries)
	if role == privilege.RoleReadOnly {
		for i := range out {
			out[i].NetworkOrigin = nil
		}
	}
	return out
}

func normalizePage(p Page) store.Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return store.Page{Limit: p.Limit, Offset: p.Offset}
}

// PageFor turns a 1-based page number and a requested size into a normalized Page.
func PageFor(page, limit int) Page {
	p := normalizePage(Page{Limit: limit})
	if page < 1 {
		page = 1
	}
	return Page{Limit: p.Limit, Offset: (page - 1) * p.Limit}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func countAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.Name(apperr.Kind(err))
	}
	metrics.ModerationActions.WithLabelValues(action, result).Inc()
}
