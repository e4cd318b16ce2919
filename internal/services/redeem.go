package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

const (
	issuedCodeLifetime = 30 * 24 * time.Hour
	codeAlphabet       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	limiterIdleTTL     = 10 * time.Minute
	limiterCapacity    = 100000
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,63}$`)

// errDeclined aborts a redemption unit without writing anything.
var errDeclined = errors.New("code declined")

type RedeemResult struct {
	Accepted bool
	Until    *time.Time
}

type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

type redeemer struct {
	global   map[string]struct{}
	validity time.Duration
	limiter  *attemptLimiter
}

func newRedeemer(rc RedeemConfig) *redeemer {
	r := &redeemer{
		global:   make(map[string]struct{}, len(rc.GlobalCodes)),
		validity: rc.Validity,
		limiter:  newAttemptLimiter(rc.AttemptsPerMinute),
	}
	if r.validity <= 0 {
		r.validity = 365 * 24 * time.Hour
	}
	for _, c := range rc.GlobalCodes {
		if c = normalizeCode(c); c != "" {
			r.global[c] = struct{}{}
		}
	}
	return r
}

func (r *redeemer) isGlobal(code string) bool {
	for c := range r.global {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// attemptLimiter keeps one token bucket per user. Idle buckets age out of the LRU.
type attemptLimiter struct {
	perMinute int
	buckets   *expirable.LRU[uuid.UUID, *rate.Limiter]
}

func newAttemptLimiter(perMinute int) *attemptLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &attemptLimiter{
		perMinute: perMinute,
		buckets:   expirable.NewLRU[uuid.UUID, *rate.Limiter](limiterCapacity, nil, limiterIdleTTL),
	}
}

func (l *attemptLimiter) Allow(userID uuid.UUID) bool {
	if l == nil {
		return true
	}
	lim, ok := l.buckets.Get(userID)
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		l.buckets.Add(userID, lim)
	}
	return lim.Allow()
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RedeemCode is self-service: it writes a redeemable_code record on success and no audit entry.
// A wrong code is a declined result, not an error.
func (s *ModerationService) RedeemCode(ctx context.Context, userID uuid.UUID, code string) (RedeemResult, error) {
	res, err := s.redeemCode(ctx, userID, code)
	outcome := "declined"
	switch {
	case err != nil:
		outcome = apperr.Name(apperr.Kind(err))
	case res.Accepted:
		outcome = "accepted"
	}
	metrics.Redemptions.WithLabelValues(outcome).Inc()
	return res, err
}

func (s *ModerationService) redeemCode(ctx context.Context, userID uuid.UUID, code string) (RedeemResult, error) {
	code = normalizeCode(code)
	if !codePattern.MatchString(code) {
		return RedeemResult{}, apperr.Validation("code must be 3-64 letters, digits or dashes")
	}
	if !s.redeem.limiter.Allow(userID) {
		return RedeemResult{}, fmt.Errorf("%w: try again in a minute", apperr.ErrRateLimited)
	}

	var res RedeemResult
	err := s.store.Atomic(ctx, store.EntitlementLockKey(userID), func(tx store.Store) error {
		now := s.now()
		reference, err := s.matchCode(ctx, tx, userID, code, now)
		if err != nil {
			return err
		}

		until := now.Add(s.redeem.validity)
		rec := models.EntitlementRecord{
			UserID:     userID,
			Source:     string(entitlement.SourceRedeemableCode),
			ValidUntil: &until,
			Reference:  reference,
			CreatedAt:  now,
		}
		if err := tx.AppendRecord(ctx, &rec); err != nil {
			return err
		}
		res = RedeemResult{Accepted: true, Until: &until}
		return nil
	})
	if errors.Is(err, errDeclined) {
		return RedeemResult{Accepted: false}, nil
	}
	if err != nil {
		return RedeemResult{}, storeErr("redeem code", err)
	}
	s.entitlements.Invalidate(userID)
	return res, nil
}

// matchCode returns the ledger reference for a valid code, or errDeclined.
// Global codes are redeemable once per user; issued codes once in total.
func (s *ModerationService) matchCode(ctx context.Context, tx store.Store, userID uuid.UUID, code string, now time.Time) (string, error) {
	if s.redeem.isGlobal(code) {
		reference := "global:" + code
		used, err := tx.HasRecordReference(ctx, userID, string(entitlement.SourceRedeemableCode), reference)
		if err != nil {
			return "", err
		}
		if used {
			return "", errDeclined
		}
		return reference, nil
	}

	codes, err := tx.ListRedeemableCodes(ctx, userID, now)
	if err != nil {
		return "", err
	}
	for _, c := range codes {
		if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
			continue
		}
		marked, err := tx.MarkCodeRedeemed(ctx, c.ID, now)
		if err != nil {
			return "", err
		}
		if !marked {
			return "", errDeclined
		}
		return "code:" + c.ID.String(), nil
	}
	return "", errDeclined
}

// IssueCode creates a single-use code for target. The plaintext is returned once and only its hash is stored.
func (s *ModerationService) IssueCode(ctx context.Context, actor Actor, target uuid.UUID, reason string) (IssuedCode, error) {
	issued, err := s.issueCode(ctx, actor, target, reason)
	countAction(AuditIssuePremiumCode, err)
	return issued, err
}

func (s *ModerationService) issueCode(ctx context.Context, actor Actor, target uuid.UUID, reason string) (IssuedCode, error) {
	if _, err := s.gate.Check(ctx, actor.UserID, privilege.IssuePremiumCode); err != nil {
		return IssuedCode{}, err
	}
	reason, err := s.cleanReason(reason)
	if err != nil {
		return IssuedCode{}, err
	}
	if err := s.requireUser(ctx, target); err != nil {
		return IssuedCode{}, err
	}

	plain, err := generateCode()
	if err != nil {
		return IssuedCode{}, apperr.Internal("generate code", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return IssuedCode{}, apperr.Internal("hash code", err)
	}

	var issued IssuedCode
	err = s.atomic(ctx, "issue code", "", func(tx store.Store, now time.Time) error {
		code := models.PremiumCode{
			ID:        uuid.New(),
			UserID:    target,
			CodeHash:  string(hash),
			IssuedBy:  actor.UserID,
			ExpiresAt: now.Add(issuedCodeLifetime),
			CreatedAt: now,
		}
		if err := tx.CreatePremiumCode(ctx, &code); err != nil {
			return err
		}
		if _, err := appendAudit(ctx, tx, now, auditEntry{
			actor:   actor,
			target:  &target,
			action:  AuditIssuePremiumCode,
			details: map[string]any{"code_id": code.ID, "expires_at": code.ExpiresAt},
			reason:  reason,
		}); err != nil {
			return err
		}
		issued = IssuedCode{Code: plain, ExpiresAt: code.ExpiresAt}
		return nil
	})
	if err != nil {
		return IssuedCode{}, err
	}
	return issued, nil
}

// generateCode returns a code like "K7QM-3XWD-9PRA".
func generateCode() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, v := range buf {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeAlphabet[int(v)%len(codeAlphabet)])
	}
	return b.String(), nil
}
