package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

func TestRedeemCode_GlobalOncePerUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user(t, "redeemer-a")
	b := h.user(t, "redeemer-b")

	res, err := h.mod.RedeemCode(ctx, a.ID, " launch2026 ")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.NotNil(t, res.Until)
	assert.True(t, res.Until.Equal(h.clock.Now().Add(365*24*time.Hour)))

	res, err = h.mod.RedeemCode(ctx, a.ID, "LAUNCH2026")
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = h.mod.RedeemCode(ctx, b.ID, "LAUNCH2026")
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	recs := h.records(t, a.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, string(entitlement.SourceRedeemableCode), recs[0].Source)
	assert.Equal(t, "global:LAUNCH2026", recs[0].Reference)

	// Self-service redemption is not a moderation action.
	assert.Empty(t, h.audit(t, store.AuditFilter{}))
}

func TestRedeemCode_UnknownCodeDeclined(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, "guesser")

	res, err := h.mod.RedeemCode(context.Background(), u.ID, "NOT-A-CODE")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Until)
	assert.Empty(t, h.records(t, u.ID))
}

func TestRedeemCode_Malformed(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, "typo")

	for _, code := range []string{"", "  ", "AB", "-LEADINGDASH", "HAS SPACE", "emoji🙂", string(make([]byte, 65))} {
		_, err := h.mod.RedeemCode(context.Background(), u.ID, code)
		assert.ErrorIs(t, err, apperr.ErrValidation, "code %q", code)
	}
}

func TestRedeemCode_RateLimited(t *testing.T) {
	h := newHarnessWith(t, nil, RedeemConfig{AttemptsPerMinute: 3})
	ctx := context.Background()
	u := h.user(t, "brute")
	other := h.user(t, "bystander")

	for i := 0; i < 3; i++ {
		res, err := h.mod.RedeemCode(ctx, u.ID, "WRONG-CODE")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
	}
	_, err := h.mod.RedeemCode(ctx, u.ID, "WRONG-CODE")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	_, err = h.mod.RedeemCode(ctx, other.ID, "WRONG-CODE")
	assert.NoError(t, err, "limits are per user")
}

var issuedCodeShape = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

func TestIssueCode_SingleUseForTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mod := h.moderator(t, privilege.RoleFull)
	target := h.user(t, "winner")
	other := h.user(t, "someone-else")

	issued, err := h.mod.IssueCode(ctx, mod, target.ID, "contest prize")
	require.NoError(t, err)
	assert.Regexp(t, issuedCodeShape, issued.Code)
	assert.True(t, issued.ExpiresAt.Equal(h.clock.Now().Add(30*24*time.Hour)))

	entries := h.audit(t, store.AuditFilter{Actions: []string{AuditIssuePremiumCode}})
	require.Len(t, entries, 1)
	assert.NotContains(t, string(entries[0].Details), issued.Code)

	res, err := h.mod.RedeemCode(ctx, other.ID, issued.Code)
	require.NoError(t, err)
	assert.False(t, res.Accepted, "codes are bound to their target")

	res, err = h.mod.RedeemCode(ctx, target.ID, issued.Code)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, h.ent.Current(ctx, target.ID).Active)

	res, err = h.mod.RedeemCode(ctx, target.ID, issued.Code)
	require.NoError(t, err)
	assert.False(t, res.Accepted, "codes are single use")
}

func TestIssueCode_Expires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mod := h.moderator(t, privilege.RoleFull)
	target := h.user(t, "late")

	issued, err := h.mod.IssueCode(ctx, mod, target.ID, "apology")
	require.NoError(t, err)

	h.clock.Advance(31 * 24 * time.Hour)
	res, err := h.mod.RedeemCode(ctx, target.ID, issued.Code)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestIssueCode_RequiresCapability(t *testing.T) {
	h := newHarness(t)
	readOnly := h.moderator(t, privilege.RoleReadOnly)
	target := h.user(t, "hopeful")

	_, err := h.mod.IssueCode(context.Background(), readOnly, target.ID, "please")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestGenerateCode_Shape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		c, err := generateCode()
		require.NoError(t, err)
		assert.Regexp(t, issuedCodeShape, c)
		assert.Regexp(t, codePattern, c)
		seen[c] = true
	}
	assert.Len(t, seen, 50)
}
