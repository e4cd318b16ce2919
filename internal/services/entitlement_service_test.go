package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/memstore"
)

func TestCurrent_FailsSafeToInactive(t *testing.T) {
	mem := memstore.New()
	userID := uuid.New()
	require.NoError(t, mem.AppendRecord(context.Background(), &models.EntitlementRecord{
		UserID: userID, Source: string(entitlement.SourceManualOverride), Reason: "vip",
	}))

	svc := NewEntitlementService(brokenLedger{mem}, nil)
	errorsBefore := testutil.ToFloat64(metrics.Resolutions.WithLabelValues("error"))

	assert.Equal(t, entitlement.Inactive, svc.Current(context.Background(), userID))
	assert.Equal(t, errorsBefore+1, testutil.ToFloat64(metrics.Resolutions.WithLabelValues("error")))

	_, err := svc.Resolve(context.Background(), userID)
	assert.Error(t, err)
}

func TestCurrent_Deterministic(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, "steady")
	require.NoError(t, h.st.AppendRecord(context.Background(), &models.EntitlementRecord{
		UserID: u.ID, Source: string(entitlement.SourceProviderSubscription), Reference: "sub",
		ValidUntil: ptrTime(h.clock.Now().Add(5 * 24 * time.Hour)),
	}))

	first, err := h.ent.Resolve(context.Background(), u.ID)
	require.NoError(t, err)
	second, err := h.ent.Resolve(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCurrent_CachesUntilInvalidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "cached")

	assert.False(t, h.ent.Current(ctx, u.ID).Active)

	// Written behind the service's back: the cached value still answers.
	require.NoError(t, h.st.AppendRecord(ctx, &models.EntitlementRecord{
		UserID: u.ID, Source: string(entitlement.SourceManualOverride), Reason: "direct",
	}))
	assert.False(t, h.ent.Current(ctx, u.ID).Active)

	h.ent.Invalidate(u.ID)
	assert.True(t, h.ent.Current(ctx, u.ID).Active)
}

func ptrTime(t time.Time) *time.Time { return &t }
