package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

// EntitlementService answers "is this user premium, until when" for read paths.
type EntitlementService struct {
	ledger store.Ledger
	cache  *entitlement.Cache
	now    func() time.Time
}

func NewEntitlementService(ledger store.Ledger, cache *entitlement.Cache) *EntitlementService {
	return &EntitlementService{ledger: ledger, cache: cache, now: utcNow}
}

// Resolve reads the ledger and resolves the current status. It bypasses the cache.
func (s *EntitlementService) Resolve(ctx context.Context, userID uuid.UUID) (entitlement.Status, error) {
	recs, err := s.ledger.LatestRecords(ctx, userID)
	if err != nil {
		return entitlement.Inactive, apperr.Internal("load entitlement records", err)
	}
	return entitlement.Resolve(recs, s.now()), nil
}

// Current is the end-user read path. Failures resolve to inactive and are never surfaced.
func (s *EntitlementService) Current(ctx context.Context, userID uuid.UUID) entitlement.Status {
	if st, ok := s.cache.Get(userID, s.now()); ok {
		return st
	}

	st, err := s.Resolve(ctx, userID)
	if err != nil {
		metrics.Resolutions.WithLabelValues("error").Inc()
		slog.Error("entitlement resolution failed", "user_id", userID.String(), "error", err)
		return entitlement.Inactive
	}

	if st.Active {
		metrics.Resolutions.WithLabelValues("active").Inc()
	} else {
		metrics.Resolutions.WithLabelValues("inactive").Inc()
	}
	s.cache.Put(userID, st)
	return st
}

// Invalidate drops the cached status after a ledger write for the user.
func (s *EntitlementService) Invalidate(userID uuid.UUID) {
	s.cache.Invalidate(userID)
}
