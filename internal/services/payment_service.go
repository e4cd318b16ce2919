package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

type PaymentEventType string

const (
	SubscriptionCreated   PaymentEventType = "subscription_created"
	SubscriptionRenewed   PaymentEventType = "subscription_renewed"
	SubscriptionCancelled PaymentEventType = "subscription_cancelled"
)

// PaymentEvent is a terminal provider notification, already verified and decoded by a provider adapter.
type PaymentEvent struct {
	ID             string
	Provider       string
	Type           PaymentEventType
	SubscriptionID string
	PeriodEnd      *time.Time
}

// errAlreadyApplied aborts a replayed event's unit without writing anything.
var errAlreadyApplied = errors.New("event already applied")

// PaymentService is the only writer of provider_subscription records.
type PaymentService struct {
	store        store.Store
	entitlements *EntitlementService
	now          func() time.Time
}

func NewPaymentService(st store.Store, entitlements *EntitlementService) *PaymentService {
	return &PaymentService{store: st, entitlements: entitlements, now: utcNow}
}

// Apply appends the ledger record for ev. It reports false when ev was applied before; replays write nothing.
func (s *PaymentService) Apply(ctx context.Context, ev PaymentEvent) (bool, error) {
	applied, err := s.apply(ctx, ev)
	result := "applied"
	switch {
	case err != nil:
		result = apperr.Name(apperr.Kind(err))
	case !applied:
		result = "duplicate"
	}
	metrics.PaymentEvents.WithLabelValues(string(ev.Type), result).Inc()
	return applied, err
}

func (s *PaymentService) apply(ctx context.Context, ev PaymentEvent) (bool, error) {
	if err := validateEvent(ev); err != nil {
		return false, err
	}

	link, err := s.store.GetSubscriptionLink(ctx, ev.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, apperr.NotFound("subscription " + ev.SubscriptionID)
	}
	if err != nil {
		return false, apperr.Internal("load subscription link", err)
	}
	userID := link.UserID

	err = s.store.Atomic(ctx, store.EntitlementLockKey(userID), func(tx store.Store) error {
		done, err := tx.EventProcessed(ctx, ev.ID)
		if err != nil {
			return err
		}
		if done {
			return errAlreadyApplied
		}

		now := s.now()
		until, err := s.untilFor(ctx, tx, userID, ev, now)
		if err != nil {
			return err
		}
		if err := tx.AppendRecord(ctx, &models.EntitlementRecord{
			UserID:     userID,
			Source:     string(entitlement.SourceProviderSubscription),
			ValidUntil: until,
			Reference:  ev.SubscriptionID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		return tx.MarkEventProcessed(ctx, &models.ProcessedEvent{
			EventID:   ev.ID,
			Provider:  ev.Provider,
			EventType: string(ev.Type),
			UserID:    userID,
			AppliedAt: now,
		})
	})
	// A concurrent delivery of the same event loses on the processed_events key.
	if errors.Is(err, errAlreadyApplied) || errors.Is(err, store.ErrDuplicate) {
		slog.Info("payment event already applied", "event_id", ev.ID, "type", string(ev.Type))
		return false, nil
	}
	if err != nil {
		return false, storeErr("apply payment event", err)
	}
	s.entitlements.Invalidate(userID)
	return true, nil
}

// untilFor computes the new provider record's expiry. Paid time already confirmed is never taken back:
// created and renewed events extend to the later of their period end and the latest provider expiry, so a
// late delivery for an older period changes nothing. A cancellation ends at the later of now and the latest
// provider expiry; an unbounded provider grant ends now.
func (s *PaymentService) untilFor(ctx context.Context, tx store.Ledger, userID uuid.UUID, ev PaymentEvent, now time.Time) (*time.Time, error) {
	recs, err := tx.LatestRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	var paid *time.Time
	if rec, ok := entitlement.Latest(recs)[entitlement.SourceProviderSubscription]; ok && rec.ValidUntil != nil {
		paid = rec.ValidUntil
	}

	until := now
	if ev.Type != SubscriptionCancelled {
		until = ev.PeriodEnd.UTC()
	}
	if paid != nil && paid.After(until) {
		until = paid.UTC()
	}
	return &until, nil
}

func validateEvent(ev PaymentEvent) error {
	if strings.TrimSpace(ev.ID) == "" {
		return apperr.Validation("event id is required")
	}
	if strings.TrimSpace(ev.SubscriptionID) == "" {
		return apperr.Validation("subscription id is required")
	}
	switch ev.Type {
	case SubscriptionCreated, SubscriptionRenewed:
		if ev.PeriodEnd == nil {
			return apperr.Validation("%s requires a period end", ev.Type)
		}
	case SubscriptionCancelled:
	default:
		return apperr.Validation("unsupported payment event type %q", ev.Type)
	}
	return nil
}

// LinkSubscription records which user a provider subscription belongs to. Relinking to the same user is a no-op.
func (s *PaymentService) LinkSubscription(ctx context.Context, subscriptionID string, userID uuid.UUID) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return apperr.Validation("subscription id is required")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("user")
		}
		return apperr.Internal("load user", err)
	}

	err := s.store.CreateSubscriptionLink(ctx, &models.SubscriptionLink{
		SubscriptionID: subscriptionID,
		UserID:         userID,
		CreatedAt:      s.now(),
	})
	if !errors.Is(err, store.ErrDuplicate) {
		if err != nil {
			return apperr.Internal("link subscription", err)
		}
		return nil
	}

	existing, err := s.store.GetSubscriptionLink(ctx, subscriptionID)
	if err != nil {
		return apperr.Internal("load subscription link", err)
	}
	if existing.UserID != userID {
		return fmt.Errorf("%w: subscription %s is linked to another user", apperr.ErrConflict, subscriptionID)
	}
	return nil
}
