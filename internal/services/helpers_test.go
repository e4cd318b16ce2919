package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/memstore"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	st    *memstore.Store
	clock *testClock
	ids   *IdentityService
	ent   *EntitlementService
	mod   *ModerationService
	pay   *PaymentService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, nil, RedeemConfig{GlobalCodes: []string{"LAUNCH2026"}})
}

// newHarnessWith runs the moderation and payment services over wrap(mem). Seeding and inspection go
// straight to mem.
func newHarnessWith(t *testing.T, wrap func(store.Store) store.Store, rc RedeemConfig) *harness {
	t.Helper()
	clock := newClock()
	mem := memstore.New()
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}

	ent := NewEntitlementService(st, entitlement.NewCache(100, time.Minute))
	ent.now = clock.Now
	mod := NewModerationService(st, privilege.NewGate(st), ent, rc)
	mod.now = clock.Now
	pay := NewPaymentService(st, ent)
	pay.now = clock.Now
	ids := NewIdentityService(mem)
	ids.now = clock.Now

	return &harness{st: mem, clock: clock, ids: ids, ent: ent, mod: mod, pay: pay}
}

func (h *harness) user(t *testing.T, subject string) models.User {
	t.Helper()
	u, err := h.ids.Resolve(context.Background(), subject, subject+"@example.com", "")
	require.NoError(t, err)
	return u
}

func (h *harness) moderator(t *testing.T, role privilege.Role) Actor {
	t.Helper()
	u := h.user(t, "mod-"+uuid.NewString())
	require.NoError(t, h.st.UpsertModRole(context.Background(), &models.ModRole{
		UserID: u.ID, Role: string(role), GrantedAt: h.clock.Now(),
	}))
	origin := "203.0.113.7"
	return Actor{UserID: u.ID, NetworkOrigin: &origin}
}

func (h *harness) records(t *testing.T, userID uuid.UUID) []models.EntitlementRecord {
	t.Helper()
	recs, err := h.st.ListRecords(context.Background(), userID)
	require.NoError(t, err)
	return recs
}

func (h *harness) audit(t *testing.T, f store.AuditFilter) []models.AuditLogEntry {
	t.Helper()
	entries, _, err := h.st.ListAudit(context.Background(), f, store.Page{})
	require.NoError(t, err)
	return entries
}

// subscribe links a provider subscription to userID and confirms a paid period ending at periodEnd.
func (h *harness) subscribe(t *testing.T, userID uuid.UUID, subID string, periodEnd time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.pay.LinkSubscription(ctx, subID, userID))
	applied, err := h.pay.Apply(ctx, PaymentEvent{
		ID: "evt_created_" + subID, Provider: "stripe", Type: SubscriptionCreated,
		SubscriptionID: subID, PeriodEnd: &periodEnd,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

var errInjected = errors.New("injected storage failure")

// failingAudit wraps a store so that every audit append fails, including inside atomic units.
type failingAudit struct {
	store.Store
}

func (f failingAudit) AppendAudit(context.Context, *models.AuditLogEntry) error {
	return errInjected
}

func (f failingAudit) Atomic(ctx context.Context, key string, fn func(tx store.Store) error) error {
	return f.Store.Atomic(ctx, key, func(tx store.Store) error {
		return fn(failingAudit{tx})
	})
}

// conflicting makes the next `remaining` atomic units report a write conflict without running.
type conflicting struct {
	store.Store
	mu        sync.Mutex
	remaining int
	attempts  int
}

func (c *conflicting) Atomic(ctx context.Context, key string, fn func(tx store.Store) error) error {
	c.mu.Lock()
	c.attempts++
	fail := c.remaining > 0
	if fail {
		c.remaining--
	}
	c.mu.Unlock()
	if fail {
		return store.ErrConflict
	}
	return c.Store.Atomic(ctx, key, fn)
}

// brokenLedger fails every ledger read.
type brokenLedger struct {
	store.Ledger
}

func (brokenLedger) LatestRecords(context.Context, uuid.UUID) ([]models.EntitlementRecord, error) {
	return nil, errInjected
}

func intPtr(v int) *int { return &v }
