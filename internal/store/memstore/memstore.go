// Package memstore is an in-memory store.Store used for local development and tests.
// Atomic units run one at a time against a copy of the state that replaces the live state on success.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

type state struct {
	users         map[uuid.UUID]models.User
	subjects      map[string]uuid.UUID
	settings      map[uuid.UUID]models.UserSettings
	records       []models.EntitlementRecord
	roles         map[uuid.UUID]models.ModRole
	audit         []models.AuditLogEntry
	links         map[string]models.SubscriptionLink
	events        map[string]models.ProcessedEvent
	codes         map[uuid.UUID]models.PremiumCode
	notifications []models.GrantNotification

	nextRecordID       int64
	nextAuditID        int64
	nextNotificationID int64
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]models.User),
		subjects: make(map[string]uuid.UUID),
		settings: make(map[uuid.UUID]models.UserSettings),
		roles:    make(map[uuid.UUID]models.ModRole),
		links:    make(map[string]models.SubscriptionLink),
		events:   make(map[string]models.ProcessedEvent),
		codes:    make(map[uuid.UUID]models.PremiumCode),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:              make(map[uuid.UUID]models.User, len(s.users)),
		subjects:           make(map[string]uuid.UUID, len(s.subjects)),
		settings:           make(map[uuid.UUID]models.UserSettings, len(s.settings)),
		records:            append([]models.EntitlementRecord(nil), s.records...),
		roles:              make(map[uuid.UUID]models.ModRole, len(s.roles)),
		audit:              append([]models.AuditLogEntry(nil), s.audit...),
		links:              make(map[string]models.SubscriptionLink, len(s.links)),
		events:             make(map[string]models.ProcessedEvent, len(s.events)),
		codes:              make(map[uuid.UUID]models.PremiumCode, len(s.codes)),
		notifications:      append([]models.GrantNotification(nil), s.notifications...),
		nextRecordID:       s.nextRecordID,
		nextAuditID:        s.nextAuditID,
		nextNotificationID: s.nextNotificationID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.subjects {
		c.subjects[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	return c
}

type Store struct {
	mu   *sync.RWMutex
	txMu *sync.Mutex // nil inside an atomic unit
	st   *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.RWMutex{}, txMu: &sync.Mutex{}, st: newState()}
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	if s.txMu != nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) Atomic(ctx context.Context, _ string, fn func(tx store.Store) error) error {
	if s.txMu == nil {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	tx := &Store{mu: &sync.RWMutex{}, st: s.st.clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()
	return nil
}

// Users

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	return s.write(func(st *state) error {
		if _, ok := st.subjects[u.ExternalSubjectID]; ok {
			return store.ErrDuplicate
		}
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if _, ok := st.users[u.ID]; ok {
			return store.ErrDuplicate
		}
		now := time.Now().UTC()
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = u.CreatedAt
		st.users[u.ID] = *u
		st.subjects[u.ExternalSubjectID] = u.ID
		return nil
	})
}

func (s *Store) CreateSettings(_ context.Context, us *models.UserSettings) error {
	return s.write(func(st *state) error {
		if _, ok := st.settings[us.UserID]; ok {
			return store.ErrDuplicate
		}
		st.settings[us.UserID] = *us
		return nil
	})
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	var (
		u  models.User
		ok bool
	)
	s.read(func(st *state) { u, ok = st.users[id] })
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserBySubject(ctx context.Context, subject string) (models.User, error) {
	var (
		id uuid.UUID
		ok bool
	)
	s.read(func(st *state) { id, ok = st.subjects[subject] })
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) UpdateUserEmail(_ context.Context, id uuid.UUID, email string) error {
	return s.write(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return store.ErrNotFound
		}
		u.Email = email
		u.UpdatedAt = time.Now().UTC()
		st.users[id] = u
		return nil
	})
}

func (s *Store) ListUsers(_ context.Context, search string, page store.Page) ([]models.User, int64, error) {
	var all []models.User
	needle := strings.ToLower(strings.TrimSpace(search))
	s.read(func(st *state) {
		for _, u := range st.users {
			if needle == "" ||
				strings.Contains(strings.ToLower(u.Email), needle) ||
				strings.Contains(strings.ToLower(u.DisplayName), needle) ||
				strings.Contains(strings.ToLower(u.ExternalSubjectID), needle) {
				all = append(all, u)
			}
		}
	})
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, page), int64(len(all)), nil
}

// Ledger

func (s *Store) AppendRecord(_ context.Context, rec *models.EntitlementRecord) error {
	return s.write(func(st *state) error {
		st.nextRecordID++
		rec.ID = st.nextRecordID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		st.records = append(st.records, *rec)
		return nil
	})
}

func (s *Store) LatestRecords(_ context.Context, userID uuid.UUID) ([]models.EntitlementRecord, error) {
	latest := make(map[string]models.EntitlementRecord)
	s.read(func(st *state) {
		for _, r := range st.records {
			if r.UserID != userID {
				continue
			}
			if cur, ok := latest[r.Source]; !ok || r.ID > cur.ID {
				latest[r.Source] = r
			}
		}
	})
	out := make([]models.EntitlementRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRecords(_ context.Context, userID uuid.UUID) ([]models.EntitlementRecord, error) {
	var out []models.EntitlementRecord
	s.read(func(st *state) {
		for _, r := range st.records {
			if r.UserID == userID {
				out = append(out, r)
			}
		}
	})
	return out, nil
}

func (s *Store) HasRecordReference(_ context.Context, userID uuid.UUID, source, reference string) (bool, error) {
	found := false
	s.read(func(st *state) {
		for _, r := range st.records {
			if r.UserID == userID && r.Source == source && r.Reference == reference {
				found = true
				return
			}
		}
	})
	return found, nil
}

// Roles

func (s *Store) GetModRole(_ context.Context, userID uuid.UUID) (models.ModRole, error) {
	var (
		r  models.ModRole
		ok bool
	)
	s.read(func(st *state) { r, ok = st.roles[userID] })
	if !ok {
		return models.ModRole{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpsertModRole(_ context.Context, role *models.ModRole) error {
	return s.write(func(st *state) error {
		st.roles[role.UserID] = *role
		return nil
	})
}

func (s *Store) DeleteModRole(_ context.Context, userID uuid.UUID) error {
	return s.write(func(st *state) error {
		if _, ok := st.roles[userID]; !ok {
			return store.ErrNotFound
		}
		delete(st.roles, userID)
		return nil
	})
}

// Audit

func (s *Store) AppendAudit(_ context.Context, e *models.AuditLogEntry) error {
	return s.write(func(st *state) error {
		st.nextAuditID++
		e.ID = st.nextAuditID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (s *Store) ListAudit(_ context.Context, f store.AuditFilter, page store.Page) ([]models.AuditLogEntry, int64, error) {
	var out []models.AuditLogEntry
	s.read(func(st *state) {
		for _, e := range st.audit {
			if matchAudit(e, f) {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, page), int64(len(out)), nil
}

func matchAudit(e models.AuditLogEntry, f store.AuditFilter) bool {
	if len(f.Actions) > 0 {
		ok := false
		for _, a := range f.Actions {
			if e.Action == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.TargetUserID != nil && (e.TargetUserID == nil || *e.TargetUserID != *f.TargetUserID) {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Before != nil && !e.CreatedAt.Before(*f.Before) {
		return false
	}
	return true
}

func (s *Store) LatestAuditTime(_ context.Context, actorID uuid.UUID) (time.Time, error) {
	var latest time.Time
	s.read(func(st *state) {
		for _, e := range st.audit {
			if e.ActorID == actorID && e.CreatedAt.After(latest) {
				latest = e.CreatedAt
			}
		}
	})
	return latest, nil
}

// Payments

func (s *Store) CreateSubscriptionLink(_ context.Context, link *models.SubscriptionLink) error {
	return s.write(func(st *state) error {
		if _, ok := st.links[link.SubscriptionID]; ok {
			return store.ErrDuplicate
		}
		if link.CreatedAt.IsZero() {
			link.CreatedAt = time.Now().UTC()
		}
		st.links[link.SubscriptionID] = *link
		return nil
	})
}

func (s *Store) GetSubscriptionLink(_ context.Context, subscriptionID string) (models.SubscriptionLink, error) {
	var (
		l  models.SubscriptionLink
		ok bool
	)
	s.read(func(st *state) { l, ok = st.links[subscriptionID] })
	if !ok {
		return models.SubscriptionLink{}, store.ErrNotFound
	}
	return l, nil
}

func (s *Store) EventProcessed(_ context.Context, eventID string) (bool, error) {
	var ok bool
	s.read(func(st *state) { _, ok = st.events[eventID] })
	return ok, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, ev *models.ProcessedEvent) error {
	return s.write(func(st *state) error {
		if _, ok := st.events[ev.EventID]; ok {
			return store.ErrDuplicate
		}
		st.events[ev.EventID] = *ev
		return nil
	})
}

// Codes

func (s *Store) CreatePremiumCode(_ context.Context, code *models.PremiumCode) error {
	return s.write(func(st *state) error {
		if code.ID == uuid.Nil {
			code.ID = uuid.New()
		}
		if code.CreatedAt.IsZero() {
			code.CreatedAt = time.Now().UTC()
		}
		st.codes[code.ID] = *code
		return nil
	})
}

func (s *Store) ListRedeemableCodes(_ context.Context, userID uuid.UUID, now time.Time) ([]models.PremiumCode, error) {
	var out []models.PremiumCode
	s.read(func(st *state) {
		for _, c := range st.codes {
			if c.UserID == userID && c.RedeemedAt == nil && c.ExpiresAt.After(now) {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkCodeRedeemed(_ context.Context, codeID uuid.UUID, at time.Time) (bool, error) {
	marked := false
	err := s.write(func(st *state) error {
		c, ok := st.codes[codeID]
		if !ok || c.RedeemedAt != nil {
			return nil
		}
		c.RedeemedAt = &at
		st.codes[codeID] = c
		marked = true
		return nil
	})
	return marked, err
}

// Notifications

func (s *Store) CreateGrantNotification(_ context.Context, n *models.GrantNotification) error {
	return s.write(func(st *state) error {
		st.nextNotificationID++
		n.ID = st.nextNotificationID
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		st.notifications = append(st.notifications, *n)
		return nil
	})
}

func (s *Store) AcknowledgeGrantNotification(_ context.Context, userID uuid.UUID, at time.Time) (models.GrantNotification, error) {
	var out models.GrantNotification
	err := s.write(func(st *state) error {
		for i, n := range st.notifications {
			if n.UserID == userID && n.AcknowledgedAt == nil {
				st.notifications[i].AcknowledgedAt = &at
				out = st.notifications[i]
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func paginate[T any](items []T, page store.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
