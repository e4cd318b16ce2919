package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/memstore"
)

// settingsRecorder captures settings rows written inside atomic units.
type settingsRecorder struct {
	store.Store
	mu   *sync.Mutex
	rows *[]models.UserSettings
}

func (r settingsRecorder) CreateSettings(ctx context.Context, s *models.UserSettings) error {
	r.mu.Lock()
	*r.rows = append(*r.rows, *s)
	r.mu.Unlock()
	return r.Store.CreateSettings(ctx, s)
}

func (r settingsRecorder) Atomic(ctx context.Context, key string, fn func(tx store.Store) error) error {
	return r.Store.Atomic(ctx, key, func(tx store.Store) error {
		return fn(settingsRecorder{Store: tx, mu: r.mu, rows: r.rows})
	})
}

func TestResolve_ConcurrentFirstSightYieldsOneUser(t *testing.T) {
	mem := memstore.New()
	var rows []models.UserSettings
	svc := NewIdentityService(settingsRecorder{Store: mem, mu: &sync.Mutex{}, rows: &rows})

	const n = 25
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := svc.Resolve(context.Background(), "google|123", "ada@example.com", "Ada")
			if assert.NoError(t, err) {
				ids <- u.ID.String()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	_, total, err := mem.ListUsers(context.Background(), "", store.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	require.Len(t, rows, 1, "settings are seeded once, with the user")
	var settings map[string]any
	require.NoError(t, json.Unmarshal(rows[0].Settings, &settings))
	assert.Equal(t, true, settings["requireThreeOfFive"])
}

func TestResolve_UpdatesChangedEmail(t *testing.T) {
	svc := NewIdentityService(memstore.New())
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "sub-9", "old@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "old", first.DisplayName)

	second, err := svc.Resolve(ctx, "sub-9", "new@example.com", "ignored on update")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new@example.com", second.Email)
	assert.Equal(t, "old", second.DisplayName)

	third, err := svc.Resolve(ctx, "sub-9", "", "")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", third.Email, "an absent email never clears the stored one")
}

func TestResolve_RequiresSubject(t *testing.T) {
	_, err := NewIdentityService(memstore.New()).Resolve(context.Background(), "  ", "a@example.com", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Grace", DisplayName("  Grace ", "grace@example.com"))
	assert.Equal(t, "grace.hopper", DisplayName("", "grace.hopper@example.com"))
	assert.Regexp(t, regexp.MustCompile(`^user_[0-9a-f]{8}$`), DisplayName("", ""))
	assert.Regexp(t, regexp.MustCompile(`^user_[0-9a-f]{8}$`), DisplayName("", "@example.com"))
	assert.Len(t, []rune(DisplayName(strings.Repeat("é", 300), "")), 100)
}
