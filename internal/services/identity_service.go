package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

const maxDisplayNameLen = 100

var defaultSettings = datatypes.JSON(`{"requireThreeOfFive":true}`)

// IdentityService maps external identities onto internal users.
type IdentityService struct {
	store store.Store
	now   func() time.Time
}

func NewIdentityService(st store.Store) *IdentityService {
	return &IdentityService{store: st, now: utcNow}
}

// Resolve returns the user for an external subject, creating it on first sight.
// Concurrent first calls for one subject yield a single user: the losing creator re-reads the winner's row.
func (s *IdentityService) Resolve(ctx context.Context, subject, email, displayNameHint string) (models.User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return models.User{}, apperr.Validation("external subject id is required")
	}
	email = strings.TrimSpace(email)

	for attempt := 0; attempt < 2; attempt++ {
		u, err := s.store.GetUserBySubject(ctx, subject)
		if err == nil {
			return s.syncEmail(ctx, u, email)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.User{}, apperr.Internal("load user", err)
		}

		u, err = s.create(ctx, subject, email, displayNameHint)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return models.User{}, apperr.Internal("create user", err)
		}
	}
	return models.User{}, apperr.ErrConflict
}

func (s *IdentityService) create(ctx context.Context, subject, email, hint string) (models.User, error) {
	now := s.now()
	u := models.User{
		ID:                uuid.New(),
		ExternalSubjectID: subject,
		Email:             email,
		DisplayName:       DisplayName(hint, email),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.store.Atomic(ctx, "identity:"+subject, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, &u); err != nil {
			return err
		}
		return tx.CreateSettings(ctx, &models.UserSettings{
			UserID:    u.ID,
			Settings:  defaultSettings,
			UpdatedAt: now,
		})
	})
	return u, err
}

func (s *IdentityService) syncEmail(ctx context.Context, u models.User, email string) (models.User, error) {
	if email == "" || email == u.Email {
		return u, nil
	}
	if err := s.store.UpdateUserEmail(ctx, u.ID, email); err != nil {
		return models.User{}, apperr.Internal("update email", err)
	}
	u.Email = email
	return u, nil
}

// DisplayName picks the hint, then the email's local part, then a generated placeholder.
func DisplayName(hint, email string) string {
	if name := truncate(strings.TrimSpace(hint), maxDisplayNameLen); name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return truncate(email[:at], maxDisplayNameLen)
	}
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func utcNow() time.Time {
	return time.Now().UTC()
}
