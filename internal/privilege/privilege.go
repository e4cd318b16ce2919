// Package privilege holds the moderator capability matrix and the gate every moderation entry point calls.
package privilege

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

type Role string

const (
	RoleReadOnly   Role = "read_only"
	RoleFull       Role = "full"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleReadOnly, RoleFull, RoleSuperAdmin:
		return true
	}
	return false
}

type Action string

const (
	ViewUsers          Action = "view_users"
	ViewUserDetail     Action = "view_user_detail"
	ViewUserActivity   Action = "view_user_activity"
	ViewAuditLog       Action = "view_audit_log"
	ViewPremiumHistory Action = "view_premium_history"
	GrantPremium       Action = "grant_premium"
	RevokePremium      Action = "revoke_premium"
	IssuePremiumCode   Action = "issue_premium_code"
	ManageModRoles     Action = "manage_mod_roles"
	DeleteAuditEntry   Action = "delete_audit_entry"
)

var matrix = map[Action]map[Role]bool{
	ViewUsers:          {RoleReadOnly: true, RoleFull: true, RoleSuperAdmin: true},
	ViewUserDetail:     {RoleReadOnly: true, RoleFull: true, RoleSuperAdmin: true},
	ViewUserActivity:   {RoleReadOnly: true, RoleFull: true, RoleSuperAdmin: true},
	ViewAuditLog:       {RoleReadOnly: true, RoleFull: true, RoleSuperAdmin: true},
	ViewPremiumHistory: {RoleReadOnly: true, RoleFull: true, RoleSuperAdmin: true},
	GrantPremium:       {RoleFull: true, RoleSuperAdmin: true},
	RevokePremium:      {RoleFull: true, RoleSuperAdmin: true},
	IssuePremiumCode:   {RoleFull: true, RoleSuperAdmin: true},
	ManageModRoles:     {RoleSuperAdmin: true},
	// Audit entries are immutable for every role.
	DeleteAuditEntry: {},
}

// Allowed reports whether role may perform action. Unknown roles and actions are denied.
func Allowed(role Role, action Action) bool {
	return matrix[action][role]
}

// Gate re-reads the caller's role on every check; roles cached by clients are never consulted.
type Gate struct {
	roles store.RoleReader
}

func NewGate(roles store.RoleReader) *Gate {
	return &Gate{roles: roles}
}

// Role returns the caller's current role, or "" when they hold none.
func (g *Gate) Role(ctx context.Context, userID uuid.UUID) (Role, error) {
	mr, err := g.roles.GetModRole(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Internal("load mod role", err)
	}
	return Role(mr.Role), nil
}

// Check returns the caller's role when it permits action, and an authorization error otherwise.
func (g *Gate) Check(ctx context.Context, userID uuid.UUID, action Action) (Role, error) {
	role, err := g.Role(ctx, userID)
	if err != nil {
		return "", err
	}
	if !Allowed(role, action) {
		return role, fmt.Errorf("%w: %s", apperr.ErrAuthorization, action)
	}
	return role, nil
}
