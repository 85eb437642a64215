package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/warden-gate/warden-gate/internal/shared"
	"github.com/warden-gate/warden-gate/internal/store"
)

// RoleStore provides the read-only lookups the gate needs.
type RoleStore interface {
	FetchRoles(ctx context.Context, userID string) ([]store.Role, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Gate decides whether a requester may perform a privileged operation. All
// checks are read-only; mutation happens elsewhere, only after allow.
type Gate struct {
	store      RoleStore
	privileged map[string]struct{}
}

// NewGate builds a gate with the given privileged-role allow-list. An empty
// list falls back to the built-in default.
func NewGate(roleStore RoleStore, privilegedRoles []string) *Gate {
	if len(privilegedRoles) == 0 {
		privilegedRoles = shared.DefaultPrivilegedRoles()
	}
	return &Gate{
		store:      roleStore,
		privileged: shared.NormalizeRoles(privilegedRoles),
	}
}

// CanReconcile reports whether requesterID may reconcile targetUserID's
// permission set. Returns nil on allow, a taxonomy error otherwise. Rules
// short-circuit in order: identifiers present, no self-modification,
// privileged role held, target exists.
func (g *Gate) CanReconcile(ctx context.Context, requesterID, targetUserID string) error {
	if requesterID == "" || targetUserID == "" {
		return ErrInvalidRequest
	}
	// Self-elevation is denied before any role check: holding a privileged
	// role never entitles a requester to touch their own set.
	if requesterID == targetUserID {
		return ErrSelfModification
	}
	entitled, err := g.holdsPrivilegedRole(ctx, requesterID)
	if err != nil {
		return err
	}
	if !entitled {
		return ErrInsufficientRole
	}
	exists, err := g.store.UserExists(ctx, targetUserID)
	if err != nil {
		return fmt.Errorf("%w: user lookup: %v", ErrStore, err)
	}
	if !exists {
		return ErrTargetNotFound
	}
	return nil
}

// CanViewHistory reports whether requesterID may read targetUserID's audit
// history. Self-view is always permitted; anything else, including the
// all-users feed (empty targetUserID), requires a privileged role.
func (g *Gate) CanViewHistory(ctx context.Context, requesterID, targetUserID string) error {
	if requesterID == "" {
		return ErrInvalidRequest
	}
	if targetUserID != "" && requesterID == targetUserID {
		return nil
	}
	entitled, err := g.holdsPrivilegedRole(ctx, requesterID)
	if err != nil {
		return err
	}
	if !entitled {
		return ErrForbidden
	}
	return nil
}

// holdsPrivilegedRole intersects the requester's roles with the allow-list.
// A store failure propagates as ErrStore: the caller must not assume
// authorization either way.
func (g *Gate) holdsPrivilegedRole(ctx context.Context, requesterID string) (bool, error) {
	roles, err := g.store.FetchRoles(ctx, requesterID)
	if err != nil {
		return false, fmt.Errorf("%w: role lookup: %v", ErrStore, err)
	}
	for _, role := range roles {
		name := strings.TrimSpace(strings.ToLower(role.Name))
		if _, ok := g.privileged[name]; ok {
			return true, nil
		}
	}
	return false, nil
}
