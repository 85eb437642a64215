package authz

import (
	"context"
	"log/slog"

	"github.com/warden-gate/warden-gate/internal/audit"
)

// PermissionStore provides the single lookup the decision engine needs.
type PermissionStore interface {
	FetchPermissions(ctx context.Context, userID string) ([]string, error)
}

// Recorder accepts audit entries for fire-and-forget persistence.
type Recorder interface {
	Dispatch(ctx context.Context, entry audit.Entry)
}

// Decision is the outcome of one access check.
type Decision struct {
	Authorized bool
}

// DecisionEngine answers "does this user currently hold this permission".
// This is distinct from the Gate's "may this requester change permissions":
// no role check happens here.
type DecisionEngine struct {
	permissions PermissionStore
	recorder    Recorder
	logger      *slog.Logger
}

// NewDecisionEngine builds a decision engine.
func NewDecisionEngine(permissions PermissionStore, recorder Recorder, logger *slog.Logger) *DecisionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionEngine{permissions: permissions, recorder: recorder, logger: logger}
}

// Decide evaluates whether the user holds the permission. The default
// posture is fail-closed: missing identifiers, ambiguous data or a store
// failure all resolve to not authorized, never to authorized. Every
// evaluation dispatches exactly one audit entry before returning, whatever
// the outcome.
func (e *DecisionEngine) Decide(ctx context.Context, userID, permissionID string) Decision {
	authorized := false
	if userID != "" && permissionID != "" {
		permissions, err := e.permissions.FetchPermissions(ctx, userID)
		if err != nil {
			// Fail closed. This is a deliberate default, not an error in
			// the user-facing sense.
			e.logger.Warn("access decision store failure, denying",
				slog.String("user_id", userID),
				slog.String("permission_id", permissionID),
				slog.Any("error", err))
		} else {
			for _, id := range permissions {
				if id == permissionID {
					authorized = true
					break
				}
			}
		}
	}

	e.recorder.Dispatch(ctx, audit.Entry{
		UserID:       userID,
		PermissionID: permissionID,
		Success:      authorized,
	})

	return Decision{Authorized: authorized}
}
