package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Every failure maps to exactly one of these so callers and
// auditors can always tell "you are not allowed" apart from "the system is
// broken".
var (
	// ErrInvalidRequest indicates missing or malformed required fields.
	ErrInvalidRequest = errors.New("authz: invalid request")
	// ErrSelfModification indicates a requester attempting to reconcile
	// their own permission set.
	ErrSelfModification = errors.New("authz: self modification denied")
	// ErrInsufficientRole indicates the requester holds no privileged role.
	ErrInsufficientRole = errors.New("authz: insufficient role")
	// ErrTargetNotFound indicates the target user does not exist.
	ErrTargetNotFound = errors.New("authz: target user not found")
	// ErrForbidden is the generic deny for history access.
	ErrForbidden = errors.New("authz: forbidden")
	// ErrStore indicates the backend was unavailable or a query failed
	// during a read phase; the operation aborted without partial effects.
	ErrStore = errors.New("authz: store unavailable")
	// ErrReconcileInProgress indicates another reconciliation currently
	// holds the per-target lock.
	ErrReconcileInProgress = errors.New("authz: reconciliation already in progress")
)

// MutationOp distinguishes grant from revoke mutations.
type MutationOp string

const (
	OpGrant  MutationOp = "grant"
	OpRevoke MutationOp = "revoke"
)

// Mutation is one grant or revoke of a single permission assignment.
type Mutation struct {
	Op           MutationOp `json:"op"`
	PermissionID string     `json:"permission_id"`
}

// MutationFailure pairs a mutation with the store error it produced.
type MutationFailure struct {
	Mutation
	Err error `json:"-"`
}

// PartialApplyError reports an apply phase where some but not all diffed
// mutations succeeded. The applied subset is never silently collapsed into a
// blanket success or a blanket failure.
type PartialApplyError struct {
	Applied []Mutation
	Failed  []MutationFailure
}

func (e *PartialApplyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "authz: partial apply: %d applied, %d failed", len(e.Applied), len(e.Failed))
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "; %s %s: %v", f.Op, f.PermissionID, f.Err)
	}
	return b.String()
}
