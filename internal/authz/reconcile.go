package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/warden-gate/warden-gate/internal/shared"
	"github.com/warden-gate/warden-gate/internal/store"
)

// Store is the mutation-capable store surface the reconciler needs.
type Store interface {
	FetchRoles(ctx context.Context, userID string) ([]store.Role, error)
	FetchPermissions(ctx context.Context, userID string) ([]string, error)
	GrantPermission(ctx context.Context, userID, permissionID string) error
	RevokePermission(ctx context.Context, userID, permissionID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
}

// State names one phase of a reconciliation. Aborted is reachable from any
// state.
type State string

const (
	StateValidating  State = "validating"
	StateAuthorizing State = "authorizing_requester"
	StateDiffing     State = "diffing_permissions"
	StateApplying    State = "applying_mutations"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// ReconcileRequest carries one reconciliation.
type ReconcileRequest struct {
	RequesterID  string
	TargetUserID string
	// Desired is the exact target permission set. An empty (non-nil) set
	// means full revocation; a nil set is an invalid request.
	Desired []string
}

// ReconcileResult names the reconciled target and the mutations applied.
type ReconcileResult struct {
	TargetUserID string
	Granted      []string
	Revoked      []string
}

// Reconciler drives a reconciliation through its states: validating,
// authorizing the requester, diffing permissions, applying mutations.
type Reconciler struct {
	store       Store
	gate        *Gate
	lock        *shared.ReconcileLock
	logger      *slog.Logger
	concurrency int
}

// NewReconciler builds a reconciler. lock may be nil when per-target
// serialization is handled externally.
func NewReconciler(st Store, gate *Gate, lock *shared.ReconcileLock, logger *slog.Logger, concurrency int) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reconciler{store: st, gate: gate, lock: lock, logger: logger, concurrency: concurrency}
}

// Reconcile brings the target user's permission set to exactly match the
// desired set via minimal grants and revokes. Grants and revokes fan out
// concurrently with no ordering between them; a partially applied batch is
// reported as *PartialApplyError together with the subset that did succeed.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	result := ReconcileResult{TargetUserID: req.TargetUserID}

	// Validating.
	if req.RequesterID == "" || req.TargetUserID == "" || req.Desired == nil {
		return result, r.abort(StateValidating, req, ErrInvalidRequest)
	}

	release, err := r.lock.Acquire(ctx, req.TargetUserID)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return result, r.abort(StateValidating, req, ErrReconcileInProgress)
		}
		return result, r.abort(StateValidating, req, fmt.Errorf("%w: %v", ErrStore, err))
	}
	defer release()

	// AuthorizingRequester.
	if err := r.gate.CanReconcile(ctx, req.RequesterID, req.TargetUserID); err != nil {
		return result, r.abort(StateAuthorizing, req, err)
	}

	// DiffingPermissions.
	current, err := r.store.FetchPermissions(ctx, req.TargetUserID)
	if err != nil {
		return result, r.abort(StateDiffing, req, fmt.Errorf("%w: permission lookup: %v", ErrStore, err))
	}
	diff := DiffPermissions(current, req.Desired)
	if diff.Empty() {
		r.logger.Info("reconcile no-op", slog.String("target", req.TargetUserID))
		return result, nil
	}

	// ApplyingMutations.
	applied, failures := r.apply(ctx, req.TargetUserID, diff)
	for _, m := range applied {
		switch m.Op {
		case OpGrant:
			result.Granted = append(result.Granted, m.PermissionID)
		case OpRevoke:
			result.Revoked = append(result.Revoked, m.PermissionID)
		}
	}
	if len(failures) > 0 {
		partial := &PartialApplyError{Applied: applied, Failed: failures}
		return result, r.abort(StateApplying, req, partial)
	}

	// Done.
	r.logger.Info("reconcile done",
		slog.String("requester", req.RequesterID),
		slog.String("target", req.TargetUserID),
		slog.Int("granted", len(result.Granted)),
		slog.Int("revoked", len(result.Revoked)))
	return result, nil
}

// apply issues every grant and revoke mutation. The mutations are
// independent per-pair operations: no ordering between them, no atomicity
// across the batch. Every mutation is attempted even when an earlier one
// fails.
func (r *Reconciler) apply(ctx context.Context, targetUserID string, diff Diff) ([]Mutation, []MutationFailure) {
	mutations := make([]Mutation, 0, len(diff.Revoke)+len(diff.Grant))
	for _, id := range diff.Revoke {
		mutations = append(mutations, Mutation{Op: OpRevoke, PermissionID: id})
	}
	for _, id := range diff.Grant {
		mutations = append(mutations, Mutation{Op: OpGrant, PermissionID: id})
	}

	var (
		mu       sync.Mutex
		applied  []Mutation
		failures []MutationFailure
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, m := range mutations {
		m := m
		g.Go(func() error {
			var err error
			switch m.Op {
			case OpGrant:
				err = r.store.GrantPermission(ctx, targetUserID, m.PermissionID)
			case OpRevoke:
				err = r.store.RevokePermission(ctx, targetUserID, m.PermissionID)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, MutationFailure{Mutation: m, Err: err})
			} else {
				applied = append(applied, m)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Completion order is arbitrary; sort for stable reporting.
	sortMutations(applied)
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Op != failures[j].Op {
			return failures[i].Op < failures[j].Op
		}
		return failures[i].PermissionID < failures[j].PermissionID
	})
	return applied, failures
}

func sortMutations(ms []Mutation) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Op != ms[j].Op {
			return ms[i].Op < ms[j].Op
		}
		return ms[i].PermissionID < ms[j].PermissionID
	})
}

func (r *Reconciler) abort(state State, req ReconcileRequest, err error) error {
	r.logger.Warn("reconcile aborted",
		slog.String("state", string(state)),
		slog.String("requester", req.RequesterID),
		slog.String("target", req.TargetUserID),
		slog.Any("error", err))
	return err
}
