package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-gate/warden-gate/internal/audit"
)

// Repository provides PostgreSQL backed persistence for roles, permission
// assignments and audit logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchRoles returns the roles held by a user.
func (r *Repository) FetchRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name
		FROM roles r
		INNER JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// FetchPermissions returns the user's current permission assignments. The
// user_permissions table is unique per (user_id, permission_id) so the result
// is a set.
func (r *Repository) FetchPermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_id FROM user_permissions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var permissions []string
	for rows.Next() {
		var permissionID string
		if err := rows.Scan(&permissionID); err != nil {
			return nil, err
		}
		permissions = append(permissions, permissionID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return permissions, nil
}

// GrantPermission creates one permission assignment. Granting an already
// granted permission is a no-op success, keeping reconciliation idempotent.
func (r *Repository) GrantPermission(ctx context.Context, userID, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2)`,
		userID, permissionID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return err
	}
	return nil
}

// RevokePermission removes one permission assignment. Revoking an absent
// assignment is a no-op success.
func (r *Repository) RevokePermission(ctx context.Context, userID, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID)
	return err
}

// UserExists reports whether the user is known to the store.
func (r *Repository) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// AppendLog persists one audit entry.
func (r *Repository) AppendLog(ctx context.Context, entry audit.Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO logs (id, user_id, permission_id, success, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.PermissionID, entry.Success, entry.CreatedAt)
	return err
}

// FetchLogs returns audit entries newest first, for one user or for all
// users when userID is empty, bounded by limit.
func (r *Repository) FetchLogs(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, user_id, permission_id, success, created_at
		FROM logs
		ORDER BY created_at DESC
		LIMIT $1`
	args := []any{limit}
	if userID != "" {
		query = `
			SELECT id, user_id, permission_id, success, created_at
			FROM logs
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2`
		args = []any{userID, limit}
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.PermissionID, &entry.Success, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
