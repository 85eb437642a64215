package audit

import "time"

// Entry is an immutable record of one access-decision evaluation. Entries are
// append-only; nothing in this service mutates or deletes them.
type Entry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PermissionID string    `json:"permission_id"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"created_at"`
}
