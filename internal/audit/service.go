package audit

import (
	"context"
	"fmt"
)

const (
	// DefaultLimit bounds a history response when the caller supplies no
	// limit or a non-positive one.
	DefaultLimit = 10
	// MaxLimit caps a single history response to avoid unbounded store scans.
	MaxLimit = 100
)

// Repository provides read access to stored audit entries.
type Repository interface {
	// FetchLogs returns entries for one user, or for all users when userID
	// is empty, newest first, bounded by limit.
	FetchLogs(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Service coordinates history retrieval.
type Service struct {
	repo Repository
}

// NewService builds a history service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// History returns audit entries for the given user (all users when userID is
// empty). The limit is clamped into [1, MaxLimit] with DefaultLimit as the
// fallback.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.FetchLogs(ctx, userID, ClampLimit(limit))
}

// ClampLimit normalises a requested result bound.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
