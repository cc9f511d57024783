package notify

import (
	"context"

	"github.com/cartstream/storefront/internal/domain/auth"
)

// Service exposes a user's own notifications.
type Service struct {
	store Store
}

// NewService creates a Service over store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]Notification, error) {
	return s.store.List(ctx, p.UserID)
}

// MarkRead marks one of the caller's notifications read.
func (s *Service) MarkRead(ctx context.Context, p auth.Principal, id int64) error {
	return s.store.MarkRead(ctx, p.UserID, id)
}

// MarkAllRead marks every unread notification of the caller read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, p auth.Principal) (int64, error) {
	return s.store.MarkAllRead(ctx, p.UserID)
}
