package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

const (
	insertNotificationQuery = `INSERT INTO notifications (notification_id, user_id, type, title, message, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	listNotificationsQuery = `SELECT notification_id, user_id, type, title, message, priority, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
)

type NotificationStore struct {
	db DB
}

func NewNotificationStore(db DB) *NotificationStore {
	if db == nil {
		return nil
	}
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("notification store not initialized")
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("notification id is required")
	}
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertNotificationQuery,
		strings.TrimSpace(n.ID),
		strings.TrimSpace(n.UserID),
		strings.TrimSpace(n.Type),
		strings.TrimSpace(n.Title),
		strings.TrimSpace(n.Message),
		string(n.Priority),
		normalizeTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("notification store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, listNotificationsQuery, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var (
			n        domain.Notification
			priority string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &priority, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Priority = domain.NotificationPriority(priority)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}
