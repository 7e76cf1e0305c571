// Package notifications stores user notifications and pushes them to the
// user's realtime channel.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/pubsub"
	"github.com/animus-labs/launchpad/internal/repo"
)

const TypeProjectCreated = "project_created"

type Service struct {
	store  repo.NotificationRepository
	broker pubsub.Broker
	logger *slog.Logger
	now    func() time.Time
}

// New returns nil without a store. broker is optional.
func New(store repo.NotificationRepository, broker pubsub.Broker, logger *slog.Logger) *Service {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:  store,
		broker: broker,
		logger: logger.With("component", "notifications"),
		now:    time.Now,
	}
}

type pushed struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// Create persists n and pushes it. A failed push is logged only.
func (s *Service) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if s == nil {
		return domain.Notification{}, errors.New("notification service is not configured")
	}
	n.UserID = strings.TrimSpace(n.UserID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := n.Validate(); err != nil {
		return domain.Notification{}, err
	}
	if err := s.store.Create(ctx, n); err != nil {
		return domain.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	if s.broker != nil {
		raw, err := json.Marshal(pushed{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Priority:  string(n.Priority),
			CreatedAt: n.CreatedAt,
		})
		if err == nil {
			err = s.broker.Publish(ctx, pubsub.UserChannel(n.UserID), raw)
		}
		if err != nil {
			s.logger.Warn("push notification failed", "user_id", n.UserID, "error", err)
		}
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if s == nil {
		return nil, errors.New("notification service is not configured")
	}
	return s.store.ListByUser(ctx, userID, limit)
}
