package domain

import (
	"errors"
	"strings"
	"time"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Priority  NotificationPriority
	CreatedAt time.Time
}

func (n Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(n.Type) == "" {
		return errors.New("notification type is required")
	}
	if strings.TrimSpace(n.Title) == "" {
		return errors.New("notification title is required")
	}
	switch n.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return nil
	default:
		return errors.New("notification priority is invalid")
	}
}
