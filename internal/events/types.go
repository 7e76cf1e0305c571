// Package events publishes typed domain events on three tiers: in-process
// handlers, a durable integration queue, and realtime pub/sub. Domain and
// integration events are appended to a per-resource event log that backs
// replay.
package events

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Version    int            `json:"version"`
	Timestamp  time.Time      `json:"timestamp"`
	ResourceID string         `json:"resourceId"`
	UserID     string         `json:"userId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds a version 1 event. ID and Timestamp are assigned at publish time.
func New(eventType, resourceID, userID string, data map[string]any) Event {
	return Event{
		Type:       eventType,
		Version:    1,
		ResourceID: resourceID,
		UserID:     userID,
		Data:       data,
	}
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("event type is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("event resource id is required")
	}
	return nil
}

func (e Event) enrich(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Version == 0 {
		e.Version = 1
	}
	return e
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Domain events.
const (
	ProjectCreated      = "project.created"
	ProjectUpdated      = "project.updated"
	ProjectDeleted      = "project.deleted"
	ProjectArchived     = "project.archived"
	ProjectMemberAdded  = "project.member.added"
	EnvironmentCreated  = "environment.created"
	RepositoryConnected = "repository.connected"
	RepositoryCreated   = "repository.created"
	RepositoryDeleted   = "repository.deleted"
)

// Integration events.
const (
	InitQueued           = "project.init.queued"
	InitStarted          = "project.init.started"
	InitStepCompleted    = "project.init.step_completed"
	InitCompleted        = "project.init.completed"
	InitFailed           = "project.init.failed"
	GitOpsSetupRequested = "gitops.setup.requested"
	GitOpsSetupCompleted = "gitops.setup.completed"
	GitOpsSetupFailed    = "gitops.setup.failed"
)

// Realtime events.
const (
	ProgressUpdated   = "progress.updated"
	ProgressCompleted = "progress.completed"
	StatusChanged     = "status.changed"
	NotificationSent  = "notification.sent"
)

type Tier int

const (
	TierUnknown Tier = iota
	TierDomain
	TierIntegration
	TierRealtime
)

func (t Tier) String() string {
	switch t {
	case TierDomain:
		return "domain"
	case TierIntegration:
		return "integration"
	case TierRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

var tiers = map[string]Tier{
	ProjectCreated:      TierDomain,
	ProjectUpdated:      TierDomain,
	ProjectDeleted:      TierDomain,
	ProjectArchived:     TierDomain,
	ProjectMemberAdded:  TierDomain,
	EnvironmentCreated:  TierDomain,
	RepositoryConnected: TierDomain,
	RepositoryCreated:   TierDomain,
	RepositoryDeleted:   TierDomain,

	InitQueued:           TierIntegration,
	InitStarted:          TierIntegration,
	InitStepCompleted:    TierIntegration,
	InitCompleted:        TierIntegration,
	InitFailed:           TierIntegration,
	GitOpsSetupRequested: TierIntegration,
	GitOpsSetupCompleted: TierIntegration,
	GitOpsSetupFailed:    TierIntegration,

	ProgressUpdated:   TierRealtime,
	ProgressCompleted: TierRealtime,
	StatusChanged:     TierRealtime,
	NotificationSent:  TierRealtime,
}

// TierOf classifies an event type.
func TierOf(eventType string) Tier {
	return tiers[eventType]
}

// TypesOf lists the known event types of a tier, sorted.
func TypesOf(tier Tier) []string {
	var out []string
	for eventType, t := range tiers {
		if t == tier {
			out = append(out, eventType)
		}
	}
	sort.Strings(out)
	return out
}
