// Package audit records project audit events.
package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/launchpad/internal/platform/auditlog"
)

const (
	ActionProjectInitialized = "project.initialized"
	ActionProjectArchived    = "project.archived"
	ResourceProject          = "project"
)

type Entry struct {
	Actor          string
	OrganizationID string
	Action         string
	ResourceType   string
	ResourceID     string
	Payload        any
	OccurredAt     time.Time
}

func (e Entry) event() auditlog.Event {
	return auditlog.Event{
		OccurredAt:     e.OccurredAt,
		Actor:          e.Actor,
		OrganizationID: e.OrganizationID,
		Action:         e.Action,
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Payload:        e.Payload,
	}
}

// Recorder is implemented by Service and Memory.
type Recorder interface {
	Log(ctx context.Context, entry Entry) error
}

// Service writes entries to audit_events.
type Service struct {
	db auditlog.QueryRower
}

func New(db auditlog.QueryRower) *Service {
	if db == nil {
		return nil
	}
	return &Service{db: db}
}

func (s *Service) Log(ctx context.Context, entry Entry) error {
	if s == nil {
		return errors.New("audit service is not configured")
	}
	_, err := auditlog.Insert(ctx, s.db, entry.event())
	return err
}

// Memory keeps entries in process for dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Log(_ context.Context, entry Entry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if err := entry.event().Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns recorded entries, filtered by action when one is given.
func (m *Memory) Entries(action string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, entry := range m.entries {
		if action == "" || strings.EqualFold(entry.Action, action) {
			out = append(out, entry)
		}
	}
	return out
}
