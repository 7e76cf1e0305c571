package audit

import (
	"context"
	"testing"
)

func TestMemoryRecordsEntries(t *testing.T) {
	m := NewMemory()
	err := m.Log(context.Background(), Entry{
		Actor:        "user-1",
		Action:       ActionProjectInitialized,
		ResourceType: ResourceProject,
		ResourceID:   "proj-1",
		Payload:      map[string]any{"environments": 3},
	})
	if err != nil {
		t.Fatalf("Log() err=%v", err)
	}
	entries := m.Entries(ActionProjectInitialized)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be stamped")
	}
	if got := m.Entries(ActionProjectArchived); len(got) != 0 {
		t.Fatalf("expected no archived entries, got %d", len(got))
	}
}

func TestMemoryRejectsIncompleteEntry(t *testing.T) {
	if err := NewMemory().Log(context.Background(), Entry{Actor: "u"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestServiceRequiresDB(t *testing.T) {
	if New(nil) != nil {
		t.Fatalf("expected nil service without db")
	}
	var s *Service
	if err := s.Log(context.Background(), Entry{}); err == nil {
		t.Fatalf("expected error from nil service")
	}
}

var (
	_ Recorder = (*Service)(nil)
	_ Recorder = (*Memory)(nil)
)
