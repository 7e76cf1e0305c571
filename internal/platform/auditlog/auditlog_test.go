package auditlog

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:     time.Unix(1700000000, 0).UTC(),
		Actor:          "user-1",
		OrganizationID: "org-1",
		Action:         "project.initialized",
		ResourceType:   "project",
		ResourceID:     "proj-1",
	}
	payloadJSON := []byte(`{"environments":3}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnOrganization(t *testing.T) {
	event := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "user-1",
		Action:       "project.initialized",
		ResourceType: "project",
		ResourceID:   "proj-1",
	}
	a, err := ComputeIntegritySHA256(event, []byte(`{}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	event.OrganizationID = "org-2"
	b, err := ComputeIntegritySHA256(event, []byte(`{}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to change with organization")
	}
}

func TestValidateRequiresFields(t *testing.T) {
	if err := (Event{OccurredAt: time.Now(), Actor: "u"}).Validate(); err == nil {
		t.Fatalf("expected missing action error")
	}
	if _, err := Insert(context.Background(), nil, Event{}); err == nil {
		t.Fatalf("expected nil queryer error")
	}
}

func TestMarshalPayload_NilIsEmptyObject(t *testing.T) {
	raw, err := MarshalPayload(nil)
	if err != nil {
		t.Fatalf("MarshalPayload() err=%v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("MarshalPayload(nil)=%s", raw)
	}
	if !strings.Contains(insertEventQuery, "RETURNING event_id") {
		t.Fatalf("expected insert to return event id")
	}
}
