package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConfigValidate(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected auto migrate by default")
	}
}

func TestConfigRejectsIdleAboveOpen(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "2")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "3")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{
		"projects",
		"project_members",
		"environments",
		"repositories",
		"gitops_resources",
		"project_initialization_steps",
		"notifications",
		"audit_events",
	} {
		if !strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema missing table %s", table)
		}
	}
	if !strings.Contains(Schema(), "CONSTRAINT projects_org_slug_key UNIQUE (organization_id, slug)") {
		t.Fatalf("expected slug uniqueness constraint")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert project: %w", &pgconn.PgError{Code: "23505", ConstraintName: "projects_org_slug_key"})
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(err, "projects_org_slug_key") {
		t.Fatalf("expected constraint match")
	}
	if IsUniqueViolation(err, "other_key") {
		t.Fatalf("unexpected constraint match")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Fatalf("plain error is not a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatalf("foreign key violation is not a unique violation")
	}
}
