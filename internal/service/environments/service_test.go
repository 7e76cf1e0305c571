package environments

import (
	"context"
	"errors"
	"testing"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/repo/memstore"
)

func TestDefaultConfig(t *testing.T) {
	cases := []struct {
		envType      domain.EnvironmentType
		approval     bool
		minApprovals int
	}{
		{domain.EnvironmentDevelopment, false, 1},
		{domain.EnvironmentStaging, true, 1},
		{domain.EnvironmentProduction, true, 2},
	}
	for _, tc := range cases {
		cfg := DefaultConfig("p1", tc.envType)
		if cfg.ApprovalRequired != tc.approval || cfg.MinApprovals != tc.minApprovals {
			t.Fatalf("%s: got approval=%v min=%d", tc.envType, cfg.ApprovalRequired, cfg.MinApprovals)
		}
		if !cfg.GitOpsEnabled {
			t.Fatalf("%s: gitops disabled", tc.envType)
		}
		if want := "project-p1-" + string(tc.envType); cfg.Namespace != want {
			t.Fatalf("%s: namespace=%q want %q", tc.envType, cfg.Namespace, want)
		}
	}
}

func TestCreate(t *testing.T) {
	store := memstore.New()
	seedProject(t, store, "p1")
	svc := New(store.Environments())

	for _, in := range Defaults("p1") {
		if _, err := svc.Create(context.Background(), "u1", in); err != nil {
			t.Fatalf("Create(%s) err=%v", in.Type, err)
		}
	}
	envs, err := svc.List(context.Background(), "p1")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("len(envs)=%d, want 3", len(envs))
	}

	_, err = svc.Create(context.Background(), "u1", CreateInput{ProjectID: "p1", Name: "Staging 2", Type: domain.EnvironmentStaging})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate type err=%v, want ErrConflict", err)
	}
}

func TestCreateValidates(t *testing.T) {
	svc := New(memstore.New().Environments())
	if _, err := svc.Create(context.Background(), "", CreateInput{ProjectID: "p1", Name: "Dev", Type: domain.EnvironmentDevelopment}); err == nil {
		t.Fatalf("expected user id error")
	}
	if _, err := svc.Create(context.Background(), "u1", CreateInput{ProjectID: "p1", Name: "QA", Type: "qa"}); err == nil {
		t.Fatalf("expected type error")
	}
	if New(nil) != nil {
		t.Fatalf("New(nil) should be nil")
	}
}

func seedProject(t *testing.T, store *memstore.Store, id string) {
	t.Helper()
	err := store.Projects().Create(context.Background(), domain.Project{
		ID:             id,
		OrganizationID: "org1",
		Name:           "Shop",
		Slug:           "shop",
		Status:         domain.ProjectStatusInitializing,
		CreatedBy:      "u1",
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}
