package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/repo"
)

func newProject(id, slug string) domain.Project {
	return domain.Project{
		ID:             id,
		OrganizationID: "org-1",
		Name:           slug,
		Slug:           slug,
		Status:         domain.ProjectStatusInitializing,
		CreatedBy:      "user-1",
	}
}

func TestProjectSlugUniquePerOrganization(t *testing.T) {
	ctx := context.Background()
	projects := New().Projects()

	require.NoError(t, projects.Create(ctx, newProject("p1", "demo")))
	err := projects.Create(ctx, newProject("p2", "demo"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrConflict))

	other := newProject("p3", "demo")
	other.OrganizationID = "org-2"
	assert.NoError(t, projects.Create(ctx, other))
}

func TestProjectUpdateStatus(t *testing.T) {
	ctx := context.Background()
	projects := New().Projects()
	require.NoError(t, projects.Create(ctx, newProject("p1", "demo")))

	err := projects.UpdateStatus(ctx, "p1", domain.ProjectStatusActive, domain.InitializationStatus{Step: domain.StepCompleted, Progress: 100})
	require.NoError(t, err)

	got, err := projects.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusActive, got.Status)
	assert.Equal(t, 100, got.InitializationStatus.Progress)

	assert.ErrorIs(t, projects.UpdateStatus(ctx, "missing", domain.ProjectStatusActive, domain.InitializationStatus{}), repo.ErrNotFound)
}

func TestProjectTransitionStatus(t *testing.T) {
	ctx := context.Background()
	projects := New().Projects()
	require.NoError(t, projects.Create(ctx, newProject("p1", "demo")))
	require.NoError(t, projects.UpdateStatus(ctx, "p1", domain.ProjectStatusActive, domain.InitializationStatus{Step: domain.StepCompleted, Progress: 100}))

	ok, err := projects.TransitionStatus(ctx, "p1", domain.ProjectStatusInitializing, domain.ProjectStatusInitializing, domain.InitializationStatus{Progress: 70})
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := projects.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusActive, got.Status)
	assert.Equal(t, 100, got.InitializationStatus.Progress)

	ok, err = projects.TransitionStatus(ctx, "p1", domain.ProjectStatusActive, domain.ProjectStatusArchived, got.InitializationStatus)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = projects.TransitionStatus(ctx, "missing", domain.ProjectStatusActive, domain.ProjectStatusArchived, domain.InitializationStatus{})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	r := domain.Repository{
		ID:         "r1",
		ProjectID:  "p1",
		Provider:   domain.ProviderGitHub,
		FullName:   "acme/demo",
		CloneURL:   "https://github.com/acme/demo.git",
		SyncStatus: domain.SyncStatusSuccess,
	}
	require.NoError(t, repos.Create(ctx, r))
	assert.ErrorIs(t, repos.Create(ctx, r), repo.ErrConflict)

	found, err := repos.FindByFullName(ctx, "p1", domain.ProviderGitHub, "acme/demo")
	require.NoError(t, err)
	assert.Equal(t, "main", found.DefaultBranch)

	require.NoError(t, repos.UpdateSyncStatus(ctx, "r1", domain.SyncStatusArchived))
	got, err := repos.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusArchived, got.SyncStatus)
	assert.NotNil(t, got.LastSyncAt)

	require.NoError(t, repos.Delete(ctx, "r1"))
	_, err = repos.Get(ctx, "r1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMemberAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	members := New().Members()
	require.NoError(t, members.Add(ctx, domain.Member{ProjectID: "p1", UserID: "u1", Role: domain.RoleDeveloper}))
	require.NoError(t, members.Add(ctx, domain.Member{ProjectID: "p1", UserID: "u1", Role: domain.RoleOwner}))

	list, err := members.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.RoleOwner, list[0].Role)
}

func TestStepUpsertPreservesStart(t *testing.T) {
	ctx := context.Background()
	steps := New().Steps()
	start := domainTime()
	require.NoError(t, steps.Upsert(ctx, domain.StepRecord{ProjectID: "p1", Step: "creating_project", Status: domain.StepStatusRunning, Progress: 10, StartedAt: &start}))
	require.NoError(t, steps.Upsert(ctx, domain.StepRecord{ProjectID: "p1", Step: "creating_project", Status: domain.StepStatusCompleted, Progress: 10}))

	list, err := steps.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StepStatusCompleted, list[0].Status)
	require.NotNil(t, list[0].StartedAt)
	assert.True(t, list[0].StartedAt.Equal(start))
}

func domainTime() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}
