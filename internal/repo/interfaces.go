package repo

import (
	"context"

	"github.com/animus-labs/launchpad/internal/domain"
)

type ProjectFilter struct {
	OrganizationID string
	Status         domain.ProjectStatus
	Limit          int
}

// ProjectRepository manages project rows. UpdateStatus is last-writer-wins.
type ProjectRepository interface {
	Create(ctx context.Context, project domain.Project) error
	Get(ctx context.Context, id string) (domain.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]domain.Project, error)
	UpdateStatus(ctx context.Context, id string, status domain.ProjectStatus, init domain.InitializationStatus) error
	// TransitionStatus writes only while the project is still in from and
	// reports whether it did.
	TransitionStatus(ctx context.Context, id string, from, status domain.ProjectStatus, init domain.InitializationStatus) (bool, error)
}

// MemberRepository manages project membership.
type MemberRepository interface {
	Add(ctx context.Context, member domain.Member) error
	ListByProject(ctx context.Context, projectID string) ([]domain.Member, error)
}

// EnvironmentRepository manages project environments.
type EnvironmentRepository interface {
	Create(ctx context.Context, env domain.Environment) error
	ListByProject(ctx context.Context, projectID string) ([]domain.Environment, error)
}

// RepositoryRepository manages connected SCM repositories.
type RepositoryRepository interface {
	Create(ctx context.Context, repository domain.Repository) error
	Get(ctx context.Context, id string) (domain.Repository, error)
	FindByFullName(ctx context.Context, projectID string, provider domain.Provider, fullName string) (domain.Repository, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Repository, error)
	UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error
	Delete(ctx context.Context, id string) error
}

// GitOpsRepository manages recorded Flux resources.
type GitOpsRepository interface {
	Create(ctx context.Context, resource domain.GitOpsResource) error
	ListByProject(ctx context.Context, projectID string) ([]domain.GitOpsResource, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

// StepRepository records per-state outcomes of initialization runs.
type StepRepository interface {
	Upsert(ctx context.Context, step domain.StepRecord) error
	ListByProject(ctx context.Context, projectID string) ([]domain.StepRecord, error)
}

// NotificationRepository persists user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification domain.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}
