package initflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/gitops"
	"github.com/animus-labs/launchpad/internal/progress"
	"github.com/animus-labs/launchpad/internal/queue"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/service/audit"
	"github.com/animus-labs/launchpad/internal/service/environments"
	"github.com/animus-labs/launchpad/internal/templates"
)

// TemplateSource is satisfied by *templates.Catalog.
type TemplateSource interface {
	Resolve(ctx context.Context, idOrSlug, constraint string) (templates.Template, error)
}

// TemplateRenderer is satisfied by *templates.Renderer.
type TemplateRenderer interface {
	Render(ctx context.Context, templatePath string, vars map[string]any, outDir string) (templates.RenderResult, error)
}

// EnvironmentCreator is satisfied by *environments.Service.
type EnvironmentCreator interface {
	Create(ctx context.Context, userID string, in environments.CreateInput) (domain.Environment, error)
}

// Notifier is satisfied by *notifications.Service.
type Notifier interface {
	Create(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

// GitOpsBackend is satisfied by *gitops.Service.
type GitOpsBackend interface {
	Available() bool
	Setup(ctx context.Context, in gitops.SetupInput) ([]domain.GitOpsResource, error)
	Teardown(ctx context.Context, projectID string) (int, error)
}

// Deps is the object graph of an Orchestrator. Fields below "Optional" may
// be nil; the steps that need them are skipped or fail with a clear error.
type Deps struct {
	Projects           repo.ProjectRepository
	Members            repo.MemberRepository
	Environments       repo.EnvironmentRepository
	Repositories       repo.RepositoryRepository
	EnvironmentService EnvironmentCreator
	Audit              audit.Recorder
	Notifications      Notifier

	// Optional.
	Steps     repo.StepRepository
	Templates TemplateSource
	Renderer  TemplateRenderer
	// Scratch is the renderer's output filesystem, rooted at the scratch dir.
	Scratch    billy.Filesystem
	Uploader   *templates.Uploader
	Repository queue.Queue
	GitOps     GitOpsBackend
	Events     *events.Publisher
	Progress   *progress.Tracker
	Logger     *slog.Logger
	Now        func() time.Time
}

func (d Deps) validate() error {
	if d.Projects == nil || d.Members == nil || d.Environments == nil || d.Repositories == nil {
		return errors.New("project, member, environment and repository stores are required")
	}
	if d.EnvironmentService == nil {
		return errors.New("environment service is required")
	}
	if d.Audit == nil {
		return errors.New("audit recorder is required")
	}
	if d.Notifications == nil {
		return errors.New("notification service is required")
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) gitopsAvailable() bool {
	return d.GitOps != nil && d.GitOps.Available()
}

// publish sends an event and logs a failure. Events never fail a step.
func (d Deps) publish(ctx context.Context, eventType, resourceID, userID string, data map[string]any) {
	if d.Events == nil || resourceID == "" {
		return
	}
	if _, err := d.Events.Publish(ctx, events.New(eventType, resourceID, userID, data)); err != nil {
		d.Logger.Warn("publish event failed", "type", eventType, "resource_id", resourceID, "error", err)
	}
}
