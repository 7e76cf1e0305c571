// Package worker holds the job handlers of the repository queue. Each
// handler calls the SCM provider first and only then mirrors the outcome
// into local state, so a retry after a partial success converges.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/gitops"
	"github.com/animus-labs/launchpad/internal/queue"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/scm"
)

const (
	QueueName            = "repository"
	JobCreateRepository  = "create-repository"
	JobDeleteRepository  = "delete-repository"
	JobArchiveRepository = "archive-repository"
)

// CreateOptions are the enqueue options of create-repository jobs.
func CreateOptions() queue.Options {
	return queue.Options{
		Attempts:         3,
		Backoff:          queue.Backoff{Type: queue.BackoffExponential, Delay: 2 * time.Second},
		RemoveOnComplete: 100,
		RemoveOnFail:     500,
	}
}

// RemoveOptions are the enqueue options of delete and archive jobs.
func RemoveOptions() queue.Options {
	opts := CreateOptions()
	opts.RemoveOnFail = 100
	return opts
}

type CreatePayload struct {
	ProjectID      string          `json:"projectId"`
	UserID         string          `json:"userId"`
	OrganizationID string          `json:"organizationId,omitempty"`
	ProjectName    string          `json:"projectName,omitempty"`
	Provider       domain.Provider `json:"provider"`
	Name           string          `json:"name"`
	Visibility     string          `json:"visibility"`
	AccessToken    string          `json:"accessToken"`
	DefaultBranch  string          `json:"defaultBranch,omitempty"`
	PushBootstrap  bool            `json:"pushInitialCode"`
	SetupGitOps    bool            `json:"setupGitOps"`
	// CompletedSteps are the initialization steps done before the job was queued.
	CompletedSteps []string `json:"completedSteps,omitempty"`
}

func (p CreatePayload) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if domain.NormalizeProvider(string(p.Provider)) == "" {
		return fmt.Errorf("unsupported provider %q", p.Provider)
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("repository name is required")
	}
	if strings.TrimSpace(p.AccessToken) == "" {
		return errors.New("access token is required")
	}
	return nil
}

// RemovePayload addresses an existing repository for delete and archive jobs.
type RemovePayload struct {
	ProjectID    string          `json:"projectId"`
	UserID       string          `json:"userId"`
	RepositoryID string          `json:"repositoryId"`
	Provider     domain.Provider `json:"provider"`
	FullName     string          `json:"fullName"`
	AccessToken  string          `json:"accessToken"`
}

func (p RemovePayload) Validate() error {
	if strings.TrimSpace(p.RepositoryID) == "" {
		return errors.New("repository id is required")
	}
	if domain.NormalizeProvider(string(p.Provider)) == "" {
		return fmt.Errorf("unsupported provider %q", p.Provider)
	}
	if strings.TrimSpace(p.FullName) == "" {
		return errors.New("repository full name is required")
	}
	if strings.TrimSpace(p.AccessToken) == "" {
		return errors.New("access token is required")
	}
	return nil
}

// Result is what a repository job resolves with.
type Result struct {
	Success       bool   `json:"success"`
	RepositoryID  string `json:"repositoryId,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	CloneURL      string `json:"cloneUrl,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

// GitOpsSetup is satisfied by *gitops.Service.
type GitOpsSetup interface {
	Available() bool
	Setup(ctx context.Context, in gitops.SetupInput) ([]domain.GitOpsResource, error)
}

type Deps struct {
	Projects     repo.ProjectRepository
	Repositories repo.RepositoryRepository
	Environments repo.EnvironmentRepository
	SCM          scm.Factory
	// Optional.
	GitOps GitOpsSetup
	Events *events.Publisher
	Logger *slog.Logger
}

type Repository struct {
	projects     repo.ProjectRepository
	repositories repo.RepositoryRepository
	environments repo.EnvironmentRepository
	scm          scm.Factory
	gitops       GitOpsSetup
	events       *events.Publisher
	logger       *slog.Logger
	now          func() time.Time
}

func NewRepository(d Deps) (*Repository, error) {
	if d.Projects == nil || d.Repositories == nil || d.Environments == nil {
		return nil, errors.New("project, repository and environment stores are required")
	}
	if d.SCM == nil {
		return nil, errors.New("scm factory is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repository{
		projects:     d.Projects,
		repositories: d.Repositories,
		environments: d.Environments,
		scm:          d.SCM,
		gitops:       d.GitOps,
		events:       d.Events,
		logger:       logger.With("component", "repository_worker"),
		now:          time.Now,
	}, nil
}

// Register binds the three repository job names on w.
func (r *Repository) Register(w *queue.Worker) {
	w.Handle(JobCreateRepository, r.Create)
	w.Handle(JobDeleteRepository, r.Delete)
	w.Handle(JobArchiveRepository, r.Archive)
}

func (r *Repository) Create(ctx context.Context, jc *queue.JobContext) (any, error) {
	var p CreatePayload
	if err := jc.Decode(&p); err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := p.Validate(); err != nil {
		return nil, backoff.Permanent(err)
	}
	res, err := r.create(ctx, jc, p)
	if err != nil {
		r.logJob(ctx, jc, "create failed: %v", err)
		err = classify(err)
		if jc.Final() || isPermanent(err) {
			r.markFailed(ctx, p, err)
		}
		return nil, err
	}
	return res, nil
}

func (r *Repository) create(ctx context.Context, jc *queue.JobContext, p CreatePayload) (Result, error) {
	r.progress(ctx, jc, 10)
	r.logJob(ctx, jc, "creating %s repository %s", p.Provider, p.Name)

	provider, err := r.scm.Provider(p.Provider, p.AccessToken)
	if err != nil {
		return Result{}, backoff.Permanent(err)
	}
	branch := strings.TrimSpace(p.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	remote, err := provider.CreateRepository(ctx, scm.CreateRequest{
		Name:          p.Name,
		Description:   p.ProjectName,
		Private:       !strings.EqualFold(p.Visibility, "public"),
		DefaultBranch: branch,
	})
	if scm.IsAlreadyExists(err) {
		// An earlier attempt may have created it before failing.
		remote, err = r.existingRemote(ctx, provider, p.Name)
	}
	if err != nil {
		return Result{}, err
	}
	if remote.DefaultBranch == "" {
		remote.DefaultBranch = branch
	}
	r.progress(ctx, jc, 40)
	r.logJob(ctx, jc, "repository created: %s", remote.FullName)

	stored, err := r.record(ctx, p, remote)
	if err != nil {
		return Result{}, err
	}
	r.progress(ctx, jc, 60)

	if p.PushBootstrap {
		if err := r.pushBootstrap(ctx, provider, p, remote); err != nil {
			r.logger.Warn("bootstrap push failed", "project_id", p.ProjectID, "repository", remote.FullName, "error", err)
			r.logJob(ctx, jc, "bootstrap push failed: %v", err)
		} else {
			r.logJob(ctx, jc, "bootstrap files pushed")
		}
		r.progress(ctx, jc, 80)
	}

	if p.SetupGitOps {
		r.setupGitOps(ctx, jc, p, stored)
	}

	init := domain.InitializationStatus{
		Step:           domain.StepCompleted,
		Progress:       100,
		CompletedSteps: appendStep(r.completedSteps(ctx, p), domain.StepSetupRepository),
	}
	if err := r.projects.UpdateStatus(ctx, p.ProjectID, domain.ProjectStatusActive, init); err != nil {
		return Result{}, fmt.Errorf("update project status: %w", err)
	}
	r.publish(ctx, events.RepositoryCreated, p.ProjectID, p.UserID, map[string]any{
		"repositoryId": stored.ID,
		"fullName":     stored.FullName,
		"provider":     string(stored.Provider),
	})
	r.progress(ctx, jc, 100)
	r.logJob(ctx, jc, "project %s initialization completed", p.ProjectID)
	r.logger.Info("repository created", "project_id", p.ProjectID, "repository", stored.FullName, "attempt", jc.Attempt())

	return Result{
		Success:       true,
		RepositoryID:  stored.ID,
		FullName:      stored.FullName,
		CloneURL:      stored.CloneURL,
		DefaultBranch: stored.DefaultBranch,
	}, nil
}

// existingRemote resolves a name conflict to the repository that already
// holds the name in the token owner's namespace.
func (r *Repository) existingRemote(ctx context.Context, provider scm.Provider, name string) (scm.Repository, error) {
	fullName := strings.Trim(name, "/")
	if !strings.Contains(fullName, "/") {
		owner, err := provider.Owner(ctx)
		if err != nil {
			return scm.Repository{}, fmt.Errorf("resolve repository owner: %w", err)
		}
		fullName = owner + "/" + fullName
	}
	remote, err := provider.GetRepository(ctx, fullName)
	if err != nil {
		return scm.Repository{}, fmt.Errorf("lookup existing repository %s: %w", fullName, err)
	}
	return remote, nil
}

// record inserts the repository row, reusing the row of an earlier attempt.
func (r *Repository) record(ctx context.Context, p CreatePayload, remote scm.Repository) (domain.Repository, error) {
	existing, err := r.repositories.FindByFullName(ctx, p.ProjectID, p.Provider, remote.FullName)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Repository{}, fmt.Errorf("find repository: %w", err)
	}
	now := r.now().UTC()
	row := domain.Repository{
		ID:            uuid.NewString(),
		ProjectID:     p.ProjectID,
		Provider:      p.Provider,
		FullName:      remote.FullName,
		CloneURL:      remote.CloneURL,
		DefaultBranch: remote.DefaultBranch,
		SyncStatus:    domain.SyncStatusSuccess,
		LastSyncAt:    &now,
		CreatedAt:     now,
	}
	if err := r.repositories.Create(ctx, row); err != nil {
		return domain.Repository{}, fmt.Errorf("insert repository: %w", err)
	}
	return row, nil
}

func (r *Repository) pushBootstrap(ctx context.Context, provider scm.Provider, p CreatePayload, remote scm.Repository) error {
	files, err := BootstrapFiles(p.ProjectID, p.ProjectName)
	if err != nil {
		return err
	}
	return provider.PushFiles(ctx, remote.FullName, remote.DefaultBranch, "chore: initial project setup", files)
}

func (r *Repository) setupGitOps(ctx context.Context, jc *queue.JobContext, p CreatePayload, stored domain.Repository) {
	if r.gitops == nil || !r.gitops.Available() {
		r.logJob(ctx, jc, "gitops backend unavailable, skipping")
		return
	}
	envs, err := r.environments.ListByProject(ctx, p.ProjectID)
	if err != nil {
		r.logger.Warn("list environments for gitops failed", "project_id", p.ProjectID, "error", err)
		return
	}
	created, err := r.gitops.Setup(ctx, gitops.SetupInput{
		ProjectID:    p.ProjectID,
		RepositoryID: stored.ID,
		CloneURL:     stored.CloneURL,
		Branch:       stored.DefaultBranch,
		AccessToken:  p.AccessToken,
		Environments: envs,
	})
	if err != nil {
		r.logger.Warn("gitops setup failed", "project_id", p.ProjectID, "error", err)
		r.publish(ctx, events.GitOpsSetupFailed, p.ProjectID, p.UserID, map[string]any{"error": err.Error()})
		return
	}
	r.logJob(ctx, jc, "gitops resources created: %d", len(created))
	r.publish(ctx, events.GitOpsSetupCompleted, p.ProjectID, p.UserID, map[string]any{"resources": len(created)})
}

func (r *Repository) markFailed(ctx context.Context, p CreatePayload, cause error) {
	projectID := p.ProjectID
	ctx = context.WithoutCancel(ctx)
	init := domain.InitializationStatus{
		Step:           domain.StepFailed,
		Progress:       0,
		Error:          cause.Error(),
		CompletedSteps: r.completedSteps(ctx, p),
	}
	if err := r.projects.UpdateStatus(ctx, projectID, domain.ProjectStatusFailed, init); err != nil {
		r.logger.Error("mark project failed", "project_id", projectID, "error", err)
	}
	r.publish(ctx, events.InitFailed, projectID, "", map[string]any{
		"step":  domain.StepSetupRepository,
		"error": cause.Error(),
	})
}

// completedSteps are the steps the run finished before this job, from the
// payload or, for jobs queued without them, from the project row.
func (r *Repository) completedSteps(ctx context.Context, p CreatePayload) []string {
	if len(p.CompletedSteps) > 0 {
		return append([]string(nil), p.CompletedSteps...)
	}
	project, err := r.projects.Get(ctx, p.ProjectID)
	if err != nil {
		r.logger.Warn("read completed steps failed", "project_id", p.ProjectID, "error", err)
		return nil
	}
	return append([]string(nil), project.InitializationStatus.CompletedSteps...)
}

func appendStep(steps []string, step string) []string {
	for _, s := range steps {
		if s == step {
			return steps
		}
	}
	return append(steps, step)
}

func (r *Repository) Delete(ctx context.Context, jc *queue.JobContext) (any, error) {
	var p RemovePayload
	if err := jc.Decode(&p); err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := p.Validate(); err != nil {
		return nil, backoff.Permanent(err)
	}
	r.logJob(ctx, jc, "deleting %s repository %s", p.Provider, p.FullName)
	provider, err := r.scm.Provider(p.Provider, p.AccessToken)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := provider.DeleteRepository(ctx, p.FullName); err != nil && !scm.IsNotFound(err) {
		return nil, classify(err)
	}
	r.progress(ctx, jc, 50)
	if err := r.repositories.Delete(ctx, p.RepositoryID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("delete repository row: %w", err)
	}
	r.progress(ctx, jc, 100)
	r.publish(ctx, events.RepositoryDeleted, p.ProjectID, p.UserID, map[string]any{
		"repositoryId": p.RepositoryID,
		"fullName":     p.FullName,
	})
	r.logger.Info("repository deleted", "repository", p.FullName)
	return Result{Success: true, RepositoryID: p.RepositoryID, FullName: p.FullName}, nil
}

func (r *Repository) Archive(ctx context.Context, jc *queue.JobContext) (any, error) {
	var p RemovePayload
	if err := jc.Decode(&p); err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := p.Validate(); err != nil {
		return nil, backoff.Permanent(err)
	}
	r.logJob(ctx, jc, "archiving %s repository %s", p.Provider, p.FullName)
	provider, err := r.scm.Provider(p.Provider, p.AccessToken)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := provider.ArchiveRepository(ctx, p.FullName); err != nil {
		return nil, classify(err)
	}
	r.progress(ctx, jc, 50)
	if err := r.repositories.UpdateSyncStatus(ctx, p.RepositoryID, domain.SyncStatusArchived); err != nil {
		return nil, fmt.Errorf("update repository status: %w", err)
	}
	r.progress(ctx, jc, 100)
	r.logger.Info("repository archived", "repository", p.FullName)
	return Result{Success: true, RepositoryID: p.RepositoryID, FullName: p.FullName}, nil
}

// classify stops retries of provider answers that cannot change. Store and
// transport failures keep their retry budget.
func classify(err error) error {
	var apiErr *scm.APIError
	if isPermanent(err) || !errors.As(err, &apiErr) || scm.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func (r *Repository) progress(ctx context.Context, jc *queue.JobContext, pct int) {
	if err := jc.UpdateProgress(ctx, pct); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("update job progress failed", "job_id", jc.Job.ID, "error", err)
	}
}

func (r *Repository) logJob(ctx context.Context, jc *queue.JobContext, format string, args ...any) {
	if err := jc.Log(ctx, format, args...); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("append job log failed", "job_id", jc.Job.ID, "error", err)
	}
}

func (r *Repository) publish(ctx context.Context, eventType, projectID, userID string, data map[string]any) {
	if r.events == nil || projectID == "" {
		return
	}
	if _, err := r.events.Publish(ctx, events.New(eventType, projectID, userID, data)); err != nil {
		r.logger.Warn("publish event failed", "type", eventType, "project_id", projectID, "error", err)
	}
}
