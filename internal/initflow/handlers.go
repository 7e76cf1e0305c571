package initflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/gitops"
	"github.com/animus-labs/launchpad/internal/queue"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/scm"
	"github.com/animus-labs/launchpad/internal/service/audit"
	"github.com/animus-labs/launchpad/internal/service/environments"
	"github.com/animus-labs/launchpad/internal/service/notifications"
	"github.com/animus-labs/launchpad/internal/templates"
	"github.com/animus-labs/launchpad/internal/worker"
)

// Handler performs the work of one state.
type Handler interface {
	State() State
	// CanHandle reports whether the state applies to this run. A state that
	// does not apply is skipped without side effects.
	CanHandle(ictx *Context) bool
	Execute(ctx context.Context, ictx *Context) error
	// Progress is the fixed percentage reported when the state starts.
	Progress() int
}

// Handlers returns one handler per working state, in run order.
func Handlers(d Deps) []Handler {
	return []Handler{
		createProject{d},
		loadTemplate{d},
		renderTemplate{d},
		createEnvironments{d},
		setupRepository{d},
		createGitOps{d},
		finalize{d},
	}
}

type createProject struct{ d Deps }

func (createProject) State() State { return StateCreatingProject }
func (createProject) CanHandle(*Context) bool { return true }
func (createProject) Progress() int { return 10 }

func (h createProject) Execute(ctx context.Context, ictx *Context) error {
	in := ictx.input
	slug := domain.Slugify(in.Project.Slug)
	if slug == "" {
		slug = domain.Slugify(in.Project.Name)
	}
	if slug == "" {
		return fmt.Errorf("project name %q does not produce a slug", in.Project.Name)
	}
	visibility := strings.TrimSpace(in.Project.Visibility)
	if visibility == "" {
		visibility = "private"
	}
	now := h.d.Now().UTC()
	project := domain.Project{
		ID:             uuid.NewString(),
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		Name:           strings.TrimSpace(in.Project.Name),
		Slug:           slug,
		Description:    strings.TrimSpace(in.Project.Description),
		Visibility:     visibility,
		Status:         domain.ProjectStatusInitializing,
		TemplateID:     strings.TrimSpace(in.TemplateID),
		TemplateConfig: in.TemplateConfig.Clone(),
		CreatedBy:      strings.TrimSpace(in.UserID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	project.InitializationStatus = domain.InitializationStatus{Step: domain.StepCreateProject, Progress: h.Progress()}
	if err := h.d.Projects.Create(ctx, project); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := ictx.SetProjectID(project.ID); err != nil {
		return err
	}
	h.d.publish(ctx, events.ProjectCreated, project.ID, in.UserID, map[string]any{
		"name":           project.Name,
		"slug":           project.Slug,
		"organizationId": project.OrganizationID,
	})
	return nil
}

type loadTemplate struct{ d Deps }

func (loadTemplate) State() State { return StateLoadingTemplate }
func (loadTemplate) Progress() int { return 20 }

func (loadTemplate) CanHandle(ictx *Context) bool {
	return strings.TrimSpace(ictx.input.TemplateID) != ""
}

func (h loadTemplate) Execute(ctx context.Context, ictx *Context) error {
	id := strings.TrimSpace(ictx.input.TemplateID)
	if h.d.Templates == nil {
		return fmt.Errorf("template %s: template catalog is not configured", id)
	}
	tmpl, err := h.d.Templates.Resolve(ctx, id, ictx.input.TemplateConfig.String("version"))
	if err != nil {
		return fmt.Errorf("template %s: %w", id, err)
	}
	if err := ictx.SetTemplatePath(tmpl.Path); err != nil {
		return err
	}
	metadata := map[string]any{"templateId": tmpl.ID}
	if tmpl.Version != nil {
		metadata["version"] = tmpl.Version.String()
	}
	ictx.detail(ctx, "template loaded", tmpl.Slug, metadata)
	return nil
}

type renderTemplate struct{ d Deps }

func (renderTemplate) State() State { return StateRenderingTemplate }
func (renderTemplate) Progress() int { return 30 }

func (renderTemplate) CanHandle(ictx *Context) bool {
	return ictx.templatePath != "" && ictx.input.Repository != nil
}

func (h renderTemplate) Execute(ctx context.Context, ictx *Context) error {
	if h.d.Renderer == nil {
		return errors.New("template renderer is not configured")
	}
	project, err := h.d.Projects.Get(ctx, ictx.projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	cfg := ictx.input.Repository
	vars := templates.Variables(project, &templates.RepositoryVars{URL: cfg.URL, Branch: cfg.branch()}, ictx.input.TemplateConfig)
	result, err := h.d.Renderer.Render(ctx, ictx.templatePath, vars, project.ID)
	if err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}
	ictx.detail(ctx, "template rendered", result.OutputDir, map[string]any{"files": len(result.Files)})

	if h.d.Uploader != nil && h.d.Scratch != nil {
		n, err := h.d.Uploader.Upload(ctx, h.d.Scratch, project.ID, result)
		if err != nil {
			h.d.Logger.Warn("upload rendered template failed", "project_id", project.ID, "uploaded", n, "error", err)
		}
	}
	return nil
}

type createEnvironments struct{ d Deps }

func (createEnvironments) State() State { return StateCreatingEnvironments }
func (createEnvironments) CanHandle(*Context) bool { return true }
func (createEnvironments) Progress() int { return 50 }

// Execute creates development, staging and production. A failing
// environment is logged and skipped; only an empty result fails the step.
func (h createEnvironments) Execute(ctx context.Context, ictx *Context) error {
	userID := ictx.input.UserID
	var ids []string
	var errs []error
	for _, in := range environments.Defaults(ictx.projectID) {
		env, err := h.d.EnvironmentService.Create(ctx, userID, in)
		if err != nil {
			h.d.Logger.Warn("create environment failed",
				"project_id", ictx.projectID,
				"environment", string(in.Type),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", in.Type, err))
			continue
		}
		ids = append(ids, env.ID)
		ictx.detail(ctx, "environment created", env.Name, map[string]any{
			"environmentId": env.ID,
			"type":          string(env.Type),
		})
		h.d.publish(ctx, events.EnvironmentCreated, ictx.projectID, userID, map[string]any{
			"environmentId": env.ID,
			"type":          string(env.Type),
		})
	}
	if len(ids) == 0 {
		return fmt.Errorf("no environment was created: %w", errors.Join(errs...))
	}
	return ictx.SetEnvironmentIDs(ids)
}

type setupRepository struct{ d Deps }

func (setupRepository) State() State { return StateSettingUpRepository }
func (setupRepository) Progress() int { return 70 }

func (setupRepository) CanHandle(ictx *Context) bool {
	return ictx.input.Repository != nil
}

func (h setupRepository) Execute(ctx context.Context, ictx *Context) error {
	cfg := ictx.input.Repository
	switch cfg.Mode {
	case RepositoryExisting:
		return h.connect(ctx, ictx, *cfg)
	case RepositoryCreate:
		return h.enqueue(ctx, ictx, *cfg)
	default:
		return fmt.Errorf("repository mode %q is invalid", cfg.Mode)
	}
}

// connect records an existing repository without calling the provider.
func (h setupRepository) connect(ctx context.Context, ictx *Context, cfg RepositoryConfig) error {
	provider, fullName, err := scm.ParseRepositoryURL(cfg.URL)
	if err != nil {
		return err
	}
	if cfg.Provider != "" && domain.NormalizeProvider(string(cfg.Provider)) != provider {
		return fmt.Errorf("repository url %s is not a %s repository", cfg.URL, cfg.Provider)
	}
	now := h.d.Now().UTC()
	row := domain.Repository{
		ID:            uuid.NewString(),
		ProjectID:     ictx.projectID,
		Provider:      provider,
		FullName:      fullName,
		CloneURL:      strings.TrimSpace(cfg.URL),
		DefaultBranch: cfg.branch(),
		SyncStatus:    domain.SyncStatusSuccess,
		LastSyncAt:    &now,
		CreatedAt:     now,
	}
	if err := h.d.Repositories.Create(ctx, row); err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	if err := ictx.SetRepositoryID(row.ID); err != nil {
		return err
	}
	ictx.detail(ctx, "repository connected", fullName, map[string]any{"provider": string(provider)})
	h.d.publish(ctx, events.RepositoryConnected, ictx.projectID, ictx.input.UserID, map[string]any{
		"repositoryId": row.ID,
		"fullName":     fullName,
		"provider":     string(provider),
	})
	return nil
}

// enqueue hands repository creation to the repository queue. The run does
// not wait for the job; the worker writes the outcome to the project row.
func (h setupRepository) enqueue(ctx context.Context, ictx *Context, cfg RepositoryConfig) error {
	if h.d.Repository == nil {
		return errors.New("repository queue is not configured")
	}
	visibility := cfg.Visibility
	if visibility == "" {
		visibility = "private"
	}
	payload := worker.CreatePayload{
		ProjectID:      ictx.projectID,
		UserID:         ictx.input.UserID,
		OrganizationID: ictx.input.OrganizationID,
		ProjectName:    ictx.input.Project.Name,
		Provider:       domain.NormalizeProvider(string(cfg.Provider)),
		Name:           strings.TrimSpace(cfg.Name),
		Visibility:     visibility,
		AccessToken:    cfg.AccessToken,
		DefaultBranch:  cfg.branch(),
		PushBootstrap:  cfg.IncludeAppCode,
		SetupGitOps:    h.d.gitopsAvailable(),
		CompletedSteps: ictx.CompletedSteps(),
	}
	job, err := h.d.Repository.Enqueue(ctx, worker.JobCreateRepository, payload, worker.CreateOptions())
	if existing, ok := queue.IsDuplicate(err); ok {
		h.d.Logger.Info("repository job already queued", "project_id", ictx.projectID, "job_id", existing.ID)
		job, err = existing, nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", worker.JobCreateRepository, err)
	}
	if err := ictx.AddJobID(job.ID); err != nil {
		return err
	}
	init := domain.InitializationStatus{
		Step:           domain.StepCreatingRepository,
		Progress:       50,
		CompletedSteps: ictx.CompletedSteps(),
		JobID:          job.ID,
	}
	// The job may already have settled the project.
	if _, err := h.d.Projects.TransitionStatus(ctx, ictx.projectID, domain.ProjectStatusInitializing, domain.ProjectStatusInitializing, init); err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	ictx.detail(ctx, "repository creation queued", payload.Name, map[string]any{"jobId": job.ID})
	h.d.publish(ctx, events.InitQueued, ictx.projectID, ictx.input.UserID, map[string]any{
		"jobId":   job.ID,
		"jobName": worker.JobCreateRepository,
	})
	return nil
}

type createGitOps struct{ d Deps }

func (createGitOps) State() State { return StateCreatingGitOps }
func (createGitOps) Progress() int { return 85 }

func (h createGitOps) CanHandle(ictx *Context) bool {
	return ictx.repositoryID != "" && h.d.gitopsAvailable()
}

func (h createGitOps) Execute(ctx context.Context, ictx *Context) error {
	repository, err := h.d.Repositories.Get(ctx, ictx.repositoryID)
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}
	all, err := h.d.Environments.ListByProject(ctx, ictx.projectID)
	if err != nil {
		return fmt.Errorf("list environments: %w", err)
	}
	var envs []domain.Environment
	for _, env := range all {
		if env.Config.GitOpsEnabled {
			envs = append(envs, env)
		}
	}
	token := ""
	if ictx.input.Repository != nil {
		token = ictx.input.Repository.AccessToken
	}
	h.d.publish(ctx, events.GitOpsSetupRequested, ictx.projectID, ictx.input.UserID, map[string]any{
		"repositoryId": repository.ID,
		"environments": len(envs),
	})
	created, err := h.d.GitOps.Setup(ctx, gitops.SetupInput{
		ProjectID:    ictx.projectID,
		RepositoryID: repository.ID,
		CloneURL:     repository.CloneURL,
		Branch:       repository.DefaultBranch,
		AccessToken:  token,
		Environments: envs,
	})
	if err != nil {
		h.d.publish(ctx, events.GitOpsSetupFailed, ictx.projectID, ictx.input.UserID, map[string]any{"error": err.Error()})
		return err
	}
	ids := make([]string, 0, len(created))
	for _, res := range created {
		ids = append(ids, res.ID)
	}
	if err := ictx.SetGitOpsResourceIDs(ids); err != nil {
		return err
	}
	ictx.detail(ctx, "gitops resources created", repository.FullName, map[string]any{"resources": len(ids)})
	h.d.publish(ctx, events.GitOpsSetupCompleted, ictx.projectID, ictx.input.UserID, map[string]any{"resources": len(ids)})
	return nil
}

type finalize struct{ d Deps }

func (finalize) State() State { return StateFinalizing }
func (finalize) CanHandle(*Context) bool { return true }
func (finalize) Progress() int { return 100 }

// Execute adds the owner, audits, notifies and settles the project status.
// With a repository still being provisioned the project stays initializing
// and the repository worker activates it.
func (h finalize) Execute(ctx context.Context, ictx *Context) error {
	in := ictx.input
	now := h.d.Now().UTC()
	if err := h.d.Members.Add(ctx, domain.Member{
		ProjectID: ictx.projectID,
		UserID:    in.UserID,
		Role:      domain.RoleOwner,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("add owner: %w", err)
	}
	h.d.publish(ctx, events.ProjectMemberAdded, ictx.projectID, in.UserID, map[string]any{
		"userId": in.UserID,
		"role":   string(domain.RoleOwner),
	})

	pending := ictx.RepositoryPending()
	if err := h.d.Audit.Log(ctx, audit.Entry{
		Actor:          in.UserID,
		OrganizationID: in.OrganizationID,
		Action:         audit.ActionProjectInitialized,
		ResourceType:   audit.ResourceProject,
		ResourceID:     ictx.projectID,
		OccurredAt:     now,
		Payload: map[string]any{
			"templateId":        in.TemplateID,
			"environments":      len(ictx.environmentIDs),
			"repositoryPending": pending,
			"jobIds":            ictx.JobIDs(),
		},
	}); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	if _, err := h.d.Notifications.Create(ctx, domain.Notification{
		UserID:   in.UserID,
		Type:     notifications.TypeProjectCreated,
		Title:    "Project created",
		Message:  h.message(in.Project.Name, pending),
		Priority: domain.PriorityNormal,
	}); err != nil {
		h.d.Logger.Warn("send notification failed", "project_id", ictx.projectID, "error", err)
	}

	if pending {
		init := domain.InitializationStatus{
			Step:           domain.StepSetupRepository,
			Progress:       ictx.progress,
			CompletedSteps: ictx.CompletedSteps(),
		}
		if jobs := ictx.jobIDs; len(jobs) > 0 {
			init.JobID = jobs[len(jobs)-1]
		}
		// The repository job owns the final status once it has written one.
		moved, err := h.d.Projects.TransitionStatus(ctx, ictx.projectID, domain.ProjectStatusInitializing, domain.ProjectStatusInitializing, init)
		if err != nil {
			return fmt.Errorf("update project status: %w", err)
		}
		if !moved {
			h.d.Logger.Info("project already settled by repository job", "project_id", ictx.projectID)
		}
	} else {
		init := domain.InitializationStatus{
			Step:           domain.StepCompleted,
			Progress:       100,
			CompletedSteps: append(ictx.CompletedSteps(), domain.StepFinalize),
		}
		if err := h.d.Projects.UpdateStatus(ctx, ictx.projectID, domain.ProjectStatusActive, init); err != nil {
			return fmt.Errorf("update project status: %w", err)
		}
	}

	project, err := loadJoined(ctx, h.d, ictx.projectID)
	if err != nil {
		return err
	}
	ictx.project = &project
	return nil
}

func (finalize) message(name string, pending bool) string {
	if pending {
		return fmt.Sprintf("Project %s was created. Its repository is being provisioned.", name)
	}
	return fmt.Sprintf("Project %s is ready.", name)
}

// loadJoined reads a project with its members, environments and repositories.
func loadJoined(ctx context.Context, d Deps, projectID string) (domain.Project, error) {
	project, err := d.Projects.Get(ctx, projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if project.Members, err = d.Members.ListByProject(ctx, projectID); err != nil {
		return domain.Project{}, fmt.Errorf("load members: %w", err)
	}
	if project.Environments, err = d.Environments.ListByProject(ctx, projectID); err != nil {
		return domain.Project{}, fmt.Errorf("load environments: %w", err)
	}
	if project.Repositories, err = d.Repositories.ListByProject(ctx, projectID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, fmt.Errorf("load repositories: %w", err)
	}
	return project, nil
}
