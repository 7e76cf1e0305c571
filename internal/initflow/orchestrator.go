package initflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/queue"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/service/audit"
	"github.com/animus-labs/launchpad/internal/worker"
)

// Result is the outcome of one Run.
type Result struct {
	Success   bool
	ProjectID string
	Error     string
	// ErrorStep is the state that failed and ErrorCode its classification.
	ErrorStep         State
	ErrorCode         string
	Project           *domain.Project
	JobIDs            []string
	RepositoryPending bool
}

type Orchestrator struct {
	deps    Deps
	machine *Machine
	logger  *slog.Logger
}

func New(d Deps) (*Orchestrator, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	d = d.withDefaults()
	machine, err := NewMachine(Handlers(d), MachineOptions{
		Projects: d.Projects,
		Steps:    d.Steps,
		Progress: d.Progress,
		Events:   d.Events,
		Logger:   d.Logger,
		Now:      d.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build state machine: %w", err)
	}
	return &Orchestrator{
		deps:    d,
		machine: machine,
		logger:  d.Logger.With("component", "orchestrator"),
	}, nil
}

// Run initializes one project. An invalid input is returned as an error
// before anything is written; a failure during the run is reported in
// Result and leaves the effects of the states that completed.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid input: %w", err)
	}
	ictx := NewContext(in)
	final := o.machine.Execute(ctx, ictx)

	res := Result{
		ProjectID:         ictx.ProjectID(),
		Project:           ictx.Project(),
		JobIDs:            ictx.JobIDs(),
		RepositoryPending: ictx.RepositoryPending(),
	}
	if final == StateCompleted {
		res.Success = true
		return res, nil
	}
	var stepErr *StepError
	if errors.As(ictx.Err(), &stepErr) {
		res.ErrorStep = stepErr.Step
		res.ErrorCode = stepErr.Code()
		res.Error = stepErr.Error()
	} else if ictx.Err() != nil {
		res.Error = ictx.Err().Error()
	}
	return res, nil
}

// Refresh reloads the project of a finished run, for callers that waited for
// its repository job. A job that failed the project fails the result.
func (o *Orchestrator) Refresh(ctx context.Context, res Result) (Result, error) {
	if res.ProjectID == "" {
		return res, nil
	}
	project, err := loadJoined(ctx, o.deps, res.ProjectID)
	if err != nil {
		return res, err
	}
	res.Project = &project
	res.RepositoryPending = project.Status == domain.ProjectStatusInitializing && len(project.Repositories) == 0
	if res.Success && project.Status == domain.ProjectStatusFailed {
		res.Success = false
		res.ErrorStep = StateSettingUpRepository
		res.ErrorCode = RepositorySetupError
		res.Error = project.InitializationStatus.Error
	}
	return res, nil
}

type CleanupAction string

const (
	CleanupDelete  CleanupAction = "delete"
	CleanupArchive CleanupAction = "archive"
)

// CleanupRequest tears down what a run created. AccessToken authorizes the
// repository jobs; without it connected repositories are left untouched.
type CleanupRequest struct {
	ProjectID   string
	UserID      string
	Action      CleanupAction
	AccessToken string
}

func (r CleanupRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	switch r.Action {
	case CleanupDelete, CleanupArchive:
	default:
		return fmt.Errorf("cleanup action %q is invalid", r.Action)
	}
	return nil
}

type CleanupResult struct {
	JobIDs         []string
	GitOpsRemoved  int
	ObjectsRemoved int
	SkippedRepos   int
	ScratchRemoved bool
}

// Cleanup is never triggered by a run. Every part except the final status
// write is best-effort and logged.
func (o *Orchestrator) Cleanup(ctx context.Context, req CleanupRequest) (CleanupResult, error) {
	if err := req.Validate(); err != nil {
		return CleanupResult{}, fmt.Errorf("invalid cleanup: %w", err)
	}
	d := o.deps
	project, err := d.Projects.Get(ctx, req.ProjectID)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("load project: %w", err)
	}
	logger := o.logger.With("project_id", project.ID, "action", string(req.Action))

	var res CleanupResult
	repos, err := d.Repositories.ListByProject(ctx, project.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return CleanupResult{}, fmt.Errorf("list repositories: %w", err)
	}
	for _, r := range repos {
		if d.Repository == nil || strings.TrimSpace(req.AccessToken) == "" {
			res.SkippedRepos++
			continue
		}
		job, err := o.enqueueRemoval(ctx, req, r)
		if err != nil {
			logger.Warn("enqueue repository cleanup failed", "repository_id", r.ID, "error", err)
			res.SkippedRepos++
			continue
		}
		res.JobIDs = append(res.JobIDs, job.ID)
	}

	if d.GitOps != nil {
		n, err := d.GitOps.Teardown(ctx, project.ID)
		if err != nil {
			logger.Warn("gitops teardown failed", "removed", n, "error", err)
		}
		res.GitOpsRemoved = n
	}
	if d.Uploader != nil {
		n, err := d.Uploader.Remove(ctx, project.ID)
		if err != nil {
			logger.Warn("remove rendered objects failed", "error", err)
		}
		res.ObjectsRemoved = n
	}
	if d.Scratch != nil {
		if err := util.RemoveAll(d.Scratch, project.ID); err != nil {
			logger.Warn("remove scratch output failed", "error", err)
		} else {
			res.ScratchRemoved = true
		}
	}

	if err := d.Projects.UpdateStatus(ctx, project.ID, domain.ProjectStatusArchived, project.InitializationStatus); err != nil {
		return res, fmt.Errorf("archive project: %w", err)
	}
	entry := audit.Entry{
		Actor:          req.UserID,
		OrganizationID: project.OrganizationID,
		Action:         audit.ActionProjectArchived,
		ResourceType:   audit.ResourceProject,
		ResourceID:     project.ID,
		Payload:        map[string]any{"action": string(req.Action), "jobs": res.JobIDs},
		OccurredAt:     d.Now().UTC(),
	}
	if err := d.Audit.Log(ctx, entry); err != nil {
		logger.Warn("audit cleanup failed", "error", err)
	}
	d.publish(ctx, events.ProjectArchived, project.ID, req.UserID, map[string]any{
		"action": string(req.Action),
		"jobs":   len(res.JobIDs),
	})
	logger.Info("project cleaned up", "jobs", len(res.JobIDs), "gitops_removed", res.GitOpsRemoved)
	return res, nil
}

func (o *Orchestrator) enqueueRemoval(ctx context.Context, req CleanupRequest, r domain.Repository) (queue.Job, error) {
	name := worker.JobDeleteRepository
	if req.Action == CleanupArchive {
		name = worker.JobArchiveRepository
	}
	payload := worker.RemovePayload{
		ProjectID:    req.ProjectID,
		UserID:       req.UserID,
		RepositoryID: r.ID,
		Provider:     r.Provider,
		FullName:     r.FullName,
		AccessToken:  req.AccessToken,
	}
	opts := worker.RemoveOptions()
	opts.DedupeKey = fmt.Sprintf("repo:%s:%s", r.ID, name)
	job, err := o.deps.Repository.Enqueue(ctx, name, payload, opts)
	if err != nil {
		if existing, ok := queue.IsDuplicate(err); ok {
			return existing, nil
		}
		return queue.Job{}, err
	}
	return job, nil
}
