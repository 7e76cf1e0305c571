package initflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/progress"
)

// ErrAlreadySet is returned by a setter whose field was written before.
var ErrAlreadySet = errors.New("context field already set")

type RepositoryMode string

const (
	// RepositoryExisting connects a repository that already exists.
	RepositoryExisting RepositoryMode = "existing"
	// RepositoryCreate provisions a new repository on the repository queue.
	RepositoryCreate RepositoryMode = "create"
)

type RepositoryConfig struct {
	Mode           RepositoryMode
	Provider       domain.Provider
	URL            string
	Name           string
	Visibility     string
	AccessToken    string
	DefaultBranch  string
	IncludeAppCode bool
}

func (c RepositoryConfig) Validate() error {
	switch c.Mode {
	case RepositoryExisting:
		if strings.TrimSpace(c.URL) == "" {
			return errors.New("repository url is required")
		}
	case RepositoryCreate:
		if domain.NormalizeProvider(string(c.Provider)) == "" {
			return fmt.Errorf("repository provider %q is invalid", c.Provider)
		}
		if strings.TrimSpace(c.Name) == "" {
			return errors.New("repository name is required")
		}
		switch c.Visibility {
		case "", "public", "private":
		default:
			return fmt.Errorf("repository visibility %q is invalid", c.Visibility)
		}
		if strings.TrimSpace(c.AccessToken) == "" {
			return errors.New("repository access token is required")
		}
	default:
		return fmt.Errorf("repository mode %q is invalid", c.Mode)
	}
	return nil
}

func (c RepositoryConfig) branch() string {
	if b := strings.TrimSpace(c.DefaultBranch); b != "" {
		return b
	}
	return "main"
}

type ProjectData struct {
	Name        string
	Slug        string
	Description string
	Visibility  string
}

// Input is what the caller asks for. It is never modified by a run.
type Input struct {
	UserID         string
	OrganizationID string
	Project        ProjectData
	TemplateID     string
	TemplateConfig domain.Metadata
	Repository     *RepositoryConfig
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(in.OrganizationID) == "" {
		return errors.New("organization id is required")
	}
	if strings.TrimSpace(in.Project.Name) == "" {
		return errors.New("project name is required")
	}
	if in.Repository != nil {
		if err := in.Repository.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (in Input) clone() Input {
	in.TemplateConfig = in.TemplateConfig.Clone()
	if in.Repository != nil {
		repository := *in.Repository
		in.Repository = &repository
	}
	return in
}

// Context carries one initialization attempt. It is owned by the goroutine
// that runs the machine and needs no locking.
type Context struct {
	input Input

	projectID         string
	templatePath      string
	environmentIDs    []string
	repositoryID      string
	gitopsResourceIDs []string
	jobIDs            []string

	state    State
	progress int
	err      error

	project   *domain.Project
	completed []string
	reporter  *progress.Reporter
}

func NewContext(in Input) *Context {
	return &Context{input: in.clone(), state: StateIdle}
}

// Input returns a copy of the run's input.
func (c *Context) Input() Input { return c.input.clone() }

func (c *Context) ProjectID() string { return c.projectID }

func (c *Context) TemplatePath() string { return c.templatePath }

func (c *Context) EnvironmentIDs() []string { return slices.Clone(c.environmentIDs) }

func (c *Context) RepositoryID() string { return c.repositoryID }

func (c *Context) GitOpsResourceIDs() []string { return slices.Clone(c.gitopsResourceIDs) }

func (c *Context) JobIDs() []string { return slices.Clone(c.jobIDs) }

func (c *Context) State() State { return c.state }

func (c *Context) Progress() int { return c.progress }

// Err is the classified failure, set only when the run entered FAILED.
func (c *Context) Err() error { return c.err }

// Project is the joined project loaded by the finalize step.
func (c *Context) Project() *domain.Project { return c.project }

// CompletedSteps lists the step names that ran to completion, in order.
func (c *Context) CompletedSteps() []string { return slices.Clone(c.completed) }

// RepositoryPending reports whether a repository was requested but is not
// connected yet.
func (c *Context) RepositoryPending() bool {
	return c.input.Repository != nil && c.repositoryID == ""
}

func (c *Context) SetProjectID(id string) error {
	return setOnce(&c.projectID, id, "project id")
}

func (c *Context) SetTemplatePath(path string) error {
	return setOnce(&c.templatePath, path, "template path")
}

func (c *Context) SetRepositoryID(id string) error {
	return setOnce(&c.repositoryID, id, "repository id")
}

func (c *Context) SetEnvironmentIDs(ids []string) error {
	return setListOnce(&c.environmentIDs, ids, "environment ids")
}

func (c *Context) SetGitOpsResourceIDs(ids []string) error {
	return setListOnce(&c.gitopsResourceIDs, ids, "gitops resource ids")
}

// AddJobID records an enqueued job. A job id may appear once.
func (c *Context) AddJobID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id is required")
	}
	if slices.Contains(c.jobIDs, id) {
		return fmt.Errorf("job %s: %w", id, ErrAlreadySet)
	}
	c.jobIDs = append(c.jobIDs, id)
	return nil
}

// SetProgress raises progress. Lower values are ignored.
func (c *Context) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > c.progress {
		c.progress = p
	}
}

// detail publishes a fine-grained progress event for the running state.
func (c *Context) detail(ctx context.Context, message, detail string, metadata map[string]any) {
	_ = c.reporter.Detail(ctx, string(c.state), message, detail, metadata)
}

func setOnce(dst *string, value, name string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if *dst != "" {
		return fmt.Errorf("%s: %w", name, ErrAlreadySet)
	}
	*dst = value
	return nil
}

func setListOnce(dst *[]string, values []string, name string) error {
	if *dst != nil {
		return fmt.Errorf("%s: %w", name, ErrAlreadySet)
	}
	*dst = append([]string{}, values...)
	return nil
}
