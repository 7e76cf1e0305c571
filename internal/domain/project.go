package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

type ProjectStatus string

const (
	ProjectStatusInitializing ProjectStatus = "initializing"
	ProjectStatusActive       ProjectStatus = "active"
	ProjectStatusFailed       ProjectStatus = "failed"
	ProjectStatusArchived     ProjectStatus = "archived"
)

func NormalizeProjectStatus(value string) ProjectStatus {
	switch ProjectStatus(strings.ToLower(strings.TrimSpace(value))) {
	case ProjectStatusInitializing:
		return ProjectStatusInitializing
	case ProjectStatusActive:
		return ProjectStatusActive
	case ProjectStatusFailed:
		return ProjectStatusFailed
	case ProjectStatusArchived:
		return ProjectStatusArchived
	default:
		return ""
	}
}

// Initialization step names persisted in InitializationStatus.
const (
	StepCreateProject      = "create_project"
	StepLoadTemplate       = "load_template"
	StepRenderTemplate     = "render_template"
	StepCreateEnvironments = "create_environments"
	StepSetupRepository    = "setup_repository"
	StepCreatingRepository = "creating_repository"
	StepCreateGitOps       = "create_gitops"
	StepFinalize           = "finalize"
	StepCompleted          = "completed"
	StepFailed             = "failed"
)

// InitializationStatus is the persisted view of an initialization attempt.
// It is the source of truth for clients that missed live progress events.
type InitializationStatus struct {
	Step           string   `json:"step"`
	Progress       int      `json:"progress"`
	CompletedSteps []string `json:"completedSteps,omitempty"`
	Error          string   `json:"error,omitempty"`
	JobID          string   `json:"jobId,omitempty"`
}

// Project is the tenant-scoped unit being provisioned.
type Project struct {
	ID                   string
	OrganizationID       string
	Name                 string
	Slug                 string
	Description          string
	Visibility           string
	Status               ProjectStatus
	InitializationStatus InitializationStatus
	TemplateID           string
	TemplateConfig       Metadata
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time

	// Populated only by joined reads.
	Members      []Member
	Environments []Environment
	Repositories []Repository
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.OrganizationID) == "" {
		return errors.New("organization id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("project name is required")
	}
	if strings.TrimSpace(p.Slug) == "" {
		return errors.New("project slug is required")
	}
	if NormalizeProjectStatus(string(p.Status)) == "" {
		return errors.New("project status is invalid")
	}
	if strings.TrimSpace(p.CreatedBy) == "" {
		return errors.New("created by is required")
	}
	return nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases value and collapses every run of other characters into one dash.
func Slugify(value string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 63 {
		slug = strings.TrimRight(slug[:63], "-")
	}
	return slug
}
