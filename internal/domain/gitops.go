package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	GitOpsKindGitRepository = "GitRepository"
	GitOpsKindKustomization = "Kustomization"
)

type GitOpsStatus string

const (
	GitOpsStatusPending GitOpsStatus = "pending"
	GitOpsStatusReady   GitOpsStatus = "ready"
	GitOpsStatusFailed  GitOpsStatus = "failed"
)

// GitOpsResource records a Flux custom resource created for a project.
type GitOpsResource struct {
	ID            string
	ProjectID     string
	EnvironmentID string
	RepositoryID  string
	Kind          string
	Name          string
	Namespace     string
	Config        Metadata
	Status        GitOpsStatus
	CreatedAt     time.Time
}

func (g GitOpsResource) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.New("gitops resource id is required")
	}
	if strings.TrimSpace(g.ProjectID) == "" {
		return errors.New("project id is required")
	}
	switch g.Kind {
	case GitOpsKindGitRepository, GitOpsKindKustomization:
	default:
		return errors.New("gitops resource kind is invalid")
	}
	if strings.TrimSpace(g.Name) == "" || strings.TrimSpace(g.Namespace) == "" {
		return errors.New("gitops resource name and namespace are required")
	}
	return nil
}
