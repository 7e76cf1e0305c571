package domain

import (
	"errors"
	"strings"
	"time"
)

type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentStaging     EnvironmentType = "staging"
	EnvironmentProduction  EnvironmentType = "production"
)

type EnvironmentConfig struct {
	ApprovalRequired bool   `json:"approvalRequired"`
	MinApprovals     int    `json:"minApprovals"`
	GitOpsEnabled    bool   `json:"gitopsEnabled"`
	Namespace        string `json:"namespace,omitempty"`
}

type Environment struct {
	ID        string
	ProjectID string
	Name      string
	Type      EnvironmentType
	Config    EnvironmentConfig
	CreatedBy string
	CreatedAt time.Time
}

func (e Environment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("environment id is required")
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("environment name is required")
	}
	switch e.Type {
	case EnvironmentDevelopment, EnvironmentStaging, EnvironmentProduction:
	default:
		return errors.New("environment type is invalid")
	}
	if e.Config.MinApprovals < 0 {
		return errors.New("min approvals must be >= 0")
	}
	return nil
}

// EnvironmentNamespace is the Kubernetes namespace for a project environment.
func EnvironmentNamespace(projectID string, envType EnvironmentType) string {
	return "project-" + strings.TrimSpace(projectID) + "-" + string(envType)
}
