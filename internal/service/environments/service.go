// Package environments creates the deployment environments of a project.
package environments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/repo"
)

type CreateInput struct {
	ProjectID string
	Name      string
	Type      domain.EnvironmentType
	// Config overrides the defaults for Type when set.
	Config *domain.EnvironmentConfig
}

type Service struct {
	envs repo.EnvironmentRepository
	now  func() time.Time
}

func New(envs repo.EnvironmentRepository) *Service {
	if envs == nil {
		return nil
	}
	return &Service{envs: envs, now: time.Now}
}

// DefaultConfig is the approval policy per environment type. Every
// environment is GitOps managed in its own namespace.
func DefaultConfig(projectID string, envType domain.EnvironmentType) domain.EnvironmentConfig {
	cfg := domain.EnvironmentConfig{
		MinApprovals:  1,
		GitOpsEnabled: true,
		Namespace:     domain.EnvironmentNamespace(projectID, envType),
	}
	switch envType {
	case domain.EnvironmentStaging:
		cfg.ApprovalRequired = true
	case domain.EnvironmentProduction:
		cfg.ApprovalRequired = true
		cfg.MinApprovals = 2
	}
	return cfg
}

// Defaults lists the Development, Staging and Production inputs for a project.
func Defaults(projectID string) []CreateInput {
	return []CreateInput{
		{ProjectID: projectID, Name: "Development", Type: domain.EnvironmentDevelopment},
		{ProjectID: projectID, Name: "Staging", Type: domain.EnvironmentStaging},
		{ProjectID: projectID, Name: "Production", Type: domain.EnvironmentProduction},
	}
}

func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (domain.Environment, error) {
	if s == nil {
		return domain.Environment{}, errors.New("environment service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Environment{}, errors.New("user id is required")
	}
	cfg := DefaultConfig(in.ProjectID, in.Type)
	if in.Config != nil {
		cfg = *in.Config
	}
	env := domain.Environment{
		ID:        uuid.NewString(),
		ProjectID: strings.TrimSpace(in.ProjectID),
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Config:    cfg,
		CreatedBy: userID,
		CreatedAt: s.now().UTC(),
	}
	if err := env.Validate(); err != nil {
		return domain.Environment{}, err
	}
	if err := s.envs.Create(ctx, env); err != nil {
		return domain.Environment{}, fmt.Errorf("create %s environment: %w", in.Type, err)
	}
	return env, nil
}

func (s *Service) List(ctx context.Context, projectID string) ([]domain.Environment, error) {
	if s == nil {
		return nil, errors.New("environment service is not configured")
	}
	return s.envs.ListByProject(ctx, projectID)
}
