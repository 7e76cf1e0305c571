package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/platform/k8s"
	"github.com/animus-labs/launchpad/internal/repo"
)

// Cluster is the subset of the Kubernetes API used for Flux wiring.
type Cluster interface {
	EnsureNamespace(ctx context.Context, ns k8s.Namespace) error
	DeleteNamespace(ctx context.Context, name string) error
	ApplySecret(ctx context.Context, secret k8s.Secret) error
	ApplyCustomResource(ctx context.Context, res k8s.Resource, namespace, name string, obj any) error
	DeleteCustomResource(ctx context.Context, res k8s.Resource, namespace, name string) error
}

var _ Cluster = (*k8s.Client)(nil)

type Service struct {
	cluster Cluster
	store   repo.GitOpsRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewService returns a service that is unavailable when cluster is nil.
func NewService(cluster Cluster, store repo.GitOpsRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		cluster: cluster,
		store:   store,
		logger:  logger.With("component", "gitops"),
		now:     time.Now,
	}
}

func (s *Service) Available() bool {
	return s != nil && s.cluster != nil && s.store != nil
}

type SetupInput struct {
	ProjectID    string
	RepositoryID string
	CloneURL     string
	Branch       string
	AccessToken  string
	Environments []domain.Environment
}

func (in SetupInput) Validate() error {
	if strings.TrimSpace(in.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(in.CloneURL) == "" {
		return errors.New("clone url is required")
	}
	return nil
}

// Setup wires every environment to the repository. A failing environment is
// logged and skipped; the resources that were created are returned.
func (s *Service) Setup(ctx context.Context, in SetupInput) ([]domain.GitOpsResource, error) {
	if !s.Available() {
		return nil, errors.New("gitops backend is not available")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out []domain.GitOpsResource
	for _, env := range in.Environments {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		created, err := s.setupEnvironment(ctx, in, env)
		if err != nil {
			s.logger.Warn("gitops environment setup failed",
				"project_id", in.ProjectID,
				"environment", string(env.Type),
				"error", err,
			)
			continue
		}
		out = append(out, created...)
	}
	return out, nil
}

func (s *Service) setupEnvironment(ctx context.Context, in SetupInput, env domain.Environment) ([]domain.GitOpsResource, error) {
	namespace := strings.TrimSpace(env.Config.Namespace)
	if namespace == "" {
		namespace = domain.EnvironmentNamespace(in.ProjectID, env.Type)
	}
	now := s.now().UTC()

	if err := s.cluster.EnsureNamespace(ctx, k8s.Namespace{Metadata: k8s.ObjectMeta{
		Name:   namespace,
		Labels: labels(in.ProjectID, env.Type),
	}}); err != nil {
		return nil, fmt.Errorf("ensure namespace %s: %w", namespace, err)
	}
	if strings.TrimSpace(in.AccessToken) != "" {
		if err := s.cluster.ApplySecret(ctx, NewAuthSecret(in.ProjectID, namespace, in.AccessToken)); err != nil {
			return nil, fmt.Errorf("apply git auth secret: %w", err)
		}
	}

	source := NewGitRepository(in.ProjectID, env.Type, namespace, in.CloneURL, in.Branch, now)
	if strings.TrimSpace(in.AccessToken) == "" {
		source.Spec.SecretRef = nil
	}
	if err := s.cluster.ApplyCustomResource(ctx, GitRepositoryResource, namespace, source.Metadata.Name, source); err != nil {
		return nil, fmt.Errorf("apply git repository: %w", err)
	}
	kustomization := NewKustomization(in.ProjectID, env.Type, namespace, now)
	if err := s.cluster.ApplyCustomResource(ctx, KustomizationResource, namespace, kustomization.Metadata.Name, kustomization); err != nil {
		return nil, fmt.Errorf("apply kustomization: %w", err)
	}

	records := []domain.GitOpsResource{
		{
			ID:            uuid.NewString(),
			ProjectID:     in.ProjectID,
			EnvironmentID: env.ID,
			RepositoryID:  in.RepositoryID,
			Kind:          domain.GitOpsKindGitRepository,
			Name:          source.Metadata.Name,
			Namespace:     namespace,
			Config: domain.Metadata{
				"url":      source.Spec.URL,
				"branch":   source.Spec.Ref.Branch,
				"interval": source.Spec.Interval,
			},
			Status:    domain.GitOpsStatusPending,
			CreatedAt: now,
		},
		{
			ID:            uuid.NewString(),
			ProjectID:     in.ProjectID,
			EnvironmentID: env.ID,
			RepositoryID:  in.RepositoryID,
			Kind:          domain.GitOpsKindKustomization,
			Name:          kustomization.Metadata.Name,
			Namespace:     namespace,
			Config: domain.Metadata{
				"path":     kustomization.Spec.Path,
				"interval": kustomization.Spec.Interval,
				"timeout":  kustomization.Spec.Timeout,
				"prune":    kustomization.Spec.Prune,
			},
			Status:    domain.GitOpsStatusPending,
			CreatedAt: now,
		},
	}
	for _, record := range records {
		if err := s.store.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("record %s %s: %w", record.Kind, record.Name, err)
		}
	}
	return records, nil
}

// Teardown deletes every recorded resource of a project and its namespaces.
// Missing cluster objects are ignored; other failures are joined.
func (s *Service) Teardown(ctx context.Context, projectID string) (int, error) {
	if !s.Available() {
		return 0, nil
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return 0, errors.New("project id is required")
	}
	resources, err := s.store.ListByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("list gitops resources: %w", err)
	}

	var errs []error
	deleted := 0
	namespaces := map[string]struct{}{}
	for _, res := range resources {
		kind := KustomizationResource
		if res.Kind == domain.GitOpsKindGitRepository {
			kind = GitRepositoryResource
		}
		err := s.cluster.DeleteCustomResource(ctx, kind, res.Namespace, res.Name)
		if err != nil && !errors.Is(err, k8s.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s %s/%s: %w", res.Kind, res.Namespace, res.Name, err))
			continue
		}
		deleted++
		namespaces[res.Namespace] = struct{}{}
	}
	for ns := range namespaces {
		if err := s.cluster.DeleteNamespace(ctx, ns); err != nil && !errors.Is(err, k8s.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete namespace %s: %w", ns, err))
		}
	}
	if err := s.store.DeleteByProject(ctx, projectID); err != nil {
		errs = append(errs, fmt.Errorf("delete gitops records: %w", err))
	}
	if len(errs) > 0 {
		s.logger.Warn("gitops teardown incomplete", "project_id", projectID, "errors", len(errs))
	}
	return deleted, errors.Join(errs...)
}
