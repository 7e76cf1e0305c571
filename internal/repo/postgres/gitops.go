package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

const (
	insertGitOpsResourceQuery = `INSERT INTO gitops_resources (
		resource_id,
		project_id,
		environment_id,
		repository_id,
		kind,
		name,
		namespace,
		config,
		status,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	listGitOpsResourcesQuery = `SELECT resource_id, project_id, COALESCE(environment_id::text, ''), COALESCE(repository_id::text, ''),
		kind, name, namespace, config, status, created_at
		FROM gitops_resources
		WHERE project_id = $1
		ORDER BY created_at ASC`

	deleteGitOpsResourcesQuery = `DELETE FROM gitops_resources WHERE project_id = $1`
)

type GitOpsStore struct {
	db DB
}

func NewGitOpsStore(db DB) *GitOpsStore {
	if db == nil {
		return nil
	}
	return &GitOpsStore{db: db}
}

func (s *GitOpsStore) Create(ctx context.Context, resource domain.GitOpsResource) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gitops store not initialized")
	}
	if err := resource.Validate(); err != nil {
		return err
	}
	configJSON, err := encodeMetadata(resource.Config)
	if err != nil {
		return fmt.Errorf("encode gitops config: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertGitOpsResourceQuery,
		strings.TrimSpace(resource.ID),
		strings.TrimSpace(resource.ProjectID),
		nullString(strings.TrimSpace(resource.EnvironmentID)),
		nullString(strings.TrimSpace(resource.RepositoryID)),
		resource.Kind,
		strings.TrimSpace(resource.Name),
		strings.TrimSpace(resource.Namespace),
		configJSON,
		string(resource.Status),
		normalizeTime(resource.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert gitops resource: %w", err)
	}
	return nil
}

func (s *GitOpsStore) ListByProject(ctx context.Context, projectID string) ([]domain.GitOpsResource, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gitops store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listGitOpsResourcesQuery, strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("list gitops resources: %w", err)
	}
	defer rows.Close()

	out := make([]domain.GitOpsResource, 0)
	for rows.Next() {
		var (
			g          domain.GitOpsResource
			status     string
			configJSON []byte
		)
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.EnvironmentID, &g.RepositoryID, &g.Kind, &g.Name, &g.Namespace, &configJSON, &status, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan gitops resource: %w", err)
		}
		config, err := decodeMetadata(configJSON)
		if err != nil {
			return nil, fmt.Errorf("decode gitops config: %w", err)
		}
		g.Config = config
		g.Status = domain.GitOpsStatus(status)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list gitops resources: %w", err)
	}
	return out, nil
}

func (s *GitOpsStore) DeleteByProject(ctx context.Context, projectID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gitops store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, deleteGitOpsResourcesQuery, strings.TrimSpace(projectID)); err != nil {
		return fmt.Errorf("delete gitops resources: %w", err)
	}
	return nil
}
