package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
	pgplatform "github.com/animus-labs/launchpad/internal/platform/postgres"
	"github.com/animus-labs/launchpad/internal/repo"
)

const (
	insertEnvironmentQuery = `INSERT INTO environments (
		environment_id,
		project_id,
		name,
		type,
		config,
		created_by,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	listEnvironmentsQuery = `SELECT environment_id, project_id, name, type, config, created_by, created_at
		FROM environments
		WHERE project_id = $1
		ORDER BY CASE type WHEN 'development' THEN 0 WHEN 'staging' THEN 1 ELSE 2 END`
)

type EnvironmentStore struct {
	db DB
}

func NewEnvironmentStore(db DB) *EnvironmentStore {
	if db == nil {
		return nil
	}
	return &EnvironmentStore{db: db}
}

func (s *EnvironmentStore) Create(ctx context.Context, env domain.Environment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("environment store not initialized")
	}
	if err := env.Validate(); err != nil {
		return err
	}
	configJSON, err := json.Marshal(env.Config)
	if err != nil {
		return fmt.Errorf("encode environment config: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertEnvironmentQuery,
		strings.TrimSpace(env.ID),
		strings.TrimSpace(env.ProjectID),
		strings.TrimSpace(env.Name),
		string(env.Type),
		configJSON,
		strings.TrimSpace(env.CreatedBy),
		normalizeTime(env.CreatedAt),
	)
	if err != nil {
		if pgplatform.IsUniqueViolation(err, "") {
			return fmt.Errorf("environment %s already exists: %w", env.Type, repo.ErrConflict)
		}
		return fmt.Errorf("insert environment: %w", err)
	}
	return nil
}

func (s *EnvironmentStore) ListByProject(ctx context.Context, projectID string) ([]domain.Environment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("environment store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listEnvironmentsQuery, strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Environment, 0, 3)
	for rows.Next() {
		var (
			e          domain.Environment
			envType    string
			configJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &envType, &configJSON, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		e.Type = domain.EnvironmentType(envType)
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &e.Config); err != nil {
				return nil, fmt.Errorf("decode environment config: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return out, nil
}
