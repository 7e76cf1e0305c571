package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/launchpad/internal/domain"
	pgplatform "github.com/animus-labs/launchpad/internal/platform/postgres"
	"github.com/animus-labs/launchpad/internal/repo"
)

const (
	projectSlugConstraint = "projects_org_slug_key"

	projectColumns = `project_id, organization_id, name, slug, description, visibility, status,
	initialization_status, COALESCE(template_id, ''), template_config, created_by, created_at, updated_at`

	insertProjectQuery = `INSERT INTO projects (
		project_id,
		organization_id,
		name,
		slug,
		description,
		visibility,
		status,
		initialization_status,
		template_id,
		template_config,
		created_by,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`

	selectProjectQuery = `SELECT ` + projectColumns + ` FROM projects WHERE project_id = $1 AND deleted_at IS NULL`

	updateProjectStatusQuery = `UPDATE projects
		SET status = $2, initialization_status = $3, updated_at = $4
		WHERE project_id = $1 AND deleted_at IS NULL`

	transitionProjectStatusQuery = `UPDATE projects
		SET status = $2, initialization_status = $3, updated_at = $4
		WHERE project_id = $1 AND status = $5 AND deleted_at IS NULL`
)

type ProjectStore struct {
	db DB
}

func NewProjectStore(db DB) *ProjectStore {
	if db == nil {
		return nil
	}
	return &ProjectStore{db: db}
}

func (s *ProjectStore) Create(ctx context.Context, project domain.Project) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	if err := project.Validate(); err != nil {
		return err
	}
	initJSON, err := json.Marshal(project.InitializationStatus)
	if err != nil {
		return fmt.Errorf("encode initialization status: %w", err)
	}
	configJSON, err := encodeMetadata(project.TemplateConfig)
	if err != nil {
		return fmt.Errorf("encode template config: %w", err)
	}
	visibility := strings.TrimSpace(project.Visibility)
	if visibility == "" {
		visibility = "private"
	}
	_, err = s.db.ExecContext(
		ctx,
		insertProjectQuery,
		strings.TrimSpace(project.ID),
		strings.TrimSpace(project.OrganizationID),
		strings.TrimSpace(project.Name),
		strings.TrimSpace(project.Slug),
		strings.TrimSpace(project.Description),
		visibility,
		string(project.Status),
		initJSON,
		nullString(strings.TrimSpace(project.TemplateID)),
		configJSON,
		strings.TrimSpace(project.CreatedBy),
		normalizeTime(project.CreatedAt),
	)
	if err != nil {
		if pgplatform.IsUniqueViolation(err, projectSlugConstraint) {
			return fmt.Errorf("project slug already exists: %w", repo.ErrConflict)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *ProjectStore) Get(ctx context.Context, id string) (domain.Project, error) {
	if s == nil || s.db == nil {
		return domain.Project{}, fmt.Errorf("project store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, fmt.Errorf("project id is required")
	}
	project, err := scanProject(s.db.QueryRowContext(ctx, selectProjectQuery, id))
	if err != nil {
		return domain.Project{}, handleNotFound(err)
	}
	return project, nil
}

func (s *ProjectStore) List(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("project store not initialized")
	}
	clauses := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 3)

	if strings.TrimSpace(filter.OrganizationID) != "" {
		args = append(args, strings.TrimSpace(filter.OrganizationID))
		clauses = append(clauses, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (s *ProjectStore) UpdateStatus(ctx context.Context, id string, status domain.ProjectStatus, init domain.InitializationStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("project id is required")
	}
	if domain.NormalizeProjectStatus(string(status)) == "" {
		return fmt.Errorf("invalid project status %q", status)
	}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return fmt.Errorf("encode initialization status: %w", err)
	}
	res, err := s.db.ExecContext(ctx, updateProjectStatusQuery, id, string(status), initJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	return requireAffected(res)
}

func (s *ProjectStore) TransitionStatus(ctx context.Context, id string, from, status domain.ProjectStatus, init domain.InitializationStatus) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("project store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("project id is required")
	}
	if domain.NormalizeProjectStatus(string(status)) == "" {
		return false, fmt.Errorf("invalid project status %q", status)
	}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return false, fmt.Errorf("encode initialization status: %w", err)
	}
	res, err := s.db.ExecContext(ctx, transitionProjectStatusQuery, id, string(status), initJSON, time.Now().UTC(), string(from))
	if err != nil {
		return false, fmt.Errorf("transition project status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Nothing matched: either the status moved on or the project is gone.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		p          domain.Project
		status     string
		initJSON   []byte
		configJSON []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&p.Slug,
		&p.Description,
		&p.Visibility,
		&status,
		&initJSON,
		&p.TemplateID,
		&configJSON,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return domain.Project{}, err
	}
	p.Status = domain.NormalizeProjectStatus(status)
	if len(initJSON) > 0 {
		if err := json.Unmarshal(initJSON, &p.InitializationStatus); err != nil {
			return domain.Project{}, fmt.Errorf("decode initialization status: %w", err)
		}
	}
	config, err := decodeMetadata(configJSON)
	if err != nil {
		return domain.Project{}, fmt.Errorf("decode template config: %w", err)
	}
	p.TemplateConfig = config
	return p, nil
}
