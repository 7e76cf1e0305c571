package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/launchpad/internal/domain"
	pgplatform "github.com/animus-labs/launchpad/internal/platform/postgres"
	"github.com/animus-labs/launchpad/internal/repo"
)

const (
	repositoryColumns = `repository_id, project_id, provider, full_name, clone_url, default_branch, sync_status, last_sync_at, created_at`

	insertRepositoryQuery = `INSERT INTO repositories (
		repository_id,
		project_id,
		provider,
		full_name,
		clone_url,
		default_branch,
		sync_status,
		last_sync_at,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	selectRepositoryQuery = `SELECT ` + repositoryColumns + ` FROM repositories WHERE repository_id = $1`

	selectRepositoryByNameQuery = `SELECT ` + repositoryColumns + ` FROM repositories
		WHERE project_id = $1 AND provider = $2 AND full_name = $3`

	listRepositoriesQuery = `SELECT ` + repositoryColumns + ` FROM repositories
		WHERE project_id = $1
		ORDER BY created_at ASC`

	updateRepositorySyncQuery = `UPDATE repositories SET sync_status = $2, last_sync_at = $3 WHERE repository_id = $1`

	deleteRepositoryQuery = `DELETE FROM repositories WHERE repository_id = $1`
)

type RepositoryStore struct {
	db DB
}

func NewRepositoryStore(db DB) *RepositoryStore {
	if db == nil {
		return nil
	}
	return &RepositoryStore{db: db}
}

func (s *RepositoryStore) Create(ctx context.Context, r domain.Repository) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("repository store not initialized")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	branch := strings.TrimSpace(r.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRepositoryQuery,
		strings.TrimSpace(r.ID),
		strings.TrimSpace(r.ProjectID),
		string(r.Provider),
		strings.TrimSpace(r.FullName),
		strings.TrimSpace(r.CloneURL),
		branch,
		string(r.SyncStatus),
		nullTime(r.LastSyncAt),
		normalizeTime(r.CreatedAt),
	)
	if err != nil {
		if pgplatform.IsUniqueViolation(err, "") {
			return fmt.Errorf("repository %s already connected: %w", r.FullName, repo.ErrConflict)
		}
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

func (s *RepositoryStore) Get(ctx context.Context, id string) (domain.Repository, error) {
	if s == nil || s.db == nil {
		return domain.Repository{}, fmt.Errorf("repository store not initialized")
	}
	r, err := scanRepository(s.db.QueryRowContext(ctx, selectRepositoryQuery, strings.TrimSpace(id)))
	if err != nil {
		return domain.Repository{}, handleNotFound(err)
	}
	return r, nil
}

func (s *RepositoryStore) FindByFullName(ctx context.Context, projectID string, provider domain.Provider, fullName string) (domain.Repository, error) {
	if s == nil || s.db == nil {
		return domain.Repository{}, fmt.Errorf("repository store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectRepositoryByNameQuery, strings.TrimSpace(projectID), string(provider), strings.TrimSpace(fullName))
	r, err := scanRepository(row)
	if err != nil {
		return domain.Repository{}, handleNotFound(err)
	}
	return r, nil
}

func (s *RepositoryStore) ListByProject(ctx context.Context, projectID string) ([]domain.Repository, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("repository store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listRepositoriesQuery, strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Repository, 0)
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return out, nil
}

func (s *RepositoryStore) UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("repository store not initialized")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, updateRepositorySyncQuery, strings.TrimSpace(id), string(status), now)
	if err != nil {
		return fmt.Errorf("update repository sync status: %w", err)
	}
	return requireAffected(res)
}

func (s *RepositoryStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("repository store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteRepositoryQuery, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	return requireAffected(res)
}

func scanRepository(row rowScanner) (domain.Repository, error) {
	var (
		r          domain.Repository
		provider   string
		syncStatus string
		lastSync   sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &provider, &r.FullName, &r.CloneURL, &r.DefaultBranch, &syncStatus, &lastSync, &r.CreatedAt); err != nil {
		return domain.Repository{}, err
	}
	r.Provider = domain.NormalizeProvider(provider)
	r.SyncStatus = domain.SyncStatus(syncStatus)
	r.LastSyncAt = timePtr(lastSync)
	return r, nil
}
