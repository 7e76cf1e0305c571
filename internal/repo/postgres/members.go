package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

const (
	insertMemberQuery = `INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`

	listMembersQuery = `SELECT project_id, user_id, role, created_at
		FROM project_members
		WHERE project_id = $1
		ORDER BY created_at ASC`
)

type MemberStore struct {
	db DB
}

func NewMemberStore(db DB) *MemberStore {
	if db == nil {
		return nil
	}
	return &MemberStore{db: db}
}

func (s *MemberStore) Add(ctx context.Context, member domain.Member) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("member store not initialized")
	}
	if err := member.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertMemberQuery,
		strings.TrimSpace(member.ProjectID),
		strings.TrimSpace(member.UserID),
		string(member.Role),
		normalizeTime(member.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	return nil
}

func (s *MemberStore) ListByProject(ctx context.Context, projectID string) ([]domain.Member, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("member store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listMembersQuery, strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Member, 0)
	for rows.Next() {
		var (
			m    domain.Member
			role string
		)
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		m.Role = domain.MemberRole(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	return out, nil
}
