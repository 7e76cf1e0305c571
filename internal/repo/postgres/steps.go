package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

const (
	upsertStepQuery = `INSERT INTO project_initialization_steps (
		project_id,
		step,
		status,
		progress,
		error,
		started_at,
		completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (project_id, step) DO UPDATE SET
		status = EXCLUDED.status,
		progress = EXCLUDED.progress,
		error = EXCLUDED.error,
		started_at = COALESCE(project_initialization_steps.started_at, EXCLUDED.started_at),
		completed_at = EXCLUDED.completed_at`

	listStepsQuery = `SELECT project_id, step, status, progress, COALESCE(error, ''), started_at, completed_at
		FROM project_initialization_steps
		WHERE project_id = $1
		ORDER BY progress ASC, step ASC`
)

type StepStore struct {
	db DB
}

func NewStepStore(db DB) *StepStore {
	if db == nil {
		return nil
	}
	return &StepStore{db: db}
}

func (s *StepStore) Upsert(ctx context.Context, step domain.StepRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	projectID := strings.TrimSpace(step.ProjectID)
	name := strings.TrimSpace(step.Step)
	if projectID == "" || name == "" {
		return fmt.Errorf("project id and step are required")
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertStepQuery,
		projectID,
		name,
		string(step.Status),
		step.Progress,
		nullString(strings.TrimSpace(step.Error)),
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert initialization step: %w", err)
	}
	return nil
}

func (s *StepStore) ListByProject(ctx context.Context, projectID string) ([]domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listStepsQuery, strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("list initialization steps: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StepRecord, 0)
	for rows.Next() {
		var (
			rec       domain.StepRecord
			status    string
			started   sql.NullTime
			completed sql.NullTime
		)
		if err := rows.Scan(&rec.ProjectID, &rec.Step, &status, &rec.Progress, &rec.Error, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan initialization step: %w", err)
		}
		rec.Status = domain.StepStatus(status)
		rec.StartedAt = timePtr(started)
		rec.CompletedAt = timePtr(completed)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list initialization steps: %w", err)
	}
	return out, nil
}
