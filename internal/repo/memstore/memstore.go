// Package memstore holds in-memory implementations of the repo interfaces.
// It backs dry runs of the CLI and the orchestration tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/repo"
)

// Store groups every in-memory repository behind one lock.
type Store struct {
	mu            sync.RWMutex
	projects      map[string]domain.Project
	members       map[string][]domain.Member
	environments  map[string][]domain.Environment
	repositories  map[string]domain.Repository
	gitops        map[string][]domain.GitOpsResource
	steps         map[string]map[string]domain.StepRecord
	notifications []domain.Notification
}

func New() *Store {
	return &Store{
		projects:     map[string]domain.Project{},
		members:      map[string][]domain.Member{},
		environments: map[string][]domain.Environment{},
		repositories: map[string]domain.Repository{},
		gitops:       map[string][]domain.GitOpsResource{},
		steps:        map[string]map[string]domain.StepRecord{},
	}
}

func (s *Store) Projects() *ProjectStore { return &ProjectStore{s} }
func (s *Store) Members() *MemberStore { return &MemberStore{s} }
func (s *Store) Environments() *EnvironmentStore { return &EnvironmentStore{s} }
func (s *Store) Repositories() *RepositoryStore { return &RepositoryStore{s} }
func (s *Store) GitOps() *GitOpsStore { return &GitOpsStore{s} }
func (s *Store) Steps() *StepStore { return &StepStore{s} }
func (s *Store) Notifications() *NotificationStore { return &NotificationStore{s} }

type ProjectStore struct{ s *Store }

func (p *ProjectStore) Create(_ context.Context, project domain.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.projects[project.ID]; ok {
		return fmt.Errorf("project %s: %w", project.ID, repo.ErrConflict)
	}
	for _, existing := range p.s.projects {
		if existing.OrganizationID == project.OrganizationID && existing.Slug == project.Slug {
			return fmt.Errorf("project slug already exists: %w", repo.ErrConflict)
		}
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	project.UpdatedAt = project.CreatedAt
	project.TemplateConfig = project.TemplateConfig.Clone()
	p.s.projects[project.ID] = project
	return nil
}

func (p *ProjectStore) Get(_ context.Context, id string) (domain.Project, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	project, ok := p.s.projects[strings.TrimSpace(id)]
	if !ok {
		return domain.Project{}, repo.ErrNotFound
	}
	return project, nil
}

func (p *ProjectStore) List(_ context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := make([]domain.Project, 0, len(p.s.projects))
	for _, project := range p.s.projects {
		if filter.OrganizationID != "" && project.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && project.Status != filter.Status {
			continue
		}
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (p *ProjectStore) UpdateStatus(_ context.Context, id string, status domain.ProjectStatus, init domain.InitializationStatus) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	project, ok := p.s.projects[strings.TrimSpace(id)]
	if !ok {
		return repo.ErrNotFound
	}
	project.Status = status
	project.InitializationStatus = init
	project.UpdatedAt = time.Now().UTC()
	p.s.projects[project.ID] = project
	return nil
}

func (p *ProjectStore) TransitionStatus(_ context.Context, id string, from, status domain.ProjectStatus, init domain.InitializationStatus) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	project, ok := p.s.projects[strings.TrimSpace(id)]
	if !ok {
		return false, repo.ErrNotFound
	}
	if project.Status != from {
		return false, nil
	}
	project.Status = status
	project.InitializationStatus = init
	project.UpdatedAt = time.Now().UTC()
	p.s.projects[project.ID] = project
	return true, nil
}

type MemberStore struct{ s *Store }

func (m *MemberStore) Add(_ context.Context, member domain.Member) error {
	if err := member.Validate(); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	list := m.s.members[member.ProjectID]
	for i := range list {
		if list[i].UserID == member.UserID {
			list[i].Role = member.Role
			return nil
		}
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	m.s.members[member.ProjectID] = append(list, member)
	return nil
}

func (m *MemberStore) ListByProject(_ context.Context, projectID string) ([]domain.Member, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return append([]domain.Member(nil), m.s.members[projectID]...), nil
}

type EnvironmentStore struct{ s *Store }

func (e *EnvironmentStore) Create(_ context.Context, env domain.Environment) error {
	if err := env.Validate(); err != nil {
		return err
	}
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	for _, existing := range e.s.environments[env.ProjectID] {
		if existing.Type == env.Type {
			return fmt.Errorf("environment %s already exists: %w", env.Type, repo.ErrConflict)
		}
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	e.s.environments[env.ProjectID] = append(e.s.environments[env.ProjectID], env)
	return nil
}

func (e *EnvironmentStore) ListByProject(_ context.Context, projectID string) ([]domain.Environment, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	return append([]domain.Environment(nil), e.s.environments[projectID]...), nil
}

type RepositoryStore struct{ s *Store }

func (r *RepositoryStore) Create(_ context.Context, repository domain.Repository) error {
	if err := repository.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.repositories {
		if existing.ProjectID == repository.ProjectID && existing.Provider == repository.Provider && existing.FullName == repository.FullName {
			return fmt.Errorf("repository %s already connected: %w", repository.FullName, repo.ErrConflict)
		}
	}
	if repository.DefaultBranch == "" {
		repository.DefaultBranch = "main"
	}
	if repository.CreatedAt.IsZero() {
		repository.CreatedAt = time.Now().UTC()
	}
	r.s.repositories[repository.ID] = repository
	return nil
}

func (r *RepositoryStore) Get(_ context.Context, id string) (domain.Repository, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	repository, ok := r.s.repositories[strings.TrimSpace(id)]
	if !ok {
		return domain.Repository{}, repo.ErrNotFound
	}
	return repository, nil
}

func (r *RepositoryStore) FindByFullName(_ context.Context, projectID string, provider domain.Provider, fullName string) (domain.Repository, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, existing := range r.s.repositories {
		if existing.ProjectID == projectID && existing.Provider == provider && existing.FullName == fullName {
			return existing, nil
		}
	}
	return domain.Repository{}, repo.ErrNotFound
}

func (r *RepositoryStore) ListByProject(_ context.Context, projectID string) ([]domain.Repository, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Repository, 0)
	for _, existing := range r.s.repositories {
		if existing.ProjectID == projectID {
			out = append(out, existing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RepositoryStore) UpdateSyncStatus(_ context.Context, id string, status domain.SyncStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	repository, ok := r.s.repositories[strings.TrimSpace(id)]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now().UTC()
	repository.SyncStatus = status
	repository.LastSyncAt = &now
	r.s.repositories[repository.ID] = repository
	return nil
}

func (r *RepositoryStore) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := r.s.repositories[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.s.repositories, id)
	return nil
}

type GitOpsStore struct{ s *Store }

func (g *GitOpsStore) Create(_ context.Context, resource domain.GitOpsResource) error {
	if err := resource.Validate(); err != nil {
		return err
	}
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = time.Now().UTC()
	}
	resource.Config = resource.Config.Clone()
	g.s.gitops[resource.ProjectID] = append(g.s.gitops[resource.ProjectID], resource)
	return nil
}

func (g *GitOpsStore) ListByProject(_ context.Context, projectID string) ([]domain.GitOpsResource, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	return append([]domain.GitOpsResource(nil), g.s.gitops[projectID]...), nil
}

func (g *GitOpsStore) DeleteByProject(_ context.Context, projectID string) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	delete(g.s.gitops, projectID)
	return nil
}

type StepStore struct{ s *Store }

func (st *StepStore) Upsert(_ context.Context, step domain.StepRecord) error {
	if step.ProjectID == "" || step.Step == "" {
		return fmt.Errorf("project id and step are required")
	}
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	steps := st.s.steps[step.ProjectID]
	if steps == nil {
		steps = map[string]domain.StepRecord{}
		st.s.steps[step.ProjectID] = steps
	}
	if prev, ok := steps[step.Step]; ok && prev.StartedAt != nil {
		step.StartedAt = prev.StartedAt
	}
	steps[step.Step] = step
	return nil
}

func (st *StepStore) ListByProject(_ context.Context, projectID string) ([]domain.StepRecord, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	out := make([]domain.StepRecord, 0, len(st.s.steps[projectID]))
	for _, step := range st.s.steps[projectID] {
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Progress != out[j].Progress {
			return out[i].Progress < out[j].Progress
		}
		return out[i].Step < out[j].Step
	})
	return out, nil
}

type NotificationStore struct{ s *Store }

func (n *NotificationStore) Create(_ context.Context, notification domain.Notification) error {
	if err := notification.Validate(); err != nil {
		return err
	}
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	n.s.notifications = append(n.s.notifications, notification)
	return nil
}

func (n *NotificationStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()
	out := make([]domain.Notification, 0)
	for i := len(n.s.notifications) - 1; i >= 0; i-- {
		if n.s.notifications[i].UserID != userID {
			continue
		}
		out = append(out, n.s.notifications[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ repo.ProjectRepository      = (*ProjectStore)(nil)
	_ repo.MemberRepository       = (*MemberStore)(nil)
	_ repo.EnvironmentRepository  = (*EnvironmentStore)(nil)
	_ repo.RepositoryRepository   = (*RepositoryStore)(nil)
	_ repo.GitOpsRepository       = (*GitOpsStore)(nil)
	_ repo.StepRepository         = (*StepStore)(nil)
	_ repo.NotificationRepository = (*NotificationStore)(nil)
)
