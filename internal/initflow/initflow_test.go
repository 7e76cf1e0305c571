package initflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/gitops"
	"github.com/animus-labs/launchpad/internal/progress"
	"github.com/animus-labs/launchpad/internal/pubsub"
	"github.com/animus-labs/launchpad/internal/queue"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/repo/memstore"
	"github.com/animus-labs/launchpad/internal/service/audit"
	"github.com/animus-labs/launchpad/internal/service/environments"
	"github.com/animus-labs/launchpad/internal/service/notifications"
	"github.com/animus-labs/launchpad/internal/templates"
	"github.com/animus-labs/launchpad/internal/worker"
)

// recordingBroker keeps every published message in order.
type recordingBroker struct {
	mu   sync.Mutex
	msgs []pubsub.Message
}

func (b *recordingBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, pubsub.Message{Channel: channel, Payload: append([]byte(nil), payload...)})
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, string) (<-chan pubsub.Message, func(), error) {
	ch := make(chan pubsub.Message)
	close(ch)
	return ch, func() {}, nil
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) progress(t *testing.T, projectID string) []progress.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []progress.Event
	for _, msg := range b.msgs {
		if msg.Channel != pubsub.ProjectChannel(projectID) {
			continue
		}
		var event progress.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		out = append(out, event)
	}
	return out
}

// flakyEnvironments fails creation for the listed types.
type flakyEnvironments struct {
	inner *environments.Service
	fail  map[domain.EnvironmentType]bool
	calls int
}

func (f *flakyEnvironments) Create(ctx context.Context, userID string, in environments.CreateInput) (domain.Environment, error) {
	f.calls++
	if f.fail[in.Type] {
		return domain.Environment{}, fmt.Errorf("%s: cluster quota exceeded", in.Type)
	}
	return f.inner.Create(ctx, userID, in)
}

type fakeTemplates struct {
	templates map[string]templates.Template
}

func (f fakeTemplates) Resolve(_ context.Context, id, _ string) (templates.Template, error) {
	tmpl, ok := f.templates[id]
	if !ok {
		return templates.Template{}, templates.ErrTemplateNotFound
	}
	return tmpl, nil
}

type fakeRenderer struct {
	calls  int
	vars   map[string]any
	result templates.RenderResult
	err    error
}

func (f *fakeRenderer) Render(_ context.Context, _ string, vars map[string]any, outDir string) (templates.RenderResult, error) {
	f.calls++
	f.vars = vars
	if f.err != nil {
		return templates.RenderResult{}, f.err
	}
	res := f.result
	res.OutputDir = outDir
	return res, nil
}

type fakeGitOps struct {
	available bool
	setups    []gitops.SetupInput
	torndown  []string
}

func (f *fakeGitOps) Available() bool { return f.available }

func (f *fakeGitOps) Setup(_ context.Context, in gitops.SetupInput) ([]domain.GitOpsResource, error) {
	f.setups = append(f.setups, in)
	var out []domain.GitOpsResource
	for _, env := range in.Environments {
		out = append(out, domain.GitOpsResource{ID: "gr-" + string(env.Type), ProjectID: in.ProjectID})
	}
	return out, nil
}

func (f *fakeGitOps) Teardown(_ context.Context, projectID string) (int, error) {
	f.torndown = append(f.torndown, projectID)
	return 2, nil
}

type harness struct {
	store    *memstore.Store
	envs     *flakyEnvironments
	audit    *audit.Memory
	broker   *recordingBroker
	repoJobs *queue.MemoryQueue
	log      *events.MemoryLog
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	h := &harness{
		store:    store,
		envs:     &flakyEnvironments{inner: environments.New(store.Environments()), fail: map[domain.EnvironmentType]bool{}},
		audit:    audit.NewMemory(),
		broker:   &recordingBroker{},
		repoJobs: queue.NewMemoryQueue(worker.QueueName),
		log:      events.NewMemoryLog(),
	}
	h.deps = Deps{
		Projects:           store.Projects(),
		Members:            store.Members(),
		Environments:       store.Environments(),
		Repositories:       store.Repositories(),
		EnvironmentService: h.envs,
		Audit:              h.audit,
		Notifications:      notifications.New(store.Notifications(), h.broker, nil),
		Steps:              store.Steps(),
		Repository:         h.repoJobs,
		Events:             events.NewPublisher(h.log, queue.NewMemoryQueue(events.IntegrationQueue), h.broker, nil),
		Progress:           progress.NewTracker(h.broker, progress.NewMemorySnapshots(), nil),
	}
	return h
}

func (h *harness) run(t *testing.T, in Input) Result {
	t.Helper()
	o, err := New(h.deps)
	require.NoError(t, err)
	res, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	return res
}

func (h *harness) project(t *testing.T, id string) domain.Project {
	t.Helper()
	p, err := h.store.Projects().Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) steps(t *testing.T, projectID string) map[string]domain.StepRecord {
	t.Helper()
	list, err := h.store.Steps().ListByProject(context.Background(), projectID)
	require.NoError(t, err)
	out := make(map[string]domain.StepRecord, len(list))
	for _, rec := range list {
		out[rec.Step] = rec
	}
	return out
}

func demoInput() Input {
	return Input{
		UserID:         "user-1",
		OrganizationID: "org-1",
		Project:        ProjectData{Name: "demo"},
	}
}

func TestDemoProjectCompletes(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, demoInput())

	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.ProjectID)
	assert.False(t, res.RepositoryPending)
	assert.Empty(t, res.JobIDs)

	project := h.project(t, res.ProjectID)
	assert.Equal(t, domain.ProjectStatusActive, project.Status)
	assert.Equal(t, domain.StepCompleted, project.InitializationStatus.Step)
	assert.Equal(t, 100, project.InitializationStatus.Progress)
	assert.Equal(t, "demo", project.Slug)

	require.NotNil(t, res.Project)
	assert.Len(t, res.Project.Environments, 3)
	assert.Empty(t, res.Project.Repositories)
	require.Len(t, res.Project.Members, 1)
	assert.Equal(t, "user-1", res.Project.Members[0].UserID)
	assert.Equal(t, domain.RoleOwner, res.Project.Members[0].Role)

	require.Len(t, h.audit.Entries(audit.ActionProjectInitialized), 1)
	sent, err := h.store.Notifications().ListByUser(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, notifications.TypeProjectCreated, sent[0].Type)
}

func TestMachineEndsInTerminalState(t *testing.T) {
	h := newHarness(t)
	o, err := New(h.deps)
	require.NoError(t, err)

	ictx := NewContext(demoInput())
	state := o.machine.Execute(context.Background(), ictx)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, StateCompleted, ictx.State())
	assert.NoError(t, ictx.Err())
	assert.Len(t, ictx.EnvironmentIDs(), 3)
	assert.Empty(t, ictx.RepositoryID())

	h.envs.fail = map[domain.EnvironmentType]bool{
		domain.EnvironmentDevelopment: true,
		domain.EnvironmentStaging:     true,
		domain.EnvironmentProduction:  true,
	}
	in := demoInput()
	in.Project.Name = "demo two"
	failed := NewContext(in)
	state = o.machine.Execute(context.Background(), failed)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, StateFailed, failed.State())
	require.Error(t, failed.Err())
}

func TestNoTemplateSkipsTemplateStates(t *testing.T) {
	h := newHarness(t)
	renderer := &fakeRenderer{}
	h.deps.Templates = fakeTemplates{}
	h.deps.Renderer = renderer

	res := h.run(t, demoInput())
	require.True(t, res.Success, res.Error)
	assert.Zero(t, renderer.calls)

	steps := h.steps(t, res.ProjectID)
	assert.Equal(t, domain.StepStatusSkipped, steps[domain.StepLoadTemplate].Status)
	assert.Equal(t, domain.StepStatusSkipped, steps[domain.StepRenderTemplate].Status)
	assert.Nil(t, steps[domain.StepLoadTemplate].StartedAt)
	assert.Equal(t, domain.StepStatusCompleted, steps[domain.StepCreateEnvironments].Status)

	project := h.project(t, res.ProjectID)
	assert.NotContains(t, project.InitializationStatus.CompletedSteps, domain.StepLoadTemplate)
	assert.Contains(t, project.InitializationStatus.CompletedSteps, domain.StepCreateEnvironments)
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.deps.Templates = fakeTemplates{templates: map[string]templates.Template{
		"web": {ID: "web", Slug: "web", Path: "web"},
	}}
	h.deps.Renderer = &fakeRenderer{result: templates.RenderResult{Files: []string{"README.md"}}}
	in := demoInput()
	in.TemplateID = "web"
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, URL: "https://github.com/acme/demo.git"}

	res := h.run(t, in)
	require.True(t, res.Success, res.Error)

	published := h.broker.progress(t, res.ProjectID)
	require.NotEmpty(t, published)
	last := 0
	var states []string
	for _, event := range published {
		assert.GreaterOrEqual(t, event.Progress, last, "event %s %s", event.Type, event.State)
		last = event.Progress
		if event.Type == progress.TypeProgress {
			states = append(states, event.State)
		}
	}
	assert.Equal(t, progress.TypeCompleted, published[len(published)-1].Type)
	assert.Equal(t, 100, last)
	assert.Equal(t, []string{
		string(StateCreatingProject),
		string(StateLoadingTemplate),
		string(StateRenderingTemplate),
		string(StateCreatingEnvironments),
		string(StateSettingUpRepository),
		string(StateFinalizing),
	}, states)
}

func TestOneEnvironmentFailureIsTolerated(t *testing.T) {
	h := newHarness(t)
	h.envs.fail[domain.EnvironmentStaging] = true

	res := h.run(t, demoInput())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, h.envs.calls)
	require.NotNil(t, res.Project)
	assert.Len(t, res.Project.Environments, 2)
	for _, env := range res.Project.Environments {
		assert.NotEqual(t, domain.EnvironmentStaging, env.Type)
	}
}

func TestAllEnvironmentFailuresFailTheRun(t *testing.T) {
	h := newHarness(t)
	h.envs.fail = map[domain.EnvironmentType]bool{
		domain.EnvironmentDevelopment: true,
		domain.EnvironmentStaging:     true,
		domain.EnvironmentProduction:  true,
	}

	res := h.run(t, demoInput())
	require.False(t, res.Success)
	assert.Equal(t, StateCreatingEnvironments, res.ErrorStep)
	assert.Equal(t, EnvironmentCreationError, res.ErrorCode)
	assert.Contains(t, res.Error, "quota exceeded")

	project := h.project(t, res.ProjectID)
	assert.Equal(t, domain.ProjectStatusFailed, project.Status)
	assert.Equal(t, domain.StepCreateEnvironments, project.InitializationStatus.Step)
	assert.Equal(t, []string{domain.StepCreateProject}, project.InitializationStatus.CompletedSteps)
	assert.NotEmpty(t, project.InitializationStatus.Error)

	members, err := h.store.Members().ListByProject(context.Background(), res.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, members)

	published := h.broker.progress(t, res.ProjectID)
	require.NotEmpty(t, published)
	assert.Equal(t, progress.TypeFailed, published[len(published)-1].Type)
}

func TestMissingTemplateFailsWithItsName(t *testing.T) {
	h := newHarness(t)
	h.deps.Templates = fakeTemplates{}
	in := demoInput()
	in.TemplateID = "nope"

	res := h.run(t, in)
	require.False(t, res.Success)
	assert.Equal(t, StateLoadingTemplate, res.ErrorStep)
	assert.Equal(t, TemplateLoadError, res.ErrorCode)
	assert.Contains(t, res.Error, "nope")

	envs, err := h.store.Environments().ListByProject(context.Background(), res.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestRenderErrorsFailTheRun(t *testing.T) {
	h := newHarness(t)
	h.deps.Templates = fakeTemplates{templates: map[string]templates.Template{"web": {ID: "web", Path: "web"}}}
	h.deps.Renderer = &fakeRenderer{result: templates.RenderResult{Errors: []templates.FileError{
		{Path: "a.txt", Err: errors.New("undefined variable")},
	}}}
	in := demoInput()
	in.TemplateID = "web"
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, URL: "https://gitlab.com/acme/demo"}

	res := h.run(t, in)
	require.False(t, res.Success)
	assert.Equal(t, StateRenderingTemplate, res.ErrorStep)
	assert.Equal(t, TemplateRenderError, res.ErrorCode)
	assert.Contains(t, res.Error, "a.txt")
}

func TestRenderedOutputIsKeyedByProject(t *testing.T) {
	h := newHarness(t)
	renderer := &fakeRenderer{result: templates.RenderResult{Files: []string{"README.md"}}}
	h.deps.Templates = fakeTemplates{templates: map[string]templates.Template{"web": {ID: "web", Path: "web"}}}
	h.deps.Renderer = renderer
	in := demoInput()
	in.TemplateID = "web"
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, URL: "https://github.com/acme/demo", DefaultBranch: "trunk"}

	res := h.run(t, in)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 1, renderer.calls)
	assert.Equal(t, "demo", renderer.vars["projectName"])
}

func TestFinalizeLeavesProjectInitializingWhileRepositoryPending(t *testing.T) {
	h := newHarness(t)
	in := demoInput()
	in.Repository = &RepositoryConfig{
		Mode:           RepositoryCreate,
		Provider:       domain.ProviderGitHub,
		Name:           "demo",
		AccessToken:    "tok",
		IncludeAppCode: true,
	}

	res := h.run(t, in)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.RepositoryPending)
	require.Len(t, res.JobIDs, 1)

	project := h.project(t, res.ProjectID)
	assert.Equal(t, domain.ProjectStatusInitializing, project.Status)
	assert.Equal(t, domain.StepSetupRepository, project.InitializationStatus.Step)
	assert.Equal(t, res.JobIDs[0], project.InitializationStatus.JobID)

	job, err := h.repoJobs.Get(context.Background(), res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, worker.JobCreateRepository, job.Name)
	assert.Equal(t, 3, job.MaxAttempts)
	var payload worker.CreatePayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, res.ProjectID, payload.ProjectID)
	assert.Equal(t, "private", payload.Visibility)
	assert.Equal(t, "main", payload.DefaultBranch)
	assert.True(t, payload.PushBootstrap)
	assert.False(t, payload.SetupGitOps)
	assert.Equal(t, []string{domain.StepCreateProject, domain.StepCreateEnvironments}, payload.CompletedSteps)
}

// settledQueue finishes every enqueued job before the run moves on, the way
// an idle repository worker picks a job up right away.
type settledQueue struct {
	*queue.MemoryQueue
	projects *memstore.ProjectStore
	status   domain.ProjectStatus
}

func (q *settledQueue) Enqueue(ctx context.Context, name string, payload any, opts queue.Options) (queue.Job, error) {
	job, err := q.MemoryQueue.Enqueue(ctx, name, payload, opts)
	if err != nil {
		return job, err
	}
	var p worker.CreatePayload
	if err := job.Decode(&p); err != nil {
		return job, err
	}
	init := domain.InitializationStatus{Step: domain.StepCompleted, Progress: 100, CompletedSteps: p.CompletedSteps}
	if q.status == domain.ProjectStatusFailed {
		init = domain.InitializationStatus{Step: domain.StepFailed, Error: "bad credentials", CompletedSteps: p.CompletedSteps}
	}
	return job, q.projects.UpdateStatus(ctx, p.ProjectID, q.status, init)
}

func TestFinalizeKeepsStatusSettledByRepositoryJob(t *testing.T) {
	for _, settled := range []domain.ProjectStatus{domain.ProjectStatusActive, domain.ProjectStatusFailed} {
		t.Run(string(settled), func(t *testing.T) {
			h := newHarness(t)
			h.deps.Repository = &settledQueue{MemoryQueue: h.repoJobs, projects: h.store.Projects(), status: settled}
			in := demoInput()
			in.Repository = &RepositoryConfig{
				Mode:        RepositoryCreate,
				Provider:    domain.ProviderGitHub,
				Name:        "demo",
				AccessToken: "tok",
			}

			res := h.run(t, in)
			require.True(t, res.Success, res.Error)
			assert.True(t, res.RepositoryPending)

			project := h.project(t, res.ProjectID)
			assert.Equal(t, settled, project.Status)
			assert.NotEqual(t, domain.StepSetupRepository, project.InitializationStatus.Step)
			require.NotNil(t, res.Project)
			assert.Equal(t, settled, res.Project.Status)
		})
	}
}

func TestFinalizeActivatesWithoutRepository(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, demoInput())
	require.True(t, res.Success, res.Error)
	project := h.project(t, res.ProjectID)
	assert.Equal(t, domain.ProjectStatusActive, project.Status)
	assert.Equal(t, domain.StepCompleted, project.InitializationStatus.Step)
}

func TestExistingRepositoryWithGitOps(t *testing.T) {
	h := newHarness(t)
	ops := &fakeGitOps{available: true}
	h.deps.GitOps = ops
	in := demoInput()
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, Provider: domain.ProviderGitHub, URL: "https://github.com/acme/demo", AccessToken: "tok"}

	res := h.run(t, in)
	require.True(t, res.Success, res.Error)
	assert.False(t, res.RepositoryPending)
	require.NotNil(t, res.Project)
	require.Len(t, res.Project.Repositories, 1)
	assert.Equal(t, "acme/demo", res.Project.Repositories[0].FullName)

	require.Len(t, ops.setups, 1)
	assert.Equal(t, "tok", ops.setups[0].AccessToken)
	assert.Len(t, ops.setups[0].Environments, 3)

	project := h.project(t, res.ProjectID)
	assert.Equal(t, domain.ProjectStatusActive, project.Status)
	assert.Contains(t, project.InitializationStatus.CompletedSteps, domain.StepCreateGitOps)

	count, err := h.log.Count(context.Background(), res.ProjectID)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestExistingRepositoryProviderMismatch(t *testing.T) {
	h := newHarness(t)
	in := demoInput()
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, Provider: domain.ProviderGitLab, URL: "https://github.com/acme/demo"}

	res := h.run(t, in)
	require.False(t, res.Success)
	assert.Equal(t, StateSettingUpRepository, res.ErrorStep)
	assert.Equal(t, RepositorySetupError, res.ErrorCode)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	o, err := New(h.deps)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), Input{UserID: "u", OrganizationID: "o"})
	require.Error(t, err)

	in := demoInput()
	in.Repository = &RepositoryConfig{Mode: RepositoryCreate, Provider: "bitbucket", Name: "x", AccessToken: "t"}
	_, err = o.Run(context.Background(), in)
	require.Error(t, err)

	projects, err := h.store.Projects().List(context.Background(), repo.ProjectFilter{})
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestCleanupArchivesProject(t *testing.T) {
	h := newHarness(t)
	ops := &fakeGitOps{available: true}
	scratch := memfs.New()
	h.deps.GitOps = ops
	h.deps.Scratch = scratch
	in := demoInput()
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, URL: "https://github.com/acme/demo"}
	res := h.run(t, in)
	require.True(t, res.Success, res.Error)
	require.NoError(t, util.WriteFile(scratch, res.ProjectID+"/README.md", []byte("# demo"), 0o644))

	o, err := New(h.deps)
	require.NoError(t, err)
	req := CleanupRequest{ProjectID: res.ProjectID, UserID: "user-1", Action: CleanupArchive, AccessToken: "tok"}
	out, err := o.Cleanup(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out.JobIDs, 1)
	assert.Equal(t, 2, out.GitOpsRemoved)
	assert.True(t, out.ScratchRemoved)
	assert.Equal(t, []string{res.ProjectID}, ops.torndown)

	_, err = scratch.Stat(res.ProjectID)
	assert.Error(t, err)

	job, err := h.repoJobs.Get(context.Background(), out.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, worker.JobArchiveRepository, job.Name)

	again, err := o.Cleanup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, out.JobIDs, again.JobIDs)

	project := h.project(t, res.ProjectID)
	assert.Equal(t, domain.ProjectStatusArchived, project.Status)
	assert.Len(t, h.audit.Entries(audit.ActionProjectArchived), 2)
}

func TestCleanupWithoutTokenSkipsRepositories(t *testing.T) {
	h := newHarness(t)
	in := demoInput()
	in.Repository = &RepositoryConfig{Mode: RepositoryExisting, URL: "https://github.com/acme/demo"}
	res := h.run(t, in)
	require.True(t, res.Success, res.Error)

	o, err := New(h.deps)
	require.NoError(t, err)
	out, err := o.Cleanup(context.Background(), CleanupRequest{ProjectID: res.ProjectID, UserID: "user-1", Action: CleanupDelete})
	require.NoError(t, err)
	assert.Empty(t, out.JobIDs)
	assert.Equal(t, 1, out.SkippedRepos)

	_, err = o.Cleanup(context.Background(), CleanupRequest{ProjectID: res.ProjectID, UserID: "user-1", Action: "purge"})
	require.Error(t, err)
}

func TestStepRecordsTimestamps(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.deps.Now = func() time.Time { return now }

	res := h.run(t, demoInput())
	require.True(t, res.Success, res.Error)
	steps := h.steps(t, res.ProjectID)
	rec := steps[domain.StepCreateEnvironments]
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, now, *rec.StartedAt)
	assert.Equal(t, 50, rec.Progress)
}

type failingAudit struct{}

func (failingAudit) Log(context.Context, audit.Entry) error { return errors.New("audit store down") }

type failingNotifier struct{}

func (failingNotifier) Create(context.Context, domain.Notification) (domain.Notification, error) {
	return domain.Notification{}, errors.New("smtp down")
}

func TestFinalizeAuditFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.deps.Audit = failingAudit{}

	res := h.run(t, demoInput())
	require.False(t, res.Success)
	assert.Equal(t, StateFinalizing, res.ErrorStep)
	assert.Equal(t, FinalizationError, res.ErrorCode)
	assert.Equal(t, domain.ProjectStatusFailed, h.project(t, res.ProjectID).Status)
}

func TestFinalizeNotificationFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.deps.Notifications = failingNotifier{}

	res := h.run(t, demoInput())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.ProjectStatusActive, h.project(t, res.ProjectID).Status)
}
