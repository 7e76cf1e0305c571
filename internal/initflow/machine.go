package initflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/platform/telemetry"
	"github.com/animus-labs/launchpad/internal/progress"
	"github.com/animus-labs/launchpad/internal/repo"
)

// workingStates are the states that need a handler, in run order.
var workingStates = []State{
	StateCreatingProject,
	StateLoadingTemplate,
	StateRenderingTemplate,
	StateCreatingEnvironments,
	StateSettingUpRepository,
	StateCreatingGitOps,
	StateFinalizing,
}

type MachineOptions struct {
	// Projects receives the failed status of a run. Optional.
	Projects repo.ProjectRepository
	// Steps receives one record per state. Optional.
	Steps    repo.StepRepository
	Progress *progress.Tracker
	Events   *events.Publisher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Machine drives a Context through the handlers. It keeps no per-run state
// and is safe for concurrent runs.
type Machine struct {
	handlers map[State]Handler
	projects repo.ProjectRepository
	steps    repo.StepRepository
	tracker  *progress.Tracker
	events   *events.Publisher
	logger   *slog.Logger
	ops      *telemetry.Operations
	now      func() time.Time
}

// NewMachine requires exactly one handler for every working state.
func NewMachine(handlers []Handler, opts MachineOptions) (*Machine, error) {
	byState := make(map[State]Handler, len(handlers))
	for _, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("nil handler")
		}
		if _, dup := byState[h.State()]; dup {
			return nil, fmt.Errorf("duplicate handler for %s", h.State())
		}
		byState[h.State()] = h
	}
	for _, state := range workingStates {
		if _, ok := byState[state]; !ok {
			return nil, fmt.Errorf("no handler for %s", state)
		}
	}
	if len(byState) != len(workingStates) {
		return nil, fmt.Errorf("handlers registered for non-working states")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		handlers: byState,
		projects: opts.Projects,
		steps:    opts.Steps,
		tracker:  opts.Progress,
		events:   opts.Events,
		logger:   logger.With("component", "initflow"),
		ops:      telemetry.NewOperations("initflow", "initflow"),
		now:      now,
	}, nil
}

// Execute runs ictx from IDLE to a terminal state and returns that state.
// A failure is stored on ictx as a *StepError.
func (m *Machine) Execute(ctx context.Context, ictx *Context) State {
	if err := m.fire(ictx, EventStart); err != nil {
		m.fail(ctx, ictx, ictx.state, err)
		return ictx.state
	}
	for !ictx.state.Terminal() {
		state := ictx.state
		if err := m.step(ctx, ictx); err != nil {
			m.fail(ctx, ictx, state, err)
			break
		}
	}
	if ictx.state == StateCompleted {
		m.complete(ctx, ictx)
	}
	return ictx.state
}

func (m *Machine) step(ctx context.Context, ictx *Context) error {
	state := ictx.state
	handler, ok := m.handlers[state]
	if !ok {
		return fmt.Errorf("no handler for %s", state)
	}
	if !handler.CanHandle(ictx) {
		m.logger.Info("skip state", "project_id", ictx.projectID, "state", string(state))
		m.record(ctx, ictx, state, domain.StepStatusSkipped, nil, nil)
		return m.advance(ictx)
	}

	ictx.SetProgress(handler.Progress())
	m.announce(ctx, ictx)
	started := m.now().UTC()
	m.record(ctx, ictx, state, domain.StepStatusRunning, &started, nil)
	m.logger.Info("execute state", "project_id", ictx.projectID, "state", string(state), "progress", ictx.progress)

	spanCtx, end := m.ops.Start(ctx, string(state), attribute.String("launchpad.project_id", ictx.projectID))
	err := handler.Execute(spanCtx, ictx)
	end(err)
	if err != nil {
		m.record(ctx, ictx, state, domain.StepStatusFailed, &started, err)
		return err
	}
	if ictx.reporter == nil {
		// The project id exists only after the first state ran.
		m.announce(ctx, ictx)
	}
	m.record(ctx, ictx, state, domain.StepStatusCompleted, &started, nil)
	ictx.completed = append(ictx.completed, state.Step())
	m.publish(ctx, ictx, events.InitStepCompleted, map[string]any{
		"step":     state.Step(),
		"progress": ictx.progress,
	})
	return m.advance(ictx)
}

func (m *Machine) advance(ictx *Context) error {
	event, ok := DoneEvent(ictx.state)
	if !ok {
		return fmt.Errorf("%w: %s has no completion event", ErrInvalidTransition, ictx.state)
	}
	return m.fire(ictx, event)
}

func (m *Machine) fire(ictx *Context, event Event) error {
	next, err := Next(ictx.state, event)
	if err != nil {
		return err
	}
	m.logger.Debug("transition", "project_id", ictx.projectID, "from", string(ictx.state), "event", string(event), "to", string(next))
	ictx.state = next
	return nil
}

// announce publishes the state change once the run has a project channel.
func (m *Machine) announce(ctx context.Context, ictx *Context) {
	if ictx.reporter == nil {
		if ictx.projectID == "" {
			return
		}
		ictx.reporter = m.tracker.Run(ictx.projectID)
		m.publish(ctx, ictx, events.InitStarted, map[string]any{"organizationId": ictx.input.OrganizationID})
	}
	if err := ictx.reporter.Progress(ctx, string(ictx.state), ictx.progress, stateMessage(ictx.state)); err != nil {
		m.logger.Warn("publish progress failed", "project_id", ictx.projectID, "error", err)
	}
}

// fail moves the run to FAILED. Effects of earlier states are kept.
func (m *Machine) fail(ctx context.Context, ictx *Context, state State, cause error) {
	stepErr := classify(state, cause)
	if next, err := Next(ictx.state, EventError); err == nil {
		ictx.state = next
	} else {
		ictx.state = StateFailed
	}
	ictx.err = stepErr
	m.logger.Error("initialization failed",
		"project_id", ictx.projectID,
		"state", string(state),
		"code", stepErr.Code(),
		"error", stepErr,
	)

	// The run is over; report it even if the caller gave up.
	ctx = context.WithoutCancel(ctx)
	if ictx.reporter == nil && ictx.projectID != "" {
		ictx.reporter = m.tracker.Run(ictx.projectID)
	}
	if err := ictx.reporter.Failed(ctx, string(state), stepErr); err != nil {
		m.logger.Warn("publish failure failed", "project_id", ictx.projectID, "error", err)
	}
	if ictx.projectID != "" && m.projects != nil {
		init := domain.InitializationStatus{
			Step:           state.Step(),
			Progress:       ictx.progress,
			CompletedSteps: ictx.CompletedSteps(),
			Error:          stepErr.Error(),
		}
		if err := m.projects.UpdateStatus(ctx, ictx.projectID, domain.ProjectStatusFailed, init); err != nil {
			m.logger.Error("mark project failed", "project_id", ictx.projectID, "error", err)
		}
	}
	m.publish(ctx, ictx, events.InitFailed, map[string]any{
		"step":  state.Step(),
		"code":  stepErr.Code(),
		"error": stepErr.Error(),
	})
}

func (m *Machine) complete(ctx context.Context, ictx *Context) {
	counts := map[string]any{
		"environments":    len(ictx.environmentIDs),
		"gitopsResources": len(ictx.gitopsResourceIDs),
		"jobs":            len(ictx.jobIDs),
	}
	message := "project initialized"
	if ictx.RepositoryPending() {
		message = "project initialized, repository pending"
	}
	if err := ictx.reporter.Completed(ctx, message, counts); err != nil {
		m.logger.Warn("publish completion failed", "project_id", ictx.projectID, "error", err)
	}
	m.publish(ctx, ictx, events.InitCompleted, counts)
	m.logger.Info("initialization completed", "project_id", ictx.projectID, "repository_pending", ictx.RepositoryPending())
}

func (m *Machine) record(ctx context.Context, ictx *Context, state State, status domain.StepStatus, started *time.Time, cause error) {
	if m.steps == nil || ictx.projectID == "" {
		return
	}
	rec := domain.StepRecord{
		ProjectID: ictx.projectID,
		Step:      state.Step(),
		Status:    status,
		Progress:  ictx.progress,
		StartedAt: started,
	}
	switch status {
	case domain.StepStatusCompleted, domain.StepStatusFailed, domain.StepStatusSkipped:
		done := m.now().UTC()
		rec.CompletedAt = &done
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := m.steps.Upsert(ctx, rec); err != nil {
		m.logger.Warn("record step failed", "project_id", ictx.projectID, "step", rec.Step, "error", err)
	}
}

func (m *Machine) publish(ctx context.Context, ictx *Context, eventType string, data map[string]any) {
	if m.events == nil || ictx.projectID == "" {
		return
	}
	if _, err := m.events.Publish(ctx, events.New(eventType, ictx.projectID, ictx.input.UserID, data)); err != nil {
		m.logger.Warn("publish event failed", "type", eventType, "project_id", ictx.projectID, "error", err)
	}
}

func stateMessage(state State) string {
	switch state {
	case StateCreatingProject:
		return "creating project"
	case StateLoadingTemplate:
		return "loading template"
	case StateRenderingTemplate:
		return "rendering template"
	case StateCreatingEnvironments:
		return "creating environments"
	case StateSettingUpRepository:
		return "setting up repository"
	case StateCreatingGitOps:
		return "creating gitops resources"
	case StateFinalizing:
		return "finalizing"
	default:
		return string(state)
	}
}
