package initflow

import (
	"errors"
	"fmt"

	"github.com/animus-labs/launchpad/internal/domain"
)

type State string

const (
	StateIdle                 State = "IDLE"
	StateCreatingProject      State = "CREATING_PROJECT"
	StateLoadingTemplate      State = "LOADING_TEMPLATE"
	StateRenderingTemplate    State = "RENDERING_TEMPLATE"
	StateCreatingEnvironments State = "CREATING_ENVIRONMENTS"
	StateSettingUpRepository  State = "SETTING_UP_REPOSITORY"
	StateCreatingGitOps       State = "CREATING_GITOPS"
	StateFinalizing           State = "FINALIZING"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Step is the persisted step name of a working state.
func (s State) Step() string {
	switch s {
	case StateCreatingProject:
		return domain.StepCreateProject
	case StateLoadingTemplate:
		return domain.StepLoadTemplate
	case StateRenderingTemplate:
		return domain.StepRenderTemplate
	case StateCreatingEnvironments:
		return domain.StepCreateEnvironments
	case StateSettingUpRepository:
		return domain.StepSetupRepository
	case StateCreatingGitOps:
		return domain.StepCreateGitOps
	case StateFinalizing:
		return domain.StepFinalize
	case StateCompleted:
		return domain.StepCompleted
	case StateFailed:
		return domain.StepFailed
	default:
		return ""
	}
}

type Event string

const (
	EventStart               Event = "START"
	EventProjectCreated      Event = "PROJECT_CREATED"
	EventTemplateLoaded      Event = "TEMPLATE_LOADED"
	EventTemplateRendered    Event = "TEMPLATE_RENDERED"
	EventEnvironmentsCreated Event = "ENVIRONMENTS_CREATED"
	EventRepositoryReady     Event = "REPOSITORY_READY"
	EventGitOpsCreated       Event = "GITOPS_CREATED"
	EventFinalized           Event = "FINALIZED"
	EventError               Event = "ERROR"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type transitionKey struct {
	from  State
	event Event
}

// transitions is the happy path. ERROR is accepted from every non-terminal
// state and handled in Next.
var transitions = map[transitionKey]State{
	{StateIdle, EventStart}:                               StateCreatingProject,
	{StateCreatingProject, EventProjectCreated}:           StateLoadingTemplate,
	{StateLoadingTemplate, EventTemplateLoaded}:           StateRenderingTemplate,
	{StateRenderingTemplate, EventTemplateRendered}:       StateCreatingEnvironments,
	{StateCreatingEnvironments, EventEnvironmentsCreated}: StateSettingUpRepository,
	{StateSettingUpRepository, EventRepositoryReady}:      StateCreatingGitOps,
	{StateCreatingGitOps, EventGitOpsCreated}:             StateFinalizing,
	{StateFinalizing, EventFinalized}:                     StateCompleted,
}

// doneEvents is the event a working state fires when it finishes or is skipped.
var doneEvents = map[State]Event{
	StateCreatingProject:      EventProjectCreated,
	StateLoadingTemplate:      EventTemplateLoaded,
	StateRenderingTemplate:    EventTemplateRendered,
	StateCreatingEnvironments: EventEnvironmentsCreated,
	StateSettingUpRepository:  EventRepositoryReady,
	StateCreatingGitOps:       EventGitOpsCreated,
	StateFinalizing:           EventFinalized,
}

// Next applies event to from.
func Next(from State, event Event) (State, error) {
	if event == EventError && from != "" && !from.Terminal() {
		return StateFailed, nil
	}
	next, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s --%s-->", ErrInvalidTransition, from, event)
	}
	return next, nil
}

// DoneEvent is the event that advances state after its handler ran or was skipped.
func DoneEvent(state State) (Event, bool) {
	e, ok := doneEvents[state]
	return e, ok
}
