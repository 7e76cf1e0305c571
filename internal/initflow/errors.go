package initflow

import (
	"errors"
	"fmt"
)

// Step error codes.
const (
	ProjectCreationError     = "PROJECT_CREATION_FAILED"
	TemplateLoadError        = "TEMPLATE_LOAD_FAILED"
	TemplateRenderError      = "TEMPLATE_RENDER_FAILED"
	EnvironmentCreationError = "ENVIRONMENT_CREATION_FAILED"
	RepositorySetupError     = "REPOSITORY_SETUP_FAILED"
	GitOpsSetupError         = "GITOPS_SETUP_FAILED"
	FinalizationError        = "FINALIZATION_FAILED"
	InitializationError      = "INITIALIZATION_FAILED"
)

// StepError is the classified failure of one state.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.message(), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Code() string {
	switch e.Step {
	case StateCreatingProject:
		return ProjectCreationError
	case StateLoadingTemplate:
		return TemplateLoadError
	case StateRenderingTemplate:
		return TemplateRenderError
	case StateCreatingEnvironments:
		return EnvironmentCreationError
	case StateSettingUpRepository:
		return RepositorySetupError
	case StateCreatingGitOps:
		return GitOpsSetupError
	case StateFinalizing:
		return FinalizationError
	default:
		return InitializationError
	}
}

func (e *StepError) message() string {
	switch e.Step {
	case StateCreatingProject:
		return "create project"
	case StateLoadingTemplate:
		return "load template"
	case StateRenderingTemplate:
		return "render template"
	case StateCreatingEnvironments:
		return "create environments"
	case StateSettingUpRepository:
		return "set up repository"
	case StateCreatingGitOps:
		return "create gitops resources"
	case StateFinalizing:
		return "finalize project"
	default:
		return "initialize project"
	}
}

// classify wraps err for step unless it already is a step error.
func classify(step State, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return &StepError{Step: step, Err: err}
}

// StepCode returns the code of a step error anywhere in err's chain.
func StepCode(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code()
	}
	return ""
}
