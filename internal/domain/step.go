package domain

import "time"

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepRecord is the persisted outcome of one initialization state.
type StepRecord struct {
	ProjectID   string
	Step        string
	Status      StepStatus
	Progress    int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
