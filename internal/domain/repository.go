package domain

import (
	"errors"
	"strings"
	"time"
)

type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

func NormalizeProvider(value string) Provider {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderGitHub:
		return ProviderGitHub
	case ProviderGitLab:
		return ProviderGitLab
	default:
		return ""
	}
}

type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSuccess  SyncStatus = "success"
	SyncStatusFailed   SyncStatus = "failed"
	SyncStatusArchived SyncStatus = "archived"
)

// Repository is a remote SCM repository connected to a project.
type Repository struct {
	ID            string
	ProjectID     string
	Provider      Provider
	FullName      string
	CloneURL      string
	DefaultBranch string
	SyncStatus    SyncStatus
	LastSyncAt    *time.Time
	CreatedAt     time.Time
}

func (r Repository) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("repository id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if NormalizeProvider(string(r.Provider)) == "" {
		return errors.New("repository provider is invalid")
	}
	if strings.TrimSpace(r.FullName) == "" {
		return errors.New("repository full name is required")
	}
	if strings.TrimSpace(r.CloneURL) == "" {
		return errors.New("repository clone url is required")
	}
	return nil
}
