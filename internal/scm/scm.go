// Package scm talks to source hosting REST APIs. Providers are untrusted,
// rate limited and fallible; callers classify failures with IsRetryable.
package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/platform/env"
)

type CreateRequest struct {
	Name          string
	Description   string
	Private       bool
	DefaultBranch string
}

type Repository struct {
	FullName      string `json:"fullName"`
	CloneURL      string `json:"cloneUrl"`
	DefaultBranch string `json:"defaultBranch"`
	WebURL        string `json:"webUrl,omitempty"`
}

type File struct {
	Path    string
	Content string
}

type Provider interface {
	Kind() domain.Provider
	// Owner is the namespace new repositories are created in.
	Owner(ctx context.Context) (string, error)
	CreateRepository(ctx context.Context, req CreateRequest) (Repository, error)
	GetRepository(ctx context.Context, fullName string) (Repository, error)
	DeleteRepository(ctx context.Context, fullName string) error
	ArchiveRepository(ctx context.Context, fullName string) error
	PushFiles(ctx context.Context, fullName, branch, message string, files []File) error
}

// Factory builds a provider bound to one access token.
type Factory interface {
	Provider(kind domain.Provider, accessToken string) (Provider, error)
}

type Config struct {
	GitHubBaseURL string
	GitLabBaseURL string
	UserAgent     string
	Timeout       time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("LAUNCHPAD_SCM_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		GitHubBaseURL: env.Trimmed("GITHUB_BASE_URL", "https://api.github.com"),
		GitLabBaseURL: env.Trimmed("GITLAB_BASE_URL", "https://gitlab.com"),
		UserAgent:     env.Trimmed("LAUNCHPAD_SCM_USER_AGENT", "launchpad"),
		Timeout:       timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.GitHubBaseURL) == "" {
		return errors.New("GITHUB_BASE_URL is required")
	}
	if strings.TrimSpace(c.GitLabBaseURL) == "" {
		return errors.New("GITLAB_BASE_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("LAUNCHPAD_SCM_TIMEOUT must be positive")
	}
	return nil
}

// Clients is the default Factory.
type Clients struct {
	cfg  Config
	base http.RoundTripper
}

// NewClients returns a Factory. base may be nil to use http.DefaultTransport.
func NewClients(cfg Config, base http.RoundTripper) (*Clients, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "launchpad"
	}
	return &Clients{cfg: cfg, base: base}, nil
}

func (c *Clients) Provider(kind domain.Provider, accessToken string) (Provider, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("access token is required")
	}
	httpClient := &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
			Base:   c.base,
		},
	}
	switch domain.NormalizeProvider(string(kind)) {
	case domain.ProviderGitHub:
		return newGitHub(c.cfg.GitHubBaseURL, c.cfg.UserAgent, httpClient), nil
	case domain.ProviderGitLab:
		return newGitLab(c.cfg.GitLabBaseURL, c.cfg.UserAgent, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported scm provider %q", kind)
	}
}
