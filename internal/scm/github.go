package scm

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

type GitHub struct {
	rest restClient
}

func newGitHub(baseURL, userAgent string, httpClient *http.Client) *GitHub {
	return &GitHub{rest: restClient{
		provider:  domain.ProviderGitHub,
		baseURL:   trimBase(baseURL),
		accept:    "application/vnd.github.v3+json",
		userAgent: userAgent,
		http:      httpClient,
	}}
}

type githubRepo struct {
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

func (r githubRepo) toRepository() Repository {
	return Repository{FullName: r.FullName, CloneURL: r.CloneURL, DefaultBranch: r.DefaultBranch, WebURL: r.HTMLURL}
}

func (g *GitHub) Kind() domain.Provider { return domain.ProviderGitHub }

func (g *GitHub) Owner(ctx context.Context) (string, error) {
	var out struct {
		Login string `json:"login"`
	}
	if err := g.rest.do(ctx, "get user", http.MethodGet, "/user", nil, &out); err != nil {
		return "", err
	}
	return out.Login, nil
}

func (g *GitHub) CreateRepository(ctx context.Context, req CreateRequest) (Repository, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Repository{}, errors.New("repository name is required")
	}
	body := map[string]any{
		"name":      name,
		"private":   req.Private,
		"auto_init": true,
	}
	if req.Description != "" {
		body["description"] = req.Description
	}
	var out githubRepo
	if err := g.rest.do(ctx, "create repository", http.MethodPost, "/user/repos", body, &out); err != nil {
		return Repository{}, err
	}
	return out.toRepository(), nil
}

func (g *GitHub) GetRepository(ctx context.Context, fullName string) (Repository, error) {
	var out githubRepo
	if err := g.rest.do(ctx, "get repository", http.MethodGet, "/repos/"+strings.Trim(fullName, "/"), nil, &out); err != nil {
		return Repository{}, err
	}
	return out.toRepository(), nil
}

func (g *GitHub) DeleteRepository(ctx context.Context, fullName string) error {
	return g.rest.do(ctx, "delete repository", http.MethodDelete, "/repos/"+strings.Trim(fullName, "/"), nil, nil)
}

func (g *GitHub) ArchiveRepository(ctx context.Context, fullName string) error {
	return g.rest.do(ctx, "archive repository", http.MethodPatch, "/repos/"+strings.Trim(fullName, "/"), map[string]any{"archived": true}, nil)
}

// PushFiles writes each file through the contents API. Existing files are
// updated in place using their current blob sha.
func (g *GitHub) PushFiles(ctx context.Context, fullName, branch, message string, files []File) error {
	repoPath := "/repos/" + strings.Trim(fullName, "/") + "/contents/"
	for _, f := range files {
		path := strings.TrimLeft(f.Path, "/")
		body := map[string]any{
			"message": message,
			"content": base64.StdEncoding.EncodeToString([]byte(f.Content)),
			"branch":  branch,
		}

		var existing struct {
			SHA string `json:"sha"`
		}
		err := g.rest.do(ctx, "get file", http.MethodGet, repoPath+path+"?ref="+url.QueryEscape(branch), nil, &existing)
		switch {
		case err == nil && existing.SHA != "":
			body["sha"] = existing.SHA
		case err != nil && !IsNotFound(err):
			return err
		}

		if err := g.rest.do(ctx, "push file", http.MethodPut, repoPath+path, body, nil); err != nil {
			return err
		}
	}
	return nil
}
