package scm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

type GitLab struct {
	rest restClient
}

func newGitLab(baseURL, userAgent string, httpClient *http.Client) *GitLab {
	return &GitLab{rest: restClient{
		provider:  domain.ProviderGitLab,
		baseURL:   trimBase(baseURL) + "/api/v4",
		accept:    "application/json",
		userAgent: userAgent,
		http:      httpClient,
	}}
}

type gitlabProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
	HTTPURLToRepo     string `json:"http_url_to_repo"`
	DefaultBranch     string `json:"default_branch"`
	WebURL            string `json:"web_url"`
}

func (p gitlabProject) toRepository() Repository {
	return Repository{FullName: p.PathWithNamespace, CloneURL: p.HTTPURLToRepo, DefaultBranch: p.DefaultBranch, WebURL: p.WebURL}
}

func projectPath(fullName string) string {
	return "/projects/" + url.PathEscape(strings.Trim(fullName, "/"))
}

func (g *GitLab) Kind() domain.Provider { return domain.ProviderGitLab }

func (g *GitLab) Owner(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if err := g.rest.do(ctx, "get user", http.MethodGet, "/user", nil, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

func (g *GitLab) CreateRepository(ctx context.Context, req CreateRequest) (Repository, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Repository{}, errors.New("repository name is required")
	}
	visibility := "public"
	if req.Private {
		visibility = "private"
	}
	body := map[string]any{
		"name":                   name,
		"visibility":             visibility,
		"initialize_with_readme": true,
	}
	if req.DefaultBranch != "" {
		body["default_branch"] = req.DefaultBranch
	}
	if req.Description != "" {
		body["description"] = req.Description
	}
	var out gitlabProject
	if err := g.rest.do(ctx, "create repository", http.MethodPost, "/projects", body, &out); err != nil {
		return Repository{}, err
	}
	return out.toRepository(), nil
}

func (g *GitLab) GetRepository(ctx context.Context, fullName string) (Repository, error) {
	var out gitlabProject
	if err := g.rest.do(ctx, "get repository", http.MethodGet, projectPath(fullName), nil, &out); err != nil {
		return Repository{}, err
	}
	return out.toRepository(), nil
}

func (g *GitLab) DeleteRepository(ctx context.Context, fullName string) error {
	return g.rest.do(ctx, "delete repository", http.MethodDelete, projectPath(fullName), nil, nil)
}

func (g *GitLab) ArchiveRepository(ctx context.Context, fullName string) error {
	return g.rest.do(ctx, "archive repository", http.MethodPost, projectPath(fullName)+"/archive", nil, nil)
}

// PushFiles sends every file in one commit, choosing create or update per file.
func (g *GitLab) PushFiles(ctx context.Context, fullName, branch, message string, files []File) error {
	if len(files) == 0 {
		return nil
	}
	base := projectPath(fullName)
	actions := make([]map[string]string, 0, len(files))
	for _, f := range files {
		path := strings.TrimLeft(f.Path, "/")
		action := "create"
		err := g.rest.do(ctx, "get file", http.MethodHead, base+"/repository/files/"+url.PathEscape(path)+"?ref="+url.QueryEscape(branch), nil, nil)
		switch {
		case err == nil:
			action = "update"
		case !IsNotFound(err):
			return err
		}
		actions = append(actions, map[string]string{
			"action":    action,
			"file_path": path,
			"content":   f.Content,
		})
	}
	body := map[string]any{
		"branch":         branch,
		"commit_message": message,
		"actions":        actions,
	}
	return g.rest.do(ctx, "push files", http.MethodPost, base+"/repository/commits", body, nil)
}
