package templates

import (
	"github.com/animus-labs/launchpad/internal/domain"
)

const (
	defaultRegistry = "ghcr.io"
	defaultPort     = 3000
	defaultReplicas = 1
)

// RepositoryVars describes the repository a rendered project will live in.
type RepositoryVars struct {
	URL    string
	Branch string
}

// Variables builds the render scope for a project. Keys of config override
// the defaults, except for the project identity keys.
func Variables(project domain.Project, repository *RepositoryVars, config domain.Metadata) map[string]any {
	vars := map[string]any{
		"registry": defaultRegistry,
		"port":     defaultPort,
		"replicas": defaultReplicas,
		"appName":  project.Slug,
	}
	for k, v := range config {
		vars[k] = v
	}
	vars["projectId"] = project.ID
	vars["projectName"] = project.Name
	vars["projectSlug"] = project.Slug
	vars["description"] = project.Description
	if repository != nil {
		branch := repository.Branch
		if branch == "" {
			branch = "main"
		}
		vars["repository"] = map[string]any{"url": repository.URL, "branch": branch}
	}
	return vars
}
