package worker

import (
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/gitops"
	"github.com/animus-labs/launchpad/internal/scm"
)

const bootstrapApp = "app"

const gitignore = `# Dependencies
node_modules/
.pnp
.pnp.js

# Testing
coverage/

# Production
build/
dist/

# Misc
.DS_Store
.env.local
.env.development.local
.env.test.local
.env.production.local

# Logs
npm-debug.log*
yarn-debug.log*
yarn-error.log*
`

const baseDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
spec:
  replicas: 1
  selector:
    matchLabels:
      app: app
  template:
    metadata:
      labels:
        app: app
    spec:
      containers:
      - name: app
        image: nginx:latest
        ports:
        - containerPort: 80
`

const baseService = `apiVersion: v1
kind: Service
metadata:
  name: app
spec:
  selector:
    app: app
  ports:
  - port: 80
    targetPort: 80
`

func readme(projectName string) string {
	title := strings.TrimSpace(projectName)
	if title == "" {
		title = "Project"
	}
	return fmt.Sprintf(`# %s

This repository was created by launchpad.

## Getting Started

Add your application code here.

## Deployment

This project is configured for GitOps deployment with Flux.
Each environment reconciles ./k8s/overlays/<environment>.
`, title)
}

// BootstrapFiles is the initial tree pushed to a freshly created repository:
// ignore rules, a README and a kustomize base with one overlay per environment.
func BootstrapFiles(projectID, projectName string) ([]scm.File, error) {
	base, err := gitops.Marshal(gitops.NewBaseKustomization("deployment.yaml", "service.yaml"))
	if err != nil {
		return nil, fmt.Errorf("marshal base kustomization: %w", err)
	}
	files := []scm.File{
		{Path: ".gitignore", Content: gitignore},
		{Path: "README.md", Content: readme(projectName)},
		{Path: "k8s/base/kustomization.yaml", Content: string(base)},
		{Path: "k8s/base/deployment.yaml", Content: baseDeployment},
		{Path: "k8s/base/service.yaml", Content: baseService},
	}
	for _, envType := range []domain.EnvironmentType{
		domain.EnvironmentDevelopment,
		domain.EnvironmentStaging,
		domain.EnvironmentProduction,
	} {
		overlay, err := gitops.Marshal(gitops.NewOverlay(projectID, bootstrapApp, envType))
		if err != nil {
			return nil, fmt.Errorf("marshal %s overlay: %w", envType, err)
		}
		files = append(files, scm.File{
			Path:    strings.TrimPrefix(gitops.OverlayPath(envType), "./") + "/kustomization.yaml",
			Content: string(overlay),
		})
	}
	return files, nil
}
