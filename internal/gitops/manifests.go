package gitops

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/platform/k8s"
)

var (
	GitRepositoryResource = k8s.Resource{Group: "source.toolkit.fluxcd.io", Version: "v1", Plural: "gitrepositories"}
	KustomizationResource = k8s.Resource{Group: "kustomize.toolkit.fluxcd.io", Version: "v1", Plural: "kustomizations"}
)

const (
	ReconcileAnnotation = "reconcile.fluxcd.io/requestedAt"
	ManagedByLabel      = "app.kubernetes.io/managed-by"
	ProjectLabel        = "launchpad.io/project-id"
	EnvironmentLabel    = "launchpad.io/environment"

	gitRepositoryInterval = "1m"
	kustomizationInterval = "5m"
	kustomizationTimeout  = "3m"
)

type GitRepository struct {
	APIVersion string            `json:"apiVersion" yaml:"apiVersion"`
	Kind       string            `json:"kind" yaml:"kind"`
	Metadata   k8s.ObjectMeta    `json:"metadata" yaml:"metadata"`
	Spec       GitRepositorySpec `json:"spec" yaml:"spec"`
}

type GitRepositorySpec struct {
	Interval  string           `json:"interval" yaml:"interval"`
	URL       string           `json:"url" yaml:"url"`
	Ref       GitRepositoryRef `json:"ref" yaml:"ref"`
	SecretRef *LocalObjectRef  `json:"secretRef,omitempty" yaml:"secretRef,omitempty"`
}

type GitRepositoryRef struct {
	Branch string `json:"branch" yaml:"branch"`
}

type LocalObjectRef struct {
	Name string `json:"name" yaml:"name"`
}

type Kustomization struct {
	APIVersion string            `json:"apiVersion" yaml:"apiVersion"`
	Kind       string            `json:"kind" yaml:"kind"`
	Metadata   k8s.ObjectMeta    `json:"metadata" yaml:"metadata"`
	Spec       KustomizationSpec `json:"spec" yaml:"spec"`
}

type KustomizationSpec struct {
	Interval        string    `json:"interval" yaml:"interval"`
	Path            string    `json:"path" yaml:"path"`
	Prune           bool      `json:"prune" yaml:"prune"`
	SourceRef       SourceRef `json:"sourceRef" yaml:"sourceRef"`
	TargetNamespace string    `json:"targetNamespace,omitempty" yaml:"targetNamespace,omitempty"`
	Timeout         string    `json:"timeout" yaml:"timeout"`
}

type SourceRef struct {
	Kind string `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

func GitRepositoryName(projectID string) string {
	return strings.TrimSpace(projectID) + "-repo"
}

func KustomizationName(projectID string, envType domain.EnvironmentType) string {
	return strings.TrimSpace(projectID) + "-" + string(envType)
}

func AuthSecretName(projectID string) string {
	return strings.TrimSpace(projectID) + "-git-auth"
}

func OverlayPath(envType domain.EnvironmentType) string {
	return "./k8s/overlays/" + string(envType)
}

func labels(projectID string, envType domain.EnvironmentType) map[string]string {
	return map[string]string{
		ManagedByLabel:   "launchpad",
		ProjectLabel:     projectID,
		EnvironmentLabel: string(envType),
	}
}

func requestedAt(now time.Time) map[string]string {
	return map[string]string{ReconcileAnnotation: now.UTC().Format(time.RFC3339Nano)}
}

// NewGitRepository builds the Flux source for a project in one environment namespace.
func NewGitRepository(projectID string, envType domain.EnvironmentType, namespace, url, branch string, now time.Time) GitRepository {
	if strings.TrimSpace(branch) == "" {
		branch = "main"
	}
	return GitRepository{
		APIVersion: GitRepositoryResource.APIVersion(),
		Kind:       domain.GitOpsKindGitRepository,
		Metadata: k8s.ObjectMeta{
			Name:        GitRepositoryName(projectID),
			Namespace:   namespace,
			Labels:      labels(projectID, envType),
			Annotations: requestedAt(now),
		},
		Spec: GitRepositorySpec{
			Interval:  gitRepositoryInterval,
			URL:       url,
			Ref:       GitRepositoryRef{Branch: branch},
			SecretRef: &LocalObjectRef{Name: AuthSecretName(projectID)},
		},
	}
}

// NewKustomization builds the Flux kustomization applying the environment overlay.
func NewKustomization(projectID string, envType domain.EnvironmentType, namespace string, now time.Time) Kustomization {
	return Kustomization{
		APIVersion: KustomizationResource.APIVersion(),
		Kind:       domain.GitOpsKindKustomization,
		Metadata: k8s.ObjectMeta{
			Name:        KustomizationName(projectID, envType),
			Namespace:   namespace,
			Labels:      labels(projectID, envType),
			Annotations: requestedAt(now),
		},
		Spec: KustomizationSpec{
			Interval:        kustomizationInterval,
			Path:            OverlayPath(envType),
			Prune:           true,
			SourceRef:       SourceRef{Kind: domain.GitOpsKindGitRepository, Name: GitRepositoryName(projectID)},
			TargetNamespace: namespace,
			Timeout:         kustomizationTimeout,
		},
	}
}

// NewAuthSecret is the basic-auth secret Flux uses to clone over HTTPS.
func NewAuthSecret(projectID, namespace, token string) k8s.Secret {
	return k8s.Secret{
		Metadata: k8s.ObjectMeta{
			Name:      AuthSecretName(projectID),
			Namespace: namespace,
			Labels:    map[string]string{ManagedByLabel: "launchpad", ProjectLabel: projectID},
		},
		Type: "Opaque",
		StringData: map[string]string{
			"username": "git",
			"password": token,
		},
	}
}

// Marshal renders a manifest as YAML.
func Marshal(obj any) ([]byte, error) {
	return yaml.Marshal(obj)
}
