package gitops

import (
	"github.com/animus-labs/launchpad/internal/domain"
)

// KustomizeFile is a kustomize.config.k8s.io kustomization.yaml document,
// distinct from the Flux Kustomization custom resource.
type KustomizeFile struct {
	APIVersion   string            `yaml:"apiVersion"`
	Kind         string            `yaml:"kind"`
	Namespace    string            `yaml:"namespace,omitempty"`
	Resources    []string          `yaml:"resources"`
	CommonLabels map[string]string `yaml:"commonLabels,omitempty"`
	Replicas     []ReplicaCount    `yaml:"replicas,omitempty"`
}

type ReplicaCount struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

const kustomizeAPIVersion = "kustomize.config.k8s.io/v1beta1"

func NewBaseKustomization(resources ...string) KustomizeFile {
	return KustomizeFile{
		APIVersion: kustomizeAPIVersion,
		Kind:       "Kustomization",
		Resources:  resources,
	}
}

// NewOverlay points an environment overlay at ../../base. Production runs two replicas.
func NewOverlay(projectID, appName string, envType domain.EnvironmentType) KustomizeFile {
	replicas := 1
	if envType == domain.EnvironmentProduction {
		replicas = 2
	}
	return KustomizeFile{
		APIVersion:   kustomizeAPIVersion,
		Kind:         "Kustomization",
		Namespace:    domain.EnvironmentNamespace(projectID, envType),
		Resources:    []string{"../../base"},
		CommonLabels: map[string]string{EnvironmentLabel: string(envType)},
		Replicas:     []ReplicaCount{{Name: appName, Count: replicas}},
	}
}
