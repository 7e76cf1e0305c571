package k8s

import (
	"errors"
	"fmt"
	"strings"
)

type ObjectMeta struct {
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

type Namespace struct {
	APIVersion string     `json:"apiVersion,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Metadata   ObjectMeta `json:"metadata"`
}

type Secret struct {
	APIVersion string            `json:"apiVersion,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Metadata   ObjectMeta        `json:"metadata"`
	Type       string            `json:"type,omitempty"`
	StringData map[string]string `json:"stringData,omitempty"`
}

// Resource identifies a namespaced custom resource collection.
type Resource struct {
	Group   string
	Version string
	Plural  string
}

func (r Resource) Validate() error {
	if strings.TrimSpace(r.Group) == "" || strings.TrimSpace(r.Version) == "" {
		return errors.New("resource group and version are required")
	}
	if strings.TrimSpace(r.Plural) == "" {
		return errors.New("resource plural is required")
	}
	return nil
}

func (r Resource) APIVersion() string {
	return r.Group + "/" + r.Version
}

func (r Resource) CollectionPath(namespace string) string {
	return fmt.Sprintf("/apis/%s/%s/namespaces/%s/%s", r.Group, r.Version, namespace, r.Plural)
}
