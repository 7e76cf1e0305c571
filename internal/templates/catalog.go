package templates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"
)

// ManifestName is the per-template metadata file. It is never rendered.
const ManifestName = "template.yaml"

var ErrTemplateNotFound = errors.New("template not found")

type Template struct {
	ID          string
	Slug        string
	Name        string
	Description string
	Version     *semver.Version
	// Path is the template directory inside the catalog filesystem.
	Path string
}

type manifest struct {
	ID          string `yaml:"id"`
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// Catalog indexes template directories found at the root of a filesystem.
type Catalog struct {
	fs     billy.Filesystem
	byKey  map[string]Template
	sorted []Template
}

// LoadCatalog reads <dir>/template.yaml for every top-level directory.
// Directories without a manifest are skipped.
func LoadCatalog(fs billy.Filesystem) (*Catalog, error) {
	if fs == nil {
		return nil, errors.New("template filesystem is required")
	}
	entries, err := fs.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("read template root: %w", err)
	}
	c := &Catalog{fs: fs, byKey: map[string]Template{}}
	for _, entry := range entries {
		if !entry.IsDir() || isIgnored(entry.Name()) {
			continue
		}
		raw, err := util.ReadFile(fs, fs.Join(entry.Name(), ManifestName))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s manifest: %w", entry.Name(), err)
		}
		tmpl, err := parseManifest(entry.Name(), raw)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byKey[tmpl.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", tmpl.ID)
		}
		c.byKey[tmpl.ID] = tmpl
		if tmpl.Slug != tmpl.ID {
			c.byKey[tmpl.Slug] = tmpl
		}
		c.sorted = append(c.sorted, tmpl)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i].Slug < c.sorted[j].Slug })
	return c, nil
}

func parseManifest(dir string, raw []byte) (Template, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Template{}, fmt.Errorf("parse %s manifest: %w", dir, err)
	}
	tmpl := Template{
		ID:          strings.TrimSpace(m.ID),
		Slug:        strings.TrimSpace(m.Slug),
		Name:        strings.TrimSpace(m.Name),
		Description: strings.TrimSpace(m.Description),
		Path:        dir,
	}
	if tmpl.Slug == "" {
		tmpl.Slug = dir
	}
	if tmpl.ID == "" {
		tmpl.ID = tmpl.Slug
	}
	if tmpl.Name == "" {
		tmpl.Name = tmpl.Slug
	}
	version := strings.TrimSpace(m.Version)
	if version == "" {
		version = "0.0.0"
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return Template{}, fmt.Errorf("template %s version %q: %w", tmpl.ID, version, err)
	}
	tmpl.Version = v
	return tmpl, nil
}

// Get resolves a template by id or slug.
func (c *Catalog) Get(_ context.Context, idOrSlug string) (Template, error) {
	tmpl, ok := c.byKey[strings.TrimSpace(idOrSlug)]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, idOrSlug)
	}
	return tmpl, nil
}

// Resolve is Get plus an optional semver constraint such as "^1.2".
func (c *Catalog) Resolve(ctx context.Context, idOrSlug, constraint string) (Template, error) {
	tmpl, err := c.Get(ctx, idOrSlug)
	if err != nil {
		return Template{}, err
	}
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return tmpl, nil
	}
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return Template{}, fmt.Errorf("template version constraint %q: %w", constraint, err)
	}
	if !cons.Check(tmpl.Version) {
		return Template{}, fmt.Errorf("template %s version %s does not satisfy %s", tmpl.ID, tmpl.Version, constraint)
	}
	return tmpl, nil
}

func (c *Catalog) List() []Template {
	return append([]Template(nil), c.sorted...)
}

func (c *Catalog) Filesystem() billy.Filesystem {
	return c.fs
}
