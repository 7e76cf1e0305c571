package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"text/template"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".svg": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".mp4": {}, ".webm": {}, ".wav": {}, ".mp3": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".pdf": {},
}

var ignoredNames = map[string]struct{}{
	"node_modules": {}, ".git": {}, ".DS_Store": {}, "dist": {}, "build": {},
	".next": {}, ".turbo": {}, "coverage": {},
}

const templateSuffix = ".tmpl"

type RenderResult struct {
	OutputDir string
	Files     []string
	Errors    []FileError
}

type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

// Err joins every per-file error, or returns nil.
func (r RenderResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, fe := range r.Errors {
		errs = append(errs, fe)
	}
	return fmt.Errorf("render %d file(s) failed: %w", len(r.Errors), errors.Join(errs...))
}

// Renderer copies a template tree from src into dst. Text files are executed
// as text/template with <% %> delimiters so that ${{ }} and {{ }} in
// workflow and chart files pass through untouched.
type Renderer struct {
	src    billy.Filesystem
	dst    billy.Filesystem
	logger *slog.Logger
}

func NewRenderer(src, dst billy.Filesystem, logger *slog.Logger) (*Renderer, error) {
	if src == nil || dst == nil {
		return nil, errors.New("source and destination filesystems are required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Renderer{src: src, dst: dst, logger: logger.With("component", "template_renderer")}, nil
}

func (r *Renderer) Render(ctx context.Context, templatePath string, vars map[string]any, outDir string) (RenderResult, error) {
	result := RenderResult{OutputDir: outDir}
	if err := r.dst.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("create output dir: %w", err)
	}
	err := r.walk(ctx, templatePath, "", func(rel string) {
		if err := r.renderFile(templatePath, rel, vars, outDir, &result); err != nil {
			r.logger.Warn("render file failed", "file", rel, "error", err)
			result.Errors = append(result.Errors, FileError{Path: rel, Err: err})
		}
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *Renderer) walk(ctx context.Context, root, rel string, visit func(rel string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := r.src.ReadDir(r.src.Join(root, rel))
	if err != nil {
		return fmt.Errorf("read template dir %s: %w", path.Join(root, rel), err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if isIgnored(name) {
			continue
		}
		child := path.Join(rel, name)
		if entry.IsDir() {
			if err := r.walk(ctx, root, child, visit); err != nil {
				return err
			}
			continue
		}
		if rel == "" && name == ManifestName {
			continue
		}
		visit(child)
	}
	return nil
}

func (r *Renderer) renderFile(root, rel string, vars map[string]any, outDir string, result *RenderResult) error {
	raw, err := util.ReadFile(r.src, r.src.Join(root, rel))
	if err != nil {
		return err
	}
	outRel := strings.TrimSuffix(rel, templateSuffix)
	target := r.dst.Join(outDir, outRel)
	if err := r.dst.MkdirAll(path.Dir(target), 0o755); err != nil {
		return err
	}

	content := raw
	if !IsBinary(rel, raw) {
		tmpl, err := template.New(rel).Delims("<%", "%>").Option("missingkey=zero").Parse(string(raw))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, vars); err != nil {
			return err
		}
		content = buf.Bytes()
	}
	if err := util.WriteFile(r.dst, target, content, os.FileMode(0o644)); err != nil {
		return err
	}
	result.Files = append(result.Files, outRel)
	return nil
}

// IsBinary reports whether a file must be copied verbatim: a known binary
// extension, or content not detected as text.
func IsBinary(name string, content []byte) bool {
	ext := strings.ToLower(path.Ext(strings.TrimSuffix(name, templateSuffix)))
	if _, ok := binaryExtensions[ext]; ok {
		return true
	}
	if len(content) == 0 {
		return false
	}
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}

func isIgnored(name string) bool {
	_, ok := ignoredNames[name]
	return ok
}
