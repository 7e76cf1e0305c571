package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/animus-labs/launchpad/internal/platform/objectstore"
)

const renderedPrefix = "rendered"

// Uploader mirrors a rendered tree to object storage under rendered/<projectId>/.
type Uploader struct {
	store objectstore.Store
}

func NewUploader(store objectstore.Store) *Uploader {
	if store == nil {
		return nil
	}
	return &Uploader{store: store}
}

func RenderedPrefix(projectID string) string {
	return path.Join(renderedPrefix, strings.TrimSpace(projectID)) + "/"
}

// Upload stores every file of result read from fs. A nil Uploader stores nothing.
func (u *Uploader) Upload(ctx context.Context, fs billy.Filesystem, projectID string, result RenderResult) (int, error) {
	if u == nil {
		return 0, nil
	}
	if strings.TrimSpace(projectID) == "" {
		return 0, errors.New("project id is required")
	}
	prefix := RenderedPrefix(projectID)
	uploaded := 0
	for _, rel := range result.Files {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		data, err := util.ReadFile(fs, fs.Join(result.OutputDir, rel))
		if err != nil {
			return uploaded, fmt.Errorf("read rendered %s: %w", rel, err)
		}
		contentType := mimetype.Detect(data).String()
		if err := u.store.Put(ctx, prefix+rel, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", rel, err)
		}
		uploaded++
	}
	return uploaded, nil
}

// Remove deletes everything previously uploaded for projectID.
func (u *Uploader) Remove(ctx context.Context, projectID string) (int, error) {
	if u == nil {
		return 0, nil
	}
	return u.store.DeletePrefix(ctx, RenderedPrefix(projectID))
}
