package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlboard-labs/mlboard-go/internal/platform/objectstore"
)

// Archiver copies trainer output into object storage so model artifacts
// survive local disk cleanup.
type Archiver struct {
	store  objectstore.Store
	bucket string
}

func NewArchiver(store objectstore.Store, bucket string) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{store: store, bucket: bucket}, nil
}

// ArchiveDir uploads every file under dir to models/<runID>/<relative
// path> in the configured bucket.
func (a *Archiver) ArchiveDir(ctx context.Context, runID, dir string) error {
	if a == nil || a.store == nil {
		return errors.New("archiver not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}

	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("models/%s/%s", runID, filepath.ToSlash(rel))
		if err := a.store.Put(ctx, a.bucket, key, f, info.Size(), "application/octet-stream"); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		return nil
	})
}
