// Package artifacts manages trained model artifacts on disk: locating
// trainer output per run and activating it for serving.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no trained artifact exists for a run.
var ErrNotFound = errors.New("artifact not found")

// OutputName derives the trainer output directory name for a run.
func OutputName(prefix, runID string) string {
	return fmt.Sprintf("%s_Run%s", prefix, runID)
}

// Store resolves per-run trainer output directories and swaps the
// active serving artifact.
type Store struct {
	modelsDir string
	activeDir string
	prefix    string
}

func NewStore(modelsDir, activeDir, prefix string) (*Store, error) {
	modelsDir = strings.TrimSpace(modelsDir)
	if modelsDir == "" {
		return nil, errors.New("models dir is required")
	}
	activeDir = strings.TrimSpace(activeDir)
	if activeDir == "" {
		return nil, errors.New("active dir is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("output prefix is required")
	}
	return &Store{modelsDir: modelsDir, activeDir: activeDir, prefix: prefix}, nil
}

// Path returns the trainer output directory for a run. The directory
// may not exist yet.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.modelsDir, OutputName(s.prefix, runID))
}

// ActivePath returns the serving location consumed by the inference
// component.
func (s *Store) ActivePath() string {
	return s.activeDir
}

func (s *Store) Exists(runID string) bool {
	info, err := os.Stat(s.Path(runID))
	return err == nil && info.IsDir()
}

func (s *Store) ActiveExists() bool {
	info, err := os.Stat(s.activeDir)
	return err == nil && info.IsDir()
}

// Activate copies the run's artifact into the active serving location.
// The copy lands in a temporary sibling directory first and is renamed
// into place, so the serving component never observes a partial copy.
func (s *Store) Activate(runID string) error {
	src := s.Path(runID)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}

	if err := os.MkdirAll(filepath.Dir(s.activeDir), 0o755); err != nil {
		return fmt.Errorf("prepare active dir: %w", err)
	}

	tmp := s.activeDir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clear temp dir: %w", err)
	}
	if err := copyTree(src, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("copy artifact: %w", err)
	}

	old := s.activeDir + ".old"
	if err := os.RemoveAll(old); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("clear previous artifact: %w", err)
	}
	if _, err := os.Stat(s.activeDir); err == nil {
		if err := os.Rename(s.activeDir, old); err != nil {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("retire active artifact: %w", err)
		}
	}
	if err := os.Rename(tmp, s.activeDir); err != nil {
		// Best effort restore of the retired artifact.
		_ = os.Rename(old, s.activeDir)
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("activate artifact: %w", err)
	}
	_ = os.RemoveAll(old)
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
