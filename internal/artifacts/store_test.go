package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlboard-labs/mlboard-go/internal/platform/objectstore"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(filepath.Join(root, "models"), filepath.Join(root, "active", "model"), "SentimentModel")
	if err != nil {
		t.Fatalf("NewStore() err=%v", err)
	}
	return store, root
}

func writeArtifact(t *testing.T, store *Store, runID string, files map[string]string) {
	t.Helper()
	dir := store.Path(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir artifact: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write artifact file: %v", err)
		}
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName("SentimentModel", "abc"); got != "SentimentModel_Runabc" {
		t.Fatalf("OutputName()=%q", got)
	}
}

func TestExists(t *testing.T) {
	store, _ := newTestStore(t)
	if store.Exists("run-1") {
		t.Fatalf("Exists() before training")
	}
	writeArtifact(t, store, "run-1", map[string]string{"model.zip": "weights"})
	if !store.Exists("run-1") {
		t.Fatalf("Exists() after training")
	}
}

func TestActivate(t *testing.T) {
	store, _ := newTestStore(t)
	writeArtifact(t, store, "run-1", map[string]string{"model.zip": "v1"})

	if err := store.Activate("run-1"); err != nil {
		t.Fatalf("Activate() err=%v", err)
	}
	if !store.ActiveExists() {
		t.Fatalf("expected active artifact")
	}
	got, err := os.ReadFile(filepath.Join(store.ActivePath(), "model.zip"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("active model.zip=%q err=%v", got, err)
	}

	// Activating a second run replaces the artifact completely.
	writeArtifact(t, store, "run-2", map[string]string{"model.zip": "v2", "extra.txt": "x"})
	if err := store.Activate("run-2"); err != nil {
		t.Fatalf("Activate(run-2) err=%v", err)
	}
	got, err = os.ReadFile(filepath.Join(store.ActivePath(), "model.zip"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("active model.zip after swap=%q err=%v", got, err)
	}
	if _, err := os.Stat(store.ActivePath() + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp dir left behind")
	}
}

func TestActivateMissingArtifact(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Activate("run-unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Activate()=%v, want ErrNotFound", err)
	}
	if store.ActiveExists() {
		t.Fatalf("failed activation must not create an active artifact")
	}
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = data
	return nil
}

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	return nil, objectstore.ObjectInfo{}, errors.New("not implemented")
}

func (f *fakeObjectStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	return objectstore.ObjectInfo{}, errors.New("not implemented")
}

func (f *fakeObjectStore) Delete(ctx context.Context, bucket, key string) error {
	return nil
}

func TestArchiveDir(t *testing.T) {
	store, _ := newTestStore(t)
	writeArtifact(t, store, "run-1", map[string]string{"model.zip": "weights", "notes.txt": "n"})

	objStore := &fakeObjectStore{}
	archiver, err := NewArchiver(objStore, "models")
	if err != nil {
		t.Fatalf("NewArchiver() err=%v", err)
	}
	if err := archiver.ArchiveDir(context.Background(), "run-1", store.Path("run-1")); err != nil {
		t.Fatalf("ArchiveDir() err=%v", err)
	}
	if string(objStore.objects["models/models/run-1/model.zip"]) != "weights" {
		t.Fatalf("archived objects=%v", objStore.objects)
	}
	if len(objStore.objects) != 2 {
		t.Fatalf("expected 2 archived objects, got %d", len(objStore.objects))
	}
}
