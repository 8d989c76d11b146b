package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mlboard-labs/mlboard-go/internal/artifacts"
	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/inference"
	"github.com/mlboard-labs/mlboard-go/internal/lifecycle"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
	"github.com/mlboard-labs/mlboard-go/internal/reporting"
	"github.com/mlboard-labs/mlboard-go/internal/training"
)

type memRuns struct {
	mu    sync.Mutex
	runs  map[string]domain.Run
	order []string
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[string]domain.Run{}}
}

func (m *memRuns) Create(ctx context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	return nil
}

func (m *memRuns) Get(ctx context.Context, id string) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (m *memRuns) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Run, 0, len(m.order))
	for _, id := range m.order {
		run := m.runs[id]
		if filter.Stage != "" && run.Stage != filter.Stage {
			continue
		}
		if filter.Owner != "" && run.Owner != filter.Owner {
			continue
		}
		if filter.Tag != "" && !run.HasTag(filter.Tag) {
			continue
		}
		out = append(out, run)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memRuns) Update(ctx context.Context, id string, mutate func(*domain.Run) error) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	if err := mutate(&run); err != nil {
		return domain.Run{}, err
	}
	m.runs[id] = run
	return run, nil
}

func (m *memRuns) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = map[string]domain.Run{}
	m.order = nil
	return nil
}

type memLedger struct {
	mu      sync.Mutex
	entries []domain.Deployment
}

func (m *memLedger) Append(ctx context.Context, d domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, d)
	return nil
}

func (m *memLedger) Get(ctx context.Context, id string) (domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return domain.Deployment{}, repo.ErrNotFound
}

func (m *memLedger) ListAll(ctx context.Context) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Deployment, len(m.entries))
	for i, entry := range m.entries {
		out[len(m.entries)-1-i] = entry
	}
	return out, nil
}

func (m *memLedger) ListForRun(ctx context.Context, runName string) ([]domain.Deployment, error) {
	all, _ := m.ListAll(ctx)
	out := make([]domain.Deployment, 0)
	for _, entry := range all {
		if entry.RunName == runName {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memLedger) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

// artifactRunner stands in for the trainer binary: it drops a model
// directory where the real trainer would.
type artifactRunner struct {
	modelsDir string
}

func (r *artifactRunner) Run(ctx context.Context, params training.RunParams) error {
	dir := filepath.Join(r.modelsDir, params.OutputName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "model.zip"), []byte("model"), 0o644)
}

type testEnv struct {
	api    *dashboardAPI
	mux    *http.ServeMux
	runs   *memRuns
	ledger *memLedger
	models *artifacts.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	root := t.TempDir()
	modelsDir := filepath.Join(root, "models")
	activeDir := filepath.Join(root, "active", "current")

	profile := training.DefaultProfile()
	profile.DataDir = filepath.Join(root, "data")
	if err := os.MkdirAll(profile.DataDir, 0o755); err != nil {
		t.Fatalf("mkdir data: %v", err)
	}
	if err := os.WriteFile(filepath.Join(profile.DataDir, profile.DefaultDataset), []byte("fine\t1\n"), 0o644); err != nil {
		t.Fatalf("seed dataset: %v", err)
	}

	models, err := artifacts.NewStore(modelsDir, activeDir, profile.OutputPrefix)
	if err != nil {
		t.Fatalf("artifacts.NewStore() err=%v", err)
	}

	runs := newMemRuns()
	ledger := &memLedger{}
	manager, err := lifecycle.New(logger, runs, ledger, models)
	if err != nil {
		t.Fatalf("lifecycle.New() err=%v", err)
	}
	coordinator, err := training.NewCoordinator(logger, profile, &artifactRunner{modelsDir: modelsDir}, training.SyntheticEvaluator{}, manager, modelsDir)
	if err != nil {
		t.Fatalf("training.NewCoordinator() err=%v", err)
	}
	stats, err := reporting.NewService(runs)
	if err != nil {
		t.Fatalf("reporting.NewService() err=%v", err)
	}
	predictor, err := inference.NewLexiconPredictor(models)
	if err != nil {
		t.Fatalf("inference.NewLexiconPredictor() err=%v", err)
	}

	api := newDashboardAPI(logger, runs, ledger, manager, coordinator, stats, predictor)
	mux := http.NewServeMux()
	api.register(mux)

	return &testEnv{api: api, mux: mux, runs: runs, ledger: ledger, models: models}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func createStagedRun(t *testing.T, env *testEnv, name string) runResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/runs", createRunRequest{
		Name:     name,
		Owner:    "alice",
		Scenario: "classification",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /runs status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody[runResponse](t, rec)
}

func TestCreateAndGetRun(t *testing.T) {
	env := newTestEnv(t)

	created := createStagedRun(t, env, "sentiment-v1")
	if created.Stage != "staging" || created.ID == "" {
		t.Fatalf("created=%+v", created)
	}

	rec := env.do(t, http.MethodGet, "/runs/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /runs/{id} status=%d", rec.Code)
	}
	got := decodeBody[runResponse](t, rec)
	if got.Name != "sentiment-v1" || got.Owner != "alice" {
		t.Fatalf("got=%+v", got)
	}

	if rec := env.do(t, http.MethodGet, "/runs/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run status=%d", rec.Code)
	}
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/runs", createRunRequest{Name: "x", Scenario: "alchemy"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad scenario status=%d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.mux.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", raw.Code)
	}
}

func TestListRunsFilters(t *testing.T) {
	env := newTestEnv(t)
	createStagedRun(t, env, "run-a")
	createStagedRun(t, env, "run-b")

	rec := env.do(t, http.MethodGet, "/runs?stage=staging", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /runs status=%d", rec.Code)
	}
	body := decodeBody[map[string][]runResponse](t, rec)
	if len(body["runs"]) != 2 {
		t.Fatalf("runs=%d, want 2", len(body["runs"]))
	}

	if rec := env.do(t, http.MethodGet, "/runs?stage=launched", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid stage status=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/runs?stage=production", nil); len(decodeBody[map[string][]runResponse](t, rec)["runs"]) != 0 {
		t.Fatalf("production filter should match nothing")
	}
}

func waitForJobStatus(t *testing.T, env *testEnv, runID, want string) jobResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := env.do(t, http.MethodGet, "/runs/"+runID+"/training", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET training status=%d", rec.Code)
		}
		job := decodeBody[jobResponse](t, rec)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job for %s never reached %s", runID, want)
	return jobResponse{}
}

func TestTrainPromoteRollbackScenario(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/runs/train", createRunRequest{
		Name:     "R1",
		Owner:    "alice",
		Scenario: "classification",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /runs/train status=%d body=%s", rec.Code, rec.Body.String())
	}
	accepted := decodeBody[map[string]json.RawMessage](t, rec)
	var run runResponse
	if err := json.Unmarshal(accepted["run"], &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Stage != "training" {
		t.Fatalf("stage=%s, want training", run.Stage)
	}

	waitForJobStatus(t, env, run.ID, "succeeded")

	rec = env.do(t, http.MethodGet, "/runs/"+run.ID, nil)
	staged := decodeBody[runResponse](t, rec)
	if staged.Stage != "staging" {
		t.Fatalf("stage after training=%s, want staging", staged.Stage)
	}
	if staged.Metrics.Accuracy < 0.88 || staged.Metrics.Accuracy > 0.96 {
		t.Fatalf("accuracy=%v, want within [0.88, 0.96]", staged.Metrics.Accuracy)
	}

	rec = env.do(t, http.MethodPost, "/runs/"+run.ID+"/promote", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("promote status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[runResponse](t, rec); got.Stage != "production" {
		t.Fatalf("stage after promote=%s", got.Stage)
	}

	rec = env.do(t, http.MethodGet, "/deployments", nil)
	deployments := decodeBody[map[string][]deploymentResponse](t, rec)["deployments"]
	if len(deployments) != 1 {
		t.Fatalf("deployments=%d, want 1", len(deployments))
	}
	if deployments[0].RunName != "R1" || deployments[0].Status != "production" {
		t.Fatalf("deployment=%+v", deployments[0])
	}

	rec = env.do(t, http.MethodGet, "/deployments/run/R1", nil)
	forRun := decodeBody[map[string][]deploymentResponse](t, rec)["deployments"]
	if len(forRun) != 1 {
		t.Fatalf("deployments for R1=%d, want 1", len(forRun))
	}

	rec = env.do(t, http.MethodPost, "/predict", predictRequest{Text: "what a great wonderful movie"})
	if rec.Code != http.StatusOK {
		t.Fatalf("predict status=%d body=%s", rec.Code, rec.Body.String())
	}
	prediction := decodeBody[inference.Prediction](t, rec)
	if prediction.Label != "positive" {
		t.Fatalf("prediction=%+v", prediction)
	}

	rec = env.do(t, http.MethodPost, "/runs/"+run.ID+"/rollback", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[runResponse](t, rec); got.Stage != "staging" {
		t.Fatalf("stage after rollback=%s", got.Stage)
	}

	// Rollbacks do not touch the ledger by default.
	rec = env.do(t, http.MethodGet, "/deployments", nil)
	if got := decodeBody[map[string][]deploymentResponse](t, rec)["deployments"]; len(got) != 1 {
		t.Fatalf("deployments after rollback=%d, want 1", len(got))
	}
}

func TestPromoteWithoutArtifact(t *testing.T) {
	env := newTestEnv(t)
	run := createStagedRun(t, env, "no-artifact")

	rec := env.do(t, http.MethodPost, "/runs/"+run.ID+"/promote", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("promote status=%d, want 409", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["error"] != "artifact_not_found" {
		t.Fatalf("error=%v", body["error"])
	}
}

func TestPromoteUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/runs/missing/promote", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

// promoteConflictService fails every promotion the way the store does when
// another run already holds the production slot.
type promoteConflictService struct{ lifecycleService }

func (promoteConflictService) Promote(ctx context.Context, runID string) (domain.Run, error) {
	return domain.Run{}, fmt.Errorf("promote run %s: %w", runID, repo.ErrProductionConflict)
}

func TestPromoteProductionConflict(t *testing.T) {
	env := newTestEnv(t)
	run := createStagedRun(t, env, "racer")
	env.api.lifecycle = promoteConflictService{env.api.lifecycle}

	rec := env.do(t, http.MethodPost, "/runs/"+run.ID+"/promote", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("promote status=%d, want 409", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["error"] != "production_conflict" {
		t.Fatalf("error=%v, want production_conflict", body["error"])
	}
}

func TestGetDeployment(t *testing.T) {
	env := newTestEnv(t)
	run := createStagedRun(t, env, "deployed")

	dir := env.models.Path(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir artifact: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.zip"), []byte("model"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if rec := env.do(t, http.MethodPost, "/runs/"+run.ID+"/promote", nil); rec.Code != http.StatusOK {
		t.Fatalf("promote status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/deployments", nil)
	deployments := decodeBody[map[string][]deploymentResponse](t, rec)["deployments"]
	if len(deployments) != 1 {
		t.Fatalf("deployments=%d, want 1", len(deployments))
	}

	rec = env.do(t, http.MethodGet, "/deployments/"+deployments[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get deployment status=%d body=%s", rec.Code, rec.Body.String())
	}
	got := decodeBody[deploymentResponse](t, rec)
	if got.ID != deployments[0].ID || got.RunName != "deployed" || got.Status != "production" {
		t.Fatalf("deployment=%+v", got)
	}

	rec = env.do(t, http.MethodGet, "/deployments/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown deployment status=%d, want 404", rec.Code)
	}
	if body := decodeBody[map[string]any](t, rec); body["error"] != "deployment_not_found" {
		t.Fatalf("error=%v, want deployment_not_found", body["error"])
	}
}

func TestTrainingStatusUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/runs/missing/training", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestPredictWithoutActiveModel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/predict", predictRequest{Text: "great"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/predict", predictRequest{Text: "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty text status=%d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status=%d", rec.Code)
	}
	empty := decodeBody[reporting.Stats](t, rec)
	if empty.TotalRuns != 0 || empty.LastRunName != "N/A" {
		t.Fatalf("empty stats=%+v", empty)
	}

	createStagedRun(t, env, "run-a")
	createStagedRun(t, env, "run-b")
	rec = env.do(t, http.MethodGet, "/stats", nil)
	stats := decodeBody[reporting.Stats](t, rec)
	if stats.TotalRuns != 2 || stats.LastRunName != "run-b" {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestSystemReset(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		createStagedRun(t, env, fmt.Sprintf("run-%d", i))
	}

	rec := env.do(t, http.MethodPost, "/system/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status=%d", rec.Code)
	}
	body := decodeBody[map[string]runResponse](t, rec)
	seed := body["seed_run"]
	if seed.Name != "example-run-01" || seed.Stage != "staging" {
		t.Fatalf("seed=%+v", seed)
	}
	if seed.Metrics.Accuracy != 0.80 {
		t.Fatalf("seed accuracy=%v", seed.Metrics.Accuracy)
	}

	rec = env.do(t, http.MethodGet, "/runs", nil)
	runs := decodeBody[map[string][]runResponse](t, rec)["runs"]
	if len(runs) != 1 {
		t.Fatalf("runs after reset=%d, want 1", len(runs))
	}
}
