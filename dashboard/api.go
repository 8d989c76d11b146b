package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/inference"
	"github.com/mlboard-labs/mlboard-go/internal/lifecycle"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
	"github.com/mlboard-labs/mlboard-go/internal/reporting"
	"github.com/mlboard-labs/mlboard-go/internal/training"
)

type lifecycleService interface {
	CreateTrainingRun(ctx context.Context, spec lifecycle.NewRunSpec) (domain.Run, error)
	CreateStagedRun(ctx context.Context, spec lifecycle.NewRunSpec) (domain.Run, error)
	Promote(ctx context.Context, runID string) (domain.Run, error)
	Rollback(ctx context.Context, runID string) (domain.Run, error)
	Reset(ctx context.Context) (domain.Run, error)
}

type trainingService interface {
	Start(ctx context.Context, run domain.Run) (training.Job, error)
	Job(runID string) (training.Job, error)
}

type statsService interface {
	Stats(ctx context.Context) (reporting.Stats, error)
}

type dashboardAPI struct {
	logger      *slog.Logger
	runs        repo.RunRepository
	deployments repo.DeploymentRepository
	lifecycle   lifecycleService
	training    trainingService
	stats       statsService
	predictor   inference.Predictor
}

func newDashboardAPI(
	logger *slog.Logger,
	runs repo.RunRepository,
	deployments repo.DeploymentRepository,
	lc lifecycleService,
	tr trainingService,
	stats statsService,
	predictor inference.Predictor,
) *dashboardAPI {
	return &dashboardAPI{
		logger:      logger,
		runs:        runs,
		deployments: deployments,
		lifecycle:   lc,
		training:    tr,
		stats:       stats,
		predictor:   predictor,
	}
}

func (api *dashboardAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("POST /runs/train", api.handleTrainRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/promote", api.handlePromoteRun)
	mux.HandleFunc("POST /runs/{run_id}/rollback", api.handleRollbackRun)
	mux.HandleFunc("GET /runs/{run_id}/training", api.handleTrainingStatus)

	mux.HandleFunc("GET /deployments", api.handleListDeployments)
	mux.HandleFunc("GET /deployments/run/{run_name}", api.handleListDeploymentsForRun)
	mux.HandleFunc("GET /deployments/{deployment_id}", api.handleGetDeployment)

	mux.HandleFunc("GET /stats", api.handleStats)
	mux.HandleFunc("POST /system/reset", api.handleSystemReset)
	mux.HandleFunc("POST /predict", api.handlePredict)
}

type runResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Owner           string          `json:"owner,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Scenario        string          `json:"scenario"`
	Hyperparameters domain.Metadata `json:"hyperparameters,omitempty"`
	Stage           string          `json:"stage"`
	Metrics         domain.Metrics  `json:"metrics"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toRunResponse(run domain.Run) runResponse {
	return runResponse{
		ID:              run.ID,
		Name:            run.Name,
		Owner:           run.Owner,
		Tags:            run.Tags,
		Scenario:        string(run.Scenario),
		Hyperparameters: run.Hyperparameters,
		Stage:           string(run.Stage),
		Metrics:         run.Metrics,
		CreatedAt:       run.CreatedAt,
	}
}

type deploymentResponse struct {
	ID         string    `json:"id"`
	RunName    string    `json:"run_name"`
	Status     string    `json:"status"`
	Health     string    `json:"health"`
	DeployedAt time.Time `json:"deployed_at"`
}

func toDeploymentResponse(d domain.Deployment) deploymentResponse {
	return deploymentResponse{
		ID:         d.ID,
		RunName:    d.RunName,
		Status:     string(d.Status),
		Health:     string(d.Health),
		DeployedAt: d.DeployedAt,
	}
}

type jobResponse struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toJobResponse(job training.Job) jobResponse {
	resp := jobResponse{
		ID:        job.ID,
		RunID:     job.RunID,
		Status:    string(job.Status),
		Error:     job.Error,
		StartedAt: job.StartedAt,
	}
	if !job.FinishedAt.IsZero() {
		finished := job.FinishedAt
		resp.FinishedAt = &finished
	}
	return resp
}

type createRunRequest struct {
	Name            string          `json:"name"`
	Owner           string          `json:"owner"`
	Tags            []string        `json:"tags"`
	Scenario        string          `json:"scenario"`
	Hyperparameters domain.Metadata `json:"hyperparameters"`
	Metrics         domain.Metrics  `json:"metrics"`
}

func (req createRunRequest) toSpec() (lifecycle.NewRunSpec, error) {
	scenario, err := domain.ParseScenario(req.Scenario)
	if err != nil {
		return lifecycle.NewRunSpec{}, err
	}
	return lifecycle.NewRunSpec{
		Name:            strings.TrimSpace(req.Name),
		Owner:           strings.TrimSpace(req.Owner),
		Tags:            req.Tags,
		Scenario:        scenario,
		Hyperparameters: req.Hyperparameters,
		Metrics:         req.Metrics,
	}, nil
}

func (api *dashboardAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Owner: strings.TrimSpace(r.URL.Query().Get("owner")),
		Tag:   strings.TrimSpace(r.URL.Query().Get("tag")),
	}
	if stage := strings.TrimSpace(r.URL.Query().Get("stage")); stage != "" {
		parsed, err := domain.ParseStage(stage)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_stage")
			return
		}
		filter.Stage = parsed
	}
	if limit := strings.TrimSpace(r.URL.Query().Get("limit")); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = parsed
	}

	runs, err := api.runs.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *dashboardAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *dashboardAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	spec, err := req.toSpec()
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_scenario")
		return
	}
	run, err := api.lifecycle.CreateStagedRun(r.Context(), spec)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toRunResponse(run))
}

func (api *dashboardAPI) handleTrainRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	spec, err := req.toSpec()
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_scenario")
		return
	}

	run, err := api.lifecycle.CreateTrainingRun(r.Context(), spec)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	job, err := api.training.Start(r.Context(), run)
	if err != nil {
		api.logger.Error("training start failed", "run_id", run.ID, "error", err)
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"run": toRunResponse(run),
		"job": toJobResponse(job),
	})
}

func (api *dashboardAPI) handlePromoteRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	run, err := api.lifecycle.Promote(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *dashboardAPI) handleRollbackRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	run, err := api.lifecycle.Rollback(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *dashboardAPI) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	job, err := api.training.Job(runID)
	if err != nil {
		if errors.Is(err, training.ErrJobNotFound) {
			api.writeError(w, r, http.StatusNotFound, "job_not_found")
			return
		}
		api.logger.Error("training status failed", "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (api *dashboardAPI) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	entries, err := api.deployments.ListAll(r.Context())
	if err != nil {
		api.logger.Error("list deployments failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]deploymentResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toDeploymentResponse(entry))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"deployments": out})
}

func (api *dashboardAPI) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID := strings.TrimSpace(r.PathValue("deployment_id"))
	entry, err := api.deployments.Get(r.Context(), deploymentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "deployment_not_found")
			return
		}
		api.logger.Error("get deployment failed", "deployment_id", deploymentID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toDeploymentResponse(entry))
}

func (api *dashboardAPI) handleListDeploymentsForRun(w http.ResponseWriter, r *http.Request) {
	runName := strings.TrimSpace(r.PathValue("run_name"))
	if runName == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_name_required")
		return
	}
	entries, err := api.deployments.ListForRun(r.Context(), runName)
	if err != nil {
		api.logger.Error("list deployments for run failed", "run_name", runName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]deploymentResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toDeploymentResponse(entry))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"deployments": out})
}

func (api *dashboardAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.stats.Stats(r.Context())
	if err != nil {
		api.logger.Error("stats failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, stats)
}

func (api *dashboardAPI) handleSystemReset(w http.ResponseWriter, r *http.Request) {
	seed, err := api.lifecycle.Reset(r.Context())
	if err != nil {
		api.logger.Error("system reset failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"seed_run": toRunResponse(seed)})
}

type predictRequest struct {
	Text string `json:"text"`
}

func (api *dashboardAPI) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		api.writeError(w, r, http.StatusBadRequest, "text_required")
		return
	}
	prediction, err := api.predictor.Predict(req.Text)
	if err != nil {
		if errors.Is(err, inference.ErrNoActiveModel) {
			api.writeError(w, r, http.StatusConflict, "no_active_model")
			return
		}
		api.logger.Error("predict failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, prediction)
}

// writeRunError maps lifecycle and store errors onto HTTP statuses.
func (api *dashboardAPI) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "run_not_found")
	case errors.Is(err, lifecycle.ErrArtifactNotFound):
		api.writeError(w, r, http.StatusConflict, "artifact_not_found")
	case errors.Is(err, lifecycle.ErrPromotionConflict):
		api.writeError(w, r, http.StatusConflict, "promotion_in_progress")
	case errors.Is(err, repo.ErrProductionConflict):
		api.writeError(w, r, http.StatusConflict, "production_conflict")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		api.writeError(w, r, http.StatusConflict, "invalid_transition")
	case errors.Is(err, training.ErrTrainingActive):
		api.writeError(w, r, http.StatusConflict, "training_active")
	case errors.Is(err, lifecycle.ErrPromotionFailed):
		api.logger.Error("promotion failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "promotion_failed")
	default:
		api.logger.Error("request failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *dashboardAPI) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func (api *dashboardAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *dashboardAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
