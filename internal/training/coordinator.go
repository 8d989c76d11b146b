package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mlboard-labs/mlboard-go/internal/artifacts"
	"github.com/mlboard-labs/mlboard-go/internal/domain"
)

var (
	// ErrTrainingActive means a training job for the run is already
	// pending or running. Duplicate starts are rejected rather than
	// coalesced.
	ErrTrainingActive = errors.New("training already active for run")

	// ErrJobNotFound means no training job was ever started for the
	// run.
	ErrJobNotFound = errors.New("training job not found")
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// Job is a point-in-time snapshot of one background training job.
type Job struct {
	ID         string
	RunID      string
	Status     JobStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StateSink receives the run's stage transition once a job finishes.
type StateSink interface {
	CompleteTraining(ctx context.Context, runID string, metrics domain.Metrics) (domain.Run, error)
}

// Archiver uploads trainer output to long-term storage. Optional;
// archive failures never fail the job.
type Archiver interface {
	ArchiveDir(ctx context.Context, runID, dir string) error
}

// Coordinator launches background training jobs and tracks one job
// per run.
type Coordinator struct {
	profile   Profile
	runner    Runner
	evaluator Evaluator
	sink      StateSink
	archiver  Archiver
	modelsDir string
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

type CoordinatorOption func(*Coordinator)

// WithArchiver uploads each job's model artifact after training.
func WithArchiver(a Archiver) CoordinatorOption {
	return func(c *Coordinator) { c.archiver = a }
}

func NewCoordinator(logger *slog.Logger, profile Profile, runner Runner, evaluator Evaluator, sink StateSink, modelsDir string, opts ...CoordinatorOption) (*Coordinator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("state sink is required")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		profile:   profile,
		runner:    runner,
		evaluator: evaluator,
		sink:      sink,
		modelsDir: modelsDir,
		logger:    logger,
		jobs:      map[string]*Job{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start registers a training job for the run and returns immediately.
// The job itself executes in the background; callers poll Job for its
// outcome.
func (c *Coordinator) Start(ctx context.Context, run domain.Run) (Job, error) {
	if run.Stage != domain.StageTraining {
		return Job{}, fmt.Errorf("run %s is in %s, only training runs accept jobs", run.ID, run.Stage)
	}

	c.mu.Lock()
	if existing, ok := c.jobs[run.ID]; ok && existing.Status.Active() {
		c.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrTrainingActive, run.ID)
	}
	job := &Job{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
	}
	c.jobs[run.ID] = job
	c.mu.Unlock()

	// The triggering request may finish long before the trainer does.
	bgCtx := context.WithoutCancel(ctx)
	go c.execute(bgCtx, run, job.ID)

	return *job, nil
}

// Job reports the latest job snapshot for the run.
func (c *Coordinator) Job(runID string) (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[runID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, runID)
	}
	return *job, nil
}

func (c *Coordinator) execute(ctx context.Context, run domain.Run, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("training job panicked", "run_id", run.ID, "panic", fmt.Sprint(r))
			c.finishJob(run.ID, jobID, fmt.Errorf("panic: %v", r))
		}
	}()

	c.setStatus(run.ID, jobID, JobRunning)
	c.logger.Info("training started", "run_id", run.ID, "name", run.Name, "scenario", string(run.Scenario))

	datasetPath := c.resolveDataset(run)
	poisonRate := run.Hyperparameters.Float("poison_rate", 0)
	if poisonRate > 0 {
		poisoned, err := PoisonDataset(datasetPath, c.profile.LabelCol, c.profile.HasHeader, poisonRate, runSeed(run.ID))
		if err != nil {
			c.logger.Warn("label poisoning failed, training on clean data", "run_id", run.ID, "error", err)
		} else {
			defer os.Remove(poisoned)
			datasetPath = poisoned
		}
	}

	trainTime := run.Hyperparameters.Int("train_time", c.profile.DefaultTrainTime)
	if trainTime <= 0 {
		trainTime = c.profile.DefaultTrainTime
	}
	outputName := artifacts.OutputName(c.profile.OutputPrefix, run.ID)

	trainerErr := c.runner.Run(ctx, RunParams{
		Task:        run.Scenario.TrainerTask(),
		DatasetPath: datasetPath,
		LabelCol:    c.profile.LabelCol,
		HasHeader:   c.profile.HasHeader,
		OutputName:  outputName,
		TrainTime:   trainTime,
	})
	if trainerErr != nil {
		c.logger.Error("trainer failed", "run_id", run.ID, "error", trainerErr)
	}

	metrics, err := c.evaluator.Evaluate(run, Result{PoisonRate: poisonRate, TrainerErr: trainerErr})
	if err != nil {
		c.logger.Error("metric evaluation failed", "run_id", run.ID, "error", err)
		metrics = domain.Metrics{}
	}

	if _, err := c.sink.CompleteTraining(ctx, run.ID, metrics); err != nil {
		c.logger.Error("training completion write failed", "run_id", run.ID, "error", err)
		c.finishJob(run.ID, jobID, fmt.Errorf("persist completion: %w", err))
		return
	}

	if trainerErr == nil && c.archiver != nil && c.modelsDir != "" {
		artifactDir := filepath.Join(c.modelsDir, outputName)
		if err := c.archiver.ArchiveDir(ctx, run.ID, artifactDir); err != nil {
			c.logger.Warn("artifact archive failed", "run_id", run.ID, "error", err)
		}
	}

	c.finishJob(run.ID, jobID, trainerErr)
}

// resolveDataset maps the run's dataset hyperparameter to a file,
// falling back to the profile default when the reference is missing.
func (c *Coordinator) resolveDataset(run domain.Run) string {
	name := run.Hyperparameters.String("dataset", c.profile.DefaultDataset)
	path := filepath.Join(c.profile.DataDir, name)
	if _, err := os.Stat(path); err != nil {
		fallback := filepath.Join(c.profile.DataDir, c.profile.DefaultDataset)
		if path != fallback {
			c.logger.Warn("dataset not found, using default", "run_id", run.ID, "dataset", name)
			return fallback
		}
	}
	return path
}

func (c *Coordinator) setStatus(runID, jobID string, status JobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[runID]
	if !ok || job.ID != jobID {
		return
	}
	job.Status = status
}

func (c *Coordinator) finishJob(runID, jobID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[runID]
	if !ok || job.ID != jobID {
		return
	}
	job.FinishedAt = time.Now().UTC()
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}
	job.Status = JobSucceeded
}
