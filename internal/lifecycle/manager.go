// Package lifecycle owns the run stage state machine: run creation,
// promotion, rollback, training completion, and the single-production
// invariant.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
)

var (
	// ErrArtifactNotFound means promotion was attempted before the
	// trained model artifact exists. Nothing is mutated; callers may
	// retry once training output lands.
	ErrArtifactNotFound = errors.New("model artifact not found")

	// ErrPromotionFailed means artifact activation failed mid-flight.
	// Run stages are left untouched.
	ErrPromotionFailed = errors.New("promotion failed")

	// ErrInvalidTransition is returned for stage changes the state
	// machine does not allow, such as promoting a run still in
	// training.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrPromotionConflict is returned when another promotion holds
	// the production slot. Losers fail instead of queueing so two
	// racing promotions never both reach production.
	ErrPromotionConflict = errors.New("another promotion is in progress")
)

// ArtifactActivator is the external model artifact collaborator.
type ArtifactActivator interface {
	Exists(runID string) bool
	Activate(runID string) error
}

// NewRunSpec carries the caller-supplied fields for run creation.
type NewRunSpec struct {
	Name            string
	Owner           string
	Tags            []string
	Scenario        domain.Scenario
	Hyperparameters domain.Metadata
	Metrics         domain.Metrics
}

type Manager struct {
	runs      repo.RunRepository
	ledger    repo.DeploymentRepository
	artifacts ArtifactActivator
	logger    *slog.Logger
	now       func() time.Time

	recordRollbacks bool

	// prodMu guards the production slot: demote-others plus
	// promote-target plus ledger append execute as one unit.
	prodMu sync.Mutex
}

type Option func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// RecordRollbacks makes rollback append an archived ledger entry. The
// default ledger records promotions only.
func RecordRollbacks(enabled bool) Option {
	return func(m *Manager) { m.recordRollbacks = enabled }
}

func New(logger *slog.Logger, runs repo.RunRepository, ledger repo.DeploymentRepository, artifacts ArtifactActivator, opts ...Option) (*Manager, error) {
	if runs == nil {
		return nil, errors.New("run repository is required")
	}
	if ledger == nil {
		return nil, errors.New("deployment repository is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact activator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		runs:      runs,
		ledger:    ledger,
		artifacts: artifacts,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateTrainingRun persists a new run in the training stage.
func (m *Manager) CreateTrainingRun(ctx context.Context, spec NewRunSpec) (domain.Run, error) {
	return m.createRun(ctx, spec, domain.StageTraining)
}

// CreateStagedRun persists an externally evaluated run directly in
// staging, keeping whatever metrics the caller supplied.
func (m *Manager) CreateStagedRun(ctx context.Context, spec NewRunSpec) (domain.Run, error) {
	return m.createRun(ctx, spec, domain.StageStaging)
}

func (m *Manager) createRun(ctx context.Context, spec NewRunSpec, stage domain.Stage) (domain.Run, error) {
	run := domain.Run{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(spec.Name),
		Owner:           strings.TrimSpace(spec.Owner),
		Tags:            spec.Tags,
		Scenario:        spec.Scenario,
		Hyperparameters: spec.Hyperparameters.Clone(),
		Stage:           stage,
		Metrics:         spec.Metrics,
		CreatedAt:       m.now().UTC(),
	}
	if stage == domain.StageTraining {
		// Metrics stay at defaults until the coordinator reports in.
		run.Metrics = domain.Metrics{}
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	if err := m.runs.Create(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}
	m.logger.Info("run created", "run_id", run.ID, "name", run.Name, "stage", run.Stage)
	return run, nil
}

// Promote makes the run the sole production run. The sequence is
// validate artifact, activate it, demote current production runs,
// promote the target, append a ledger entry; the production slot lock
// is held throughout, and a promotion racing an in-flight one fails
// with ErrPromotionConflict.
func (m *Manager) Promote(ctx context.Context, runID string) (domain.Run, error) {
	if !m.prodMu.TryLock() {
		return domain.Run{}, fmt.Errorf("%w: promote %s", ErrPromotionConflict, runID)
	}
	defer m.prodMu.Unlock()

	run, err := m.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.Stage == domain.StageProduction {
		// Already the production run; nothing to do, no ledger entry.
		return run, nil
	}
	if err := domain.ValidateTransition(run.Stage, domain.StageProduction); err != nil {
		return domain.Run{}, fmt.Errorf("%w: promote %s from %s", ErrInvalidTransition, runID, run.Stage)
	}

	if !m.artifacts.Exists(run.ID) {
		return domain.Run{}, fmt.Errorf("%w: run %s", ErrArtifactNotFound, runID)
	}
	if err := m.artifacts.Activate(run.ID); err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	// Demote every other production run first so the store never holds
	// two production rows.
	current, err := m.runs.List(ctx, repo.RunFilter{Stage: domain.StageProduction})
	if err != nil {
		return domain.Run{}, fmt.Errorf("list production runs: %w", err)
	}
	for _, other := range current {
		if other.ID == run.ID {
			continue
		}
		if _, err := m.runs.Update(ctx, other.ID, func(r *domain.Run) error {
			r.Stage = domain.StageStaging
			return nil
		}); err != nil {
			return domain.Run{}, fmt.Errorf("demote run %s: %w", other.ID, err)
		}
		m.logger.Info("run demoted", "run_id", other.ID, "name", other.Name)
	}

	promoted, err := m.runs.Update(ctx, run.ID, func(r *domain.Run) error {
		if err := domain.ValidateTransition(r.Stage, domain.StageProduction); err != nil {
			return err
		}
		r.Stage = domain.StageProduction
		return nil
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("promote run %s: %w", runID, err)
	}

	entry := domain.Deployment{
		ID:         uuid.NewString(),
		RunName:    promoted.Name,
		Status:     domain.DeploymentStatusProduction,
		Health:     domain.DeploymentHealthActive,
		DeployedAt: m.now().UTC(),
	}
	if err := m.ledger.Append(ctx, entry); err != nil {
		return domain.Run{}, fmt.Errorf("append deployment: %w", err)
	}
	m.logger.Info("run promoted", "run_id", promoted.ID, "name", promoted.Name, "deployment_id", entry.ID)
	return promoted, nil
}

// Rollback demotes the run to staging. Rolling back a run already in
// staging is a no-op.
func (m *Manager) Rollback(ctx context.Context, runID string) (domain.Run, error) {
	m.prodMu.Lock()
	defer m.prodMu.Unlock()

	run, err := m.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.Stage == domain.StageStaging {
		return run, nil
	}
	if run.Stage != domain.StageProduction {
		return domain.Run{}, fmt.Errorf("%w: rollback %s from %s", ErrInvalidTransition, runID, run.Stage)
	}

	demoted, err := m.runs.Update(ctx, run.ID, func(r *domain.Run) error {
		if r.Stage != domain.StageProduction {
			return nil
		}
		r.Stage = domain.StageStaging
		return nil
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("rollback run %s: %w", runID, err)
	}

	if m.recordRollbacks {
		entry := domain.Deployment{
			ID:         uuid.NewString(),
			RunName:    demoted.Name,
			Status:     domain.DeploymentStatusArchived,
			Health:     domain.DeploymentHealthInactive,
			DeployedAt: m.now().UTC(),
		}
		if err := m.ledger.Append(ctx, entry); err != nil {
			return domain.Run{}, fmt.Errorf("append rollback entry: %w", err)
		}
	}
	m.logger.Info("run rolled back", "run_id", demoted.ID, "name", demoted.Name)
	return demoted, nil
}

// CompleteTraining is called by the training coordinator when a job
// finishes: it moves the run from training to staging and records the
// evaluated metrics.
func (m *Manager) CompleteTraining(ctx context.Context, runID string, metrics domain.Metrics) (domain.Run, error) {
	updated, err := m.runs.Update(ctx, runID, func(r *domain.Run) error {
		// Production runs never move back to staging through training
		// completion; that path is Rollback's alone.
		if r.Stage != domain.StageTraining && r.Stage != domain.StageStaging {
			return fmt.Errorf("%w: complete training for %s in %s", ErrInvalidTransition, runID, r.Stage)
		}
		r.Stage = domain.StageStaging
		r.Metrics = metrics
		return nil
	})
	if err != nil {
		return domain.Run{}, err
	}
	m.logger.Info("training completed", "run_id", updated.ID, "name", updated.Name)
	return updated, nil
}

// Reset wipes runs and the ledger, then seeds a single staged example
// run so the dashboard is never empty after a reset.
func (m *Manager) Reset(ctx context.Context) (domain.Run, error) {
	m.prodMu.Lock()
	defer m.prodMu.Unlock()

	if err := m.ledger.Reset(ctx); err != nil {
		return domain.Run{}, fmt.Errorf("reset ledger: %w", err)
	}
	if err := m.runs.Reset(ctx); err != nil {
		return domain.Run{}, fmt.Errorf("reset runs: %w", err)
	}

	seed := domain.Run{
		ID:              uuid.NewString(),
		Name:            "example-run-01",
		Owner:           "system",
		Tags:            []string{"example"},
		Scenario:        domain.ScenarioClassification,
		Hyperparameters: domain.Metadata{"train_time": 10},
		Stage:           domain.StageStaging,
		Metrics:         domain.Metrics{Accuracy: 0.80},
		CreatedAt:       m.now().UTC(),
	}
	if err := m.runs.Create(ctx, seed); err != nil {
		return domain.Run{}, fmt.Errorf("seed example run: %w", err)
	}
	m.logger.Info("system reset", "seed_run_id", seed.ID)
	return seed, nil
}

// SeedDemo populates an empty store with demo runs and promotion
// history so a fresh dashboard is never blank. A store that already
// holds runs is left untouched. At most one seeded run is in
// production, matching the single-production invariant.
func (m *Manager) SeedDemo(ctx context.Context) (bool, error) {
	m.prodMu.Lock()
	defer m.prodMu.Unlock()

	existing, err := m.runs.List(ctx, repo.RunFilter{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("check store: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	now := m.now().UTC()
	runs := []domain.Run{
		{
			Name: "ResNet-50-v1", Owner: "alice",
			Tags:      []string{"vision", "classification"},
			Scenario:  domain.ScenarioImageClassification,
			Stage:     domain.StageStaging,
			Metrics:   domain.Metrics{Accuracy: 0.94},
			CreatedAt: now.Add(-10 * 24 * time.Hour),
		},
		{
			Name: "BERT-Base-Uncased", Owner: "bob",
			Tags:      []string{"nlp", "transformer"},
			Scenario:  domain.ScenarioClassification,
			Stage:     domain.StageStaging,
			Metrics:   domain.Metrics{Accuracy: 0.89},
			CreatedAt: now.Add(-5 * 24 * time.Hour),
		},
		{
			Name: "YOLOv8-Nano", Owner: "charlie",
			Tags:      []string{"vision", "detection"},
			Scenario:  domain.ScenarioImageClassification,
			Stage:     domain.StageProduction,
			Metrics:   domain.Metrics{Accuracy: 0.91},
			CreatedAt: now.Add(-2 * 24 * time.Hour),
		},
		{
			Name: "GPT-2-Large", Owner: "alice",
			Tags:      []string{"nlp", "generation"},
			Scenario:  domain.ScenarioClassification,
			Stage:     domain.StageStaging,
			Metrics:   domain.Metrics{Accuracy: 0.85},
			CreatedAt: now.Add(-12 * time.Hour),
		},
	}
	for i := range runs {
		runs[i].ID = uuid.NewString()
		if err := m.runs.Create(ctx, runs[i]); err != nil {
			return false, fmt.Errorf("seed run %s: %w", runs[i].Name, err)
		}
	}

	// YOLOv8 holds the production slot; the older ResNet promotion and
	// the BERT one are archived history.
	history := []domain.Deployment{
		{
			RunName: "BERT-Base-Uncased",
			Status:  domain.DeploymentStatusArchived, Health: domain.DeploymentHealthInactive,
			DeployedAt: now.Add(-15 * 24 * time.Hour),
		},
		{
			RunName: "ResNet-50-v1",
			Status:  domain.DeploymentStatusArchived, Health: domain.DeploymentHealthInactive,
			DeployedAt: now.Add(-8 * 24 * time.Hour),
		},
		{
			RunName: "YOLOv8-Nano",
			Status:  domain.DeploymentStatusProduction, Health: domain.DeploymentHealthActive,
			DeployedAt: now.Add(-24 * time.Hour),
		},
	}
	for i := range history {
		history[i].ID = uuid.NewString()
		if err := m.ledger.Append(ctx, history[i]); err != nil {
			return false, fmt.Errorf("seed deployment for %s: %w", history[i].RunName, err)
		}
	}

	m.logger.Info("demo data seeded", "runs", len(runs), "deployments", len(history))
	return true, nil
}
