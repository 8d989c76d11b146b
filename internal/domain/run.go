package domain

import (
	"errors"
	"strings"
	"time"
)

// Stage represents a run's position in the experiment lifecycle.
type Stage string

const (
	StageTraining   Stage = "training"
	StageStaging    Stage = "staging"
	StageProduction Stage = "production"
)

func (s Stage) Valid() bool {
	switch s {
	case StageTraining, StageStaging, StageProduction:
		return true
	default:
		return false
	}
}

// ParseStage normalizes a stage string.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errors.New("invalid stage")
	}
	return s, nil
}

// Scenario selects the trainer task family and the metric set that is
// valid for a run. Fixed at creation.
type Scenario string

const (
	ScenarioClassification      Scenario = "classification"
	ScenarioImageClassification Scenario = "image-classification"
	ScenarioRegression          Scenario = "regression"
	ScenarioForecasting         Scenario = "forecasting"
	ScenarioRecommendation      Scenario = "recommendation"
)

func (s Scenario) Valid() bool {
	switch s {
	case ScenarioClassification, ScenarioImageClassification, ScenarioRegression,
		ScenarioForecasting, ScenarioRecommendation:
		return true
	default:
		return false
	}
}

func ParseScenario(raw string) (Scenario, error) {
	s := Scenario(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errors.New("invalid scenario")
	}
	return s, nil
}

// ClassificationScenario reports whether the scenario belongs to the
// classification metric family. Regression and forecasting runs carry
// regression metrics instead.
func (s Scenario) ClassificationScenario() bool {
	switch s {
	case ScenarioRegression, ScenarioForecasting:
		return false
	default:
		return true
	}
}

// Metrics holds the performance numbers populated once training
// completes. Classification-family and regression-family fields are
// mutually exclusive by scenario; all fields are zero before training.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	AUC       float64 `json:"auc"`
	F1Score   float64 `json:"f1_score"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	LogLoss   float64 `json:"log_loss"`

	RSquared float64 `json:"r_squared"`
	MAE      float64 `json:"mae"`
	MSE      float64 `json:"mse"`
	RMSE     float64 `json:"rmse"`
}

// Zero reports whether no metric has been populated yet.
func (m Metrics) Zero() bool {
	return m == Metrics{}
}

// Run is one experiment/training attempt. Name, owner, tags and
// scenario are immutable after creation; stage and metrics are mutated
// by the lifecycle manager and the training coordinator.
type Run struct {
	ID              string
	Name            string
	Owner           string
	Tags            []string
	Scenario        Scenario
	Hyperparameters Metadata
	Stage           Stage
	Metrics         Metrics
	CreatedAt       time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("run name is required")
	}
	if !r.Scenario.Valid() {
		return errors.New("invalid scenario")
	}
	if !r.Stage.Valid() {
		return errors.New("invalid stage")
	}
	return nil
}

// HasTag reports whether the run carries the given tag.
func (r Run) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
