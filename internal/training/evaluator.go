package training

import (
	"math"
	"math/rand"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
)

// Result summarizes a finished trainer invocation for metric
// extraction.
type Result struct {
	PoisonRate float64
	TrainerErr error
}

// Evaluator produces a run's metrics from a finished training job.
// The synthetic implementation stands in until a real
// metrics-extraction step parses trainer output.
type Evaluator interface {
	Evaluate(run domain.Run, result Result) (domain.Metrics, error)
}

// SyntheticEvaluator fabricates plausible metrics, seeded per run so
// repeated evaluations of the same run agree. Label poisoning degrades
// goodness metrics multiplicatively and inflates badness metrics by
// the same factor.
type SyntheticEvaluator struct{}

func (SyntheticEvaluator) Evaluate(run domain.Run, result Result) (domain.Metrics, error) {
	if result.TrainerErr != nil {
		return domain.Metrics{}, nil
	}

	rng := rand.New(rand.NewSource(runSeed(run.ID)))
	degrade := 1 - result.PoisonRate*0.8
	if degrade < 0 {
		degrade = 0
	}

	if run.Scenario.ClassificationScenario() {
		accuracy := (0.90 + rng.Float64()*0.05) * degrade
		return domain.Metrics{
			Accuracy:  accuracy,
			AUC:       clamp01(accuracy + 0.02 + rng.Float64()*0.02),
			F1Score:   clamp01(accuracy - 0.01 - rng.Float64()*0.02),
			Precision: clamp01(accuracy - rng.Float64()*0.03),
			Recall:    clamp01(accuracy - rng.Float64()*0.03),
			LogLoss:   inflate(0.15+rng.Float64()*0.10, degrade),
		}, nil
	}

	rsq := (0.85 + rng.Float64()*0.10) * degrade
	mae := inflate(0.05+rng.Float64()*0.05, degrade)
	mse := inflate(0.01+rng.Float64()*0.02, degrade)
	return domain.Metrics{
		RSquared: clamp01(rsq),
		MAE:      mae,
		MSE:      mse,
		RMSE:     math.Sqrt(mse),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// inflate grows a badness metric as the degradation factor shrinks.
func inflate(v, degrade float64) float64 {
	if degrade <= 0 {
		// Full poisoning; the model is no better than noise.
		return v * 10
	}
	return v / degrade
}
