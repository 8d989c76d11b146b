// Package reporting is the read-side aggregation over the run store.
package reporting

import (
	"context"
	"fmt"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
)

// Stats is the dashboard summary.
type Stats struct {
	TotalRuns             int     `json:"total_runs"`
	ActiveProductionCount int     `json:"active_production_count"`
	LastRunName           string  `json:"last_run_name"`
	AverageAccuracy       float64 `json:"average_accuracy"`
}

type Service struct {
	runs repo.RunRepository
}

func NewService(runs repo.RunRepository) (*Service, error) {
	if runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	return &Service{runs: runs}, nil
}

// Stats aggregates over all runs. An empty store yields zeroes, with
// "N/A" standing in for the last run name.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	runs, err := s.runs.List(ctx, repo.RunFilter{})
	if err != nil {
		return Stats{}, fmt.Errorf("list runs: %w", err)
	}

	stats := Stats{TotalRuns: len(runs), LastRunName: "N/A"}
	if len(runs) == 0 {
		return stats, nil
	}

	var accuracySum float64
	for _, run := range runs {
		if run.Stage == domain.StageProduction {
			stats.ActiveProductionCount++
		}
		accuracySum += run.Metrics.Accuracy
	}
	// List returns runs oldest first.
	stats.LastRunName = runs[len(runs)-1].Name
	stats.AverageAccuracy = accuracySum / float64(len(runs))
	return stats, nil
}
