package reporting

import (
	"context"
	"errors"
	"testing"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
)

type fakeRunLister struct {
	runs []domain.Run
	err  error
}

func (f *fakeRunLister) Create(ctx context.Context, run domain.Run) error { return nil }

func (f *fakeRunLister) Get(ctx context.Context, id string) (domain.Run, error) {
	return domain.Run{}, repo.ErrNotFound
}

func (f *fakeRunLister) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

func (f *fakeRunLister) Update(ctx context.Context, id string, mutate func(*domain.Run) error) (domain.Run, error) {
	return domain.Run{}, repo.ErrNotFound
}

func (f *fakeRunLister) Reset(ctx context.Context) error { return nil }

func TestStatsEmptyStore(t *testing.T) {
	svc, err := NewService(&fakeRunLister{})
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() err=%v", err)
	}
	want := Stats{TotalRuns: 0, ActiveProductionCount: 0, LastRunName: "N/A", AverageAccuracy: 0}
	if stats != want {
		t.Fatalf("stats=%+v, want %+v", stats, want)
	}
}

func TestStatsAggregates(t *testing.T) {
	svc, _ := NewService(&fakeRunLister{runs: []domain.Run{
		{Name: "first", Stage: domain.StageStaging, Metrics: domain.Metrics{Accuracy: 0.80}},
		{Name: "second", Stage: domain.StageProduction, Metrics: domain.Metrics{Accuracy: 0.90}},
		{Name: "third", Stage: domain.StageTraining},
	}})

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() err=%v", err)
	}
	if stats.TotalRuns != 3 {
		t.Fatalf("total=%d", stats.TotalRuns)
	}
	if stats.ActiveProductionCount != 1 {
		t.Fatalf("production count=%d", stats.ActiveProductionCount)
	}
	if stats.LastRunName != "third" {
		t.Fatalf("last run=%q", stats.LastRunName)
	}
	if diff := stats.AverageAccuracy - (0.80+0.90)/3; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("avg accuracy=%v", stats.AverageAccuracy)
	}
}

func TestStatsStoreError(t *testing.T) {
	svc, _ := NewService(&fakeRunLister{err: errors.New("db down")})
	if _, err := svc.Stats(context.Background()); err == nil {
		t.Fatalf("Stats() swallowed the store error")
	}
}
