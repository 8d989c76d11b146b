// Package repo defines the persistence contracts for runs and the
// deployment ledger.
package repo

import (
	"context"
	"errors"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrProductionConflict is returned when a write would leave more than
// one run in the production stage.
var ErrProductionConflict = errors.New("production slot already occupied")

type RunFilter struct {
	Stage domain.Stage
	Owner string
	Tag   string
	Limit int
}

// RunRepository manages run records. Update is an atomic
// read-modify-write serialized per run id: concurrent updates to the
// same run never lose writes.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, id string, mutate func(*domain.Run) error) (domain.Run, error)
	Reset(ctx context.Context) error
}

// DeploymentRepository is the append-only promotion ledger. Entries are
// never mutated or removed outside a full-system reset.
type DeploymentRepository interface {
	Append(ctx context.Context, d domain.Deployment) error
	Get(ctx context.Context, id string) (domain.Deployment, error)
	ListAll(ctx context.Context) ([]domain.Deployment, error)
	ListForRun(ctx context.Context, runName string) ([]domain.Deployment, error)
	Reset(ctx context.Context) error
}
