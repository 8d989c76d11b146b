package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
)

const deploymentColumns = `deployment_id, run_name, status, health, deployed_at`

// DeploymentLedger is the append-only promotion history.
type DeploymentLedger struct {
	db DB
}

func NewDeploymentLedger(db DB) *DeploymentLedger {
	if db == nil {
		return nil
	}
	return &DeploymentLedger{db: db}
}

func (l *DeploymentLedger) Append(ctx context.Context, d domain.Deployment) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("deployment ledger not initialized")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := l.db.ExecContext(
		ctx,
		`INSERT INTO deployments (`+deploymentColumns+`) VALUES ($1,$2,$3,$4,$5)`,
		strings.TrimSpace(d.ID),
		strings.TrimSpace(d.RunName),
		string(d.Status),
		string(d.Health),
		normalizeTime(d.DeployedAt),
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (l *DeploymentLedger) Get(ctx context.Context, id string) (domain.Deployment, error) {
	if l == nil || l.db == nil {
		return domain.Deployment{}, fmt.Errorf("deployment ledger not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Deployment{}, fmt.Errorf("deployment id is required")
	}
	row := l.db.QueryRowContext(
		ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE deployment_id = $1`,
		id,
	)
	var d domain.Deployment
	var status string
	var health string
	if err := row.Scan(&d.ID, &d.RunName, &status, &health, &d.DeployedAt); err != nil {
		return domain.Deployment{}, handleNotFound(err)
	}
	d.Status = domain.DeploymentStatus(status)
	d.Health = domain.DeploymentHealth(health)
	d.DeployedAt = d.DeployedAt.UTC()
	return d, nil
}

func (l *DeploymentLedger) ListAll(ctx context.Context) ([]domain.Deployment, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("deployment ledger not initialized")
	}
	return l.list(ctx, `SELECT `+deploymentColumns+` FROM deployments ORDER BY deployed_at DESC`)
}

func (l *DeploymentLedger) ListForRun(ctx context.Context, runName string) ([]domain.Deployment, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("deployment ledger not initialized")
	}
	runName = strings.TrimSpace(runName)
	if runName == "" {
		return nil, fmt.Errorf("run name is required")
	}
	return l.list(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE run_name = $1 ORDER BY deployed_at DESC`, runName)
}

func (l *DeploymentLedger) Reset(ctx context.Context) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("deployment ledger not initialized")
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM deployments`); err != nil {
		return fmt.Errorf("reset deployments: %w", err)
	}
	return nil
}

func (l *DeploymentLedger) list(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		var status string
		var health string
		if err := rows.Scan(&d.ID, &d.RunName, &status, &health, &d.DeployedAt); err != nil {
			return nil, handleNotFound(err)
		}
		d.Status = domain.DeploymentStatus(status)
		d.Health = domain.DeploymentHealth(health)
		d.DeployedAt = d.DeployedAt.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return out, nil
}
