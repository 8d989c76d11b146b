package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
)

const runColumns = `run_id, name, owner, tags, scenario, hyperparameters, stage, metrics, created_at`

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	tagsJSON, err := encodeTags(run.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	paramsJSON, err := encodeMetadata(run.Hyperparameters)
	if err != nil {
		return fmt.Errorf("encode hyperparameters: %w", err)
	}
	metricsJSON, err := encodeRunMetrics(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.Name),
		strings.TrimSpace(run.Owner),
		tagsJSON,
		string(run.Scenario),
		paramsJSON,
		string(run.Stage),
		metricsJSON,
		normalizeTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", handleConflict(err))
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1`,
		id,
	)
	return scanRun(row)
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		clauses = append(clauses, fmt.Sprintf("stage = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Owner) != "" {
		args = append(args, strings.TrimSpace(filter.Owner))
		clauses = append(clauses, fmt.Sprintf("owner = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Tag) != "" {
		args = append(args, strings.TrimSpace(filter.Tag))
		clauses = append(clauses, fmt.Sprintf("tags ? $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Update applies mutate to the run inside a transaction, holding a row
// lock so concurrent updates to the same run serialize.
func (s *RunStore) Update(ctx context.Context, id string, mutate func(*domain.Run) error) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1 FOR UPDATE`,
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, err
	}

	if err := mutate(&run); err != nil {
		return domain.Run{}, err
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}

	metricsJSON, err := encodeRunMetrics(run.Metrics)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode metrics: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE runs SET stage = $1, metrics = $2 WHERE run_id = $3`,
		string(run.Stage),
		metricsJSON,
		id,
	); err != nil {
		return domain.Run{}, fmt.Errorf("update run: %w", handleConflict(err))
	}

	if err := tx.Commit(); err != nil {
		return domain.Run{}, fmt.Errorf("commit: %w", handleConflict(err))
	}
	return run, nil
}

func (s *RunStore) Reset(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("reset runs: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var tagsJSON []byte
	var paramsJSON []byte
	var metricsJSON []byte
	var scenario string
	var stage string
	if err := row.Scan(&run.ID, &run.Name, &run.Owner, &tagsJSON, &scenario, &paramsJSON, &stage, &metricsJSON, &run.CreatedAt); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	run.Scenario = domain.Scenario(scenario)
	run.Stage = domain.Stage(stage)
	run.CreatedAt = run.CreatedAt.UTC()

	tags, err := decodeTags(tagsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode tags: %w", err)
	}
	run.Tags = tags

	params, err := decodeMetadata(paramsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode hyperparameters: %w", err)
	}
	run.Hyperparameters = params

	if err := decodeRunMetrics(metricsJSON, &run.Metrics); err != nil {
		return domain.Run{}, fmt.Errorf("decode metrics: %w", err)
	}
	return run, nil
}

func encodeRunMetrics(m domain.Metrics) ([]byte, error) {
	return json.Marshal(m)
}

func decodeRunMetrics(raw []byte, dst *domain.Metrics) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
