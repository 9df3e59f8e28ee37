package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
)

// RunRepository handles run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , automation_id
  , revision
  , status
  , trigger_type
  , payload
  , resume_at
  , current_node_id
  , execution_log
  , node_results
  , retry_of_run_id
  , error
  , started_at
  , completed_at
  , duration_ms
  , created_at
  , updated_at
`

// Save upserts the run with its full execution log.
func (r *RunRepository) Save(ctx context.Context, run *models.AutomationRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	payload, err := json.Marshal(run.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	executionLog, err := json.Marshal(run.ExecutionLog)
	if err != nil {
		return fmt.Errorf("failed to marshal execution log: %w", err)
	}

	nodeResults, err := json.Marshal(run.NodeResults)
	if err != nil {
		return fmt.Errorf("failed to marshal node results: %w", err)
	}

	query := `
		INSERT INTO automation_runs (
			id, automation_id, revision, status, trigger_type, payload,
			resume_at, current_node_id, execution_log, node_results,
			retry_of_run_id, error, started_at, completed_at, duration_ms,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , resume_at = EXCLUDED.resume_at
		  , current_node_id = EXCLUDED.current_node_id
		  , execution_log = EXCLUDED.execution_log
		  , node_results = EXCLUDED.node_results
		  , error = EXCLUDED.error
		  , started_at = EXCLUDED.started_at
		  , completed_at = EXCLUDED.completed_at
		  , duration_ms = EXCLUDED.duration_ms
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.DefinitionID,
		run.Revision,
		run.Status,
		run.TriggerType,
		payload,
		run.ResumeAt,
		nullString(run.CurrentNodeID),
		executionLog,
		nodeResults,
		nullString(run.RetryOfRunID),
		nullString(run.Error),
		nullTime(run.StartedAt),
		run.CompletedAt,
		run.DurationMs,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// SaveIfStatus writes the run only if the stored status is still one of the
// expected values. The WHERE clause makes the compare-and-write atomic, so a
// stale in-memory copy can never overwrite a concurrent status transition.
func (r *RunRepository) SaveIfStatus(ctx context.Context, run *models.AutomationRun, expected ...models.RunStatus) (bool, error) {
	run.UpdatedAt = time.Now().UTC()

	executionLog, err := json.Marshal(run.ExecutionLog)
	if err != nil {
		return false, fmt.Errorf("failed to marshal execution log: %w", err)
	}

	nodeResults, err := json.Marshal(run.NodeResults)
	if err != nil {
		return false, fmt.Errorf("failed to marshal node results: %w", err)
	}

	statuses := make([]string, 0, len(expected))
	for _, status := range expected {
		statuses = append(statuses, string(status))
	}

	query := `
		UPDATE automation_runs
		SET status = $2
		  , resume_at = $3
		  , current_node_id = $4
		  , execution_log = $5
		  , node_results = $6
		  , error = $7
		  , completed_at = $8
		  , duration_ms = $9
		  , updated_at = $10
		WHERE id = $1 AND status = ANY($11)
	`

	result, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.ResumeAt,
		nullString(run.CurrentNodeID),
		executionLog,
		nodeResults,
		nullString(run.Error),
		run.CompletedAt,
		run.DurationMs,
		run.UpdatedAt,
		pq.Array(statuses),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// GetByID returns one run or persistence.ErrRunNotFound.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.AutomationRun, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// ListByDefinition returns every run for an automation, newest first.
func (r *RunRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.AutomationRun, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE automation_id = $1 ORDER BY created_at DESC`

	return r.queryRuns(ctx, query, definitionID)
}

// ListDue returns waiting runs whose resume time has passed, served by the
// (status, resume_at) index.
func (r *RunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.AutomationRun, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE status = 'waiting' AND resume_at <= $1`

	return r.queryRuns(ctx, query, now)
}

// ClaimDue atomically flips one waiting, due run to running and returns the
// claimed row. The conditional UPDATE is the mutual-exclusion token: the
// first claimant's write changes status away from waiting, so any concurrent
// claim affects zero rows. RETURNING hands the winner the run as stored at
// claim time, so it never drives a stale listing.
func (r *RunRepository) ClaimDue(ctx context.Context, runID string, now time.Time) (*models.AutomationRun, error) {
	query := `
		UPDATE automation_runs
		SET status = 'running', resume_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'waiting' AND resume_at <= $2
		RETURNING ` + runColumns

	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]*models.AutomationRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.AutomationRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*models.AutomationRun, error) {
	var (
		run           models.AutomationRun
		payload       []byte
		executionLog  []byte
		nodeResults   []byte
		currentNodeID sql.NullString
		retryOf       sql.NullString
		runError      sql.NullString
		resumeAt      sql.NullTime
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.DefinitionID,
		&run.Revision,
		&run.Status,
		&run.TriggerType,
		&payload,
		&resumeAt,
		&currentNodeID,
		&executionLog,
		&nodeResults,
		&retryOf,
		&runError,
		&startedAt,
		&completedAt,
		&run.DurationMs,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &run.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	if err := json.Unmarshal(executionLog, &run.ExecutionLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution log: %w", err)
	}

	if len(nodeResults) > 0 {
		if err := json.Unmarshal(nodeResults, &run.NodeResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
		}
	}

	run.CurrentNodeID = currentNodeID.String
	run.RetryOfRunID = retryOf.String
	run.Error = runError.String

	if resumeAt.Valid {
		at := resumeAt.Time

		run.ResumeAt = &at
	}

	if startedAt.Valid {
		run.StartedAt = startedAt.Time
	}

	if completedAt.Valid {
		at := completedAt.Time

		run.CompletedAt = &at
	}

	return &run, nil
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: !value.IsZero()}
}
