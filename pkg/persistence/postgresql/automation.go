package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
)

// AutomationRepository handles definition and revision database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `
	id
  , name
  , trigger_type
  , is_active
  , revision
  , nodes
  , total_runs
  , completed_runs
  , failed_runs
  , last_run_status
  , last_run_at
  , created_at
  , updated_at
`

// GetAll returns all automations ordered by creation time.
func (r *AutomationRepository) GetAll(ctx context.Context) ([]*models.AutomationDefinition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.AutomationDefinition, 0)

	for rows.Next() {
		definition, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return definitions, nil
}

// GetByID returns one automation or persistence.ErrAutomationNotFound.
func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.AutomationDefinition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

	definition, err := scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return definition, nil
}

// Save upserts the automation.
func (r *AutomationRepository) Save(ctx context.Context, definition *models.AutomationDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		definition.ID = id.String()
	}

	nodes, err := json.Marshal(definition.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	query := `
		INSERT INTO automations (
			id, name, trigger_type, is_active, revision, nodes,
			total_runs, completed_runs, failed_runs, last_run_status, last_run_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , trigger_type = EXCLUDED.trigger_type
		  , is_active = EXCLUDED.is_active
		  , revision = EXCLUDED.revision
		  , nodes = EXCLUDED.nodes
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		definition.TriggerType,
		definition.IsActive,
		definition.Revision,
		nodes,
		definition.Stats.TotalRuns,
		definition.Stats.CompletedRuns,
		definition.Stats.FailedRuns,
		nullString(string(definition.Stats.LastRunStatus)),
		definition.Stats.LastRunAt,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}

	return nil
}

// Delete removes the automation. Revision snapshots stay so in-flight runs
// can still finish.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAutomationNotFound
	}

	return nil
}

// ListActiveByTrigger returns active automations whose trigger type matches,
// served by the partial index on (trigger_type) WHERE is_active.
func (r *AutomationRepository) ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationDefinition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE is_active AND trigger_type = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to query active automations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.AutomationDefinition, 0)

	for rows.Next() {
		definition, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return definitions, nil
}

// SaveRevision stores an immutable snapshot of the full definition.
func (r *AutomationRepository) SaveRevision(ctx context.Context, definition *models.AutomationDefinition) error {
	payload, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to marshal revision: %w", err)
	}

	query := `
		INSERT INTO automation_revisions (automation_id, revision, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (automation_id, revision) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, definition.ID, definition.Revision, payload)
	if err != nil {
		return fmt.Errorf("failed to save revision: %w", err)
	}

	return nil
}

// GetRevision loads the snapshot stored for (id, revision).
func (r *AutomationRepository) GetRevision(ctx context.Context, id string, revision int) (*models.AutomationDefinition, error) {
	var payload []byte

	query := "SELECT definition FROM automation_revisions WHERE automation_id = $1 AND revision = $2"

	err := r.db.QueryRowContext(ctx, query, id, revision).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRevisionNotFound
		}

		return nil, fmt.Errorf("failed to query revision: %w", err)
	}

	var definition models.AutomationDefinition
	if err := json.Unmarshal(payload, &definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal revision: %w", err)
	}

	return &definition, nil
}

// IncrementStats applies one terminal outcome with SQL increment semantics,
// so concurrent terminal runs for the same automation never lose updates.
func (r *AutomationRepository) IncrementStats(ctx context.Context, id string, outcome models.RunStatus, finishedAt time.Time) error {
	query := `
		UPDATE automations SET
			total_runs = total_runs + 1
		  , completed_runs = completed_runs + CASE WHEN $2 = 'completed' THEN 1 ELSE 0 END
		  , failed_runs = failed_runs + CASE WHEN $2 = 'failed' THEN 1 ELSE 0 END
		  , last_run_status = $2
		  , last_run_at = $3
		  , updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, string(outcome), finishedAt)
	if err != nil {
		return fmt.Errorf("failed to increment stats: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAutomationNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*models.AutomationDefinition, error) {
	var (
		definition    models.AutomationDefinition
		nodes         []byte
		lastRunStatus sql.NullString
		lastRunAt     sql.NullTime
	)

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&definition.TriggerType,
		&definition.IsActive,
		&definition.Revision,
		&nodes,
		&definition.Stats.TotalRuns,
		&definition.Stats.CompletedRuns,
		&definition.Stats.FailedRuns,
		&lastRunStatus,
		&lastRunAt,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodes, &definition.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if lastRunStatus.Valid {
		definition.Stats.LastRunStatus = models.RunStatus(lastRunStatus.String)
	}

	if lastRunAt.Valid {
		at := lastRunAt.Time

		definition.Stats.LastRunAt = &at
	}

	return &definition, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
