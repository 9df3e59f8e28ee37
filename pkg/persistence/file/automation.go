package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
)

// AutomationRepository handles definition and revision file operations. A
// single mutex serializes read-modify-write cycles so stats increments never
// lose updates.
type AutomationRepository struct {
	root string
	mu   sync.Mutex
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(root string) *AutomationRepository {
	return &AutomationRepository{root: root}
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	// Reject path traversal attempts.
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

func (r *AutomationRepository) automationPath(id string) string {
	return filepath.Join(r.root, "automations", id+".json")
}

func (r *AutomationRepository) revisionPath(id string, revision int) string {
	return filepath.Join(r.root, "revisions", id+"-"+strconv.Itoa(revision)+".json")
}

// GetAll returns every stored definition.
func (r *AutomationRepository) GetAll(ctx context.Context) ([]*models.AutomationDefinition, error) {
	dir := filepath.Join(r.root, "automations")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.AutomationDefinition{}, nil
	}

	root := os.DirFS(dir)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list automation files: %w", err)
	}

	definitions := make([]*models.AutomationDefinition, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		definition, err := r.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}

// GetByID returns the definition with the given id.
func (r *AutomationRepository) GetByID(_ context.Context, id string) (*models.AutomationDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid automation id: %w", err)
	}

	return readJSON[models.AutomationDefinition](r.automationPath(id), persistence.ErrAutomationNotFound)
}

// Save writes the definition to disk, assigning timestamps.
func (r *AutomationRepository) Save(_ context.Context, definition *models.AutomationDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	return writeJSON(r.automationPath(definition.ID), definition)
}

// Delete removes the definition file. Revision snapshots are kept so
// in-flight runs can still finish.
func (r *AutomationRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid automation id: %w", err)
	}

	err := os.Remove(r.automationPath(id))
	if os.IsNotExist(err) {
		return persistence.ErrAutomationNotFound
	}

	return err
}

// ListActiveByTrigger returns active definitions matching the trigger type.
func (r *AutomationRepository) ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationDefinition, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.AutomationDefinition, 0)

	for _, definition := range all {
		if definition.IsActive && definition.TriggerType == triggerType {
			matches = append(matches, definition)
		}
	}

	return matches, nil
}

// SaveRevision stores an immutable snapshot under (id, revision).
func (r *AutomationRepository) SaveRevision(_ context.Context, definition *models.AutomationDefinition) error {
	if err := validateID(definition.ID); err != nil {
		return fmt.Errorf("invalid automation id: %w", err)
	}

	return writeJSON(r.revisionPath(definition.ID, definition.Revision), definition)
}

// GetRevision loads the snapshot stored for (id, revision).
func (r *AutomationRepository) GetRevision(_ context.Context, id string, revision int) (*models.AutomationDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid automation id: %w", err)
	}

	return readJSON[models.AutomationDefinition](r.revisionPath(id, revision), persistence.ErrRevisionNotFound)
}

// IncrementStats applies one terminal outcome under the repository mutex so
// concurrent terminal runs combine rather than overwrite.
func (r *AutomationRepository) IncrementStats(ctx context.Context, id string, outcome models.RunStatus, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := readJSON[models.AutomationDefinition](r.automationPath(id), persistence.ErrAutomationNotFound)
	if err != nil {
		return err
	}

	definition.Stats.TotalRuns++

	switch outcome {
	case models.RunStatusCompleted:
		definition.Stats.CompletedRuns++
	case models.RunStatusFailed:
		definition.Stats.FailedRuns++
	}

	definition.Stats.LastRunStatus = outcome
	definition.Stats.LastRunAt = &finishedAt
	definition.UpdatedAt = time.Now().UTC()

	return writeJSON(r.automationPath(id), definition)
}

func readJSON[T any](path string, notFound error) (*T, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path components are validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return &value, nil
}

func writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
