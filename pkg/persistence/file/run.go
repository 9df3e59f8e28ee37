package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
)

// RunRepository handles run file operations. The mutex makes ClaimDue an
// atomic check-and-set, which is what gives two concurrent ticks exactly-once
// resume semantics on this backend.
type RunRepository struct {
	root string
	mu   sync.Mutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (r *RunRepository) runPath(id string) string {
	return filepath.Join(r.root, "runs", id+".json")
}

// Save writes the run to disk.
func (r *RunRepository) Save(_ context.Context, run *models.AutomationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.save(run)
}

func (r *RunRepository) save(run *models.AutomationRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	return writeJSON(r.runPath(run.ID), run)
}

// SaveIfStatus writes the run only if the stored status is still one of the
// expected values. The read-check-write happens under the mutex, so a
// concurrent transition (a cancel landing while a node executes) can never be
// overwritten by a stale copy.
func (r *RunRepository) SaveIfStatus(_ context.Context, run *models.AutomationRun, expected ...models.RunStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := readJSON[models.AutomationRun](r.runPath(run.ID), persistence.ErrRunNotFound)
	if err != nil {
		return false, err
	}

	matched := false

	for _, status := range expected {
		if stored.Status == status {
			matched = true

			break
		}
	}

	if !matched {
		return false, nil
	}

	if err := r.save(run); err != nil {
		return false, err
	}

	return true, nil
}

// GetByID returns the run with the given id.
func (r *RunRepository) GetByID(_ context.Context, id string) (*models.AutomationRun, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}

	return readJSON[models.AutomationRun](r.runPath(id), persistence.ErrRunNotFound)
}

// ListByDefinition returns every run for a definition, newest first.
func (r *RunRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.AutomationRun, error) {
	runs, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.AutomationRun, 0)

	for _, run := range runs {
		if run.DefinitionID == definitionID {
			matches = append(matches, run)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	return matches, nil
}

// ListDue returns waiting runs whose resume time has passed.
func (r *RunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.AutomationRun, error) {
	runs, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.AutomationRun, 0)

	for _, run := range runs {
		if run.Status == models.RunStatusWaiting && run.ResumeAt != nil && !run.ResumeAt.After(now) {
			due = append(due, run)
		}
	}

	return due, nil
}

// ClaimDue flips one waiting, due run to running and returns the claimed row.
// The whole read-check-write happens under the mutex so only one caller can
// win a given run, and the winner drives the run as stored at claim time, not
// whatever copy it listed earlier.
func (r *RunRepository) ClaimDue(_ context.Context, runID string, now time.Time) (*models.AutomationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := readJSON[models.AutomationRun](r.runPath(runID), persistence.ErrRunNotFound)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusWaiting || run.ResumeAt == nil || run.ResumeAt.After(now) {
		return nil, nil
	}

	run.Status = models.RunStatusRunning
	run.ResumeAt = nil

	if err := r.save(run); err != nil {
		return nil, err
	}

	return run, nil
}

func (r *RunRepository) all(_ context.Context) ([]*models.AutomationRun, error) {
	dir := filepath.Join(r.root, "runs")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.AutomationRun{}, nil
	}

	root := os.DirFS(dir)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.AutomationRun, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		run, err := readJSON[models.AutomationRun](filepath.Join(dir, file), persistence.ErrRunNotFound)
		if err != nil {
			// Skip files that vanished between the glob and the read.
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}
