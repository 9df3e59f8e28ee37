package services

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logaction "github.com/fakturo/fakturo/pkg/actions/log"
	"github.com/fakturo/fakturo/pkg/interpreter"
	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence/file"
	"github.com/fakturo/fakturo/pkg/registry"
	"github.com/fakturo/fakturo/pkg/scheduler"
)

func newRunService(t *testing.T) (*Run, *Automation) {
	t.Helper()

	logger := slog.Default()
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(logaction.NewActionFactory())

	interp := interpreter.NewInterpreter(reg, logger)
	sched := scheduler.NewScheduler(p, interp, nil, logger)

	return NewRun(p, sched), NewAutomation(p)
}

func loggedDefinition() *models.AutomationDefinition {
	definition := draftDefinition()
	definition.Nodes[1].SubType = "log"
	definition.Nodes[1].Config = map[string]any{"message": "invoice settled"}

	return definition
}

func TestStartManual(t *testing.T) {
	runs, automations := newRunService(t)

	created, err := automations.Create(t.Context(), loggedDefinition())
	require.NoError(t, err)

	run, err := runs.StartManual(t.Context(), created.ID, map[string]any{"invoice_id": "inv-1"})
	require.NoError(t, err)

	assert.Equal(t, models.TriggerManual, run.TriggerType)
	assert.Equal(t, created.ID, run.DefinitionID)

	fetched, err := runs.FetchByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, fetched.Status)
	assert.Equal(t, "inv-1", fetched.Payload["invoice_id"])
}

func TestStartManual_InactiveAutomation(t *testing.T) {
	runs, automations := newRunService(t)

	created, err := automations.Create(t.Context(), loggedDefinition())
	require.NoError(t, err)
	require.False(t, created.IsActive)

	// The active flag only gates event-driven dispatch; a manual start is an
	// operator test-fire and works on a draft.
	run, err := runs.StartManual(t.Context(), created.ID, nil)
	require.NoError(t, err)

	fetched, err := runs.FetchByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, fetched.Status)
}

func TestStartManual_UnknownAutomation(t *testing.T) {
	runs, _ := newRunService(t)

	_, err := runs.StartManual(t.Context(), "missing", nil)
	assert.ErrorIs(t, err, ErrAutomationNotFound)
}

func TestListByAutomation(t *testing.T) {
	runs, automations := newRunService(t)

	created, err := automations.Create(t.Context(), loggedDefinition())
	require.NoError(t, err)

	_, err = runs.StartManual(t.Context(), created.ID, nil)
	require.NoError(t, err)
	_, err = runs.StartManual(t.Context(), created.ID, nil)
	require.NoError(t, err)

	listed, err := runs.ListByAutomation(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = runs.ListByAutomation(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrAutomationNotFound)
}

func TestRetry_OnlyFailedRuns(t *testing.T) {
	runs, automations := newRunService(t)

	created, err := automations.Create(t.Context(), loggedDefinition())
	require.NoError(t, err)

	run, err := runs.StartManual(t.Context(), created.ID, nil)
	require.NoError(t, err)

	_, err = runs.Retry(t.Context(), run.ID)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
}

func TestCancel_CompletedRunConflicts(t *testing.T) {
	runs, automations := newRunService(t)

	created, err := automations.Create(t.Context(), loggedDefinition())
	require.NoError(t, err)

	run, err := runs.StartManual(t.Context(), created.ID, nil)
	require.NoError(t, err)

	err = runs.Cancel(t.Context(), run.ID)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
}
