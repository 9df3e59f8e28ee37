package dispatcher

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logaction "github.com/fakturo/fakturo/pkg/actions/log"
	"github.com/fakturo/fakturo/pkg/interpreter"
	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/persistence/file"
	"github.com/fakturo/fakturo/pkg/registry"
	"github.com/fakturo/fakturo/pkg/scheduler"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, persistence.Persistence) {
	t.Helper()

	logger := slog.Default()
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(logaction.NewActionFactory())

	interp := interpreter.NewInterpreter(reg, logger)
	sched := scheduler.NewScheduler(p, interp, nil, logger)

	return NewDispatcher("test-dispatcher", p, sched, nil, logger), p
}

func definitionWithTrigger(id string, triggerType models.TriggerType, active bool) *models.AutomationDefinition {
	return &models.AutomationDefinition{
		ID:          id,
		Name:        "Automation " + id,
		TriggerType: triggerType,
		IsActive:    active,
		Revision:    1,
		Nodes: []*models.Node{
			{
				ID:    "trigger-1",
				Type:  models.NodeTypeTrigger,
				Name:  "Trigger",
				Edges: []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-1"}},
			},
			{
				ID:      "action-1",
				Type:    models.NodeTypeAction,
				SubType: "log",
				Name:    "Log it",
				Config:  map[string]any{"message": "hello"},
			},
		},
	}
}

func TestOnEvent_FansOutToMatchingActiveAutomations(t *testing.T) {
	dispatcher, p := newTestDispatcher(t)
	repo := p.AutomationRepository()

	require.NoError(t, repo.Save(t.Context(), definitionWithTrigger("match-1", models.TriggerOrderPaid, true)))
	require.NoError(t, repo.Save(t.Context(), definitionWithTrigger("match-2", models.TriggerOrderPaid, true)))
	require.NoError(t, repo.Save(t.Context(), definitionWithTrigger("inactive", models.TriggerOrderPaid, false)))
	require.NoError(t, repo.Save(t.Context(), definitionWithTrigger("other", models.TriggerQuoteSigned, true)))

	started, err := dispatcher.OnEvent(t.Context(), models.TriggerOrderPaid, map[string]any{"total": float64(100)})
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	for _, id := range []string{"match-1", "match-2"} {
		runs, err := p.RunRepository().ListByDefinition(t.Context(), id)
		require.NoError(t, err)
		require.Len(t, runs, 1, id)
		assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
		assert.InEpsilon(t, 100.0, runs[0].Payload["total"], 0.001)
	}

	for _, id := range []string{"inactive", "other"} {
		runs, err := p.RunRepository().ListByDefinition(t.Context(), id)
		require.NoError(t, err)
		assert.Empty(t, runs, id)
	}
}

func TestOnEvent_NoMatches(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t)

	started, err := dispatcher.OnEvent(t.Context(), models.TriggerOrderCreated, nil)
	require.NoError(t, err)
	assert.Zero(t, started)
}

func TestOnEvent_OneBadAutomationDoesNotBlockOthers(t *testing.T) {
	dispatcher, p := newTestDispatcher(t)
	repo := p.AutomationRepository()

	// An automation whose action subtype is not registered fails its run,
	// but the run still starts and terminates; the second automation is
	// unaffected either way.
	broken := definitionWithTrigger("broken", models.TriggerOrderPaid, true)
	broken.Nodes[1].SubType = "not_registered"
	require.NoError(t, repo.Save(t.Context(), broken))
	require.NoError(t, repo.Save(t.Context(), definitionWithTrigger("healthy", models.TriggerOrderPaid, true)))

	started, err := dispatcher.OnEvent(t.Context(), models.TriggerOrderPaid, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	runs, err := p.RunRepository().ListByDefinition(t.Context(), "broken")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)

	runs, err = p.RunRepository().ListByDefinition(t.Context(), "healthy")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
}

func TestTickCron_FiresDueSchedules(t *testing.T) {
	dispatcher, p := newTestDispatcher(t)
	repo := p.AutomationRepository()

	scheduled := definitionWithTrigger("digest", models.TriggerSchedule, true)
	scheduled.Nodes[0].Config = map[string]any{"cron": "0 9 * * *"}
	require.NoError(t, repo.Save(t.Context(), scheduled))

	// Window spanning 09:00 fires the automation.
	from := time.Date(2026, 5, 1, 8, 59, 30, 0, time.UTC)
	to := time.Date(2026, 5, 1, 9, 0, 30, 0, time.UTC)
	dispatcher.tickCron(t.Context(), from, to)

	runs, err := p.RunRepository().ListByDefinition(t.Context(), "digest")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.TriggerSchedule, runs[0].TriggerType)
	assert.Equal(t, "2026-05-01T09:00:00Z", runs[0].Payload["scheduled_at"])

	// A window that does not include an occurrence fires nothing.
	dispatcher.tickCron(t.Context(), to, to.Add(time.Minute))

	runs, err = p.RunRepository().ListByDefinition(t.Context(), "digest")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
