package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerType_IsValid(t *testing.T) {
	for _, triggerType := range TriggerTypes() {
		assert.True(t, triggerType.IsValid(), string(triggerType))
	}

	assert.False(t, TriggerType("order.refunded").IsValid())
	assert.False(t, TriggerType("").IsValid())
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())

	assert.False(t, RunStatusPending.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.False(t, RunStatusWaiting.IsTerminal())
}

func scheduledDefinition(expression string) *AutomationDefinition {
	return &AutomationDefinition{
		ID:          "auto-cron",
		Name:        "Weekly digest",
		TriggerType: TriggerSchedule,
		Nodes: []*Node{
			{
				ID:     "trigger-1",
				Type:   NodeTypeTrigger,
				Name:   "Every monday",
				Config: map[string]any{"cron": expression},
			},
		},
	}
}

func TestCronExpression(t *testing.T) {
	expression, err := scheduledDefinition("0 9 * * 1").CronExpression()
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1", expression)
}

func TestCronExpression_NotScheduled(t *testing.T) {
	definition := scheduledDefinition("0 9 * * 1")
	definition.TriggerType = TriggerOrderPaid

	_, err := definition.CronExpression()
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestCronExpression_Missing(t *testing.T) {
	definition := scheduledDefinition("0 9 * * 1")
	definition.Nodes[0].Config = nil

	_, err := definition.CronExpression()
	assert.ErrorIs(t, err, ErrMissingCronExpression)
}

func TestCronExpression_Invalid(t *testing.T) {
	_, err := scheduledDefinition("not a cron").CronExpression()
	assert.Error(t, err)
}

func TestNextScheduledAt(t *testing.T) {
	reference := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // a monday

	next, err := scheduledDefinition("0 9 * * 1").NextScheduledAt(reference)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestAppendLogAndRecordResult(t *testing.T) {
	run := &AutomationRun{}

	run.AppendLog(ExecutionLogEntry{NodeID: "a", Status: LogStatusCompleted})
	run.AppendLog(ExecutionLogEntry{NodeID: "b", Status: LogStatusFailed})

	require.Len(t, run.ExecutionLog, 2)
	assert.Equal(t, "a", run.ExecutionLog[0].NodeID)
	assert.Equal(t, "b", run.ExecutionLog[1].NodeID)

	run.RecordResult("a", map[string]any{"status_code": 200})
	assert.Equal(t, 200, run.NodeResults["a"]["status_code"])
}
