package models

import "time"

// RunStatus represents the lifecycle state of an automation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run can never change state again.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// LogStatus represents the outcome recorded for a single node execution.
type LogStatus string

const (
	LogStatusRunning   LogStatus = "running"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
	LogStatusWaiting   LogStatus = "waiting"
)

// ExecutionLogEntry is one append-only record of what a run actually did.
// Label is copied from the node at execution time so later edits to the
// definition never rewrite history.
type ExecutionLogEntry struct {
	NodeID     string    `json:"node_id"`
	NodeType   NodeType  `json:"node_type"`
	Label      string    `json:"label"`
	Status     LogStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// AutomationRun is one execution instance of an automation against one
// triggering event. The payload is captured immutably at creation; only the
// scheduler/interpreter pair mutates the run, and terminal states are final.
type AutomationRun struct {
	ID            string              `json:"id"`
	DefinitionID  string              `json:"definition_id" validate:"required"`
	Revision      int                 `json:"revision"`
	Status        RunStatus           `json:"status"`
	TriggerType   TriggerType         `json:"trigger_type"`
	Payload       map[string]any      `json:"payload,omitempty"`
	ResumeAt      *time.Time          `json:"resume_at,omitempty"`
	CurrentNodeID string              `json:"current_node_id,omitempty"`
	ExecutionLog  []ExecutionLogEntry `json:"execution_log"`
	NodeResults   map[string]map[string]any `json:"node_results,omitempty"`
	RetryOfRunID  string              `json:"retry_of_run_id,omitempty"`
	Error         string              `json:"error,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	DurationMs    int64               `json:"duration_ms"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// AppendLog appends an entry to the run's execution log. Entries are ordered
// by append time and immutable once written.
func (r *AutomationRun) AppendLog(entry ExecutionLogEntry) {
	r.ExecutionLog = append(r.ExecutionLog, entry)
}

// RecordResult stores an action executor's result metadata so downstream
// nodes can reference it.
func (r *AutomationRun) RecordResult(nodeID string, result map[string]any) {
	if r.NodeResults == nil {
		r.NodeResults = make(map[string]map[string]any)
	}

	r.NodeResults[nodeID] = result
}

// ExecutionContext is the data handed to action executors: the immutable
// trigger payload plus the results accumulated by earlier action nodes.
type ExecutionContext struct {
	RunID        string                    `json:"run_id"`
	DefinitionID string                    `json:"definition_id"`
	Payload      map[string]any            `json:"payload,omitempty"`
	NodeResults  map[string]map[string]any `json:"node_results,omitempty"`
}

// NewExecutionContext builds the executor-facing view of a run.
func NewExecutionContext(run *AutomationRun) ExecutionContext {
	return ExecutionContext{
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		Payload:      run.Payload,
		NodeResults:  run.NodeResults,
	}
}
