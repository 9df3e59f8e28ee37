// Package models defines the core domain models for the automation workflow engine.
package models

import (
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType identifies the kind of event that starts a run of an automation.
// The set is closed: the dispatcher only reacts to the types listed here.
type TriggerType string

const (
	TriggerOrderCreated TriggerType = "order.created"
	TriggerOrderPaid    TriggerType = "order.paid"
	TriggerInvoicePaid  TriggerType = "invoice.paid"
	TriggerQuoteSigned  TriggerType = "quote.signed"
	TriggerSchedule     TriggerType = "time.schedule"
	TriggerManual       TriggerType = "manual"
)

// TriggerTypes lists every valid trigger type.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerOrderCreated,
		TriggerOrderPaid,
		TriggerInvoicePaid,
		TriggerQuoteSigned,
		TriggerSchedule,
		TriggerManual,
	}
}

// IsValid reports whether t is part of the closed trigger type set.
func (t TriggerType) IsValid() bool {
	for _, known := range TriggerTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// NodeType represents the kind of work a node performs.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeWait      NodeType = "wait"
)

// Edge labels. Trigger, action and wait nodes carry at most one outgoing edge
// labeled "default"; condition nodes carry up to one "true" and one "false" edge.
const (
	EdgeDefault = "default"
	EdgeTrue    = "true"
	EdgeFalse   = "false"
)

// Edge is a labeled directed link from one node to the next candidate node.
type Edge struct {
	Label        string `json:"label"          validate:"required,oneof=default true false"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
}

// Node is a unit of work or decision in the automation graph.
type Node struct {
	ID      string         `json:"id"                 validate:"required"`
	Type    NodeType       `json:"type"               validate:"required,oneof=trigger action condition wait"`
	SubType string         `json:"sub_type,omitempty"` // Selects the action executor; action nodes only
	Name    string         `json:"name"               validate:"required,min=1"`
	Config  map[string]any `json:"config,omitempty"`
	Edges   []Edge         `json:"edges,omitempty"`
}

// EdgeFor returns the outgoing edge with the given label, if present.
func (n *Node) EdgeFor(label string) (Edge, bool) {
	for _, edge := range n.Edges {
		if edge.Label == label {
			return edge, true
		}
	}

	return Edge{}, false
}

// DefinitionStats aggregates run outcomes for an automation. The scheduler
// maintains these counters; the interpreter never touches them.
type DefinitionStats struct {
	TotalRuns     int64      `json:"total_runs"`
	CompletedRuns int64      `json:"completed_runs"`
	FailedRuns    int64      `json:"failed_runs"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
}

// AutomationDefinition is a user-authored directed graph of trigger, action,
// condition and wait nodes. The engine reads it; only the editor surface
// mutates the graph, and every activation stamps a new revision so in-flight
// runs keep executing the snapshot they were dispatched against.
type AutomationDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"         validate:"required,min=3"`
	TriggerType TriggerType     `json:"trigger_type" validate:"required"`
	IsActive    bool            `json:"is_active"`
	Revision    int             `json:"revision"`
	Nodes       []*Node         `json:"nodes"`
	Stats       DefinitionStats `json:"stats"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TriggerNode returns the definition's single trigger node, if present.
func (d *AutomationDefinition) TriggerNode() (*Node, bool) {
	for _, node := range d.Nodes {
		if node.Type == NodeTypeTrigger {
			return node, true
		}
	}

	return nil, false
}

// NodeByID returns the node with the given id, if present.
func (d *AutomationDefinition) NodeByID(id string) (*Node, bool) {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// CronExpression extracts the cron expression from the trigger node of a
// time.schedule definition. Uses standard 5-field cron format.
func (d *AutomationDefinition) CronExpression() (string, error) {
	if d.TriggerType != TriggerSchedule {
		return "", ErrNotScheduled
	}

	trigger, ok := d.TriggerNode()
	if !ok {
		return "", ErrNoTriggerNode
	}

	expression, _ := trigger.Config["cron"].(string)
	if expression == "" {
		return "", ErrMissingCronExpression
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expression); err != nil {
		return "", err
	}

	return expression, nil
}

// NextScheduledAt computes the next due time for a time.schedule definition
// relative to the given reference time.
func (d *AutomationDefinition) NextScheduledAt(reference time.Time) (time.Time, error) {
	expression, err := d.CronExpression()
	if err != nil {
		return time.Time{}, err
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(reference), nil
}
