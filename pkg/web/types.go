// Package web provides HTTP request and response types for the automation API.
package web

import "github.com/fakturo/fakturo/pkg/models"

// CreateAutomationRequest is the request body for creating a new automation.
type CreateAutomationRequest struct {
	Name        string         `json:"name"         validate:"required,min=3"`
	TriggerType string         `json:"trigger_type" validate:"required"`
	Nodes       []*models.Node `json:"nodes"        validate:"required,min=1"`
}

// UpdateAutomationRequest is the request body for replacing an automation's
// graph. The whole graph is replaced at once; revision bumps on save.
type UpdateAutomationRequest struct {
	Name        string         `json:"name"         validate:"required,min=3"`
	TriggerType string         `json:"trigger_type" validate:"required"`
	Nodes       []*models.Node `json:"nodes"        validate:"required,min=1"`
}

// StartRunRequest is the request body for starting a manual run.
type StartRunRequest struct {
	Payload map[string]any `json:"payload"`
}
