// Package services implements the application-facing operations on
// automations and their runs, sitting between the HTTP layer and persistence.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
)

// ErrAutomationNotFound is returned when an automation is not found.
var ErrAutomationNotFound = persistence.ErrAutomationNotFound

type Automation struct {
	persistence persistence.Persistence
}

// NewAutomation creates a new automation service.
func NewAutomation(p persistence.Persistence) *Automation {
	return &Automation{persistence: p}
}

// HealthCheck checks the health of the persistence layer.
func (s *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every automation.
func (s *Automation) List(ctx context.Context) ([]*models.AutomationDefinition, error) {
	return s.persistence.AutomationRepository().GetAll(ctx)
}

// FetchByID retrieves an automation by its ID.
func (s *Automation) FetchByID(ctx context.Context, id string) (*models.AutomationDefinition, error) {
	return s.persistence.AutomationRepository().GetByID(ctx, id)
}

// Create stores a new automation at revision 1. The graph must validate;
// automations are created inactive so a half-built graph never fires.
func (s *Automation) Create(ctx context.Context, definition *models.AutomationDefinition) (*models.AutomationDefinition, error) {
	if err := definition.Validate(); err != nil {
		return nil, NewValidationError("Create", "INVALID_GRAPH", err.Error(), err)
	}

	now := time.Now().UTC()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate automation ID: %w", err)
	}

	definition.ID = id.String()
	definition.Revision = 1
	definition.IsActive = false
	definition.CreatedAt = now
	definition.UpdatedAt = now

	if err := s.persistence.AutomationRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}

	if err := s.persistence.AutomationRepository().SaveRevision(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to snapshot revision: %w", err)
	}

	return definition, nil
}

// Update replaces an automation's graph and bumps its revision. Runs already
// in flight keep executing against the snapshot of the revision they started
// on; only runs triggered after this call see the new graph.
func (s *Automation) Update(ctx context.Context, id string, definition *models.AutomationDefinition) (*models.AutomationDefinition, error) {
	existing, err := s.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := definition.Validate(); err != nil {
		return nil, NewValidationError("Update", "INVALID_GRAPH", err.Error(), err)
	}

	definition.ID = existing.ID
	definition.Revision = existing.Revision + 1
	definition.Stats = existing.Stats
	definition.CreatedAt = existing.CreatedAt
	definition.UpdatedAt = time.Now().UTC()

	if err := s.persistence.AutomationRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to update automation: %w", err)
	}

	if err := s.persistence.AutomationRepository().SaveRevision(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to snapshot revision: %w", err)
	}

	return definition, nil
}

// SetActive flips the automation on or off. Activation re-validates the graph
// so an automation stored before a validation rule tightened cannot fire.
func (s *Automation) SetActive(ctx context.Context, id string, active bool) (*models.AutomationDefinition, error) {
	definition, err := s.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if active {
		if err := definition.Validate(); err != nil {
			return nil, NewValidationError("SetActive", "INVALID_GRAPH", err.Error(), err)
		}
	}

	definition.IsActive = active
	definition.UpdatedAt = time.Now().UTC()

	if err := s.persistence.AutomationRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return definition, nil
}

// Delete removes an automation. Its revision snapshots are kept so in-flight
// and historical runs stay interpretable.
func (s *Automation) Delete(ctx context.Context, id string) error {
	return s.persistence.AutomationRepository().Delete(ctx, id)
}
