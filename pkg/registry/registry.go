// Package registry maps action node subtypes to their executor factories.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fakturo/fakturo/pkg/protocol"
)

type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.ActionExecutorFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.ActionExecutorFactory),
	}
}

// RegisterExecutor makes a factory available under its subtype id. Later
// registrations replace earlier ones.
func (r *Registry) RegisterExecutor(factory protocol.ActionExecutorFactory) {
	r.factories[factory.ID()] = factory
	r.logger.Info("Registered action executor", "sub_type", factory.ID())
}

// CreateExecutor builds an executor for the given subtype, validating the node
// config against the factory's JSON schema first when one is declared.
func (r *Registry) CreateExecutor(subType string, config map[string]any) (protocol.ActionExecutor, error) {
	factory, ok := r.factories[subType]
	if !ok {
		return nil, fmt.Errorf("action sub type %q not registered", subType)
	}

	if schema := factory.Schema(); schema != nil {
		if err := validateConfig(schema, config); err != nil {
			return nil, fmt.Errorf("invalid config for action sub type %q: %w", subType, err)
		}
	}

	return factory.Create(config)
}

// SubTypes returns the registered subtype ids.
func (r *Registry) SubTypes() []string {
	subTypes := make([]string, 0, len(r.factories))
	for subType := range r.factories {
		subTypes = append(subTypes, subType)
	}

	return subTypes
}

func validateConfig(schema, config map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("config does not match schema: %s", errs[0].String())
		}

		return fmt.Errorf("config does not match schema")
	}

	return nil
}
