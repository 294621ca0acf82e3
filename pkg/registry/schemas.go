package registry

import (
	"fmt"
	"strings"

	"github.com/engageflow/flows/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateNodeConfigs checks every action node's config against the JSON
// schema published by its capability factory. Runs at version-creation time
// so a bad config never reaches the dispatch loop.
func (r *Registry) ValidateNodeConfigs(graph *models.Graph) error {
	for _, node := range graph.Nodes {
		if !node.IsAction() {
			continue
		}

		if !r.IsRegistered(node.Type) {
			return fmt.Errorf("node %s: %w: no capability registered for type %q", node.ID, models.ErrGraphInvalid, node.Type)
		}

		schema, _ := r.SchemaFor(node.Type)
		if schema == nil {
			continue
		}

		err := validateSchema(node.Config, schema)
		if err != nil {
			return fmt.Errorf("node %s config: %w: %w", node.ID, models.ErrGraphInvalid, err)
		}
	}

	return nil
}

func validateSchema(config map[string]any, schema map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
