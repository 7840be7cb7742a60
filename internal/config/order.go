package config

import (
	"fmt"

	"github.com/rkerno/dqflow/internal/domain"
)

// ValidateOrder asserts that for every declared foreign key, the target
// entity is processed before its referencer. The order is pinned
// configuration, not computed from the foreign-key graph, so a misplaced
// entity would otherwise silently disable its referential checks (the
// processor skips any check whose target has no published keys yet). A
// violation is a configuration error and aborts before any entity runs.
func ValidateOrder(order []string, sources map[string]SourceConfig, schemas map[string]domain.EntitySchema) error {
	// Position of each schema name in the processing order.
	position := make(map[string]int, len(order))
	for idx, entity := range order {
		source, ok := sources[entity]
		if !ok {
			return fmt.Errorf("processing order names unknown source %q", entity)
		}
		schemaName := source.Schema
		if schemaName == "" {
			schemaName = entity
		}
		position[schemaName] = idx
	}

	for idx, entity := range order {
		source := sources[entity]
		schemaName := source.Schema
		if schemaName == "" {
			schemaName = entity
		}
		schema, ok := schemas[schemaName]
		if !ok {
			continue
		}
		for _, fk := range schema.ForeignKeys() {
			targetPos, ok := position[fk.ForeignKey]
			if !ok {
				return fmt.Errorf(
					"source %s: field %s references %s, which is not in the processing order",
					entity, fk.Name, fk.ForeignKey,
				)
			}
			if targetPos >= idx {
				return fmt.Errorf(
					"source %s: field %s references %s, which is processed at position %d, after its referencer at %d",
					entity, fk.Name, fk.ForeignKey, targetPos, idx,
				)
			}
		}
	}
	return nil
}
