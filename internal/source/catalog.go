package source

import (
	"github.com/arwahdevops/adsync/internal/engine"
)

// EntitySpec is the static declaration of one fetchable entity: its unique
// key, its full schema, how its rows are matched across field chunks and
// whether it carries a statistics date dimension.
type EntitySpec struct {
	Name         string
	Key          engine.UniqueKey
	Schema       engine.Schema
	GroupingKeys []string // repeated in every field chunk, row identity within one fetch
	Dimensioned  bool     // true when rows are per calendar day
	Path         string   // API path, relative to the platform base URL
	MaxFields    int      // per-request field ceiling, 0 = no platform limit
}

// Catalog maps entity name to its declaration for one platform.
type Catalog map[string]EntitySpec

// Get resolves an entity declaration. Unknown entities are a configuration
// error: the operator asked for something the platform adapter does not
// declare.
func (c Catalog) Get(entity string) (EntitySpec, error) {
	spec, ok := c[entity]
	if !ok {
		return EntitySpec{}, engine.NewConfigurationError("unknown entity %q for this platform", entity)
	}
	return spec, nil
}

// FieldsOrDefault returns the requested fields, or the entity's full schema
// field list when the request leaves them unspecified.
func (s EntitySpec) FieldsOrDefault(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	fields := make([]string, 0, len(s.Schema.Fields))
	for _, f := range s.Schema.Fields {
		fields = append(fields, f.Name)
	}
	return fields
}

// checkKeyCoverage rejects a fetch whose field list cannot produce the
// entity's unique key. Failing here is cheaper than discovering half-keyed
// rows in the destination.
func checkKeyCoverage(spec EntitySpec, fields []string) error {
	if !spec.Key.SubsetOf(fields) {
		return engine.NewConfigurationError(
			"requested fields for entity %q do not cover its unique key %v", spec.Name, spec.Key)
	}
	return nil
}
