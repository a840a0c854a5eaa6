package ecs

import (
	"reflect"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
)

// ComponentSchema describes a registered component type for debugging tools.
type ComponentSchema struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Size   uintptr        `json:"size"`
	Schema map[string]any `json:"schema"`
}

// Introspect returns the JSON Schema of every registered type in registration order, built-in
// types included. The schema of a buffer describes one element.
func (r *TypeRegistry) Introspect() ([]ComponentSchema, error) {
	out := make([]ComponentSchema, 0, r.Len())
	for _, info := range r.infos {
		if info == nil || info.Type == nil {
			continue
		}
		schema, err := reflectSchema(info.Type)
		if err != nil {
			return nil, eris.Wrapf(err, "component %s", info.Name)
		}
		out = append(out, ComponentSchema{
			Name:   info.Name,
			Kind:   info.Index.Kind().String(),
			Size:   info.Size,
			Schema: schema,
		})
	}
	return out, nil
}

func reflectSchema(t reflect.Type) (map[string]any, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,                       // Don't add $id based on package path
		ExpandedStruct: t.Kind() == reflect.Struct, // Inline the struct fields directly
	}
	data, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal json schema")
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal json schema")
	}
	// Always the same for structs.
	delete(schema, "$schema")
	delete(schema, "type")
	delete(schema, "additionalProperties")
	return schema, nil
}
