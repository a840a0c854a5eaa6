package ecs

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-json"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// SearchParam contains parameters for a debug search.
// We use expr lang for the where clause to filter the entities, please refer to its documentation
// for more details: https://expr-lang.org/docs/getting-started.
type SearchParam struct {
	Find  []string    // List of component names to search for
	Match SearchMatch // A match type to use for the search
	Where string      // Optional expr language string to filter the results
	Limit int         // Maximum number of results, 0 for no limit
}

// validateAndGetFilter validates the search parameters and returns an expr VM program compiled
// from the where clause.
func (s *SearchParam) validateAndGetFilter() (*vm.Program, error) {
	if len(s.Find) == 0 {
		return nil, eris.New("component list cannot be empty")
	}
	if s.Match != MatchExact && s.Match != MatchContains {
		return nil, eris.Errorf("invalid `match` value: must be either '%s' or '%s'", MatchExact, MatchContains)
	}
	if s.Limit < 0 {
		return nil, eris.New("limit cannot be negative")
	}

	// If no expression is provided, return a nil program.
	if len(s.Where) == 0 {
		return nil, nil //nolint:nilnil // no filter
	}

	filter, err := expr.Compile(s.Where, expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse where clause")
	}
	return filter, nil
}

// SearchMatch is the type of match to use for the search.
type SearchMatch string

const (
	// MatchExact matches entities that have exactly the specified components.
	MatchExact SearchMatch = "exact"
	// MatchContains matches entities that contain the specified components, but may have other
	// components as well.
	MatchContains SearchMatch = "contains"
)

// Search returns the entities matching params as maps from component name to value. An "_id" key
// holds the entity index and "_version" its version. Prefab, disabled and pending-cleanup entities
// are included: this is a debugging aid, not a gameplay query.
func (w *World) Search(params SearchParam) ([]map[string]any, error) {
	filter, err := params.validateAndGetFilter()
	if err != nil {
		return nil, eris.Wrap(err, "invalid search params")
	}

	var find bitmap.Bitmap
	for _, name := range params.Find {
		t, ok := w.registry.Lookup(name)
		if !ok {
			return nil, eris.Errorf("component %s not registered", name)
		}
		find.Set(t.bit())
	}
	find.Set(w.registry.builtins.entity.bit())

	results := make([]map[string]any, 0)
	for _, arch := range w.archetypes {
		if !arch.contains(find) {
			continue
		}
		if params.Match == MatchExact && arch.typeBits.Count() != find.Count() {
			continue
		}
		for _, c := range arch.chunks {
			for row, e := range c.Entities() {
				entityMap := w.entityMap(e, c, row)

				// Run the filter expression with the entity map as the environment, so the program has
				// access to the entity data.
				if filter != nil {
					output, err := expr.Run(filter, entityMap)
					if err != nil {
						return nil, eris.Wrap(err, "failed to run filter expression")
					}
					// expr.Compile can't type check the fields of component values without an
					// environment, so the bool check happens here.
					isMatch, ok := output.(bool)
					if !ok {
						return nil, eris.New("invalid where clause")
					}
					if !isMatch {
						continue
					}
				}
				results = append(results, entityMap)
				if params.Limit > 0 && len(results) == params.Limit {
					return results, nil
				}
			}
		}
	}
	return results, nil
}

// entityMap converts an entity to a map of its component values.
func (w *World) entityMap(e Entity, c *Chunk, row int) map[string]any {
	arch := c.archetype
	data := make(map[string]any, len(arch.types)+1)

	// Handles are exposed as int, the type expr gives integer literals.
	data["_id"] = int(e.Index)
	data["_version"] = int(e.Version)

	for i, t := range arch.types {
		info := w.registry.info(t)
		switch {
		case t.Kind() == KindEntity:
		case t.IsChunkComponent():
			if values := c.chunkValues[arch.chunkOf[i]]; values != nil {
				data["chunk:"+info.Name] = values.getAbstract(0)
			}
		case t.IsShared():
			data[info.Name] = w.shared.value(info, c.sharedKey[arch.sharedOf[i]])
		case arch.columnOf[i] >= 0:
			data[info.Name] = c.columns[arch.columnOf[i]].getAbstract(row)
		default:
			data[info.Name] = struct{}{}
		}
	}
	return data
}

// DebugDump returns the search results as indented JSON.
func (w *World) DebugDump(params SearchParam) ([]byte, error) {
	results, err := w.Search(params)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode search results")
	}
	return out, nil
}
