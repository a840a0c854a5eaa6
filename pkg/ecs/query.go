package ecs

import (
	"iter"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// EntityQueryOptions adjust which archetypes and rows a query matches.
type EntityQueryOptions uint8

const (
	// IncludePrefab matches archetypes holding the Prefab tag.
	IncludePrefab EntityQueryOptions = 1 << iota
	// IncludeDisabledEntities matches archetypes holding the Disabled tag.
	IncludeDisabledEntities
	// IgnoreComponentEnabledState matches on presence alone. Disabled then behaves like Present.
	IgnoreComponentEnabledState
	// IgnoreWriteGroups turns off write group filtering.
	IgnoreWriteGroups
)

// EntityQueryDesc describes a query.
//
//   - All: every type must be present (and enabled).
//   - Any: at least one type must be present (and enabled).
//   - None: no type may be present and enabled.
//   - Disabled: every type must be present and disabled.
//   - Absent: no type may be present, enabled or not.
//   - Present: every type must be present, enabled or not.
//
// A type may appear in only one list. ExcludeAccess types listed in All count as None.
type EntityQueryDesc struct {
	All      []ComponentType
	Any      []ComponentType
	None     []ComponentType
	Disabled []ComponentType
	Absent   []ComponentType
	Present  []ComponentType
	Options  EntityQueryOptions
}

const (
	maxSharedFilters = 2
	maxChangeFilters = 2
)

// EntityQuery is a compiled EntityQueryDesc. Archetypes are matched incrementally: each result
// call first tests the archetypes created since the previous call.
type EntityQuery struct {
	world   *World
	options EntityQueryOptions

	all, anyOf, none, disabled, absent, present []TypeIndex

	requiredBits bitmap.Bitmap // All, Disabled and Present
	absentBits   bitmap.Bitmap
	anyBits      bitmap.Bitmap
	// Types excluded through write groups. An archetype holding any of them is skipped.
	writeGroupBits bitmap.Bitmap
	mentionsPrefab bool
	mentionsDis    bool

	matched []archetypeMatch
	scanned int // Number of world archetypes already tested

	sharedFilters   []sharedFilter
	changeFilters   []TypeIndex
	orderFilter     bool
	requiredVersion uint32
}

// archetypeMatch is a matching archetype with the enableable positions its rows are checked against.
type archetypeMatch struct {
	arch      *Archetype
	all       []int // Enableable positions that must be enabled
	none      []int // Enableable positions that must be disabled if present
	disabled  []int // Enableable positions that must be disabled
	anyOf     []int // Enableable positions, one of which must be enabled
	anyAlways bool  // A non-enableable Any type is present
	perRow    bool
}

type sharedFilter struct {
	info  *TypeInfo
	value any
}

// CreateQuery compiles desc into a query over w. Lists must not share types, Disabled types must be
// enableable, and no list may hold the null type.
func (w *World) CreateQuery(desc EntityQueryDesc) (*EntityQuery, error) {
	q := &EntityQuery{world: w, options: desc.Options}

	seen := make(map[uint32]string)
	add := func(list string, dst *[]TypeIndex, types []TypeIndex) error {
		for _, t := range types {
			if t.IsNull() {
				return eris.Wrapf(ErrNullComponentType, "in %s", list)
			}
			info, err := w.registry.Info(t)
			if err != nil {
				return err
			}
			// Canonical flags, keeping the chunk bit of the caller.
			t = info.Index | (t & chunkComponentFlag)
			if prev, dup := seen[t.bit()]; dup {
				return eris.Wrapf(ErrInvalidQuery, "%s is listed in both %s and %s", info.Name, prev, list)
			}
			seen[t.bit()] = list
			*dst = append(*dst, t)
		}
		return nil
	}

	var all, none []TypeIndex
	for _, ct := range desc.All {
		if ct.AccessMode == ExcludeAccess {
			none = append(none, ct.TypeIndex)
		} else {
			all = append(all, ct.TypeIndex)
		}
	}
	for _, ct := range desc.None {
		none = append(none, ct.TypeIndex)
	}

	lists := []struct {
		name  string
		dst   *[]TypeIndex
		types []TypeIndex
	}{
		{"All", &q.all, all},
		{"Any", &q.anyOf, indices(desc.Any)},
		{"None", &q.none, none},
		{"Disabled", &q.disabled, indices(desc.Disabled)},
		{"Absent", &q.absent, indices(desc.Absent)},
		{"Present", &q.present, indices(desc.Present)},
	}
	for _, l := range lists {
		if err := add(l.name, l.dst, l.types); err != nil {
			return nil, eris.Wrap(err, "failed to create query")
		}
	}
	for _, t := range q.disabled {
		if !t.IsEnableable() || t.IsChunkComponent() {
			return nil, eris.Wrapf(ErrNotEnableable, "%s in Disabled", w.registry.info(t).Name)
		}
	}

	b := &w.registry.builtins
	for _, group := range [][]TypeIndex{q.all, q.disabled, q.present} {
		for _, t := range group {
			q.requiredBits.Set(t.bit())
		}
	}
	for _, t := range q.absent {
		q.absentBits.Set(t.bit())
	}
	for _, t := range q.anyOf {
		q.anyBits.Set(t.bit())
	}
	for bit := range seen {
		switch bit {
		case b.prefab.bit():
			q.mentionsPrefab = true
		case b.disabled.bit():
			q.mentionsDis = true
		}
	}

	if desc.Options&IgnoreWriteGroups == 0 {
		for _, t := range q.all {
			if t.IsChunkComponent() {
				continue
			}
			for _, dependent := range w.registry.writeGroupOf(t) {
				if list := seen[dependent.bit()]; list == "All" || list == "Any" {
					continue
				}
				q.writeGroupBits.Set(dependent.bit())
			}
		}
	}
	return q, nil
}

func indices(types []ComponentType) []TypeIndex {
	out := make([]TypeIndex, len(types))
	for i, ct := range types {
		out[i] = ct.TypeIndex
	}
	return out
}

// MustCreateQuery is CreateQuery for descriptions known to be valid. It panics on error.
func (w *World) MustCreateQuery(desc EntityQueryDesc) *EntityQuery {
	q, err := w.CreateQuery(desc)
	if err != nil {
		panic(eris.ToString(err, true))
	}
	return q
}

// World returns the world the query runs against.
func (q *EntityQuery) World() *World { return q.world }

// update tests the archetypes created since the last call.
func (q *EntityQuery) update() {
	archs := q.world.archetypes
	for ; q.scanned < len(archs); q.scanned++ {
		if m, ok := q.matchArchetype(archs[q.scanned]); ok {
			q.matched = append(q.matched, m)
		}
	}
}

func (q *EntityQuery) matchArchetype(arch *Archetype) (archetypeMatch, bool) {
	m := archetypeMatch{arch: arch}
	if arch.prefab && !q.mentionsPrefab && q.options&IncludePrefab == 0 {
		return m, false
	}
	if arch.disabled && !q.mentionsDis && q.options&IncludeDisabledEntities == 0 {
		return m, false
	}
	if !arch.contains(q.requiredBits) || arch.intersects(q.absentBits) {
		return m, false
	}
	if q.writeGroupBits.Count() > 0 && arch.intersects(q.writeGroupBits) {
		return m, false
	}

	ignoreEnabled := q.options&IgnoreComponentEnabledState != 0
	for _, t := range q.none {
		if !arch.Has(t) {
			continue
		}
		pos := arch.enableablePos(t)
		if pos < 0 || ignoreEnabled {
			return m, false
		}
		m.none = append(m.none, pos)
	}
	if len(q.anyOf) > 0 {
		if !arch.intersects(q.anyBits) {
			return m, false
		}
		for _, t := range q.anyOf {
			if !arch.Has(t) {
				continue
			}
			pos := arch.enableablePos(t)
			if pos < 0 || ignoreEnabled {
				m.anyAlways = true
				continue
			}
			m.anyOf = append(m.anyOf, pos)
		}
		if m.anyAlways {
			m.anyOf = nil
		}
	}
	if !ignoreEnabled {
		for _, t := range q.all {
			if pos := arch.enableablePos(t); pos >= 0 {
				m.all = append(m.all, pos)
			}
		}
		for _, t := range q.disabled {
			m.disabled = append(m.disabled, arch.enableablePos(t))
		}
	}
	m.perRow = len(m.all)+len(m.none)+len(m.disabled)+len(m.anyOf) > 0
	return m, true
}

// rows returns the rows of c this match selects, or nil when every live row is selected.
func (m *archetypeMatch) rows(c *Chunk) *bitmap.Bitmap {
	if !m.perRow {
		return nil
	}
	var rows bitmap.Bitmap
	rows.Grow(uint32(c.Capacity())) //nolint:gosec // capacity is small
	for i := range c.count {
		rows.Set(uint32(i)) //nolint:gosec // row < capacity
	}
	for _, pos := range m.all {
		rows.And(c.enabled[pos])
	}
	for _, pos := range m.none {
		rows.AndNot(c.enabled[pos])
	}
	for _, pos := range m.disabled {
		rows.AndNot(c.enabled[pos])
	}
	if len(m.anyOf) > 0 {
		var anyRows bitmap.Bitmap
		for _, pos := range m.anyOf {
			anyRows.Or(c.enabled[pos])
		}
		rows.And(anyRows)
	}
	return &rows
}

// -------------------------------------------------------------------------------------------------
// Filters
// -------------------------------------------------------------------------------------------------

// SetSharedComponentFilter narrows q to chunks whose shared T equals value. T must be in All. Up to
// two shared filters combine with AND.
func SetSharedComponentFilter[T comparable](q *EntityQuery, value T) error {
	info, err := sharedInfo[T](q.world)
	if err != nil {
		return err
	}
	if !q.requires(info.Index) {
		return eris.Wrapf(ErrInvalidQuery, "shared filter on %s, which is not required by the query", info.Name)
	}
	if len(q.sharedFilters) >= maxSharedFilters {
		return eris.Wrapf(ErrInvalidQuery, "at most %d shared component filters", maxSharedFilters)
	}
	q.sharedFilters = append(q.sharedFilters, sharedFilter{info: info, value: value})
	return nil
}

// SetChangedVersionFilter narrows q to chunks where any of types was written after the required
// version. Up to two types.
func (q *EntityQuery) SetChangedVersionFilter(types ...TypeIndex) error {
	if len(q.changeFilters)+len(types) > maxChangeFilters {
		return eris.Wrapf(ErrInvalidQuery, "at most %d change filters", maxChangeFilters)
	}
	for _, t := range types {
		if !q.requires(t) && !q.mentionedInAny(t) {
			return eris.Wrapf(ErrInvalidQuery, "change filter on type id %d, which the query doesn't read", t.ID())
		}
	}
	q.changeFilters = append(q.changeFilters, types...)
	return nil
}

// SetOrderVersionFilter narrows q to chunks whose rows changed after the required version. It
// combines with change filters by OR.
func (q *EntityQuery) SetOrderVersionFilter() { q.orderFilter = true }

// SetRequiredVersion sets the version change and order filters compare against, usually the global
// version at the end of the previous update.
func (q *EntityQuery) SetRequiredVersion(version uint32) { q.requiredVersion = version }

// RequiredVersion returns the version change and order filters compare against.
func (q *EntityQuery) RequiredVersion() uint32 { return q.requiredVersion }

// ResetFilter drops every shared, change and order filter.
func (q *EntityQuery) ResetFilter() {
	q.sharedFilters = nil
	q.changeFilters = nil
	q.orderFilter = false
}

// HasFilter reports whether any filter is set.
func (q *EntityQuery) HasFilter() bool {
	return len(q.sharedFilters) > 0 || len(q.changeFilters) > 0 || q.orderFilter
}

func (q *EntityQuery) requires(t TypeIndex) bool {
	for _, list := range [][]TypeIndex{q.all, q.present} {
		for _, other := range list {
			if other.bit() == t.bit() {
				return true
			}
		}
	}
	return false
}

func (q *EntityQuery) mentionedInAny(t TypeIndex) bool {
	for _, other := range q.anyOf {
		if other.bit() == t.bit() {
			return true
		}
	}
	return false
}

// passes applies the chunk-granularity filters.
func (q *EntityQuery) passes(c *Chunk, shared []SharedIndex) bool {
	for i, f := range q.sharedFilters {
		pos := c.archetype.sharedPos(f.info.Index)
		if pos < 0 || shared[i] < 0 || c.sharedKey[pos] != shared[i] {
			return false
		}
	}
	if len(q.changeFilters) == 0 && !q.orderFilter {
		return true
	}
	if q.orderFilter && c.DidOrderChange(q.requiredVersion) {
		return true
	}
	for _, t := range q.changeFilters {
		if c.DidChange(t, q.requiredVersion) {
			return true
		}
	}
	return false
}

// resolveSharedFilters looks up the store index of each filter value. A value the world doesn't
// hold resolves to -1 and matches nothing.
func (q *EntityQuery) resolveSharedFilters() []SharedIndex {
	if len(q.sharedFilters) == 0 {
		return nil
	}
	out := make([]SharedIndex, len(q.sharedFilters))
	for i, f := range q.sharedFilters {
		idx, ok := q.world.shared.find(f.info, f.value)
		if !ok {
			idx = -1
		}
		out[i] = idx
	}
	return out
}

// -------------------------------------------------------------------------------------------------
// Results
// -------------------------------------------------------------------------------------------------

// each calls fn for every chunk passing the filters with the rows selected in it (nil for all).
// It stops when fn returns false.
func (q *EntityQuery) each(fn func(c *Chunk, rows *bitmap.Bitmap) bool) {
	q.update()
	shared := q.resolveSharedFilters()
	for i := range q.matched {
		m := &q.matched[i]
		for _, c := range m.arch.chunks {
			if c.count == 0 || !q.passes(c, shared) {
				continue
			}
			rows := m.rows(c)
			if rows != nil && rows.Count() == 0 {
				continue
			}
			if !fn(c, rows) {
				return
			}
		}
	}
}

// MatchingArchetypes returns the archetypes q matches.
func (q *EntityQuery) MatchingArchetypes() []*Archetype {
	q.update()
	out := make([]*Archetype, len(q.matched))
	for i, m := range q.matched {
		out[i] = m.arch
	}
	return out
}

// ToArchetypeChunkArray returns the chunks holding at least one matching row. The list is a
// snapshot valid until the next structural change.
func (q *EntityQuery) ToArchetypeChunkArray() []*Chunk {
	var out []*Chunk
	q.each(func(c *Chunk, _ *bitmap.Bitmap) bool {
		out = append(out, c)
		return true
	})
	return out
}

// ToEntityArray returns every matching entity, chunk by chunk in row order.
func (q *EntityQuery) ToEntityArray() []Entity {
	var out []Entity
	q.each(func(c *Chunk, rows *bitmap.Bitmap) bool {
		if rows == nil {
			out = append(out, c.Entities()...)
			return true
		}
		rows.Range(func(row uint32) {
			out = append(out, c.entities[row])
		})
		return true
	})
	return out
}

// CalculateEntityCount returns the number of matching entities.
func (q *EntityQuery) CalculateEntityCount() int {
	n := 0
	q.each(func(c *Chunk, rows *bitmap.Bitmap) bool {
		if rows == nil {
			n += c.count
		} else {
			n += rows.Count()
		}
		return true
	})
	return n
}

// CalculateChunkCount returns the number of chunks holding matching entities.
func (q *EntityQuery) CalculateChunkCount() int {
	n := 0
	q.each(func(*Chunk, *bitmap.Bitmap) bool {
		n++
		return true
	})
	return n
}

// IsEmpty reports whether no entity matches.
func (q *EntityQuery) IsEmpty() bool {
	empty := true
	q.each(func(*Chunk, *bitmap.Bitmap) bool {
		empty = false
		return false
	})
	return empty
}

// Matches reports whether e matches q, filters included.
func (q *EntityQuery) Matches(e Entity) bool {
	c, row, ok := q.world.entities.location(e)
	if !ok {
		return false
	}
	q.update()
	for i := range q.matched {
		m := &q.matched[i]
		if m.arch != c.archetype {
			continue
		}
		if !q.passes(c, q.resolveSharedFilters()) {
			return false
		}
		rows := m.rows(c)
		return rows == nil || rows.Contains(uint32(row)) //nolint:gosec // row < capacity
	}
	return false
}

// ToComponentDataArray returns T for every matching entity, in ToEntityArray order.
func ToComponentDataArray[T any](q *EntityQuery) ([]T, error) {
	t, err := componentIndex[T](q.world)
	if err != nil {
		return nil, err
	}
	if !q.requires(t) {
		return nil, eris.Wrapf(ErrInvalidQuery, "%s is not required by the query", q.world.registry.info(t).Name)
	}
	var out []T
	q.each(func(c *Chunk, rows *bitmap.Bitmap) bool {
		if t.IsZeroSized() {
			n := c.count
			if rows != nil {
				n = rows.Count()
			}
			out = append(out, make([]T, n)...)
			return true
		}
		values := c.columns[c.archetype.columnPos(t)].(*column[T]).data //nolint:errcheck // built for T
		if rows == nil {
			out = append(out, values[:c.count]...)
			return true
		}
		rows.Range(func(row uint32) {
			out = append(out, values[row])
		})
		return true
	})
	return out, nil
}

// Chunks iterates the matching chunks. Structural changes fail with ErrIterationInProgress
// until the loop ends.
func (q *EntityQuery) Chunks() iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		q.world.iterating++
		defer func() { q.world.iterating-- }()
		q.each(func(c *Chunk, _ *bitmap.Bitmap) bool {
			return yield(c)
		})
	}
}

// Entities iterates the matching entities along with their chunk and row. Structural changes fail
// with ErrIterationInProgress until the loop ends.
func (q *EntityQuery) Entities() iter.Seq2[Entity, RowRef] {
	return func(yield func(Entity, RowRef) bool) {
		q.world.iterating++
		defer func() { q.world.iterating-- }()
		q.each(func(c *Chunk, rows *bitmap.Bitmap) bool {
			if rows == nil {
				for row := range c.count {
					if !yield(c.entities[row], RowRef{Chunk: c, Row: row}) {
						return false
					}
				}
				return true
			}
			cont := true
			rows.Range(func(row uint32) {
				if cont {
					cont = yield(c.entities[row], RowRef{Chunk: c, Row: int(row)})
				}
			})
			return cont
		})
	}
}

// RowRef locates an entity during iteration.
type RowRef struct {
	Chunk *Chunk
	Row   int
}
