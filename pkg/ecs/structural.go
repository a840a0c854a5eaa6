package ecs

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// CreateArchetype returns the archetype holding exactly types (plus the implied Entity type),
// creating it on first use. Any order of the same types returns the same archetype.
func (w *World) CreateArchetype(types ...TypeIndex) (*Archetype, error) {
	return w.archetypeFor(types)
}

// CreateEntity creates one entity in arch with zeroed components.
func (w *World) CreateEntity(arch *Archetype) (Entity, error) {
	entities, err := w.CreateEntities(arch, 1)
	if err != nil {
		return Null, err
	}
	return entities[0], nil
}

// CreateEntityWith creates one entity holding types.
func (w *World) CreateEntityWith(types ...TypeIndex) (Entity, error) {
	arch, err := w.archetypeFor(types)
	if err != nil {
		return Null, err
	}
	return w.CreateEntity(arch)
}

// CreateEntities creates count entities in arch. On a fresh entity index they get increasing
// indices in creation order. Every component of the new rows is stamped with the current global
// version.
func (w *World) CreateEntities(arch *Archetype, count int) ([]Entity, error) {
	if err := w.checkArchetype(arch); err != nil {
		return nil, err
	}
	if count < 0 || count > maxBatchCount {
		return nil, eris.Wrapf(ErrInvalidArgument, "entity count %d", count)
	}
	if arch.pendingCleanup {
		return nil, eris.Wrap(ErrWrongKind, "entities cannot be created pending cleanup")
	}
	if err := w.beginImplicit(); err != nil {
		return nil, err
	}
	defer w.endImplicit()

	out := make([]Entity, 0, count)
	for range count {
		e, ok := w.entities.alloc()
		if !ok {
			return out, eris.Wrapf(ErrEntityLimit, "created %d of %d entities", len(out), count)
		}
		c, _ := w.placeRow(e, arch, sharedKey{})
		c.stampAll(w.globalVersion)
		w.batch.counts.Created++
		out = append(out, e)
	}
	return out, nil
}

func (w *World) checkArchetype(arch *Archetype) error {
	if arch == nil {
		return eris.Wrap(ErrInvalidArgument, "nil archetype")
	}
	if arch.world != w {
		return eris.Wrapf(ErrWorldMismatch, "archetype %d", arch.id)
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// Add / remove
// -------------------------------------------------------------------------------------------------

// AddComponent adds t to e, moving it to the matching archetype. Adding a type e already has is a
// no-op that keeps the current value.
func (w *World) AddComponent(e Entity, t TypeIndex) error {
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()
	return w.addComponentLocked(e, t)
}

// AddComponents adds every type in types to e with a single move.
func (w *World) AddComponents(e Entity, types ...TypeIndex) error {
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	src, row, ok := w.entities.location(e)
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	arch := src.archetype
	missing := make([]TypeIndex, 0, len(types))
	for _, t := range types {
		if err := w.checkAddable(arch, t); err != nil {
			return err
		}
		if !arch.Has(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	dst, err := w.archetypeFor(append(slices.Clone(arch.types[1:]), missing...))
	if err != nil {
		return err
	}
	w.moveEntity(e, src, row, dst, remapSharedKey(arch, src.sharedKey, dst))
	return nil
}

func (w *World) addComponentLocked(e Entity, t TypeIndex) error {
	src, row, ok := w.entities.location(e)
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	arch := src.archetype
	if err := w.checkAddable(arch, t); err != nil {
		return err
	}
	if arch.Has(t) {
		return nil
	}

	dst, err := w.archetypeWith(arch, t)
	if err != nil {
		return err
	}
	w.moveEntity(e, src, row, dst, remapSharedKey(arch, src.sharedKey, dst))
	return nil
}

func (w *World) checkAddable(arch *Archetype, t TypeIndex) error {
	info, err := w.registry.Info(t)
	if err != nil {
		return err
	}
	if t.WithoutChunkFlag().ID() == w.registry.builtins.cleanupEntity.ID() {
		return eris.Wrap(ErrWrongKind, "CleanupEntity is managed by the world")
	}
	if arch.Has(t) {
		return nil
	}
	if arch.pendingCleanup && !t.IsCleanup() {
		return eris.Wrapf(ErrEntityPendingCleanup, "cannot add %s", info.Name)
	}
	return nil
}

// RemoveComponent removes t from e. It reports whether e had t. Removing the last cleanup
// component of an entity pending cleanup destroys it for good.
func (w *World) RemoveComponent(e Entity, t TypeIndex) (bool, error) {
	if t.IsNull() {
		return false, ErrNullComponentType
	}
	if t.ID() == w.registry.builtins.entity.ID() {
		return false, ErrRemoveEntityType
	}
	if t.WithoutChunkFlag().ID() == w.registry.builtins.cleanupEntity.ID() {
		return false, eris.Wrap(ErrWrongKind, "CleanupEntity is managed by the world")
	}
	if err := w.beginImplicit(); err != nil {
		return false, err
	}
	defer w.endImplicit()
	return w.removeComponentLocked(e, t)
}

func (w *World) removeComponentLocked(e Entity, t TypeIndex) (bool, error) {
	src, row, ok := w.entities.location(e)
	if !ok {
		return false, eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	arch := src.archetype
	if !arch.Has(t) {
		return false, nil
	}

	dst, err := w.archetypeWithout(arch, t)
	if err != nil {
		return false, err
	}
	if arch.pendingCleanup && !dst.hasCleanup {
		w.deleteRow(e, src, row)
		return true, nil
	}
	w.moveEntity(e, src, row, dst, remapSharedKey(arch, src.sharedKey, dst))
	return true, nil
}

// AddComponentToQuery adds t to every entity matching q.
func (w *World) AddComponentToQuery(q *EntityQuery, t TypeIndex) error {
	if err := w.checkQuery(q); err != nil {
		return err
	}
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	for _, e := range q.ToEntityArray() {
		if err := w.addComponentLocked(e, t); err != nil {
			return err
		}
	}
	return nil
}

// RemoveComponentFromQuery removes t from every entity matching q.
func (w *World) RemoveComponentFromQuery(q *EntityQuery, t TypeIndex) error {
	if err := w.checkQuery(q); err != nil {
		return err
	}
	if t.ID() == w.registry.builtins.entity.ID() {
		return ErrRemoveEntityType
	}
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	for _, e := range q.ToEntityArray() {
		if _, err := w.removeComponentLocked(e, t); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) checkQuery(q *EntityQuery) error {
	if q == nil {
		return eris.Wrap(ErrInvalidArgument, "nil query")
	}
	if q.world != w {
		return ErrWorldMismatch
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// Destroy
// -------------------------------------------------------------------------------------------------

// DestroyEntity destroys every given entity. Entities holding cleanup components stay alive,
// stripped down to those components, until the last of them is removed. Destroying an entity that
// is already pending cleanup is a no-op. Destroying the root of a LinkedEntityGroup destroys the
// whole group.
//
// Every handle is checked before anything is destroyed, so a stale handle leaves the world as is.
func (w *World) DestroyEntity(entities ...Entity) error {
	for _, e := range entities {
		if !w.entities.exists(e) {
			return eris.Wrapf(ErrEntityNotFound, "%v", e)
		}
	}
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	for _, e := range entities {
		w.destroyLocked(e)
	}
	return nil
}

// DestroyEntitiesInQuery destroys every entity matching q.
func (w *World) DestroyEntitiesInQuery(q *EntityQuery) error {
	if err := w.checkQuery(q); err != nil {
		return err
	}
	return w.DestroyEntity(q.ToEntityArray()...)
}

func (w *World) destroyLocked(e Entity) {
	c, row, ok := w.entities.location(e)
	if !ok {
		// Already destroyed as part of a group.
		return
	}
	arch := c.archetype
	if arch.pendingCleanup {
		return
	}

	var group []Entity
	if arch.hasLinkedGroup {
		group = slices.Clone(w.linkedGroup(c, row))
	}

	if arch.hasCleanup {
		dst := w.cleanupArchetypeOf(arch)
		w.moveEntity(e, c, row, dst, remapSharedKey(arch, c.sharedKey, dst))
		w.batch.counts.Destroyed++
	} else {
		w.deleteRow(e, c, row)
	}

	for _, member := range group {
		if member != e {
			w.destroyLocked(member)
		}
	}
}

// linkedGroup returns the LinkedEntityGroup members stored at row. The slice aliases the buffer.
func (w *World) linkedGroup(c *Chunk, row int) []Entity {
	col := c.archetype.columnPos(w.registry.builtins.linkedEntityGroup)
	if col < 0 {
		return nil
	}
	buf := c.columns[col].(*column[[]LinkedEntityGroup]).data[row] //nolint:errcheck // built-in type
	out := make([]Entity, len(buf))
	for i, m := range buf {
		out[i] = m.Value
	}
	return out
}

// cleanupArchetypeOf returns the archetype a destroyed entity of arch moves to: its cleanup types
// plus the CleanupEntity tag.
func (w *World) cleanupArchetypeOf(arch *Archetype) *Archetype {
	if arch.cleanupArchetype != nil {
		return arch.cleanupArchetype
	}
	types := []TypeIndex{w.registry.builtins.cleanupEntity}
	for _, t := range arch.types[1:] {
		if t.IsCleanup() {
			types = append(types, t)
		}
	}
	dst, err := w.archetypeFor(types)
	// A subset of an existing archetype always fits in a chunk.
	assert.That(err == nil, "building the cleanup archetype: %v", err)
	arch.cleanupArchetype = dst
	return dst
}

// -------------------------------------------------------------------------------------------------
// Shared components
// -------------------------------------------------------------------------------------------------

func (w *World) setShared(e Entity, info *TypeInfo, value any, add bool) error {
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()
	return w.setSharedLocked(e, info, value, add)
}

// setSharedLocked gives e the shared value of info's type, adding the type when add is set.
func (w *World) setSharedLocked(e Entity, info *TypeInfo, value any, add bool) error {
	src, row, ok := w.entities.location(e)
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	arch := src.archetype
	t := info.Index

	dst := arch
	if arch.sharedPos(t) < 0 {
		if !add {
			return eris.Wrapf(ErrComponentNotPresent, "%v has no %s", e, info.Name)
		}
		if err := w.checkAddable(arch, t); err != nil {
			return err
		}
		next, err := w.archetypeWith(arch, t)
		if err != nil {
			return err
		}
		dst = next
	}

	idx := w.shared.getOrAdd(info, value)
	defer w.shared.release(idx)

	key := remapSharedKey(arch, src.sharedKey, dst)
	pos := dst.sharedPos(t)
	if dst == arch && key[pos] == idx {
		return nil
	}
	key[pos] = idx
	w.moveEntity(e, src, row, dst, key)
	return nil
}

// -------------------------------------------------------------------------------------------------
// Enableable components
// -------------------------------------------------------------------------------------------------

// SetComponentEnabled toggles an enableable component of e. It isn't a structural change: the
// entity keeps its chunk and row. The component's change version is stamped.
func (w *World) SetComponentEnabled(e Entity, t TypeIndex, enabled bool) error {
	if !t.IsEnableable() {
		return eris.Wrapf(ErrNotEnableable, "type id %d", t.ID())
	}
	c, row, ok := w.entities.location(e)
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	pos := c.archetype.enableablePos(t)
	if pos < 0 {
		info, err := w.registry.Info(t)
		if err != nil {
			return err
		}
		return eris.Wrapf(ErrComponentNotPresent, "%v has no %s", e, info.Name)
	}
	c.setEnabled(pos, row, enabled)
	c.changeVersions[c.archetype.typePos(t)] = w.globalVersion
	return nil
}

// IsComponentEnabled reports whether e has t enabled. Present non-enableable types are always
// enabled.
func (w *World) IsComponentEnabled(e Entity, t TypeIndex) (bool, error) {
	c, row, ok := w.entities.location(e)
	if !ok {
		return false, eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	if !c.archetype.Has(t) {
		info, err := w.registry.Info(t)
		if err != nil {
			return false, err
		}
		return false, eris.Wrapf(ErrComponentNotPresent, "%v has no %s", e, info.Name)
	}
	return c.IsComponentEnabled(t, row), nil
}

// -------------------------------------------------------------------------------------------------
// Row movement
// -------------------------------------------------------------------------------------------------

// placeRow puts the allocated entity e into a chunk of arch holding the shared values of key.
func (w *World) placeRow(e Entity, arch *Archetype, key sharedKey) (*Chunk, int) {
	c, _ := arch.chunkWithSpace(key)
	row := c.addRow(e)
	arch.rowAdded(c)
	w.entities.setLocation(e, c, row)
	w.touch(c)
	return c, row
}

// moveEntity moves e from row of src into a chunk of dst holding the shared values of key. Columns
// both archetypes hold keep their values, new columns start zeroed. The destination chunk has all
// its change versions stamped since its columns were written. The source only changes order.
func (w *World) moveEntity(e Entity, src *Chunk, srcRow int, dst *Archetype, key sharedKey) (*Chunk, int) {
	dstChunk, created := dst.chunkWithSpace(key)
	dstRow := dstChunk.addRow(e)
	dst.rowAdded(dstChunk)

	copyRow(src, srcRow, dstChunk, dstRow, false)
	if created {
		copyChunkValues(src, dstChunk)
	}
	dstChunk.stampAll(w.globalVersion)

	if moved, ok := src.removeRow(srcRow); ok {
		w.entities.setLocation(moved, src, srcRow)
	}
	src.archetype.rowRemoved(src)
	w.entities.setLocation(e, dstChunk, dstRow)

	w.touch(src)
	w.touch(dstChunk)
	w.batch.counts.Moved++
	return dstChunk, dstRow
}

// deleteRow removes e's row and frees its index.
func (w *World) deleteRow(e Entity, c *Chunk, row int) {
	if moved, ok := c.removeRow(row); ok {
		w.entities.setLocation(moved, c, row)
	}
	c.archetype.rowRemoved(c)
	w.entities.release(e)
	w.touch(c)
	w.batch.counts.Destroyed++
}

// copyRow copies every column and enabled bit src and dst have in common. deep clones values that
// own heap memory, as instantiation needs. Moves can hand the memory over.
func copyRow(src *Chunk, srcRow int, dst *Chunk, dstRow int, deep bool) {
	srcArch, dstArch := src.archetype, dst.archetype
	for i, t := range dstArch.columnTypes {
		j := srcArch.columnPos(t)
		if j < 0 {
			continue
		}
		if deep {
			src.columns[j].cloneRow(dst.columns[i], srcRow, dstRow)
		} else {
			src.columns[j].moveRow(dst.columns[i], srcRow, dstRow)
		}
	}
	for i, t := range dstArch.enableableTypes {
		if j := srcArch.enableablePos(t); j >= 0 {
			dst.setEnabled(i, dstRow, src.enabled[j].Contains(uint32(srcRow))) //nolint:gosec // row < capacity
		}
	}
}

// copyChunkValues seeds a new chunk's chunk components from the chunk its first row came from.
func copyChunkValues(src, dst *Chunk) {
	for i, t := range dst.archetype.chunkTypes {
		if dst.chunkValues[i] == nil {
			continue
		}
		if j := src.archetype.chunkPos(t); j >= 0 && src.chunkValues[j] != nil {
			src.chunkValues[j].cloneRow(dst.chunkValues[i], 0, 0)
		}
	}
}

// remapSharedKey carries the shared values of key, laid out for src, over to dst's layout. Shared
// types dst has but src lacks get the default value.
func remapSharedKey(src *Archetype, key sharedKey, dst *Archetype) sharedKey {
	if src == dst {
		return key
	}
	var out sharedKey
	for i, t := range dst.sharedTypes {
		if j := src.sharedPos(t); j >= 0 {
			out[i] = key[j]
		}
	}
	return out
}

// archetypeWith follows, or builds, the edge from arch that adds t.
func (w *World) archetypeWith(arch *Archetype, t TypeIndex) (*Archetype, error) {
	if next, ok := arch.addEdges[t]; ok {
		return next, nil
	}
	next, err := w.archetypeFor(append(slices.Clone(arch.types[1:]), t))
	if err != nil {
		return nil, err
	}
	arch.addEdges[t] = next
	return next, nil
}

// archetypeWithout follows, or builds, the edge from arch that removes t.
func (w *World) archetypeWithout(arch *Archetype, t TypeIndex) (*Archetype, error) {
	if next, ok := arch.removeEdges[t]; ok {
		return next, nil
	}
	types := make([]TypeIndex, 0, len(arch.types)-1)
	for _, other := range arch.types[1:] {
		if other.bit() != t.bit() {
			types = append(types, other)
		}
	}
	next, err := w.archetypeFor(types)
	if err != nil {
		return nil, err
	}
	arch.removeEdges[t] = next
	return next, nil
}
