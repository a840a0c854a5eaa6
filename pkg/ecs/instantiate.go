package ecs

import (
	"github.com/rotisserie/eris"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// Instantiate clones src. Cleanup components and the Prefab tag are not copied. When src is the
// root of a LinkedEntityGroup the whole group is cloned as a unit, and references between group
// members are rewritten to point at the clones. References to entities outside the group are
// kept as they are.
//
// With OmitLinkedEntityGroupFromPrefabInstance on a group root, the instance root gets neither the
// LinkedEntityGroup buffer nor the tag. A root without the buffer keeps the tag.
func (w *World) Instantiate(src Entity) (Entity, error) {
	roots, err := w.InstantiateN(src, 1)
	if err != nil {
		return Null, err
	}
	return roots[0], nil
}

// InstantiateN clones src count times and returns the clones of src.
func (w *World) InstantiateN(src Entity, count int) ([]Entity, error) {
	if count < 0 || count > maxBatchCount {
		return nil, eris.Wrapf(ErrInvalidArgument, "instance count %d", count)
	}
	c, row, ok := w.entities.location(src)
	if !ok {
		return nil, eris.Wrapf(ErrEntityNotFound, "%v", src)
	}
	if c.archetype.pendingCleanup {
		return nil, eris.Wrapf(ErrInstantiateCleanup, "%v", src)
	}

	group := []Entity{src}
	if c.archetype.hasLinkedGroup {
		seen := map[Entity]struct{}{src: {}}
		for _, member := range w.linkedGroup(c, row) {
			if _, dup := seen[member]; dup || member.IsNull() {
				continue
			}
			mc, _, ok := w.entities.location(member)
			if !ok {
				return nil, eris.Wrapf(ErrEntityNotFound, "linked entity group member %v of %v", member, src)
			}
			if mc.archetype.pendingCleanup {
				return nil, eris.Wrapf(ErrInstantiateCleanup, "linked entity group member %v", member)
			}
			seen[member] = struct{}{}
			group = append(group, member)
		}
	}

	if err := w.beginImplicit(); err != nil {
		return nil, err
	}
	defer w.endImplicit()

	roots := make([]Entity, 0, count)
	for range count {
		clones, err := w.cloneSet(group, w.instantiateArchetypeOf)
		if err != nil {
			return roots, err
		}
		roots = append(roots, clones[0])
	}
	return roots, nil
}

// CopyEntities clones every entity in srcs as is, Prefab included. LinkedEntityGroup membership is
// not expanded. References to entities in srcs are rewritten to point at their copies, all other
// references are kept. The copies are returned in the order of srcs.
func (w *World) CopyEntities(srcs []Entity) ([]Entity, error) {
	seen := make(map[Entity]struct{}, len(srcs))
	for _, e := range srcs {
		c, _, ok := w.entities.location(e)
		if !ok {
			return nil, eris.Wrapf(ErrEntityNotFound, "%v", e)
		}
		if c.archetype.pendingCleanup {
			return nil, eris.Wrapf(ErrInstantiateCleanup, "%v", e)
		}
		if _, dup := seen[e]; dup {
			return nil, eris.Wrapf(ErrInvalidArgument, "%v listed twice", e)
		}
		seen[e] = struct{}{}
	}

	if err := w.beginImplicit(); err != nil {
		return nil, err
	}
	defer w.endImplicit()
	return w.cloneSet(srcs, w.copyArchetypeOf)
}

// cloneSet clones every entity of set into the archetype target picks for it, then rewrites
// references between members of set.
func (w *World) cloneSet(set []Entity, target func(*Archetype) *Archetype) ([]Entity, error) {
	clones := make([]Entity, 0, len(set))
	remap := make(map[Entity]Entity, len(set))
	for _, src := range set {
		c, row, _ := w.entities.location(src)
		e, err := w.cloneRow(c, row, target(c.archetype))
		if err != nil {
			return clones, err
		}
		clones = append(clones, e)
		remap[src] = e
	}

	fn := func(e Entity) Entity {
		if clone, ok := remap[e]; ok {
			return clone
		}
		return e
	}
	for _, e := range clones {
		c, row, _ := w.entities.location(e)
		w.remapRow(c, row, fn)
	}
	return clones, nil
}

// cloneRow creates a new entity in dst holding deep copies of the values at row of src.
func (w *World) cloneRow(src *Chunk, row int, dst *Archetype) (Entity, error) {
	e, ok := w.entities.alloc()
	if !ok {
		return Null, ErrEntityLimit
	}
	key := remapSharedKey(src.archetype, src.sharedKey, dst)
	dstChunk, created := dst.chunkWithSpace(key)
	dstRow := dstChunk.addRow(e)
	dst.rowAdded(dstChunk)
	w.entities.setLocation(e, dstChunk, dstRow)

	copyRow(src, row, dstChunk, dstRow, true)
	if created {
		copyChunkValues(src, dstChunk)
	}
	dstChunk.stampAll(w.globalVersion)
	w.touch(dstChunk)
	w.batch.counts.Created++
	return e, nil
}

// remapRow rewrites the entity references held by row.
func (w *World) remapRow(c *Chunk, row int, fn func(Entity) Entity) {
	for i, t := range c.archetype.columnTypes {
		if t.HasEntityReferences() {
			c.columns[i].remapRow(row, fn)
		}
	}
}

// instantiateArchetypeOf returns the archetype instances of arch are created in.
func (w *World) instantiateArchetypeOf(arch *Archetype) *Archetype {
	if arch.instantiateArchetype == nil {
		b := &w.registry.builtins
		omit := arch.hasLinkedGroup && arch.Has(b.omitLinkedGroup)
		arch.instantiateArchetype = w.filteredArchetype(arch, func(t TypeIndex) bool {
			switch {
			case t.IsCleanup(), t == b.prefab:
				return false
			case omit && (t == b.linkedEntityGroup || t == b.omitLinkedGroup):
				return false
			}
			return true
		})
	}
	return arch.instantiateArchetype
}

// copyArchetypeOf returns the archetype CopyEntities creates copies of arch in.
func (w *World) copyArchetypeOf(arch *Archetype) *Archetype {
	if arch.copyArchetype == nil {
		arch.copyArchetype = w.filteredArchetype(arch, func(t TypeIndex) bool { return !t.IsCleanup() })
	}
	return arch.copyArchetype
}

func (w *World) filteredArchetype(arch *Archetype, keep func(TypeIndex) bool) *Archetype {
	types := make([]TypeIndex, 0, len(arch.types))
	for _, t := range arch.types[1:] {
		if keep(t) {
			types = append(types, t)
		}
	}
	dst, err := w.archetypeFor(types)
	assert.That(err == nil, "a subset of archetype %d failed to build: %v", arch.id, err)
	return dst
}
