package ecs

import (
	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// snapshotFormat is bumped whenever the encoded layout changes incompatibly.
const snapshotFormat = 1

type worldSnapshot struct {
	Format        int              `msgpack:"format"`
	GlobalVersion uint32           `msgpack:"global_version"`
	Entities      []entitySnapshot `msgpack:"entities"`
}

type entitySnapshot struct {
	Index      int32             `msgpack:"index"`
	Version    int32             `msgpack:"version"`
	ChunkID    uint64            `msgpack:"chunk_id"` // Sequence of the chunk the entity lived in
	Components map[string][]byte `msgpack:"components"`
	Tags       []string          `msgpack:"tags"`
	Shared     map[string][]byte `msgpack:"shared"`
	Chunk      map[string][]byte `msgpack:"chunk"`
	ChunkTags  []string          `msgpack:"chunk_tags"`
	Disabled   []string          `msgpack:"disabled"`
}

// Serialize encodes every existing entity, pending cleanup included, in index order. Component
// values are keyed by component name, so the reading world needs the same names registered, not
// the same TypeIndex values.
func (w *World) Serialize() ([]byte, error) {
	if n := w.jobs.outstanding(); n > 0 {
		return nil, eris.Wrapf(ErrJobsOutstanding, "%d jobs still running", n)
	}

	snap := worldSnapshot{
		Format:        snapshotFormat,
		GlobalVersion: w.globalVersion,
		Entities:      make([]entitySnapshot, 0, w.entities.live),
	}
	for _, e := range w.GetAllEntities() {
		c, row, _ := w.entities.location(e)
		es, err := w.snapshotEntity(e, c, row)
		if err != nil {
			return nil, err
		}
		snap.Entities = append(snap.Entities, es)
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode world")
	}
	return data, nil
}

func (w *World) snapshotEntity(e Entity, c *Chunk, row int) (entitySnapshot, error) {
	arch := c.archetype
	es := entitySnapshot{Index: e.Index, Version: e.Version, ChunkID: c.sequence}

	for i, t := range arch.types {
		info := w.registry.info(t)
		switch {
		case t.Kind() == KindEntity:
		case t.IsChunkComponent():
			values := c.chunkValues[arch.chunkOf[i]]
			if values == nil {
				es.ChunkTags = append(es.ChunkTags, info.Name)
				continue
			}
			data, err := values.encodeRow(0)
			if err != nil {
				return es, eris.Wrapf(err, "chunk component %s", info.Name)
			}
			es.Chunk = setBytes(es.Chunk, info.Name, data)
		case t.IsShared():
			data, err := info.encode(w.shared.value(info, c.sharedKey[arch.sharedOf[i]]))
			if err != nil {
				return es, eris.Wrapf(err, "shared component %s", info.Name)
			}
			es.Shared = setBytes(es.Shared, info.Name, data)
		case arch.columnOf[i] >= 0:
			data, err := c.columns[arch.columnOf[i]].encodeRow(row)
			if err != nil {
				return es, eris.Wrapf(err, "component %s of %v", info.Name, e)
			}
			es.Components = setBytes(es.Components, info.Name, data)
		default:
			es.Tags = append(es.Tags, info.Name)
		}
		if pos := arch.enableableOf[i]; pos >= 0 && !c.enabled[pos].Contains(uint32(row)) { //nolint:gosec // row < capacity
			es.Disabled = append(es.Disabled, info.Name)
		}
	}
	return es, nil
}

func setBytes(m map[string][]byte, key string, value []byte) map[string][]byte {
	if m == nil {
		m = make(map[string][]byte)
	}
	m[key] = value
	return m
}

// restorePlan is one decoded entity, ready to be placed.
type restorePlan struct {
	old       Entity
	fromChunk uint64
	arch      *Archetype
	columns   map[TypeIndex]any
	shared    map[*TypeInfo]any
	chunk     map[TypeIndex]any
	disabled  []TypeIndex
	placed    Entity
	placedRow int
	chunkRef  *Chunk
}

// Deserialize loads data produced by Serialize into w, which must hold no entities. Entities get
// fresh handles and every entity reference inside component values is rewritten to the new
// handles. References to entities that weren't part of the snapshot become Null.
//
// Entities that shared a chunk are restored into a chunk of their own, so chunk component values
// survive. Everything is decoded before the first entity is created, so a malformed snapshot
// leaves w empty.
func (w *World) Deserialize(data []byte) error {
	if w.entities.live != 0 {
		return eris.Wrapf(ErrWorldNotEmpty, "%d entities", w.entities.live)
	}

	var snap worldSnapshot
	if err := decodeInto(data, &snap); err != nil {
		return eris.Wrap(err, "failed to decode world")
	}
	if snap.Format != snapshotFormat {
		return eris.Wrapf(ErrInvalidArgument, "unsupported snapshot format %d", snap.Format)
	}

	plans := make([]restorePlan, len(snap.Entities))
	for i := range snap.Entities {
		plan, err := w.planEntity(&snap.Entities[i])
		if err != nil {
			return err
		}
		plans[i] = plan
	}

	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	remap := make(map[Entity]Entity, len(plans))
	chunks := make(map[uint64]*Chunk)
	for i := range plans {
		if err := w.placePlan(&plans[i], chunks); err != nil {
			return err
		}
		remap[plans[i].old] = plans[i].placed
	}

	fn := func(e Entity) Entity {
		if e.IsNull() {
			return Null
		}
		if n, ok := remap[e]; ok {
			return n
		}
		return Null
	}
	remapped := make(map[*Chunk]struct{})
	for i := range plans {
		p := &plans[i]
		w.remapRow(p.chunkRef, p.placedRow, fn)
		if _, done := remapped[p.chunkRef]; !done {
			remapped[p.chunkRef] = struct{}{}
			for j, t := range p.arch.chunkTypes {
				if col := p.chunkRef.chunkValues[j]; col != nil && t.HasEntityReferences() {
					col.remapRow(0, fn)
				}
			}
		}
	}

	if DidChange(snap.GlobalVersion, w.globalVersion) {
		w.globalVersion = snap.GlobalVersion
	}
	w.logger.Info().Int("entities", len(plans)).Uint32("version", w.globalVersion).Msg("world restored")
	return nil
}

func (w *World) lookupType(name string) (*TypeInfo, error) {
	t, ok := w.registry.Lookup(name)
	if !ok {
		return nil, eris.Wrapf(ErrTypeNotRegistered, "component %q", name)
	}
	return w.registry.info(t), nil
}

func (w *World) planEntity(es *entitySnapshot) (restorePlan, error) {
	plan := restorePlan{
		old:       Entity{Index: es.Index, Version: es.Version},
		fromChunk: es.ChunkID,
		columns:   make(map[TypeIndex]any, len(es.Components)),
		shared:    make(map[*TypeInfo]any, len(es.Shared)),
		chunk:     make(map[TypeIndex]any, len(es.Chunk)),
	}
	types := make([]TypeIndex, 0, len(es.Components)+len(es.Tags)+len(es.Shared)+len(es.Chunk)+len(es.ChunkTags))

	for name, data := range es.Components {
		info, err := w.lookupType(name)
		if err != nil {
			return plan, err
		}
		v, err := info.decode(data)
		if err != nil {
			return plan, eris.Wrapf(err, "component %s of %v", name, plan.old)
		}
		plan.columns[info.Index] = v
		types = append(types, info.Index)
	}
	for _, name := range es.Tags {
		info, err := w.lookupType(name)
		if err != nil {
			return plan, err
		}
		types = append(types, info.Index)
	}
	for name, data := range es.Shared {
		info, err := w.lookupType(name)
		if err != nil {
			return plan, err
		}
		if !info.Index.IsShared() {
			return plan, eris.Wrapf(ErrWrongKind, "%s is not a shared component", name)
		}
		v, err := info.decode(data)
		if err != nil {
			return plan, eris.Wrapf(err, "shared component %s of %v", name, plan.old)
		}
		plan.shared[info] = v
		types = append(types, info.Index)
	}
	for name, data := range es.Chunk {
		info, err := w.lookupType(name)
		if err != nil {
			return plan, err
		}
		v, err := info.decode(data)
		if err != nil {
			return plan, eris.Wrapf(err, "chunk component %s of %v", name, plan.old)
		}
		plan.chunk[info.Index.AsChunkComponent()] = v
		types = append(types, info.Index.AsChunkComponent())
	}
	for _, name := range es.ChunkTags {
		info, err := w.lookupType(name)
		if err != nil {
			return plan, err
		}
		types = append(types, info.Index.AsChunkComponent())
	}
	for _, name := range es.Disabled {
		info, err := w.lookupType(name)
		if err != nil {
			return plan, err
		}
		plan.disabled = append(plan.disabled, info.Index)
	}

	arch, err := w.archetypeFor(types)
	if err != nil {
		return plan, eris.Wrapf(err, "archetype of %v", plan.old)
	}
	plan.arch = arch
	return plan, nil
}

// placePlan creates the entity of p in the chunk restored for its source chunk. chunks maps source
// chunk sequences to the chunk that currently receives their rows.
func (w *World) placePlan(p *restorePlan, chunks map[uint64]*Chunk) error {
	e, ok := w.entities.alloc()
	if !ok {
		return ErrEntityLimit
	}

	var key sharedKey
	refs := make([]SharedIndex, 0, len(p.shared))
	for info, v := range p.shared {
		idx := w.shared.getOrAdd(info, v)
		refs = append(refs, idx)
		key[p.arch.sharedPos(info.Index)] = idx
	}
	c := chunks[p.fromChunk]
	if c == nil || c.Full() || c.archetype != p.arch || c.sharedKey != key {
		// A smaller chunk size in w can split a source chunk in several.
		c = p.arch.openChunk(key)
		chunks[p.fromChunk] = c
	}
	row := c.addRow(e)
	p.arch.rowAdded(c)
	w.entities.setLocation(e, c, row)
	w.touch(c)
	for _, idx := range refs {
		w.shared.release(idx)
	}
	c.stampAll(w.globalVersion)

	for t, v := range p.columns {
		if err := c.columns[p.arch.columnPos(t)].setAbstract(row, v); err != nil {
			return err
		}
	}
	for t, v := range p.chunk {
		if col := c.chunkValues[p.arch.chunkPos(t)]; col != nil {
			if err := col.setAbstract(0, v); err != nil {
				return err
			}
		}
	}
	for _, t := range p.disabled {
		if pos := p.arch.enableablePos(t); pos >= 0 {
			c.setEnabled(pos, row, false)
		}
	}

	p.placed, p.placedRow, p.chunkRef = e, row, c
	w.batch.counts.Created++
	return nil
}
