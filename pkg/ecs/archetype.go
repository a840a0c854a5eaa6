package ecs

import (
	"encoding/binary"
	"sort"
	"unsafe"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/chunkstore/pkg/assert"
	"github.com/argus-labs/chunkstore/pkg/log"
)

const entitySize = unsafe.Sizeof(Entity{})

// maxSharedTypes is the number of shared component types a single archetype may hold.
const maxSharedTypes = 8

// maxPooledChunks is how many empty chunks an archetype keeps for reuse. Past that the chunk's
// arena goes back to the world pool.
const maxPooledChunks = 4

// sharedKey holds one shared-store index per shared type of an archetype, in archetype order.
type sharedKey [maxSharedTypes]SharedIndex

// Archetype is the unique set of component types a group of entities has. It never changes once
// created and lives as long as its world.
//
// NOTE: Per-kind position slices (columnOf, sharedOf, ...) are parallel to types so a single
// typePos lookup answers every "where is t" question.
type Archetype struct {
	world *World
	id    int

	types    []TypeIndex   // Canonical order, Entity first
	typeBits bitmap.Bitmap // Bitmap of TypeIndex.bit() for every type

	columnTypes     []TypeIndex
	columnInfos     []*TypeInfo
	columnOf        []int // Parallel to types, -1 when the type has no per-entity column
	sharedTypes     []TypeIndex
	sharedOf        []int
	chunkTypes      []TypeIndex
	chunkOf         []int
	enableableTypes []TypeIndex
	enableableOf    []int
	layout          chunkLayout

	chunks    []*Chunk               // Chunks holding at least one row
	withSpace map[sharedKey][]*Chunk // Chunks with room, per shared value tuple
	pooled    []*Chunk

	entityCount  int
	orderVersion uint32

	prefab         bool
	disabled       bool
	hasCleanup     bool
	pendingCleanup bool
	hasLinkedGroup bool

	// Cached destinations of cleanup destruction and instantiation.
	cleanupArchetype     *Archetype
	instantiateArchetype *Archetype
	copyArchetype        *Archetype

	addEdges    map[TypeIndex]*Archetype
	removeEdges map[TypeIndex]*Archetype
}

// ID is the archetype's position in its world's archetype list.
func (a *Archetype) ID() int { return a.id }

// Types returns the canonical type list, Entity first.
func (a *Archetype) Types() []TypeIndex {
	out := make([]TypeIndex, len(a.types))
	copy(out, a.types)
	return out
}

// TypesCount returns the number of types, Entity included.
func (a *Archetype) TypesCount() int { return len(a.types) }

// ChunkCapacity returns the number of rows in each of the archetype's chunks.
func (a *Archetype) ChunkCapacity() int { return a.layout.capacity }

// ChunkCount returns the number of chunks holding rows.
func (a *Archetype) ChunkCount() int { return len(a.chunks) }

// EntityCount returns the number of entities in the archetype.
func (a *Archetype) EntityCount() int { return a.entityCount }

// OrderVersion increases on every structural change to the archetype's chunks.
func (a *Archetype) OrderVersion() uint32 { return a.orderVersion }

// Has reports whether t is part of the archetype.
func (a *Archetype) Has(t TypeIndex) bool { return a.typePos(t) >= 0 }

// IsPrefab reports whether entities of this archetype are prefabs.
func (a *Archetype) IsPrefab() bool { return a.prefab }

// IsPendingCleanup reports whether entities of this archetype were destroyed and only hold
// cleanup components.
func (a *Archetype) IsPendingCleanup() bool { return a.pendingCleanup }

// Chunks returns a snapshot of the chunks holding rows.
func (a *Archetype) Chunks() []*Chunk {
	out := make([]*Chunk, len(a.chunks))
	copy(out, a.chunks)
	return out
}

// ArenaBytes returns how many bytes of each chunk arena the archetype's layout uses.
func (a *Archetype) ArenaBytes() int { return a.layout.arenaBytes }

// typePos returns the position of t in types, or -1.
func (a *Archetype) typePos(t TypeIndex) int {
	key := t.sortKey()
	i := sort.Search(len(a.types), func(i int) bool { return a.types[i].sortKey() >= key })
	if i < len(a.types) && a.types[i].bit() == t.bit() {
		return i
	}
	return -1
}

func (a *Archetype) columnPos(t TypeIndex) int {
	if pos := a.typePos(t); pos >= 0 {
		return a.columnOf[pos]
	}
	return -1
}

func (a *Archetype) sharedPos(t TypeIndex) int {
	if pos := a.typePos(t); pos >= 0 {
		return a.sharedOf[pos]
	}
	return -1
}

func (a *Archetype) chunkPos(t TypeIndex) int {
	if pos := a.typePos(t.AsChunkComponent()); pos >= 0 {
		return a.chunkOf[pos]
	}
	return -1
}

func (a *Archetype) enableablePos(t TypeIndex) int {
	if pos := a.typePos(t); pos >= 0 {
		return a.enableableOf[pos]
	}
	return -1
}

// contains returns true if the archetype holds every type in the bitmap.
func (a *Archetype) contains(types bitmap.Bitmap) bool {
	intersect := types.Clone(nil)
	intersect.And(a.typeBits)
	return intersect.Count() == types.Count()
}

// intersects returns true if the archetype holds at least one type in the bitmap.
func (a *Archetype) intersects(types bitmap.Bitmap) bool {
	intersect := types.Clone(nil)
	intersect.And(a.typeBits)
	return intersect.Count() > 0
}

// -------------------------------------------------------------------------------------------------
// Chunk management
// -------------------------------------------------------------------------------------------------

// chunkWithSpace returns a chunk with a free row for the given shared values, allocating or
// reusing a pooled one when needed. The second result is true when the chunk is new.
func (a *Archetype) chunkWithSpace(key sharedKey) (*Chunk, bool) {
	if list := a.withSpace[key]; len(list) > 0 {
		return list[len(list)-1], false
	}
	return a.openChunk(key), true
}

// openChunk attaches an empty chunk for the given shared values, reusing a pooled one if any.
func (a *Archetype) openChunk(key sharedKey) *Chunk {
	var c *Chunk
	if n := len(a.pooled); n > 0 {
		c = a.pooled[n-1]
		a.pooled[n-1] = nil
		a.pooled = a.pooled[:n-1]
		log.Chunk(&a.world.logger, zerolog.TraceLevel, a.id, c.sequence, true)
	} else {
		a.world.chunkSequence++
		c = newChunk(a, a.world.pool.get(a.layout.arenaBytes), a.world.chunkSequence)
		log.Chunk(&a.world.logger, zerolog.TraceLevel, a.id, c.sequence, false)
	}

	c.sharedKey = key
	for i := range a.sharedTypes {
		a.world.shared.retain(key[i])
	}
	c.listIndex = len(a.chunks)
	a.chunks = append(a.chunks, c)
	a.addToSpace(c)
	return c
}

func (a *Archetype) addToSpace(c *Chunk) {
	assert.That(c.spaceSlot < 0, "chunk already in the with-space list")
	list := a.withSpace[c.sharedKey]
	c.spaceSlot = len(list)
	a.withSpace[c.sharedKey] = append(list, c)
}

func (a *Archetype) removeFromSpace(c *Chunk) {
	list := a.withSpace[c.sharedKey]
	i := c.spaceSlot
	assert.That(i >= 0 && i < len(list) && list[i] == c, "chunk not in its with-space list")
	last := len(list) - 1
	list[i] = list[last]
	list[i].spaceSlot = i
	list[last] = nil
	list = list[:last]
	c.spaceSlot = -1
	if len(list) == 0 {
		delete(a.withSpace, c.sharedKey)
		return
	}
	a.withSpace[c.sharedKey] = list
}

// rowAdded keeps list membership right after a row is added to c.
func (a *Archetype) rowAdded(c *Chunk) {
	a.entityCount++
	if c.Full() {
		a.removeFromSpace(c)
	}
}

// rowRemoved keeps list membership right after a row is removed from c. Empty chunks stay
// attached until the structural batch ends.
func (a *Archetype) rowRemoved(c *Chunk) {
	a.entityCount--
	if c.spaceSlot < 0 {
		a.addToSpace(c)
	}
}

// releaseChunk detaches an empty chunk, drops its shared value references and pools it.
func (a *Archetype) releaseChunk(c *Chunk) {
	assert.That(c.count == 0 && c.listIndex >= 0, "releasing a chunk that is in use")

	last := len(a.chunks) - 1
	a.chunks[c.listIndex] = a.chunks[last]
	a.chunks[c.listIndex].listIndex = c.listIndex
	a.chunks[last] = nil
	a.chunks = a.chunks[:last]
	c.listIndex = -1
	if c.spaceSlot >= 0 {
		a.removeFromSpace(c)
	}

	for i := range a.sharedTypes {
		a.world.shared.release(c.sharedKey[i])
	}
	c.reset()

	if len(a.pooled) < maxPooledChunks {
		a.pooled = append(a.pooled, c)
		return
	}
	a.world.pool.put(c.arena)
}

// -------------------------------------------------------------------------------------------------
// Archetype manager
// -------------------------------------------------------------------------------------------------

// archetypeFor canonicalizes types and returns the matching archetype, creating it on first use.
// The Entity type is implied.
func (w *World) archetypeFor(types []TypeIndex) (*Archetype, error) {
	canonical := make([]TypeIndex, 0, len(types)+1)
	canonical = append(canonical, w.registry.builtins.entity)
	for _, t := range types {
		if t.IsNull() {
			return nil, ErrNullComponentType
		}
		info, err := w.registry.Info(t)
		if err != nil {
			return nil, err
		}
		if t.IsChunkComponent() {
			switch t.Kind() { //nolint:exhaustive // only plain kinds have chunk variants
			case KindData, KindTag, KindCleanup:
			default:
				return nil, eris.Wrapf(ErrWrongKind, "%s (%s) cannot be a chunk component", info.Name, t.Kind())
			}
			// Canonicalize to the registered flags plus the chunk bit.
			canonical = append(canonical, info.Index.AsChunkComponent())
			continue
		}
		canonical = append(canonical, info.Index)
	}
	canonical = sortTypes(canonical)

	key := archetypeKey(canonical)
	if arch, ok := w.archetypeByKey[string(key)]; ok {
		return arch, nil
	}
	return w.createArchetype(canonical, string(key))
}

func archetypeKey(types []TypeIndex) []byte {
	key := make([]byte, 0, 4*len(types))
	for _, t := range types {
		key = binary.LittleEndian.AppendUint32(key, uint32(t))
	}
	return key
}

func (w *World) createArchetype(types []TypeIndex, key string) (*Archetype, error) {
	arch := &Archetype{
		world:        w,
		id:           len(w.archetypes),
		types:        types,
		columnOf:     make([]int, len(types)),
		sharedOf:     make([]int, len(types)),
		chunkOf:      make([]int, len(types)),
		enableableOf: make([]int, len(types)),
		withSpace:    make(map[sharedKey][]*Chunk),
		addEdges:     make(map[TypeIndex]*Archetype),
		removeEdges:  make(map[TypeIndex]*Archetype),
	}

	b := &w.registry.builtins
	for i, t := range types {
		arch.typeBits.Set(t.bit())
		arch.columnOf[i], arch.sharedOf[i], arch.chunkOf[i], arch.enableableOf[i] = -1, -1, -1, -1

		switch {
		case t.IsChunkComponent():
			arch.chunkOf[i] = len(arch.chunkTypes)
			arch.chunkTypes = append(arch.chunkTypes, t)
		case t.IsShared():
			arch.sharedOf[i] = len(arch.sharedTypes)
			arch.sharedTypes = append(arch.sharedTypes, t)
		case t.Kind() == KindEntity:
		case t.hasColumn():
			arch.columnOf[i] = len(arch.columnTypes)
			arch.columnTypes = append(arch.columnTypes, t)
			arch.columnInfos = append(arch.columnInfos, w.registry.info(t))
		}
		if t.IsEnableable() && !t.IsChunkComponent() {
			arch.enableableOf[i] = len(arch.enableableTypes)
			arch.enableableTypes = append(arch.enableableTypes, t)
		}
		if t.IsCleanup() {
			arch.hasCleanup = true
		}

		switch t.WithoutChunkFlag() {
		case b.prefab:
			arch.prefab = !t.IsChunkComponent()
		case b.disabled:
			arch.disabled = !t.IsChunkComponent()
		case b.cleanupEntity:
			arch.pendingCleanup = true
		case b.linkedEntityGroup:
			arch.hasLinkedGroup = true
		}
	}
	if len(arch.sharedTypes) > maxSharedTypes {
		return nil, eris.Wrapf(ErrTooManySharedTypes, "%d shared types, at most %d", len(arch.sharedTypes), maxSharedTypes)
	}

	layout, err := computeLayout(arch.columnInfos, w.opts.ChunkSize, w.opts.MaxChunkCapacity)
	if err != nil {
		return nil, eris.Wrapf(err, "archetype %s", w.describeTypes(types))
	}
	arch.layout = layout

	w.archetypes = append(w.archetypes, arch)
	w.archetypeByKey[key] = arch
	log.Archetype(&w.logger, zerolog.DebugLevel, arch.id, layout.capacity, w.typeNames(types))
	return arch, nil
}

// CalculateDifference returns the types in after but not in before (added) and the types in
// before but not in after (removed). The Entity type is common to every archetype and never
// reported. Either archetype may be nil, standing for the empty archetype.
func CalculateDifference(before, after *Archetype) (added, removed []TypeIndex) {
	var b, a []TypeIndex
	if before != nil {
		b = before.types[1:]
	}
	if after != nil {
		a = after.types[1:]
	}

	i, j := 0, 0
	for i < len(b) && j < len(a) {
		kb, ka := b[i].sortKey(), a[j].sortKey()
		switch {
		case kb == ka:
			i++
			j++
		case kb < ka:
			removed = append(removed, b[i])
			i++
		default:
			added = append(added, a[j])
			j++
		}
	}
	removed = append(removed, b[i:]...)
	added = append(added, a[j:]...)
	return added, removed
}
