package ecs

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/chunkstore/pkg/assert"
	"github.com/argus-labs/chunkstore/pkg/log"
)

// World owns every archetype, chunk and entity of one storage instance along with the global
// system version. A World has a single structural writer: structural changes must not run
// concurrently with each other or with jobs. Disjoint chunks may be written in parallel.
type World struct {
	id       uuid.UUID
	opts     WorldOptions
	logger   zerolog.Logger
	registry *TypeRegistry

	entities       entityStore
	archetypes     []*Archetype
	archetypeByKey map[string]*Archetype
	shared         sharedStore
	pool           chunkPool
	chunkSequence  uint64

	globalVersion  uint32
	componentOrder map[uint32]uint32 // TypeIndex.bit() -> order version

	batch     structuralBatch
	iterating int
	jobs      jobTracker
	hooks     []StructuralChangeHook
}

// StructuralChangeHook lets an external job-dependency tracker take part in structural changes.
// Before runs when a batch opens and can veto it. After runs once the batch is finalized.
type StructuralChangeHook struct {
	Before func() error
	After  func()
}

// NewWorld creates an empty world.
func NewWorld(opts WorldOptions) (*World, error) {
	cfg, err := loadWorldConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.applyToOptions(&opts)
	if err := opts.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}
	if opts.Registry == nil {
		opts.Registry = NewTypeRegistry()
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.New("ecs", log.Options{Level: opts.LogLevel, Pretty: opts.LogPretty})
	}

	w := &World{
		id:             uuid.New(),
		opts:           opts,
		registry:       opts.Registry,
		entities:       newEntityStore(opts.EntityCapacity),
		archetypeByKey: make(map[string]*Archetype),
		shared:         newSharedStore(),
		pool:           newChunkPool(opts.ChunkSize, opts.PoolSize),
		globalVersion:  1,
		componentOrder: make(map[uint32]uint32),
	}
	w.logger = logger.With().Str("world", w.id.String()).Logger()
	w.jobs = newJobTracker(opts.JobWorkers)
	return w, nil
}

// ID returns the world's unique identifier.
func (w *World) ID() uuid.UUID { return w.id }

// Registry returns the registry the world resolves component types with.
func (w *World) Registry() *TypeRegistry { return w.registry }

// Logger returns the world's logger.
func (w *World) Logger() *zerolog.Logger { return &w.logger }

// ChunkSize returns the size of chunk arenas in bytes.
func (w *World) ChunkSize() int { return w.opts.ChunkSize }

// EntityCount returns the number of existing entities, pending-cleanup ones included.
func (w *World) EntityCount() int { return w.entities.live }

// Archetypes returns a snapshot of every archetype created so far.
func (w *World) Archetypes() []*Archetype {
	out := make([]*Archetype, len(w.archetypes))
	copy(out, w.archetypes)
	return out
}

// Exists reports whether e refers to a live or pending-cleanup entity. Null never exists.
func (w *World) Exists(e Entity) bool {
	return w.entities.exists(e)
}

// EntityVersionAt returns the version the entity at index has or will be created with.
func (w *World) EntityVersionAt(index int32) int32 {
	return w.entities.versionAt(index)
}

// Location returns the chunk and row holding e. Both are only valid until the next structural
// change.
func (w *World) Location(e Entity) (*Chunk, int, error) {
	c, row, ok := w.entities.location(e)
	if !ok {
		return nil, 0, eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	return c, row, nil
}

// ArchetypeOf returns the archetype of e.
func (w *World) ArchetypeOf(e Entity) (*Archetype, error) {
	c, _, err := w.Location(e)
	if err != nil {
		return nil, err
	}
	return c.archetype, nil
}

// HasComponent reports whether e holds t. It's false for entities that don't exist.
func (w *World) HasComponent(e Entity, t TypeIndex) bool {
	c, _, ok := w.entities.location(e)
	if !ok {
		return false
	}
	return c.archetype.Has(t)
}

// GetAllEntities returns every existing entity in index order.
func (w *World) GetAllEntities() []Entity {
	out := make([]Entity, 0, w.entities.live)
	for i := range w.entities.slots {
		slot := &w.entities.slots[i]
		if slot.chunk != nil {
			out = append(out, Entity{Index: int32(i), Version: slot.version}) //nolint:gosec // bounded
		}
	}
	return out
}

// componentColumn resolves the column and row of e's t. Write access stamps the chunk's change
// version for t.
func (w *World) componentColumn(e Entity, t TypeIndex, write bool) (abstractColumn, int, error) {
	c, row, ok := w.entities.location(e)
	if !ok {
		return nil, 0, eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	pos := c.archetype.typePos(t)
	if pos < 0 {
		return nil, 0, eris.Wrapf(ErrComponentNotPresent, "%v has no %s", e, w.registry.info(t).Name)
	}
	col := c.archetype.columnOf[pos]
	if col < 0 {
		return nil, 0, eris.Wrapf(ErrWrongKind, "%s has no per-entity data", w.registry.info(t).Name)
	}
	if write {
		c.changeVersions[pos] = w.globalVersion
	}
	return c.columns[col], row, nil
}

func (w *World) typeNames(types []TypeIndex) []string {
	names := make([]string, len(types))
	for i, t := range types {
		name := w.registry.info(t).Name
		if t.IsChunkComponent() {
			name = "chunk:" + name
		}
		names[i] = name
	}
	return names
}

func (w *World) describeTypes(types []TypeIndex) string {
	return "{" + strings.Join(w.typeNames(types), ", ") + "}"
}

// -------------------------------------------------------------------------------------------------
// Structural change batches
// -------------------------------------------------------------------------------------------------

// structuralBatch collects what a batch of structural changes touched so versions and pools are
// reconciled once when the batch ends.
type structuralBatch struct {
	depth      int
	explicit   bool
	seq        uint64
	chunks     []*Chunk
	archetypes []*Archetype
	chunkSeen  map[*Chunk]struct{}
	archSeen   map[*Archetype]struct{}
	counts     log.BatchCounts
}

// BeginStructuralChanges opens an explicit batch. Changes made until EndStructuralChanges are
// applied immediately, but version bumps and chunk recycling are deferred to the end.
func (w *World) BeginStructuralChanges() error {
	if w.batch.explicit {
		return eris.Wrap(ErrInvalidOperation, "a structural change batch is already open")
	}
	if err := w.beginImplicit(); err != nil {
		return err
	}
	w.batch.explicit = true
	return nil
}

// EndStructuralChanges finalizes the batch opened by BeginStructuralChanges.
func (w *World) EndStructuralChanges() error {
	if !w.batch.explicit {
		return ErrNoStructuralBatch
	}
	w.batch.explicit = false
	w.endImplicit()
	return nil
}

// InStructuralChanges reports whether an explicit batch is open.
func (w *World) InStructuralChanges() bool { return w.batch.explicit }

// beginImplicit checks that a structural change may run and opens a batch if none is open.
func (w *World) beginImplicit() error {
	if w.jobs.outstanding() > 0 {
		return eris.Wrapf(ErrJobsOutstanding, "%d jobs still running", w.jobs.outstanding())
	}
	if w.iterating > 0 {
		return ErrIterationInProgress
	}
	if w.batch.depth == 0 {
		for _, h := range w.hooks {
			if h.Before == nil {
				continue
			}
			if err := h.Before(); err != nil {
				return eris.Wrap(err, "structural change rejected by hook")
			}
		}
		w.batch.seq++
		if w.batch.chunkSeen == nil {
			w.batch.chunkSeen = make(map[*Chunk]struct{})
			w.batch.archSeen = make(map[*Archetype]struct{})
		}
	}
	w.batch.depth++
	return nil
}

func (w *World) endImplicit() {
	assert.That(w.batch.depth > 0, "ending a structural change that never began")
	w.batch.depth--
	if w.batch.depth == 0 {
		w.finalizeBatch()
	}
}

// touch records a structural change to c.
func (w *World) touch(c *Chunk) {
	if _, ok := w.batch.chunkSeen[c]; !ok {
		w.batch.chunkSeen[c] = struct{}{}
		w.batch.chunks = append(w.batch.chunks, c)
	}
	if _, ok := w.batch.archSeen[c.archetype]; !ok {
		w.batch.archSeen[c.archetype] = struct{}{}
		w.batch.archetypes = append(w.batch.archetypes, c.archetype)
	}
}

func (w *World) finalizeBatch() {
	b := &w.batch
	version := w.globalVersion

	for _, c := range b.chunks {
		c.orderVersion = version
		arch := c.archetype
		for i, t := range arch.sharedTypes {
			w.shared.bumpOrder(t, c.sharedKey[i])
		}
	}
	for _, arch := range b.archetypes {
		arch.orderVersion++
		for _, t := range arch.types {
			w.componentOrder[t.bit()]++
		}
	}
	for _, c := range b.chunks {
		if c.count == 0 && c.listIndex >= 0 {
			c.archetype.releaseChunk(c)
			b.counts.Freed++
		}
	}
	b.counts.Chunks = len(b.chunks)

	if len(b.chunks) > 0 {
		log.StructuralBatch(&w.logger, zerolog.DebugLevel, version, b.counts)
	}

	clear(b.chunks)
	b.chunks = b.chunks[:0]
	b.archetypes = b.archetypes[:0]
	clear(b.chunkSeen)
	clear(b.archSeen)
	b.counts = log.BatchCounts{}

	for _, h := range w.hooks {
		if h.After != nil {
			h.After()
		}
	}
}

// AddStructuralChangeHook registers hook points for an external job-dependency tracker.
func (w *World) AddStructuralChangeHook(h StructuralChangeHook) {
	w.hooks = append(w.hooks, h)
}

// -------------------------------------------------------------------------------------------------
// Consistency
// -------------------------------------------------------------------------------------------------

// CheckInternalConsistency verifies that the entity index and chunk contents agree and that the
// chunk lists follow the packing rules. It's meant for tests and debugging.
func (w *World) CheckInternalConsistency() error {
	seen := 0
	for _, arch := range w.archetypes {
		count := 0
		for i, c := range arch.chunks {
			if c.listIndex != i || c.archetype != arch {
				return eris.Errorf("archetype %d: chunk %d has a stale list index", arch.id, c.sequence)
			}
			if c.count > c.Capacity() {
				return eris.Errorf("chunk %d: count %d over capacity %d", c.sequence, c.count, c.Capacity())
			}
			if c.count == 0 && w.batch.depth == 0 {
				return eris.Errorf("chunk %d: empty chunk attached to archetype %d", c.sequence, arch.id)
			}
			if (c.spaceSlot >= 0) == c.Full() {
				return eris.Errorf("chunk %d: with-space membership doesn't match count", c.sequence)
			}
			for row, e := range c.Entities() {
				loc, r, ok := w.entities.location(e)
				if !ok || loc != c || r != row {
					return eris.Errorf("chunk %d row %d: entity %v isn't indexed here", c.sequence, row, e)
				}
			}
			count += c.count
		}
		if count != arch.entityCount {
			return eris.Errorf("archetype %d: entity count %d, chunks hold %d", arch.id, arch.entityCount, count)
		}
		seen += count
	}
	if seen != w.entities.live {
		return eris.Errorf("entity index holds %d entities, chunks hold %d", w.entities.live, seen)
	}
	return nil
}

// maxBatchCount bounds CreateEntities and InstantiateN requests.
const maxBatchCount = math.MaxInt32
