package ecs

import (
	"fmt"
	"math"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// Entity is a handle to a row in the world. Index names a slot in the entity index and Version
// tells apart successive entities that used the same slot.
type Entity struct {
	Index   int32
	Version int32
}

// Null is the zero handle. It never refers to an existing entity.
var Null = Entity{} //nolint:gochecknoglobals // sentinel value

func (Entity) Name() string { return "Entity" }

func (e Entity) IsNull() bool { return e == Null }

func (e Entity) String() string { return fmt.Sprintf("Entity(%d:%d)", e.Index, e.Version) }

// MaxEntityIndex is the largest slot index the entity index hands out.
const MaxEntityIndex = math.MaxInt32 - 1

// retiredVersion marks a slot whose version counter is exhausted. The slot is never reused, so a
// version is never issued twice for the same index.
const retiredVersion = math.MaxInt32

// entityLocation is where an entity's row currently lives.
type entityLocation struct {
	chunk   *Chunk // nil when the slot is free
	row     int32
	version int32 // Version of the current or next entity in this slot
}

// entityStore is the entity index: an array of slots addressed by Entity.Index plus a FIFO queue
// of free slots. Handing out freed slots in FIFO order spreads reuse over the whole table, which
// keeps per-slot versions growing slowly.
type entityStore struct {
	slots    []entityLocation
	free     []int32
	freeHead int
	live     int
	retired  int
}

func newEntityStore(capacity int) entityStore {
	return entityStore{
		slots: make([]entityLocation, 0, capacity),
		free:  make([]int32, 0, capacity/4),
	}
}

// alloc reserves a slot and returns its handle. The caller must place the entity with setLocation.
func (s *entityStore) alloc() (Entity, bool) {
	var idx int32
	if s.freeHead < len(s.free) {
		idx = s.free[s.freeHead]
		s.freeHead++
		s.compactFree()
	} else {
		if len(s.slots) > MaxEntityIndex {
			return Null, false
		}
		idx = int32(len(s.slots)) //nolint:gosec // bounded by MaxEntityIndex
		s.slots = append(s.slots, entityLocation{version: 1})
	}
	s.live++
	return Entity{Index: idx, Version: s.slots[idx].version}, true
}

// compactFree drops the consumed front of the queue once it dominates the backing array.
func (s *entityStore) compactFree() {
	const minCompact = 1024
	if s.freeHead < minCompact || s.freeHead*2 < len(s.free) {
		return
	}
	n := copy(s.free, s.free[s.freeHead:])
	s.free = s.free[:n]
	s.freeHead = 0
}

// release frees the slot of e and bumps its version so e and every older handle stop resolving.
func (s *entityStore) release(e Entity) {
	slot := &s.slots[e.Index]
	assert.That(slot.version == e.Version && slot.chunk != nil, "releasing entity %v that isn't alive", e)

	slot.chunk = nil
	slot.row = 0
	slot.version++
	s.live--
	if slot.version == retiredVersion {
		s.retired++
		return
	}
	s.free = append(s.free, e.Index)
}

func (s *entityStore) exists(e Entity) bool {
	if e.Index < 0 || int(e.Index) >= len(s.slots) {
		return false
	}
	slot := &s.slots[e.Index]
	return slot.chunk != nil && slot.version == e.Version
}

func (s *entityStore) location(e Entity) (*Chunk, int, bool) {
	if !s.exists(e) {
		return nil, 0, false
	}
	slot := &s.slots[e.Index]
	return slot.chunk, int(slot.row), true
}

func (s *entityStore) setLocation(e Entity, c *Chunk, row int) {
	slot := &s.slots[e.Index]
	assert.That(slot.version == e.Version, "stale handle %v (slot version %d)", e, slot.version)
	slot.chunk = c
	slot.row = int32(row) //nolint:gosec // rows are bounded by chunk capacity
}

// versionAt returns the version that the next or current entity at index carries.
func (s *entityStore) versionAt(index int32) int32 {
	if index < 0 || int(index) >= len(s.slots) {
		return 0
	}
	return s.slots[index].version
}

// reset drops every slot. Only valid while no chunks hold entities.
func (s *entityStore) reset() {
	s.slots = s.slots[:0]
	s.free = s.free[:0]
	s.freeHead = 0
	s.live = 0
	s.retired = 0
}
