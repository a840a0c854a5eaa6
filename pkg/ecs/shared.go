package ecs

import (
	"github.com/rotisserie/eris"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// SharedIndex addresses a deduplicated shared component value. Index 0 is the default (zero)
// value of every shared type and is never stored or reference counted.
type SharedIndex int32

type sharedLookupKey struct {
	id    uint16
	value any
}

type sharedEntry struct {
	typeIndex    TypeIndex
	value        any
	refCount     int
	orderVersion uint32
}

// sharedStore deduplicates shared component values by equality. Every chunk holding a value
// counts as one reference, and a value is dropped when its last chunk goes away.
type sharedStore struct {
	entries      []sharedEntry // Index 0 unused
	lookup       map[sharedLookupKey]SharedIndex
	free         []SharedIndex
	defaultOrder map[uint16]uint32 // Order versions of the default value, per type id
}

func newSharedStore() sharedStore {
	return sharedStore{
		entries:      make([]sharedEntry, 1),
		lookup:       make(map[sharedLookupKey]SharedIndex),
		defaultOrder: make(map[uint16]uint32),
	}
}

// getOrAdd returns the index of value and takes a reference on it. The caller hands the reference
// over to a chunk or drops it with release.
func (s *sharedStore) getOrAdd(info *TypeInfo, value any) SharedIndex {
	if value == info.zero {
		return 0
	}
	key := sharedLookupKey{id: info.Index.ID(), value: value}
	if idx, ok := s.lookup[key]; ok {
		s.entries[idx].refCount++
		return idx
	}

	entry := sharedEntry{typeIndex: info.Index, value: value, refCount: 1}
	var idx SharedIndex
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[idx] = entry
	} else {
		idx = SharedIndex(len(s.entries)) //nolint:gosec // bounded by memory
		s.entries = append(s.entries, entry)
	}
	s.lookup[key] = idx
	return idx
}

// find returns the index of value without taking a reference.
func (s *sharedStore) find(info *TypeInfo, value any) (SharedIndex, bool) {
	if value == info.zero {
		return 0, true
	}
	idx, ok := s.lookup[sharedLookupKey{id: info.Index.ID(), value: value}]
	return idx, ok
}

func (s *sharedStore) retain(idx SharedIndex) {
	if idx == 0 {
		return
	}
	assert.That(s.entries[idx].refCount > 0, "retaining dead shared value %d", idx)
	s.entries[idx].refCount++
}

func (s *sharedStore) release(idx SharedIndex) {
	if idx == 0 {
		return
	}
	entry := &s.entries[idx]
	assert.That(entry.refCount > 0, "releasing dead shared value %d", idx)
	entry.refCount--
	if entry.refCount > 0 {
		return
	}
	delete(s.lookup, sharedLookupKey{id: entry.typeIndex.ID(), value: entry.value})
	*entry = sharedEntry{}
	s.free = append(s.free, idx)
}

// value returns the stored value of idx, or the type's zero value for index 0.
func (s *sharedStore) value(info *TypeInfo, idx SharedIndex) any {
	if idx == 0 {
		return info.zero
	}
	return s.entries[idx].value
}

func (s *sharedStore) refCount(idx SharedIndex) int {
	if idx <= 0 || int(idx) >= len(s.entries) {
		return 0
	}
	return s.entries[idx].refCount
}

func (s *sharedStore) orderVersion(t TypeIndex, idx SharedIndex) uint32 {
	if idx == 0 {
		return s.defaultOrder[t.ID()]
	}
	return s.entries[idx].orderVersion
}

func (s *sharedStore) bumpOrder(t TypeIndex, idx SharedIndex) {
	if idx == 0 {
		s.defaultOrder[t.ID()]++
		return
	}
	if s.entries[idx].refCount > 0 {
		s.entries[idx].orderVersion++
	}
}

// live returns the number of stored, non-default values.
func (s *sharedStore) live() int {
	return len(s.lookup)
}

// -------------------------------------------------------------------------------------------------
// Typed API
// -------------------------------------------------------------------------------------------------

func sharedInfo[T any](w *World) (*TypeInfo, error) {
	t, err := TypeIndexOf[T](w.registry)
	if err != nil {
		return nil, err
	}
	if !t.IsShared() {
		return nil, eris.Wrapf(ErrWrongKind, "%s is not a shared component", w.registry.info(t).Name)
	}
	return w.registry.info(t), nil
}

// AddSharedComponent adds shared component T with the given value to e. If e already has T its
// value is replaced.
func AddSharedComponent[T comparable](w *World, e Entity, value T) error {
	info, err := sharedInfo[T](w)
	if err != nil {
		return err
	}
	return w.setShared(e, info, value, true)
}

// SetSharedComponent replaces the value of shared component T on e, moving it to a chunk that
// holds the new value.
func SetSharedComponent[T comparable](w *World, e Entity, value T) error {
	info, err := sharedInfo[T](w)
	if err != nil {
		return err
	}
	return w.setShared(e, info, value, false)
}

// SetSharedComponentForQuery sets shared component T to value on every entity matching q.
func SetSharedComponentForQuery[T comparable](w *World, q *EntityQuery, value T) error {
	info, err := sharedInfo[T](w)
	if err != nil {
		return err
	}
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	for _, e := range q.ToEntityArray() {
		if err := w.setSharedLocked(e, info, value, false); err != nil {
			return err
		}
	}
	return nil
}

// GetSharedComponent returns e's value of shared component T.
func GetSharedComponent[T comparable](w *World, e Entity) (T, error) {
	var zero T
	info, err := sharedInfo[T](w)
	if err != nil {
		return zero, err
	}
	c, _, ok := w.entities.location(e)
	if !ok {
		return zero, eris.Wrapf(ErrEntityNotFound, "%v", e)
	}
	pos := c.archetype.sharedPos(info.Index)
	if pos < 0 {
		return zero, eris.Wrapf(ErrComponentNotPresent, "%v has no %s", e, info.Name)
	}
	v, _ := w.shared.value(info, c.sharedKey[pos]).(T)
	return v, nil
}

// GetChunkSharedComponent returns the value of shared component T for chunk c.
func GetChunkSharedComponent[T comparable](w *World, c *Chunk) (T, error) {
	var zero T
	info, err := sharedInfo[T](w)
	if err != nil {
		return zero, err
	}
	pos := c.archetype.sharedPos(info.Index)
	if pos < 0 {
		return zero, eris.Wrapf(ErrComponentNotPresent, "chunk has no %s", info.Name)
	}
	v, _ := w.shared.value(info, c.sharedKey[pos]).(T)
	return v, nil
}

// GetSharedComponentOrderVersion returns the order version of one shared value. It increases
// whenever entities holding that exact value are added, removed or moved, and is 0 for values the
// world doesn't hold.
func GetSharedComponentOrderVersion[T comparable](w *World, value T) uint32 {
	info, err := sharedInfo[T](w)
	if err != nil {
		return 0
	}
	idx, ok := w.shared.find(info, value)
	if !ok {
		return 0
	}
	return w.shared.orderVersion(info.Index, idx)
}

// SharedComponentCount returns the number of distinct non-default shared values held by the world.
func (w *World) SharedComponentCount() int {
	return w.shared.live()
}
