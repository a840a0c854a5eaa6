package ecs_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/chunkstore/pkg/ecs"
	. "github.com/argus-labs/chunkstore/pkg/ecs/internal/testutils"
)

// reorderedRegistry registers the fixtures a snapshot needs in a different order than RegisterAll,
// so type indices differ between the writing and the reading world.
func reorderedRegistry(t *testing.T) *ecs.TypeRegistry {
	t.Helper()

	r := ecs.NewTypeRegistry()
	_, err := ecs.RegisterBuffer[IntElement](r)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[ChunkBounds](r)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[RefList](r)
	require.NoError(t, err)
	_, err = ecs.RegisterShared[SharedComp](r)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[EnableableComp](r, ecs.Enableable())
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[Tag](r)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[EntityRef](r)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[Data](r)
	require.NoError(t, err)
	return r
}

func TestSerialize_RoundTrip(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})

	gone, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	a, err := w.CreateEntityWith(ts.Data, ts.EntityRef, ts.Tag)
	require.NoError(t, err)
	b, err := w.CreateEntityWith(ts.Enableable, ts.RefList)
	require.NoError(t, err)
	c, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	_, err = w.CreateEntityWith(ts.Data, ts.Registry.PrefabType())
	require.NoError(t, err)

	require.NoError(t, ecs.SetComponentData(w, a, Data{Value: 11}))
	require.NoError(t, ecs.SetComponentData(w, a, EntityRef{Value: b}))
	buf, err := ecs.AddBuffer[IntElement](w, a)
	require.NoError(t, err)
	buf.Add(IntElement{4}, IntElement{5})

	require.NoError(t, ecs.SetComponentData(w, b, RefList{Targets: []ecs.Entity{a, gone, ecs.Null}}))
	require.NoError(t, ecs.AddSharedComponent(w, b, SharedComp{Value: 5}))
	require.NoError(t, w.SetComponentEnabled(b, ts.Enableable, false))

	require.NoError(t, ecs.AddChunkComponent[ChunkBounds](w, c))
	cc, _, err := w.Location(c)
	require.NoError(t, err)
	require.NoError(t, ecs.SetChunkComponentData(w, cc, ChunkBounds{Min: 1, Max: 9}))

	require.NoError(t, w.DestroyEntity(gone))
	for range 5 {
		w.IncrementGlobalSystemVersion()
	}
	version := w.GlobalSystemVersion()

	data, err := w.Serialize()
	require.NoError(t, err)

	restored, err := ecs.NewWorld(ecs.WorldOptions{Registry: reorderedRegistry(t)})
	require.NoError(t, err)
	require.NoError(t, restored.Deserialize(data))
	require.NoError(t, restored.CheckInternalConsistency())
	assert.Equal(t, w.EntityCount(), restored.EntityCount())
	assert.Equal(t, version, restored.GlobalSystemVersion())

	r := restored.Registry()
	typeOf := func(name string) ecs.TypeIndex {
		idx, ok := r.Lookup(name)
		require.True(t, ok, name)
		return idx
	}

	// a: plain data, a tag, a buffer and a reference to b.
	q := restored.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(typeOf("EntityRef"), typeOf("Tag"))})
	found := q.ToEntityArray()
	require.Len(t, found, 1)
	newA := found[0]
	value, err := ecs.GetComponentData[Data](restored, newA)
	require.NoError(t, err)
	assert.Equal(t, int32(11), value.Value)
	elems, err := ecs.GetBufferReadOnly[IntElement](restored, newA)
	require.NoError(t, err)
	assert.Equal(t, []IntElement{{4}, {5}}, elems.AsSlice())

	ref, err := ecs.GetComponentData[EntityRef](restored, newA)
	require.NoError(t, err)
	newB := ref.Value
	require.True(t, restored.Exists(newB))

	// b: references remapped, the destroyed entity becomes Null.
	list, err := ecs.GetComponentData[RefList](restored, newB)
	require.NoError(t, err)
	assert.Equal(t, []ecs.Entity{newA, ecs.Null, ecs.Null}, list.Targets)
	shared, err := ecs.GetSharedComponent[SharedComp](restored, newB)
	require.NoError(t, err)
	assert.Equal(t, 5, shared.Value)
	enabled, err := restored.IsComponentEnabled(newB, typeOf("EnableableComp"))
	require.NoError(t, err)
	assert.False(t, enabled)

	// c: the chunk component value.
	q = restored.MustCreateQuery(ecs.EntityQueryDesc{
		All: []ecs.ComponentType{ecs.ChunkComponent[ChunkBounds](r)},
	})
	chunks := q.ToArchetypeChunkArray()
	require.Len(t, chunks, 1)
	bounds, err := ecs.GetChunkComponentData[ChunkBounds](restored, chunks[0])
	require.NoError(t, err)
	assert.Equal(t, ChunkBounds{Min: 1, Max: 9}, bounds)

	// The prefab is still a prefab.
	q = restored.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(r.PrefabType())})
	assert.Equal(t, 1, q.CalculateEntityCount())
}

// chunkBoundsCounts counts entities per chunk component value over every chunk holding one.
func chunkBoundsCounts(t *testing.T, w *ecs.World) map[ChunkBounds]int {
	t.Helper()

	q := w.MustCreateQuery(ecs.EntityQueryDesc{
		All: []ecs.ComponentType{ecs.ChunkComponent[ChunkBounds](w.Registry())},
	})
	counts := make(map[ChunkBounds]int)
	for _, c := range q.ToArchetypeChunkArray() {
		bounds, err := ecs.GetChunkComponentData[ChunkBounds](w, c)
		require.NoError(t, err)
		counts[bounds] += c.Count()
	}
	return counts
}

func TestSerialize_ChunkComponentsPerChunk(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{MaxChunkCapacity: 8})
	_, err := w.CreateEntities(newArchetype(t, w, ts.Data), 20)
	require.NoError(t, err)
	q := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Data)})
	require.NoError(t, ecs.AddChunkComponentData(w, q, ChunkBounds{Min: -1, Max: 1}))

	chunks := q.ToArchetypeChunkArray()
	require.Greater(t, len(chunks), 1)
	first := chunks[0]
	require.NoError(t, ecs.SetChunkComponentData(w, first, ChunkBounds{Min: 5, Max: 6}))
	// Leave the first chunk partly filled.
	require.NoError(t, w.DestroyEntity(slices.Clone(first.Entities()[:3])...))

	want := chunkBoundsCounts(t, w)
	require.Len(t, want, 2)
	data, err := w.Serialize()
	require.NoError(t, err)

	for _, capacity := range []int{8, 2} {
		restored, _ := NewWorld(ecs.WorldOptions{MaxChunkCapacity: capacity})
		require.NoError(t, restored.Deserialize(data))
		require.NoError(t, restored.CheckInternalConsistency())
		assert.Equal(t, want, chunkBoundsCounts(t, restored), "capacity %d", capacity)
	}
}

func newArchetype(t *testing.T, w *ecs.World, types ...ecs.TypeIndex) *ecs.Archetype {
	t.Helper()
	arch, err := w.CreateArchetype(types...)
	require.NoError(t, err)
	return arch
}

func TestSerialize_PendingCleanup(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	e, err := w.CreateEntityWith(ts.Data, ts.CleanupComp)
	require.NoError(t, err)
	require.NoError(t, ecs.SetComponentData(w, e, CleanupComp{Value: 3}))
	require.NoError(t, w.DestroyEntity(e))

	data, err := w.Serialize()
	require.NoError(t, err)

	restored, _ := NewWorld(ecs.WorldOptions{})
	require.NoError(t, restored.Deserialize(data))
	all := restored.GetAllEntities()
	require.Len(t, all, 1)

	arch, err := restored.ArchetypeOf(all[0])
	require.NoError(t, err)
	assert.True(t, arch.IsPendingCleanup())
	value, err := ecs.GetComponentData[CleanupComp](restored, all[0])
	require.NoError(t, err)
	assert.Equal(t, int32(3), value.Value)
}

func TestSerialize_Errors(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	_, err := w.CreateEntityWith(ts.Data, ts.Label)
	require.NoError(t, err)
	data, err := w.Serialize()
	require.NoError(t, err)

	t.Run("world not empty", func(t *testing.T) {
		t.Parallel()
		err := w.Deserialize(data)
		require.ErrorIs(t, err, ecs.ErrWorldNotEmpty)
		require.ErrorIs(t, err, ecs.ErrInvalidOperation)
	})

	t.Run("malformed data", func(t *testing.T) {
		t.Parallel()
		restored, _ := NewWorld(ecs.WorldOptions{})
		require.Error(t, restored.Deserialize([]byte{0xc1, 0x00}))
		assert.Zero(t, restored.EntityCount())
	})

	t.Run("unknown component", func(t *testing.T) {
		t.Parallel()
		restored, err := ecs.NewWorld(ecs.WorldOptions{})
		require.NoError(t, err)
		err = restored.Deserialize(data)
		require.ErrorIs(t, err, ecs.ErrTypeNotRegistered)
		assert.Zero(t, restored.EntityCount(), "nothing is created before the snapshot is decoded")
	})

	t.Run("empty world", func(t *testing.T) {
		t.Parallel()
		empty, _ := NewWorld(ecs.WorldOptions{})
		snap, err := empty.Serialize()
		require.NoError(t, err)
		restored, _ := NewWorld(ecs.WorldOptions{})
		require.NoError(t, restored.Deserialize(snap))
		assert.Zero(t, restored.EntityCount())
	})
}
