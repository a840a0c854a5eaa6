package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/chunkstore/pkg/ecs"
	. "github.com/argus-labs/chunkstore/pkg/ecs/internal/testutils"
)

// prefabGroup builds a two-entity prefab: a root linked to a child, with references pointing both
// ways and at an entity outside the group.
type prefabGroup struct {
	root, child, outside ecs.Entity
}

func newPrefabGroup(t *testing.T, w *ecs.World, ts *Types) prefabGroup {
	t.Helper()

	var g prefabGroup
	var err error
	g.outside, err = w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	g.root, err = w.CreateEntityWith(ts.Data, ts.EntityRef, ts.CleanupComp, ts.Registry.PrefabType())
	require.NoError(t, err)
	g.child, err = w.CreateEntityWith(ts.Nested, ts.RefList, ts.Registry.PrefabType())
	require.NoError(t, err)

	leg, err := ecs.AddBuffer[ecs.LinkedEntityGroup](w, g.root)
	require.NoError(t, err)
	leg.Add(ecs.LinkedEntityGroup{Value: g.root}, ecs.LinkedEntityGroup{Value: g.child})

	require.NoError(t, ecs.SetComponentData(w, g.root, Data{Value: 42}))
	require.NoError(t, ecs.SetComponentData(w, g.root, EntityRef{Value: g.child}))

	var nested Nested
	nested.Header = 7
	nested.Inner.Target = g.root
	nested.Pair = [2]ecs.Entity{g.child, g.outside}
	require.NoError(t, ecs.SetComponentData(w, g.child, nested))
	require.NoError(t, ecs.SetComponentData(w, g.child, RefList{Targets: []ecs.Entity{g.root, g.outside}}))
	return g
}

func TestInstantiate_Group(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	g := newPrefabGroup(t, w, ts)

	root, err := w.Instantiate(g.root)
	require.NoError(t, err)
	assert.NotEqual(t, g.root, root)

	assert.False(t, w.HasComponent(root, ts.Registry.PrefabType()), "instances aren't prefabs")
	assert.False(t, w.HasComponent(root, ts.CleanupComp), "cleanup types aren't copied")
	data, err := ecs.GetComponentData[Data](w, root)
	require.NoError(t, err)
	assert.Equal(t, int32(42), data.Value)

	leg, err := ecs.GetBufferReadOnly[ecs.LinkedEntityGroup](w, root)
	require.NoError(t, err)
	require.Equal(t, 2, leg.Len())
	assert.Equal(t, root, leg.At(0).Value)
	child := leg.At(1).Value
	assert.NotEqual(t, g.child, child)
	assert.False(t, w.HasComponent(child, ts.Registry.PrefabType()))

	// References inside the group point at the clones, the rest are kept.
	ref, err := ecs.GetComponentData[EntityRef](w, root)
	require.NoError(t, err)
	assert.Equal(t, child, ref.Value)

	nested, err := ecs.GetComponentData[Nested](w, child)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nested.Header)
	assert.Equal(t, root, nested.Inner.Target)
	assert.Equal(t, [2]ecs.Entity{child, g.outside}, nested.Pair)

	list, err := ecs.GetComponentData[RefList](w, child)
	require.NoError(t, err)
	assert.Equal(t, []ecs.Entity{root, g.outside}, list.Targets)

	// The prefab is left as it was.
	src, err := ecs.GetComponentData[RefList](w, g.child)
	require.NoError(t, err)
	assert.Equal(t, []ecs.Entity{g.root, g.outside}, src.Targets)
	srcLeg, err := ecs.GetBufferReadOnly[ecs.LinkedEntityGroup](w, g.root)
	require.NoError(t, err)
	assert.Equal(t, g.child, srcLeg.At(1).Value)

	// Prefabs are hidden from queries, instances aren't.
	q := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Nested)})
	assert.Equal(t, []ecs.Entity{child}, q.ToEntityArray())

	// Destroying the root takes the group with it.
	require.NoError(t, w.DestroyEntity(root))
	assert.False(t, w.Exists(child))
	assert.True(t, w.Exists(g.child))
	require.NoError(t, w.CheckInternalConsistency())
}

func TestInstantiate_N(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	g := newPrefabGroup(t, w, ts)
	before := w.EntityCount()

	roots, err := w.InstantiateN(g.root, 3)
	require.NoError(t, err)
	require.Len(t, roots, 3)
	assert.Equal(t, before+6, w.EntityCount())

	children := make(map[ecs.Entity]struct{})
	for _, root := range roots {
		ref, err := ecs.GetComponentData[EntityRef](w, root)
		require.NoError(t, err)
		children[ref.Value] = struct{}{}

		nested, err := ecs.GetComponentData[Nested](w, ref.Value)
		require.NoError(t, err)
		assert.Equal(t, root, nested.Inner.Target)
	}
	assert.Len(t, children, 3, "every instance gets its own child")

	none, err := w.InstantiateN(g.root, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = w.InstantiateN(g.root, -1)
	require.ErrorIs(t, err, ecs.ErrInvalidArgument)

	_, err = w.Instantiate(ecs.Entity{Index: 999, Version: 1})
	require.ErrorIs(t, err, ecs.ErrEntityNotFound)
	require.NoError(t, w.CheckInternalConsistency())
}

func TestInstantiate_Omit(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	g := newPrefabGroup(t, w, ts)
	omit := ts.Registry.OmitLinkedEntityGroupType()
	require.NoError(t, w.AddComponent(g.root, omit))

	root, err := w.Instantiate(g.root)
	require.NoError(t, err)
	assert.False(t, w.HasComponent(root, ts.Registry.LinkedEntityGroupType()))
	assert.False(t, w.HasComponent(root, omit))

	// The group is still cloned as a unit.
	ref, err := ecs.GetComponentData[EntityRef](w, root)
	require.NoError(t, err)
	assert.NotEqual(t, g.child, ref.Value)
	assert.True(t, w.Exists(ref.Value))

	// Without a group the tag is kept.
	single, err := w.CreateEntityWith(ts.Data, omit)
	require.NoError(t, err)
	clone, err := w.Instantiate(single)
	require.NoError(t, err)
	assert.True(t, w.HasComponent(clone, omit))
}

func TestInstantiate_SharedAndBuffers(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	src, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	require.NoError(t, ecs.AddSharedComponent(w, src, SharedComp{Value: 3}))
	buf, err := ecs.AddBuffer[IntElement](w, src)
	require.NoError(t, err)
	buf.Add(IntElement{1}, IntElement{2})

	clone, err := w.Instantiate(src)
	require.NoError(t, err)

	srcChunk, _, err := w.Location(src)
	require.NoError(t, err)
	cloneChunk, _, err := w.Location(clone)
	require.NoError(t, err)
	assert.Same(t, srcChunk, cloneChunk, "same shared value, same chunk")

	cloneBuf, err := ecs.GetBuffer[IntElement](w, clone)
	require.NoError(t, err)
	cloneBuf.Add(IntElement{3})

	srcBuf, err := ecs.GetBufferReadOnly[IntElement](w, src)
	require.NoError(t, err)
	assert.Equal(t, []IntElement{{1}, {2}}, srcBuf.AsSlice(), "buffers are deep copied")
	assert.Equal(t, []IntElement{{1}, {2}, {3}}, cloneBuf.AsSlice())
}

func TestCopyEntities(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	outside, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	a, err := w.CreateEntityWith(ts.EntityRef, ts.Registry.PrefabType())
	require.NoError(t, err)
	b, err := w.CreateEntityWith(ts.EntityRef)
	require.NoError(t, err)
	require.NoError(t, ecs.SetComponentData(w, a, EntityRef{Value: b}))
	require.NoError(t, ecs.SetComponentData(w, b, EntityRef{Value: outside}))

	copies, err := w.CopyEntities([]ecs.Entity{a, b})
	require.NoError(t, err)
	require.Len(t, copies, 2)

	assert.True(t, w.HasComponent(copies[0], ts.Registry.PrefabType()), "copies keep Prefab")
	refA, err := ecs.GetComponentData[EntityRef](w, copies[0])
	require.NoError(t, err)
	assert.Equal(t, copies[1], refA.Value)
	refB, err := ecs.GetComponentData[EntityRef](w, copies[1])
	require.NoError(t, err)
	assert.Equal(t, outside, refB.Value)

	_, err = w.CopyEntities([]ecs.Entity{a, a})
	require.ErrorIs(t, err, ecs.ErrInvalidArgument)

	require.NoError(t, w.DestroyEntity(outside))
	_, err = w.CopyEntities([]ecs.Entity{b, outside})
	require.ErrorIs(t, err, ecs.ErrEntityNotFound)
	require.NoError(t, w.CheckInternalConsistency())
}
