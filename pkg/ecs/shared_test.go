package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/chunkstore/pkg/ecs"
	. "github.com/argus-labs/chunkstore/pkg/ecs/internal/testutils"
)

func TestShared_FilterByValue(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	arch, err := w.CreateArchetype(ts.Data)
	require.NoError(t, err)
	entities, err := w.CreateEntities(arch, 100)
	require.NoError(t, err)

	for i, e := range entities {
		require.NoError(t, ecs.SetComponentData(w, e, Data{Value: int32(i)}))
		value := 34
		if i%2 == 0 {
			value = 17
		}
		require.NoError(t, ecs.AddSharedComponent(w, e, SharedComp{Value: value}))
	}

	q := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Data, ts.SharedComp)})
	require.NoError(t, ecs.SetSharedComponentFilter(q, SharedComp{Value: 17}))

	values, err := ecs.ToComponentDataArray[Data](q)
	require.NoError(t, err)
	require.Len(t, values, 50)
	for i, v := range values {
		assert.Equal(t, int32(2*i), v.Value)
	}

	q.ResetFilter()
	require.NoError(t, ecs.SetSharedComponentFilter(q, SharedComp{Value: 99}))
	assert.True(t, q.IsEmpty(), "a value the world doesn't hold matches nothing")

	assert.Equal(t, 2, w.SharedComponentCount())
}

func TestShared_FilterRules(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	q := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Data, ts.SharedComp, ts.SharedComp2)})

	err := ecs.SetSharedComponentFilter(q, Data{})
	require.ErrorIs(t, err, ecs.ErrWrongKind)

	notRequired := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Data)})
	err = ecs.SetSharedComponentFilter(notRequired, SharedComp{Value: 1})
	require.ErrorIs(t, err, ecs.ErrInvalidQuery)

	require.NoError(t, ecs.SetSharedComponentFilter(q, SharedComp{Value: 1}))
	require.NoError(t, ecs.SetSharedComponentFilter(q, SharedComp2{Value: 2}))
	err = ecs.SetSharedComponentFilter(q, SharedComp{Value: 3})
	require.ErrorIs(t, err, ecs.ErrInvalidQuery, "at most two shared filters")
	assert.True(t, q.HasFilter())

	e, err := w.CreateEntityWith(ts.Data, ts.SharedComp, ts.SharedComp2)
	require.NoError(t, err)
	require.NoError(t, ecs.SetSharedComponent(w, e, SharedComp{Value: 1}))
	assert.False(t, q.Matches(e), "filters combine with AND")
	require.NoError(t, ecs.SetSharedComponent(w, e, SharedComp2{Value: 2}))
	assert.True(t, q.Matches(e))
}

func TestShared_Values(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	a, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	b, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)

	err = ecs.SetSharedComponent(w, a, SharedComp{Value: 5})
	require.ErrorIs(t, err, ecs.ErrComponentNotPresent, "set doesn't add")

	require.NoError(t, ecs.AddSharedComponent(w, a, SharedComp{Value: 5}))
	require.NoError(t, ecs.AddSharedComponent(w, b, SharedComp{Value: 5}))
	ca, _, err := w.Location(a)
	require.NoError(t, err)
	cb, _, err := w.Location(b)
	require.NoError(t, err)
	assert.Same(t, ca, cb, "equal values share a chunk")
	assert.Equal(t, 1, w.SharedComponentCount())

	got, err := ecs.GetChunkSharedComponent[SharedComp](w, ca)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Value)

	require.NoError(t, ecs.SetSharedComponent(w, b, SharedComp{Value: 6}))
	cb, _, err = w.Location(b)
	require.NoError(t, err)
	assert.NotSame(t, ca, cb, "a new value moves the entity to another chunk")
	assert.Equal(t, 2, w.SharedComponentCount())

	// Setting the default value drops the stored one once no chunk holds it.
	require.NoError(t, ecs.SetSharedComponent(w, b, SharedComp{}))
	assert.Equal(t, 1, w.SharedComponentCount())
	got, err = ecs.GetSharedComponent[SharedComp](w, b)
	require.NoError(t, err)
	assert.Equal(t, SharedComp{}, got)

	require.NoError(t, w.DestroyEntity(a))
	assert.Zero(t, w.SharedComponentCount(), "values are dropped with their last chunk")
	require.NoError(t, w.CheckInternalConsistency())
}

func TestShared_OrderVersionIsPerValue(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	a, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	b, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	require.NoError(t, ecs.AddSharedComponent(w, a, SharedComp{Value: 1}))
	require.NoError(t, ecs.AddSharedComponent(w, b, SharedComp{Value: 2}))

	one := ecs.GetSharedComponentOrderVersion(w, SharedComp{Value: 1})
	two := ecs.GetSharedComponentOrderVersion(w, SharedComp{Value: 2})
	assert.Positive(t, one)
	assert.Positive(t, two)

	c, err := w.CreateEntityWith(ts.Data)
	require.NoError(t, err)
	require.NoError(t, ecs.AddSharedComponent(w, c, SharedComp{Value: 1}))

	assert.Greater(t, ecs.GetSharedComponentOrderVersion(w, SharedComp{Value: 1}), one)
	assert.Equal(t, two, ecs.GetSharedComponentOrderVersion(w, SharedComp{Value: 2}),
		"unrelated values keep their order version")
	assert.Zero(t, ecs.GetSharedComponentOrderVersion(w, SharedComp{Value: 3}))
}

func TestShared_ForQuery(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	arch, err := w.CreateArchetype(ts.Data, ts.SharedComp)
	require.NoError(t, err)
	_, err = w.CreateEntities(arch, 20)
	require.NoError(t, err)

	q := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.SharedComp)})
	require.NoError(t, ecs.SetSharedComponentForQuery(w, q, SharedComp{Value: 8}))

	require.NoError(t, ecs.SetSharedComponentFilter(q, SharedComp{Value: 8}))
	assert.Equal(t, 20, q.CalculateEntityCount())
	assert.Equal(t, 1, q.CalculateChunkCount())
	require.NoError(t, w.CheckInternalConsistency())
}
