package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/chunkstore/pkg/ecs"
	. "github.com/argus-labs/chunkstore/pkg/ecs/internal/testutils"
)

func TestCleanup_DestroyEveryOther(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	arch, err := w.CreateArchetype(ts.Data, ts.SharedComp, ts.CleanupElement)
	require.NoError(t, err)
	entities, err := w.CreateEntities(arch, 512)
	require.NoError(t, err)

	var survivors, destroyed []ecs.Entity
	for i, e := range entities {
		if i%2 == 0 {
			destroyed = append(destroyed, e)
		} else {
			survivors = append(survivors, e)
		}
	}
	require.NoError(t, w.DestroyEntity(destroyed...))

	live := w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Data)})
	assert.Equal(t, 256, live.CalculateEntityCount())

	pending := w.MustCreateQuery(ecs.EntityQueryDesc{
		All:  ecs.Types(ts.CleanupElement),
		None: ecs.Types(ts.Data),
	})
	assert.Equal(t, 256, pending.CalculateEntityCount())
	assert.ElementsMatch(t, destroyed, pending.ToEntityArray())

	for _, e := range destroyed {
		assert.True(t, w.Exists(e), "pending cleanup entities still exist")
		assert.True(t, w.HasComponent(e, ts.Registry.CleanupEntityType()))
		assert.False(t, w.HasComponent(e, ts.SharedComp), "non-cleanup types are stripped")
	}

	require.NoError(t, w.RemoveComponentFromQuery(pending, ts.CleanupElement))
	for _, e := range destroyed {
		assert.False(t, w.Exists(e))
	}
	for _, e := range survivors {
		assert.True(t, w.Exists(e))
	}
	assert.Equal(t, 256, w.EntityCount())
	require.NoError(t, w.CheckInternalConsistency())
}

func TestCleanup_PendingRules(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	e, err := w.CreateEntityWith(ts.Data, ts.CleanupComp, ts.CleanupElement)
	require.NoError(t, err)
	require.NoError(t, ecs.SetComponentData(w, e, CleanupComp{Value: 7}))

	require.NoError(t, w.DestroyEntity(e))
	require.True(t, w.Exists(e))

	// Cleanup data survives destruction.
	value, err := ecs.GetComponentData[CleanupComp](w, e)
	require.NoError(t, err)
	assert.Equal(t, int32(7), value.Value)

	// Destroying again is a no-op.
	require.NoError(t, w.DestroyEntity(e))
	assert.True(t, w.Exists(e))

	// Only cleanup types can be added to a pending entity.
	err = w.AddComponent(e, ts.Data2)
	require.ErrorIs(t, err, ecs.ErrEntityPendingCleanup)
	require.ErrorIs(t, err, ecs.ErrInvalidOperation)

	_, err = w.Instantiate(e)
	require.ErrorIs(t, err, ecs.ErrInstantiateCleanup)

	_, err = w.RemoveComponent(e, ts.Registry.CleanupEntityType())
	require.ErrorIs(t, err, ecs.ErrWrongKind)

	// Queries skip pending entities unless they name what's left.
	assert.Equal(t, 0, w.MustCreateQuery(ecs.EntityQueryDesc{All: ecs.Types(ts.Data)}).CalculateEntityCount())

	// The entity stays until its last cleanup type is gone.
	removed, err := w.RemoveComponent(e, ts.CleanupComp)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, w.Exists(e))

	removed, err = w.RemoveComponent(e, ts.CleanupElement)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, w.Exists(e))
	assert.Zero(t, w.EntityCount())

	err = w.AddComponent(e, ts.Data)
	require.ErrorIs(t, err, ecs.ErrEntityNotFound)
	require.NoError(t, w.CheckInternalConsistency())
}

func TestCleanup_CopyDropsCleanup(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	e, err := w.CreateEntityWith(ts.Data, ts.CleanupComp)
	require.NoError(t, err)

	copies, err := w.CopyEntities([]ecs.Entity{e})
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.True(t, w.HasComponent(copies[0], ts.Data))
	assert.False(t, w.HasComponent(copies[0], ts.CleanupComp))
}
