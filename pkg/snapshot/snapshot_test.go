package snapshot_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/chunkstore/pkg/ecs"
	"github.com/argus-labs/chunkstore/pkg/snapshot"
)

type position struct{ X, Y float32 }

func (position) Name() string { return "position" }

type health struct{ Value int32 }

func (health) Name() string { return "health" }

type fixture struct {
	world    *ecs.World
	position ecs.TypeIndex
	health   ecs.TypeIndex
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	r := ecs.NewTypeRegistry()
	pos, err := ecs.RegisterComponent[position](r)
	require.NoError(t, err)
	hp, err := ecs.RegisterComponent[health](r)
	require.NoError(t, err)
	w, err := ecs.NewWorld(ecs.WorldOptions{Registry: r})
	require.NoError(t, err)
	return fixture{world: w, position: pos, health: hp}
}

func TestSaveRestore(t *testing.T) {
	t.Parallel()

	src := newFixture(t)
	entities := make([]ecs.Entity, 10)
	for i := range entities {
		e, err := src.world.CreateEntityWith(src.position, src.health)
		require.NoError(t, err)
		require.NoError(t, ecs.SetComponentData(src.world, e, position{X: float32(i), Y: -float32(i)}))
		require.NoError(t, ecs.SetComponentData(src.world, e, health{Value: int32(100 - i)}))
		entities[i] = e
	}
	require.NoError(t, src.world.DestroyEntity(entities[3]))

	storage, err := snapshot.NewFileStorage(filepath.Join(t.TempDir(), "world.json"))
	require.NoError(t, err)

	saved, err := snapshot.Save(context.Background(), src.world, storage)
	require.NoError(t, err)
	assert.Equal(t, src.world.ID(), saved.WorldID)
	assert.Equal(t, src.world.GlobalSystemVersion(), saved.GlobalVersion)
	assert.Equal(t, snapshot.CurrentVersion, saved.Version)

	dst := newFixture(t)
	restored, err := snapshot.Restore(context.Background(), dst.world, storage)
	require.NoError(t, err)
	assert.Equal(t, saved.WorldID, restored.WorldID)
	assert.Equal(t, src.world.EntityCount(), dst.world.EntityCount())
	assert.Equal(t, saved.GlobalVersion, dst.world.GlobalSystemVersion())

	var total int32
	for _, e := range dst.world.GetAllEntities() {
		hp, err := ecs.GetComponentData[health](dst.world, e)
		require.NoError(t, err)
		pos, err := ecs.GetComponentData[position](dst.world, e)
		require.NoError(t, err)
		assert.Equal(t, float32(100-hp.Value), pos.X)
		total += hp.Value
	}
	// Sum of 100..91 without the destroyed 97.
	assert.Equal(t, int32(955-97), total)

	// A world that is not empty refuses the snapshot.
	_, err = snapshot.Restore(context.Background(), dst.world, storage)
	require.Error(t, err)
}

func TestRestore_Empty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := snapshot.Restore(context.Background(), f.world, snapshot.NewNopStorage())
	require.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)
	assert.Equal(t, 0, f.world.EntityCount())
}

func TestSave_Nop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.world.CreateEntityWith(f.health)
	require.NoError(t, err)

	s, err := snapshot.Save(context.Background(), f.world, snapshot.NewNopStorage())
	require.NoError(t, err)
	assert.NotEmpty(t, s.Data)
}
