package ecs_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/chunkstore/pkg/ecs"
	. "github.com/argus-labs/chunkstore/pkg/ecs/internal/testutils"
	"github.com/argus-labs/chunkstore/pkg/testutils"
)

func TestArchetype_Canonical(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	types := []ecs.TypeIndex{ts.Data, ts.Tag, ts.SharedComp, ts.IntElement, ts.CleanupComp}

	want, err := w.CreateArchetype(types...)
	require.NoError(t, err)
	require.Equal(t, ts.Registry.EntityType(), want.Types()[0], "Entity always comes first")

	// Every permutation of the same types resolves to the same archetype.
	g := testutils.NewGen()
	for !g.Done() {
		perm := slices.Clone(types)
		testutils.Shuffle(g, perm)
		got, err := w.CreateArchetype(perm...)
		require.NoError(t, err)
		assert.Same(t, want, got, "permutation %v", perm)
	}

	// Duplicates and an explicit Entity type collapse too.
	got, err := w.CreateArchetype(append(types, ts.Data, ts.Registry.EntityType())...)
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, len(types)+1, got.TypesCount())
}

func TestArchetype_Subsets(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	types := []ecs.TypeIndex{ts.Data, ts.Data2, ts.Tag, ts.SharedComp, ts.IntElement}

	g := testutils.NewGen()
	for !g.Done() {
		subset := testutils.Subset(g, types)
		extra := testutils.Pick(g, types)

		arch, err := w.CreateArchetype(append(subset, extra)...)
		require.NoError(t, err)

		distinct := map[ecs.TypeIndex]struct{}{extra: {}}
		for _, typ := range subset {
			distinct[typ] = struct{}{}
		}
		assert.Equal(t, len(distinct)+1, arch.TypesCount(), "subset %v extra %v", subset, extra)
		for typ := range distinct {
			assert.True(t, slices.Contains(arch.Types(), typ))
		}
	}
}

func TestArchetype_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		types func(ts *Types) []ecs.TypeIndex
		err   error
	}{
		{
			name:  "null type",
			types: func(ts *Types) []ecs.TypeIndex { return []ecs.TypeIndex{ts.Data, ecs.NullType} },
			err:   ecs.ErrNullComponentType,
		},
		{
			name:  "unregistered type",
			types: func(*Types) []ecs.TypeIndex { return []ecs.TypeIndex{ecs.TypeIndex(60000)} },
			err:   ecs.ErrTypeNotRegistered,
		},
		{
			name:  "component larger than a chunk",
			types: func(ts *Types) []ecs.TypeIndex { return []ecs.TypeIndex{ts.Huge} },
			err:   ecs.ErrComponentTooLarge,
		},
		{
			name:  "row larger than a chunk",
			types: func(ts *Types) []ecs.TypeIndex { return []ecs.TypeIndex{ts.Half, ts.Half2} },
			err:   ecs.ErrArchetypeTooLarge,
		},
		{
			name: "buffer as a chunk component",
			types: func(ts *Types) []ecs.TypeIndex {
				return []ecs.TypeIndex{ts.IntElement.AsChunkComponent()}
			},
			err: ecs.ErrWrongKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, ts := NewWorld(ecs.WorldOptions{})
			before := len(w.Archetypes())

			_, err := w.CreateArchetype(tt.types(ts)...)
			require.ErrorIs(t, err, tt.err)
			require.ErrorIs(t, err, ecs.ErrInvalidArgument)
			assert.Len(t, w.Archetypes(), before, "a failed archetype must not be registered")
		})
	}
}

func TestArchetype_HalfFits(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	arch, err := w.CreateArchetype(ts.Half)
	require.NoError(t, err)
	assert.Equal(t, 1, arch.ChunkCapacity())
	assert.LessOrEqual(t, arch.ArenaBytes(), w.ChunkSize())
}

func TestArchetype_ChunkCapacity(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{MaxChunkCapacity: 32})
	small, err := w.CreateArchetype(ts.Data)
	require.NoError(t, err)
	assert.Equal(t, 32, small.ChunkCapacity())

	tags, err := w.CreateArchetype(ts.Tag, ts.SharedComp)
	require.NoError(t, err)
	assert.Equal(t, 32, tags.ChunkCapacity())
}

func TestCalculateDifference(t *testing.T) {
	t.Parallel()

	w, ts := NewWorld(ecs.WorldOptions{})
	mustArch := func(types ...ecs.TypeIndex) *ecs.Archetype {
		arch, err := w.CreateArchetype(types...)
		require.NoError(t, err)
		return arch
	}

	tests := []struct {
		name        string
		before      *ecs.Archetype
		after       *ecs.Archetype
		wantAdded   []ecs.TypeIndex
		wantRemoved []ecs.TypeIndex
	}{
		{
			name:        "mixed",
			before:      mustArch(ts.Data, ts.Data3, ts.Data4),
			after:       mustArch(ts.Data, ts.Data2, ts.Data3, ts.Data5),
			wantAdded:   []ecs.TypeIndex{ts.Data2, ts.Data5},
			wantRemoved: []ecs.TypeIndex{ts.Data4},
		},
		{
			name:      "from empty",
			before:    mustArch(),
			after:     mustArch(ts.Data, ts.Data2),
			wantAdded: []ecs.TypeIndex{ts.Data, ts.Data2},
		},
		{
			name:        "to empty",
			before:      mustArch(ts.Data, ts.Data2),
			after:       nil,
			wantRemoved: []ecs.TypeIndex{ts.Data, ts.Data2},
		},
		{
			name:   "same",
			before: mustArch(ts.Data),
			after:  mustArch(ts.Data),
		},
		{
			name:        "chunk component is distinct",
			before:      mustArch(ts.ChunkBounds),
			after:       mustArch(ts.ChunkBounds.AsChunkComponent()),
			wantAdded:   []ecs.TypeIndex{ts.ChunkBounds.AsChunkComponent()},
			wantRemoved: []ecs.TypeIndex{ts.ChunkBounds},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := ecs.CalculateDifference(tt.before, tt.after)
			assert.ElementsMatch(t, tt.wantAdded, added)
			assert.ElementsMatch(t, tt.wantRemoved, removed)
		})
	}
}
