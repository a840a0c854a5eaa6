package testutils

import (
	"slices"

	"github.com/argus-labs/chunkstore/pkg/ecs"
)

type Data struct{ Value int32 }

func (Data) Name() string { return "Data" }

type Data2 struct{ Value int32 }

func (Data2) Name() string { return "Data2" }

type Data3 struct{ Value int32 }

func (Data3) Name() string { return "Data3" }

type Data4 struct{ Value int32 }

func (Data4) Name() string { return "Data4" }

type Data5 struct{ Value int32 }

func (Data5) Name() string { return "Data5" }

// WriteGroupOut is declared to write into Data.
type WriteGroupOut struct{ Value int32 }

func (WriteGroupOut) Name() string { return "WriteGroupOut" }

type Tag struct{}

func (Tag) Name() string { return "Tag" }

type Label struct {
	Text string `json:"text"`
}

func (Label) Name() string { return "Label" }

type SharedComp struct{ Value int }

func (SharedComp) Name() string { return "SharedComp" }

type SharedComp2 struct{ Value int }

func (SharedComp2) Name() string { return "SharedComp2" }

// CleanupComp is a cleanup component.
type CleanupComp struct{ Value int32 }

func (CleanupComp) Name() string { return "CleanupComp" }

// CleanupElement is the element of a cleanup buffer.
type CleanupElement struct{ Value int32 }

func (CleanupElement) Name() string { return "CleanupElement" }

type IntElement struct{ Value int32 }

func (IntElement) Name() string { return "IntElement" }

type EnableableComp struct{ Value int32 }

func (EnableableComp) Name() string { return "EnableableComp" }

type EnableableComp2 struct{ Value int32 }

func (EnableableComp2) Name() string { return "EnableableComp2" }

type EntityRef struct {
	Value ecs.Entity
}

func (EntityRef) Name() string { return "EntityRef" }

// RefList holds references behind a slice, so it remaps them itself.
type RefList struct {
	Targets []ecs.Entity
}

func (RefList) Name() string { return "RefList" }

func (r RefList) Clone() RefList {
	return RefList{Targets: slices.Clone(r.Targets)}
}

func (r *RefList) RemapEntities(remap func(ecs.Entity) ecs.Entity) {
	for i, e := range r.Targets {
		r.Targets[i] = remap(e)
	}
}

type Nested struct {
	Header uint64
	Inner  struct {
		Pad    uint32
		Target ecs.Entity
	}
	Pair [2]ecs.Entity
}

func (Nested) Name() string { return "Nested" }

type ChunkBounds struct{ Min, Max int32 }

func (ChunkBounds) Name() string { return "ChunkBounds" }

// Huge is larger than a default chunk.
type Huge struct{ Bytes [32 * 1024]byte }

func (Huge) Name() string { return "Huge" }

// Half takes a bit over half of a default chunk, so one fits and two don't.
type Half struct{ Bytes [9000]byte }

func (Half) Name() string { return "Half" }

type Half2 struct{ Bytes [9000]byte }

func (Half2) Name() string { return "Half2" }

// Types holds the index of every fixture in one registry.
type Types struct {
	Registry *ecs.TypeRegistry

	Data, Data2, Data3, Data4, Data5 ecs.TypeIndex
	WriteGroupOut                    ecs.TypeIndex
	Tag, Label                       ecs.TypeIndex
	SharedComp, SharedComp2          ecs.TypeIndex
	CleanupComp, CleanupElement      ecs.TypeIndex
	IntElement                       ecs.TypeIndex
	Enableable, Enableable2          ecs.TypeIndex
	EntityRef, RefList, Nested       ecs.TypeIndex
	ChunkBounds                      ecs.TypeIndex
	Huge, Half, Half2                ecs.TypeIndex
}

// RegisterAll registers every fixture in a new registry. It panics on error since fixtures are
// known to be valid.
func RegisterAll() *Types {
	r := ecs.NewTypeRegistry()
	must := func(t ecs.TypeIndex, err error) ecs.TypeIndex {
		if err != nil {
			panic(err)
		}
		return t
	}

	ts := &Types{Registry: r}
	ts.Data = must(ecs.RegisterComponent[Data](r))
	ts.Data2 = must(ecs.RegisterComponent[Data2](r))
	ts.Data3 = must(ecs.RegisterComponent[Data3](r))
	ts.Data4 = must(ecs.RegisterComponent[Data4](r))
	ts.Data5 = must(ecs.RegisterComponent[Data5](r))
	ts.WriteGroupOut = must(ecs.RegisterComponent[WriteGroupOut](r, ecs.WriteGroup(ts.Data)))
	ts.Tag = must(ecs.RegisterComponent[Tag](r))
	ts.Label = must(ecs.RegisterComponent[Label](r))
	ts.SharedComp = must(ecs.RegisterShared[SharedComp](r))
	ts.SharedComp2 = must(ecs.RegisterShared[SharedComp2](r))
	ts.CleanupComp = must(ecs.RegisterComponent[CleanupComp](r, ecs.AsCleanup()))
	ts.CleanupElement = must(ecs.RegisterBuffer[CleanupElement](r, ecs.AsCleanup()))
	ts.IntElement = must(ecs.RegisterBuffer[IntElement](r, ecs.BufferCapacity(8)))
	ts.Enableable = must(ecs.RegisterComponent[EnableableComp](r, ecs.Enableable()))
	ts.Enableable2 = must(ecs.RegisterComponent[EnableableComp2](r, ecs.Enableable()))
	ts.EntityRef = must(ecs.RegisterComponent[EntityRef](r))
	ts.RefList = must(ecs.RegisterComponent[RefList](r))
	ts.Nested = must(ecs.RegisterComponent[Nested](r))
	ts.ChunkBounds = must(ecs.RegisterComponent[ChunkBounds](r))
	ts.Huge = must(ecs.RegisterComponent[Huge](r))
	ts.Half = must(ecs.RegisterComponent[Half](r))
	ts.Half2 = must(ecs.RegisterComponent[Half2](r))
	return ts
}

// NewWorld returns a world over a fresh fixture registry with quiet defaults.
func NewWorld(opts ecs.WorldOptions) (*ecs.World, *Types) {
	ts := RegisterAll()
	opts.Registry = ts.Registry
	w, err := ecs.NewWorld(opts)
	if err != nil {
		panic(err)
	}
	return w, ts
}
