package ecs

import (
	"reflect"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// Component is the interface that all components must implement.
// Components are pure data containers that can be attached to entities.
type Component interface { //nolint:iface // We may add more methods in the future.
	// Name returns a unique string identifier for the component type.
	// This should be consistent across program executions since snapshots key component data by it.
	Name() string
}

// TypeIndex identifies a registered component type. The low 16 bits hold the registry id, the
// next four bits the Kind, and the remaining bits are flags describing the type. The flags let
// hot paths answer "is this shared", "is this a chunk component" without a registry lookup.
type TypeIndex uint32

const (
	typeIDBits = 16
	typeIDMask = 1<<typeIDBits - 1
	kindShift  = typeIDBits
	kindMask   = 0xF << kindShift

	chunkComponentFlag TypeIndex = 1 << 20
	enableableFlag     TypeIndex = 1 << 21
	entityRefsFlag     TypeIndex = 1 << 22
	blobRefsFlag       TypeIndex = 1 << 23
	zeroSizedFlag      TypeIndex = 1 << 24

	// MaxTypes is the number of distinct component types a registry can hold.
	MaxTypes = typeIDMask
)

// NullType is the zero TypeIndex. No registered type ever has it.
const NullType TypeIndex = 0

// Kind is the storage category of a component type. The declaration order is the canonical order
// of types inside an archetype.
type Kind uint8

const (
	KindEntity Kind = iota
	KindData
	KindCleanup
	KindBuffer
	KindCleanupBuffer
	KindTag
	KindShared
	KindCleanupShared
)

var kindNames = [...]string{"entity", "data", "cleanup", "buffer", "cleanup-buffer", "tag", "shared", "cleanup-shared"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (t TypeIndex) ID() uint16 { return uint16(t & typeIDMask) }

func (t TypeIndex) Kind() Kind { return Kind((t & kindMask) >> kindShift) }

func (t TypeIndex) IsNull() bool { return t.ID() == 0 }

func (t TypeIndex) IsChunkComponent() bool { return t&chunkComponentFlag != 0 }

func (t TypeIndex) IsEnableable() bool { return t&enableableFlag != 0 }

func (t TypeIndex) HasEntityReferences() bool { return t&entityRefsFlag != 0 }

func (t TypeIndex) HasBlobReferences() bool { return t&blobRefsFlag != 0 }

// IsZeroSized reports whether the type occupies no per-entity storage.
func (t TypeIndex) IsZeroSized() bool { return t&zeroSizedFlag != 0 }

func (t TypeIndex) IsShared() bool {
	k := t.Kind()
	return k == KindShared || k == KindCleanupShared
}

func (t TypeIndex) IsBuffer() bool {
	k := t.Kind()
	return k == KindBuffer || k == KindCleanupBuffer
}

func (t TypeIndex) IsCleanup() bool {
	k := t.Kind()
	return k == KindCleanup || k == KindCleanupBuffer || k == KindCleanupShared
}

// hasColumn reports whether the type stores one value per entity inside a chunk.
func (t TypeIndex) hasColumn() bool {
	return !t.IsZeroSized() && !t.IsShared() && !t.IsChunkComponent()
}

// AsChunkComponent returns the chunk-component variant of t.
func (t TypeIndex) AsChunkComponent() TypeIndex { return t | chunkComponentFlag }

// WithoutChunkFlag strips the chunk-component flag.
func (t TypeIndex) WithoutChunkFlag() TypeIndex { return t &^ chunkComponentFlag }

// sortKey orders types canonically: every non-chunk type before every chunk component, then by
// Kind, then by registration order.
func (t TypeIndex) sortKey() uint64 {
	var chunk uint64
	if t.IsChunkComponent() {
		chunk = 1
	}
	return chunk<<40 | uint64(t.Kind())<<32 | uint64(t.ID())
}

// bit is the position of the type in archetype signatures. Chunk components get their own bit so a
// chunk component T and a per-entity T are distinct members.
func (t TypeIndex) bit() uint32 {
	b := uint32(t.ID()) << 1
	if t.IsChunkComponent() {
		b |= 1
	}
	return b
}

// sortTypes sorts a type list into canonical archetype order and drops duplicates.
func sortTypes(types []TypeIndex) []TypeIndex {
	sort.Slice(types, func(i, j int) bool { return types[i].sortKey() < types[j].sortKey() })
	out := types[:0]
	for i, t := range types {
		if i > 0 && t.bit() == out[len(out)-1].bit() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// AccessMode is the access a query or job requests for a component type.
type AccessMode uint8

const (
	ReadWriteAccess AccessMode = iota
	ReadOnlyAccess
	ExcludeAccess
)

// ComponentType is a TypeIndex paired with the access mode it's requested with.
type ComponentType struct {
	TypeIndex  TypeIndex
	AccessMode AccessMode
}

// -------------------------------------------------------------------------------------------------
// Registry
// -------------------------------------------------------------------------------------------------

// TypeInfo is the memory-layout metadata of a registered component type.
type TypeInfo struct {
	Index     TypeIndex
	Name      string
	Type      reflect.Type // For buffers, the element type.
	Size      uintptr      // Bytes each entity occupies in a chunk. 0 for tags and shared types.
	Alignment uintptr

	ElementSize    uintptr // Buffers only.
	BufferCapacity int     // Buffers only. Elements counted against the chunk budget.

	// EntityOffsets and BlobOffsets are the byte offsets of Entity and BlobRef fields inside one
	// value (one element for buffers). nil when the type has none.
	EntityOffsets []uintptr
	BlobOffsets   []uintptr

	// WriteGroup lists the types this type is declared to write into.
	WriteGroup []TypeIndex

	pointerFree bool
	newColumn   func(capacity int, arena []byte) abstractColumn
	encode      func(v any) ([]byte, error)
	decode      func(data []byte) (any, error)
	zero        any
}

// TypeRegistry maps Go types to TypeIndex values. Registration happens at startup, before any
// world uses the types, and isn't safe to call concurrently with other registry use.
type TypeRegistry struct {
	infos       []*TypeInfo // id -> info, index 0 is the null type
	byType      map[reflect.Type]TypeIndex
	byName      map[string]TypeIndex
	writeGroups map[uint16][]TypeIndex // target id -> types that write into it

	builtins builtinTypes
}

// NewTypeRegistry creates a registry holding the Entity type and the built-in tags.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		infos:       []*TypeInfo{nil},
		byType:      make(map[reflect.Type]TypeIndex),
		byName:      make(map[string]TypeIndex),
		writeGroups: make(map[uint16][]TypeIndex),
	}
	r.registerBuiltins()
	return r
}

// TypeOption adjusts a registration.
type TypeOption func(*typeOptions)

type typeOptions struct {
	cleanup        bool
	enableable     bool
	writeGroup     []TypeIndex
	bufferCapacity int
}

// AsCleanup registers the type as a cleanup component. Cleanup components survive destruction of
// their entity until they're explicitly removed.
func AsCleanup() TypeOption { return func(o *typeOptions) { o.cleanup = true } }

// Enableable lets the component be toggled per entity without a structural change.
func Enableable() TypeOption { return func(o *typeOptions) { o.enableable = true } }

// WriteGroup declares that the registered type writes into target. Queries that name target but not
// the registered type skip archetypes holding the registered type.
func WriteGroup(target TypeIndex) TypeOption {
	return func(o *typeOptions) { o.writeGroup = append(o.writeGroup, target) }
}

// BufferCapacity sets how many buffer elements are budgeted inside the chunk per entity.
func BufferCapacity(n int) TypeOption { return func(o *typeOptions) { o.bufferCapacity = n } }

// RegisterComponent registers a per-entity component. Zero-sized types become tags.
func RegisterComponent[T Component](r *TypeRegistry, opts ...TypeOption) (TypeIndex, error) {
	o := applyTypeOptions(opts)
	t := reflect.TypeFor[T]()

	kind := KindData
	switch {
	case o.cleanup:
		kind = KindCleanup
	case t.Size() == 0:
		kind = KindTag
	}

	info := newTypeInfo[T](t, kind)
	info.newColumn = columnFactory[T](info)
	return r.register(info, o)
}

// RegisterBuffer registers a dynamic buffer whose elements are of type E.
func RegisterBuffer[E Component](r *TypeRegistry, opts ...TypeOption) (TypeIndex, error) {
	o := applyTypeOptions(opts)
	t := reflect.TypeFor[E]()

	kind := KindBuffer
	if o.cleanup {
		kind = KindCleanupBuffer
	}

	info := newTypeInfo[[]E](t, kind)
	var zero E
	info.Name = zero.Name()
	info.ElementSize = t.Size()
	info.BufferCapacity = o.bufferCapacity
	if info.BufferCapacity <= 0 {
		info.BufferCapacity = defaultBufferCapacity(t.Size())
	}
	info.Size = bufferHeaderSize + uintptr(info.BufferCapacity)*t.Size()
	info.Alignment = max(bufferHeaderAlign, uintptr(t.Align()))
	info.pointerFree = false
	info.newColumn = bufferColumnFactory[E](info)
	return r.register(info, o)
}

// RegisterShared registers a shared component. Values are deduplicated per world and every chunk
// holds exactly one value of each of its shared types.
func RegisterShared[T interface {
	comparable
	Component
}](r *TypeRegistry, opts ...TypeOption) (TypeIndex, error) {
	o := applyTypeOptions(opts)
	if o.enableable {
		return NullType, eris.Wrap(ErrTypeConflict, "shared components cannot be enableable")
	}
	t := reflect.TypeFor[T]()

	kind := KindShared
	if o.cleanup {
		kind = KindCleanupShared
	}

	info := newTypeInfo[T](t, kind)
	info.Size = 0
	return r.register(info, o)
}

func applyTypeOptions(opts []TypeOption) typeOptions {
	var o typeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newTypeInfo[T any](t reflect.Type, kind Kind) *TypeInfo {
	var zero T
	name := ""
	if c, ok := any(zero).(Component); ok {
		name = c.Name()
	}
	return &TypeInfo{
		Name:          name,
		Type:          t,
		Size:          t.Size(),
		Alignment:     uintptr(t.Align()),
		EntityOffsets: EntityOffsets(t),
		BlobOffsets:   BlobOffsets(t),
		pointerFree:   isPointerFree(t),
		encode:        encodeValue[T],
		decode:        decodeValue[T],
		zero:          zero,
		Index:         TypeIndex(kind) << kindShift,
	}
}

func (r *TypeRegistry) register(info *TypeInfo, o typeOptions) (TypeIndex, error) {
	if info.Name == "" {
		return NullType, eris.Wrapf(ErrTypeConflict, "component %s has an empty name", info.Type)
	}

	flags := info.Index
	if o.enableable {
		flags |= enableableFlag
	}
	if info.EntityOffsets != nil || implementsReferencer(info.Type) {
		flags |= entityRefsFlag
	}
	if info.BlobOffsets != nil {
		flags |= blobRefsFlag
	}
	if info.Size == 0 {
		flags |= zeroSizedFlag
	}

	key := info.Type
	if info.Index.Kind() == KindBuffer || info.Index.Kind() == KindCleanupBuffer {
		key = reflect.SliceOf(info.Type)
	}
	if existing, ok := r.byType[key]; ok {
		if existing&^typeIDMask != flags {
			return NullType, eris.Wrapf(ErrTypeConflict, "component %s re-registered with a different kind", info.Name)
		}
		return existing, nil
	}
	if _, ok := r.byName[info.Name]; ok {
		return NullType, eris.Wrapf(ErrTypeConflict, "component name %q already taken", info.Name)
	}
	if len(r.infos) > MaxTypes {
		return NullType, eris.Wrapf(ErrTooManyTypes, "registering %s", info.Name)
	}
	for _, target := range o.writeGroup {
		if _, err := r.Info(target); err != nil {
			return NullType, eris.Wrapf(err, "write group target of %s", info.Name)
		}
	}

	index := flags | TypeIndex(len(r.infos))
	info.Index = index
	info.WriteGroup = o.writeGroup
	r.infos = append(r.infos, info)
	r.byType[key] = index
	r.byName[info.Name] = index
	for _, target := range o.writeGroup {
		r.writeGroups[target.ID()] = append(r.writeGroups[target.ID()], index)
	}
	assert.That(int(index.ID()) == len(r.infos)-1, "type id doesn't match number of types")

	return index, nil
}

// Info returns the metadata of a registered type. The chunk-component flag is ignored.
func (r *TypeRegistry) Info(t TypeIndex) (*TypeInfo, error) {
	if t.IsNull() {
		return nil, ErrNullComponentType
	}
	if int(t.ID()) >= len(r.infos) {
		return nil, eris.Wrapf(ErrTypeNotRegistered, "type id %d", t.ID())
	}
	return r.infos[t.ID()], nil
}

// info is Info for indices the engine already validated.
func (r *TypeRegistry) info(t TypeIndex) *TypeInfo {
	return r.infos[t.ID()]
}

// Lookup returns the index of a registered type by name.
func (r *TypeRegistry) Lookup(name string) (TypeIndex, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Len returns the number of registered types, the Entity type included.
func (r *TypeRegistry) Len() int { return len(r.infos) - 1 }

// writeGroupOf returns the types declared to write into target.
func (r *TypeRegistry) writeGroupOf(target TypeIndex) []TypeIndex {
	return r.writeGroups[target.ID()]
}

// TypeIndexOf returns the index T was registered under. Buffers are looked up by element type.
func TypeIndexOf[T any](r *TypeRegistry) (TypeIndex, error) {
	t := reflect.TypeFor[T]()
	if idx, ok := r.byType[t]; ok {
		return idx, nil
	}
	if idx, ok := r.byType[reflect.SliceOf(t)]; ok {
		return idx, nil
	}
	return NullType, eris.Wrapf(ErrTypeNotRegistered, "type %s", t)
}

// ReadWrite returns T with read-write access. Unregistered types resolve to the null type, which
// every operation rejects.
func ReadWrite[T any](r *TypeRegistry) ComponentType {
	idx, _ := TypeIndexOf[T](r)
	return ComponentType{TypeIndex: idx, AccessMode: ReadWriteAccess}
}

// ReadOnly returns T with read-only access.
func ReadOnly[T any](r *TypeRegistry) ComponentType {
	idx, _ := TypeIndexOf[T](r)
	return ComponentType{TypeIndex: idx, AccessMode: ReadOnlyAccess}
}

// ChunkComponent returns the chunk-component variant of T with read-write access.
func ChunkComponent[T any](r *TypeRegistry) ComponentType {
	idx, _ := TypeIndexOf[T](r)
	if idx.IsNull() {
		return ComponentType{}
	}
	return ComponentType{TypeIndex: idx.AsChunkComponent(), AccessMode: ReadWriteAccess}
}

// ReadOnlyChunkComponent returns the chunk-component variant of T with read-only access.
func ReadOnlyChunkComponent[T any](r *TypeRegistry) ComponentType {
	ct := ChunkComponent[T](r)
	ct.AccessMode = ReadOnlyAccess
	return ct
}

// Types lifts plain indices into read-write component types.
func Types(indices ...TypeIndex) []ComponentType {
	out := make([]ComponentType, len(indices))
	for i, t := range indices {
		out[i] = ComponentType{TypeIndex: t}
	}
	return out
}
