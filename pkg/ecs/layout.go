package ecs

import (
	"reflect"
	"unsafe"

	"github.com/rotisserie/eris"
)

// BlobRef is a handle to an immutable blob owned outside the world. The engine never dereferences
// it; it only tracks where blob handles live inside component values.
type BlobRef struct {
	ID uint64
}

// EntityReferencer is implemented (on the pointer receiver) by component types whose entity
// references live behind slices, maps or pointers, where no fixed byte offset can reach them.
type EntityReferencer interface {
	RemapEntities(remap func(Entity) Entity)
}

var (
	entityReflectType     = reflect.TypeFor[Entity]()
	blobReflectType       = reflect.TypeFor[BlobRef]()
	referencerReflectType = reflect.TypeFor[EntityReferencer]()
)

// EntityOffsets returns the byte offsets of every Entity stored inline in a value of type t.
// Offsets accumulate through nested structs and arrays. It returns nil when there are none.
func EntityOffsets(t reflect.Type) []uintptr {
	return fieldOffsets(t, entityReflectType, 0, nil)
}

// BlobOffsets returns the byte offsets of every BlobRef stored inline in a value of type t.
func BlobOffsets(t reflect.Type) []uintptr {
	return fieldOffsets(t, blobReflectType, 0, nil)
}

func fieldOffsets(t, target reflect.Type, base uintptr, out []uintptr) []uintptr {
	if t == target {
		return append(out, base)
	}
	switch t.Kind() { //nolint:exhaustive // other kinds can't hold inline values
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			out = fieldOffsets(f.Type, target, base+f.Offset, out)
		}
	case reflect.Array:
		if t.Len() == 0 {
			return out
		}
		elem := fieldOffsets(t.Elem(), target, 0, nil)
		for i := range t.Len() {
			for _, off := range elem {
				out = append(out, base+uintptr(i)*t.Elem().Size()+off)
			}
		}
	}
	return out
}

// isPointerFree reports whether values of t can live in a byte arena without hiding pointers from
// the garbage collector.
func isPointerFree(t reflect.Type) bool {
	switch t.Kind() { //nolint:exhaustive // everything else holds a pointer
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || isPointerFree(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !isPointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func implementsReferencer(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(referencerReflectType)
}

// entityRemapper builds the visit plan used to rewrite entity references in a value of T.
// A type implementing EntityReferencer handles its own references; otherwise the inline offsets
// are patched in place. It returns nil when T can't reference entities.
func entityRemapper[T any](offsets []uintptr) func(*T, func(Entity) Entity) {
	var zero T
	if _, ok := any(&zero).(EntityReferencer); ok {
		return func(v *T, remap func(Entity) Entity) {
			any(v).(EntityReferencer).RemapEntities(remap) //nolint:errcheck // checked above
		}
	}
	if len(offsets) == 0 {
		return nil
	}
	return func(v *T, remap func(Entity) Entity) {
		base := unsafe.Pointer(v)
		for _, off := range offsets {
			e := (*Entity)(unsafe.Add(base, off))
			*e = remap(*e)
		}
	}
}

// -------------------------------------------------------------------------------------------------
// Chunk layout
// -------------------------------------------------------------------------------------------------

// blockAllocator carves aligned regions out of a single fixed-size block. Layouts are computed
// with it once per archetype; nothing is allocated for real.
type blockAllocator struct {
	size   uintptr
	offset uintptr
}

// allocate reserves n bytes at the given alignment and returns their offset. A request that can't fit
// in an empty block is rejected outright; one that only fails for lack of remaining space returns
// ok == false so the caller can retry with a smaller capacity.
func (b *blockAllocator) allocate(n, align uintptr) (offset uintptr, ok bool, err error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, false, eris.Wrapf(ErrAllocationTooLarge, "alignment %d is not a power of two", align)
	}
	if n > b.size || align > b.size {
		return 0, false, eris.Wrapf(ErrAllocationTooLarge, "%d bytes (align %d) in a %d byte block", n, align, b.size)
	}
	start := alignUp(b.offset, align)
	if start+n > b.size {
		return 0, false, nil
	}
	b.offset = start + n
	return start, true, nil
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// chunkLayout is the per-archetype placement of columns inside a chunk arena.
type chunkLayout struct {
	capacity int
	// offsets[i] is the arena offset of column i, or -1 when the column isn't arena-backed.
	offsets []int
	// arenaBytes is how much of the chunk arena the layout uses.
	arenaBytes int
}

// computeLayout places the entity column followed by each column type into a block of budget
// bytes. Pointer-free columns get arena offsets. The others only count against the budget so every
// archetype's footprint stays within one chunk.
func computeLayout(columns []*TypeInfo, budget, maxCapacity int) (chunkLayout, error) {
	rowSize := unsafe.Sizeof(Entity{})
	for _, info := range columns {
		if info.Size > uintptr(budget) {
			return chunkLayout{}, eris.Wrapf(ErrComponentTooLarge,
				"component %s needs %d bytes per entity, chunk budget is %d", info.Name, info.Size, budget)
		}
		rowSize += info.Size
	}
	if rowSize > uintptr(budget) {
		return chunkLayout{}, eris.Wrapf(ErrArchetypeTooLarge,
			"row needs %d bytes, chunk budget is %d", rowSize, budget)
	}

	capacity := min(budget/int(rowSize), maxCapacity)
	for ; capacity >= 1; capacity-- {
		layout, ok, err := tryLayout(columns, budget, capacity)
		if err != nil {
			return chunkLayout{}, err
		}
		if ok {
			return layout, nil
		}
	}
	return chunkLayout{}, eris.Wrapf(ErrArchetypeTooLarge, "aligned row of %d bytes does not fit", rowSize)
}

func tryLayout(columns []*TypeInfo, budget, capacity int) (chunkLayout, bool, error) {
	block := blockAllocator{size: uintptr(budget)}
	layout := chunkLayout{capacity: capacity, offsets: make([]int, len(columns)+1)}

	entitySize := unsafe.Sizeof(Entity{}) * uintptr(capacity)
	off, ok, err := block.allocate(entitySize, unsafe.Alignof(Entity{}))
	if err != nil || !ok {
		return chunkLayout{}, false, err
	}
	layout.offsets[0] = int(off)

	for i, info := range columns {
		off, ok, err = block.allocate(info.Size*uintptr(capacity), info.Alignment)
		if err != nil || !ok {
			return chunkLayout{}, false, err
		}
		layout.offsets[i+1] = -1
		if info.pointerFree {
			layout.offsets[i+1] = int(off)
		}
	}
	layout.arenaBytes = int(block.offset)
	return layout, true, nil
}
