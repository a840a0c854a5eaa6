package ecs

import (
	"slices"

	"github.com/rotisserie/eris"
)

const (
	bufferHeaderSize  = 16
	bufferHeaderAlign = 8
	// defaultBufferBytes is the inline element budget per entity when no capacity is given.
	defaultBufferBytes = 128
)

func defaultBufferCapacity(elemSize uintptr) int {
	if elemSize == 0 {
		return 0
	}
	return max(1, defaultBufferBytes/int(elemSize))
}

// bufferColumnFactory returns a constructor for columns holding one []E per entity. Buffers never
// live in the arena since their backing arrays are heap memory.
func bufferColumnFactory[E any](info *TypeInfo) func(capacity int, arena []byte) abstractColumn {
	elemRemap := entityRemapper[E](info.EntityOffsets)
	var remap func(*[]E, func(Entity) Entity)
	if elemRemap != nil {
		remap = func(buf *[]E, fn func(Entity) Entity) {
			for i := range *buf {
				elemRemap(&(*buf)[i], fn)
			}
		}
	}
	return func(capacity int, _ []byte) abstractColumn {
		return &column[[]E]{
			data:  make([][]E, capacity),
			clone: func(s []E) []E { return slices.Clone(s) },
			remap: remap,
		}
	}
}

// DynamicBuffer is a view of one entity's buffer component. It stays valid until the next
// structural change touching that entity.
type DynamicBuffer[E any] struct {
	data *[]E
}

func (b DynamicBuffer[E]) Len() int { return len(*b.data) }

func (b DynamicBuffer[E]) At(i int) E { return (*b.data)[i] }

func (b DynamicBuffer[E]) Set(i int, v E) { (*b.data)[i] = v }

func (b DynamicBuffer[E]) Add(v ...E) { *b.data = append(*b.data, v...) }

// RemoveAt removes element i, keeping the order of the rest.
func (b DynamicBuffer[E]) RemoveAt(i int) { *b.data = slices.Delete(*b.data, i, i+1) }

// RemoveAtSwapBack removes element i by moving the last element into its place.
func (b DynamicBuffer[E]) RemoveAtSwapBack(i int) {
	s := *b.data
	last := len(s) - 1
	s[i] = s[last]
	var zero E
	s[last] = zero
	*b.data = s[:last]
}

func (b DynamicBuffer[E]) Clear() { *b.data = (*b.data)[:0] }

// AsSlice returns the elements. The slice aliases the buffer.
func (b DynamicBuffer[E]) AsSlice() []E { return *b.data }

// GetBuffer returns e's buffer of E for reading and writing. The buffer's change version is
// stamped with the current global version.
func GetBuffer[E any](w *World, e Entity) (DynamicBuffer[E], error) {
	return getBuffer[E](w, e, true)
}

// GetBufferReadOnly returns e's buffer of E without stamping its change version.
func GetBufferReadOnly[E any](w *World, e Entity) (DynamicBuffer[E], error) {
	return getBuffer[E](w, e, false)
}

func getBuffer[E any](w *World, e Entity, write bool) (DynamicBuffer[E], error) {
	t, err := TypeIndexOf[E](w.registry)
	if err != nil {
		return DynamicBuffer[E]{}, err
	}
	if !t.IsBuffer() {
		return DynamicBuffer[E]{}, eris.Wrapf(ErrWrongKind, "%s is not a buffer", w.registry.info(t).Name)
	}
	col, row, err := w.componentColumn(e, t, write)
	if err != nil {
		return DynamicBuffer[E]{}, err
	}
	rows := col.(*column[[]E]) //nolint:errcheck // the registry built this column for E
	return DynamicBuffer[E]{data: &rows.data[row]}, nil
}

// AddBuffer adds an empty buffer of E to e and returns it. Adding a buffer the entity already has
// returns the existing one.
func AddBuffer[E any](w *World, e Entity) (DynamicBuffer[E], error) {
	t, err := TypeIndexOf[E](w.registry)
	if err != nil {
		return DynamicBuffer[E]{}, err
	}
	if err := w.AddComponent(e, t); err != nil {
		return DynamicBuffer[E]{}, err
	}
	return GetBuffer[E](w, e)
}
