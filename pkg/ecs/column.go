package ecs

import (
	"fmt"
	"unsafe"

	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// abstractColumn is an internal interface for generic column operations.
type abstractColumn interface {
	capacity() int

	// moveRow copies a row into a column of the same type in another chunk. The source row keeps
	// its value until it's cleared or overwritten.
	moveRow(dst abstractColumn, srcRow, dstRow int)
	// cloneRow is moveRow with deep copies for values that own heap memory.
	cloneRow(dst abstractColumn, srcRow, dstRow int)
	// swapBack overwrites row with last and zeroes last.
	swapBack(row, last int)
	clearRow(row int)

	getAbstract(row int) any
	setAbstract(row int, v any) error

	remapRow(row int, remap func(Entity) Entity)
	encodeRow(row int) ([]byte, error)
	decodeRow(row int, data []byte) error
}

var _ abstractColumn = &column[int]{}

// column stores one component value per chunk row. It never grows: its length is the chunk
// capacity, and the chunk's count says how many rows are live.
type column[T any] struct {
	data  []T
	clone func(T) T                     // Deep copy, nil when a value copy is enough
	remap func(*T, func(Entity) Entity) // nil when T holds no entity references
}

// columnFactory returns a constructor for columns of T. Pointer-free T is laid out inside the
// chunk arena when an arena slice is passed in. Otherwise the column gets its own backing array.
func columnFactory[T any](info *TypeInfo) func(capacity int, arena []byte) abstractColumn {
	remap := entityRemapper[T](info.EntityOffsets)
	clone := clonerOf[T]()
	return func(capacity int, arena []byte) abstractColumn {
		return &column[T]{data: makeRows[T](capacity, arena), clone: clone, remap: remap}
	}
}

// Cloner is implemented by component types that own heap memory, such as slices, so that
// instantiated and copied entities don't share it with their source.
type Cloner[T any] interface {
	Clone() T
}

func clonerOf[T any]() func(T) T {
	var zero T
	if _, ok := any(zero).(Cloner[T]); !ok {
		return nil
	}
	return func(v T) T { return any(v).(Cloner[T]).Clone() } //nolint:errcheck // checked above
}

// makeRows returns capacity rows of T. A non-nil arena must be exactly large enough.
func makeRows[T any](capacity int, arena []byte) []T {
	if arena == nil || capacity == 0 {
		return make([]T, capacity)
	}
	var zero T
	assert.That(uintptr(len(arena)) >= uintptr(capacity)*unsafe.Sizeof(zero), "arena slice too small")
	assert.That(uintptr(unsafe.Pointer(&arena[0]))%unsafe.Alignof(zero) == 0, "arena slice misaligned")
	return unsafe.Slice((*T)(unsafe.Pointer(&arena[0])), capacity)
}

func (c *column[T]) capacity() int {
	return len(c.data)
}

func (c *column[T]) get(row int) T {
	return c.data[row]
}

func (c *column[T]) set(row int, v T) {
	c.data[row] = v
}

func (c *column[T]) moveRow(dst abstractColumn, srcRow, dstRow int) {
	d, ok := dst.(*column[T])
	assert.That(ok, "moveRow between columns of different types")
	d.data[dstRow] = c.data[srcRow]
}

func (c *column[T]) cloneRow(dst abstractColumn, srcRow, dstRow int) {
	d, ok := dst.(*column[T])
	assert.That(ok, "cloneRow between columns of different types")
	if c.clone != nil {
		d.data[dstRow] = c.clone(c.data[srcRow])
		return
	}
	d.data[dstRow] = c.data[srcRow]
}

func (c *column[T]) swapBack(row, last int) {
	if row != last {
		c.data[row] = c.data[last]
	}
	var zero T
	c.data[last] = zero
}

func (c *column[T]) clearRow(row int) {
	var zero T
	c.data[row] = zero
}

// getAbstract boxes the value. Prefer get where T is known.
func (c *column[T]) getAbstract(row int) any {
	return c.data[row]
}

func (c *column[T]) setAbstract(row int, v any) error {
	value, ok := v.(T)
	if !ok {
		return eris.Wrapf(ErrWrongKind, "expected %T, got %T", value, v)
	}
	c.data[row] = value
	return nil
}

func (c *column[T]) remapRow(row int, remap func(Entity) Entity) {
	if c.remap != nil {
		c.remap(&c.data[row], remap)
	}
}

func (c *column[T]) encodeRow(row int) ([]byte, error) {
	return encodeValue[T](c.data[row])
}

func (c *column[T]) decodeRow(row int, data []byte) error {
	var v T
	if err := decodeInto(data, &v); err != nil {
		return err
	}
	c.data[row] = v
	return nil
}

// -------------------------------------------------------------------------------------------------
// Value codec
// -------------------------------------------------------------------------------------------------

func encodeValue[T any](v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to serialize %T", v)
	}
	return data, nil
}

func decodeValue[T any](data []byte) (any, error) {
	var v T
	if err := decodeInto(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeInto(data []byte, v any) (err error) {
	defer func() {
		// shamaton/msgpack can panic on malformed input instead of returning an error.
		if r := recover(); r != nil {
			err = eris.Wrap(fmt.Errorf("panic: %v", r), "failed to deserialize")
		}
	}()

	if err := msgpack.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "failed to deserialize %T", v)
	}
	return nil
}
