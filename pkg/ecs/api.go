package ecs

import (
	"github.com/rotisserie/eris"
)

// componentIndex resolves T to its per-entity TypeIndex.
func componentIndex[T any](w *World) (TypeIndex, error) {
	t, err := TypeIndexOf[T](w.registry)
	if err != nil {
		return NullType, err
	}
	if t.IsShared() || t.IsBuffer() {
		return NullType, eris.Wrapf(ErrWrongKind, "%s is a %s component", w.registry.info(t).Name, t.Kind())
	}
	return t, nil
}

// AddComponentData adds T to e and sets its value. If e already has T only the value is written.
func AddComponentData[T any](w *World, e Entity, value T) error {
	t, err := componentIndex[T](w)
	if err != nil {
		return err
	}
	if err := w.AddComponent(e, t); err != nil {
		return err
	}
	if t.IsZeroSized() {
		return nil
	}
	return SetComponentData(w, e, value)
}

// SetComponentData writes e's value of T and stamps T's change version in e's chunk.
func SetComponentData[T any](w *World, e Entity, value T) error {
	ptr, err := GetComponentRW[T](w, e)
	if err != nil {
		return err
	}
	*ptr = value
	return nil
}

// GetComponentData returns e's value of T. Tags return their zero value.
func GetComponentData[T any](w *World, e Entity) (T, error) {
	var zero T
	t, err := componentIndex[T](w)
	if err != nil {
		return zero, err
	}
	if t.IsZeroSized() {
		if !w.HasComponent(e, t) {
			return zero, eris.Wrapf(ErrComponentNotPresent, "%v has no %s", e, w.registry.info(t).Name)
		}
		return zero, nil
	}
	col, row, err := w.componentColumn(e, t, false)
	if err != nil {
		return zero, err
	}
	return col.(*column[T]).get(row), nil //nolint:errcheck // the registry built this column for T
}

// GetComponentRW returns a pointer to e's value of T and stamps T's change version. The pointer
// is valid until the next structural change.
func GetComponentRW[T any](w *World, e Entity) (*T, error) {
	t, err := componentIndex[T](w)
	if err != nil {
		return nil, err
	}
	if t.IsZeroSized() {
		return nil, eris.Wrapf(ErrWrongKind, "%s has no data", w.registry.info(t).Name)
	}
	col, row, err := w.componentColumn(e, t, true)
	if err != nil {
		return nil, err
	}
	return &col.(*column[T]).data[row], nil //nolint:errcheck // the registry built this column for T
}

// HasComponentT reports whether e has T.
func HasComponentT[T any](w *World, e Entity) bool {
	t, err := TypeIndexOf[T](w.registry)
	if err != nil {
		return false
	}
	return w.HasComponent(e, t)
}

// SetEnabled toggles enableable component T on e.
func SetEnabled[T any](w *World, e Entity, enabled bool) error {
	t, err := TypeIndexOf[T](w.registry)
	if err != nil {
		return err
	}
	return w.SetComponentEnabled(e, t, enabled)
}

// IsEnabled reports whether e has T enabled.
func IsEnabled[T any](w *World, e Entity) (bool, error) {
	t, err := TypeIndexOf[T](w.registry)
	if err != nil {
		return false, err
	}
	return w.IsComponentEnabled(e, t)
}

// -------------------------------------------------------------------------------------------------
// Chunk access
// -------------------------------------------------------------------------------------------------

// GetColumn returns the live rows of T in c for writing and stamps T's change version in c. It's
// safe to call from parallel jobs working on different chunks.
func GetColumn[T any](w *World, c *Chunk) ([]T, error) {
	return chunkColumn[T](w, c, true)
}

// GetColumnReadOnly returns the live rows of T in c without stamping its change version.
func GetColumnReadOnly[T any](w *World, c *Chunk) ([]T, error) {
	return chunkColumn[T](w, c, false)
}

func chunkColumn[T any](w *World, c *Chunk, write bool) ([]T, error) {
	if c.archetype.world != w {
		return nil, ErrWorldMismatch
	}
	t, err := componentIndex[T](w)
	if err != nil {
		return nil, err
	}
	pos := c.archetype.typePos(t)
	if pos < 0 {
		return nil, eris.Wrapf(ErrComponentNotPresent, "chunk has no %s", w.registry.info(t).Name)
	}
	col := c.archetype.columnOf[pos]
	if col < 0 {
		return nil, eris.Wrapf(ErrWrongKind, "%s has no per-entity data", w.registry.info(t).Name)
	}
	if write {
		c.changeVersions[pos] = w.globalVersion
	}
	return c.columns[col].(*column[T]).data[:c.count], nil //nolint:errcheck // built for T
}

// GetChunkBuffers returns the buffers of E for the live rows of c and stamps E's change version.
func GetChunkBuffers[E any](w *World, c *Chunk) ([]DynamicBuffer[E], error) {
	t, err := TypeIndexOf[E](w.registry)
	if err != nil {
		return nil, err
	}
	if !t.IsBuffer() {
		return nil, eris.Wrapf(ErrWrongKind, "%s is not a buffer", w.registry.info(t).Name)
	}
	pos := c.archetype.typePos(t)
	if pos < 0 {
		return nil, eris.Wrapf(ErrComponentNotPresent, "chunk has no %s", w.registry.info(t).Name)
	}
	c.changeVersions[pos] = w.globalVersion
	rows := c.columns[c.archetype.columnOf[pos]].(*column[[]E]) //nolint:errcheck // built for E
	out := make([]DynamicBuffer[E], c.count)
	for i := range out {
		out[i] = DynamicBuffer[E]{data: &rows.data[i]}
	}
	return out, nil
}

// GetChunkComponentData returns c's chunk component T.
func GetChunkComponentData[T any](w *World, c *Chunk) (T, error) {
	var zero T
	col, _, err := chunkValue[T](w, c, false)
	if err != nil || col == nil {
		return zero, err
	}
	return col.get(0), nil
}

// SetChunkComponentData writes c's chunk component T. It isn't a structural change.
func SetChunkComponentData[T any](w *World, c *Chunk, value T) error {
	col, _, err := chunkValue[T](w, c, true)
	if err != nil {
		return err
	}
	if col != nil {
		col.set(0, value)
	}
	return nil
}

// chunkValue returns the backing column of c's chunk component T, nil for zero-sized T.
func chunkValue[T any](w *World, c *Chunk, write bool) (*column[T], int, error) {
	if c.archetype.world != w {
		return nil, 0, ErrWorldMismatch
	}
	t, err := componentIndex[T](w)
	if err != nil {
		return nil, 0, err
	}
	pos := c.archetype.typePos(t.AsChunkComponent())
	if pos < 0 {
		return nil, 0, eris.Wrapf(ErrComponentNotPresent, "chunk has no chunk component %s", w.registry.info(t).Name)
	}
	if write {
		c.changeVersions[pos] = w.globalVersion
	}
	values := c.chunkValues[c.archetype.chunkOf[pos]]
	if values == nil {
		return nil, pos, nil
	}
	return values.(*column[T]), pos, nil //nolint:errcheck // built for T
}

// AddChunkComponentData adds chunk component T to every chunk matching q and writes value into
// each of them. This is a structural change: the matching entities move to an archetype holding
// the chunk component.
func AddChunkComponentData[T any](w *World, q *EntityQuery, value T) error {
	if err := w.checkQuery(q); err != nil {
		return err
	}
	t, err := componentIndex[T](w)
	if err != nil {
		return err
	}
	ct := t.AsChunkComponent()
	if err := w.beginImplicit(); err != nil {
		return err
	}
	defer w.endImplicit()

	entities := q.ToEntityArray()
	for _, e := range entities {
		if err := w.addComponentLocked(e, ct); err != nil {
			return err
		}
	}
	written := make(map[*Chunk]struct{})
	for _, e := range entities {
		c, _, _ := w.entities.location(e)
		if _, ok := written[c]; ok {
			continue
		}
		written[c] = struct{}{}
		if err := SetChunkComponentData(w, c, value); err != nil {
			return err
		}
	}
	return nil
}

// AddChunkComponent adds chunk component T, with its zero value, to e's archetype.
func AddChunkComponent[T any](w *World, e Entity) error {
	t, err := componentIndex[T](w)
	if err != nil {
		return err
	}
	return w.AddComponent(e, t.AsChunkComponent())
}
