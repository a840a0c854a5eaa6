package ecs

import (
	"github.com/kelindar/bitmap"

	"github.com/argus-labs/chunkstore/pkg/assert"
)

// Chunk is a fixed-capacity block of rows for entities of one archetype. Columns are laid out
// column-major; pointer-free columns are typed views into the chunk's arena.
//
// A *Chunk handed out by a query stays valid until the next structural change. Rows may move, and
// an emptied chunk goes back to its archetype's pool.
type Chunk struct {
	archetype *Archetype
	sequence  uint64 // Unique per world, never reused
	listIndex int    // Position in archetype.chunks, -1 while pooled
	spaceSlot int    // Position in its archetype's with-space list, -1 when full or pooled
	count     int

	arena    []byte
	entities []Entity
	columns  []abstractColumn // Parallel to archetype.columnTypes

	changeVersions []uint32 // Parallel to archetype.types
	orderVersion   uint32

	sharedKey   sharedKey        // Parallel to archetype.sharedTypes
	chunkValues []abstractColumn // Parallel to archetype.chunkTypes, nil for zero-sized types
	enabled     []bitmap.Bitmap  // Parallel to archetype.enableableTypes, bit set means enabled
}

func newChunk(arch *Archetype, arena []byte, sequence uint64) *Chunk {
	layout := arch.layout
	c := &Chunk{
		archetype:      arch,
		sequence:       sequence,
		listIndex:      -1,
		spaceSlot:      -1,
		arena:          arena,
		columns:        make([]abstractColumn, len(arch.columnTypes)),
		changeVersions: make([]uint32, len(arch.types)),
		chunkValues:    make([]abstractColumn, len(arch.chunkTypes)),
		enabled:        make([]bitmap.Bitmap, len(arch.enableableTypes)),
	}

	c.entities = makeRows[Entity](layout.capacity, arenaSlice(arena, layout.offsets[0], layout.capacity, entitySize))
	for i, info := range arch.columnInfos {
		var region []byte
		if off := layout.offsets[i+1]; off >= 0 {
			region = arenaSlice(arena, off, layout.capacity, info.Size)
		}
		c.columns[i] = info.newColumn(layout.capacity, region)
	}
	for i, t := range arch.chunkTypes {
		if t.IsZeroSized() {
			continue
		}
		c.chunkValues[i] = arch.world.registry.info(t).newColumn(1, nil)
	}
	for i := range c.enabled {
		c.enabled[i].Grow(uint32(layout.capacity)) //nolint:gosec // capacity is small
	}
	return c
}

func arenaSlice(arena []byte, offset, capacity int, size uintptr) []byte {
	if arena == nil {
		return nil
	}
	return arena[offset : offset+capacity*int(size)]
}

// Archetype returns the archetype whose rows this chunk holds.
func (c *Chunk) Archetype() *Archetype { return c.archetype }

// Count returns the number of live rows.
func (c *Chunk) Count() int { return c.count }

// Capacity returns the number of rows the chunk can hold.
func (c *Chunk) Capacity() int { return len(c.entities) }

// Full reports whether every row is live.
func (c *Chunk) Full() bool { return c.count == len(c.entities) }

// Sequence is a world-unique identifier for the chunk.
func (c *Chunk) Sequence() uint64 { return c.sequence }

// Entities returns the live rows' entities. The slice aliases chunk memory.
func (c *Chunk) Entities() []Entity { return c.entities[:c.count] }

// OrderVersion is the global version of the last structural change to this chunk.
func (c *Chunk) OrderVersion() uint32 { return c.orderVersion }

// Has reports whether the chunk's archetype holds t. Use the chunk-component variant of t to ask
// about chunk components.
func (c *Chunk) Has(t TypeIndex) bool { return c.archetype.typePos(t) >= 0 }

// ChangeVersion returns the version t was last written at in this chunk, or 0 if absent.
func (c *Chunk) ChangeVersion(t TypeIndex) uint32 {
	pos := c.archetype.typePos(t)
	if pos < 0 {
		return 0
	}
	return c.changeVersions[pos]
}

// DidChange reports whether t was written after version.
func (c *Chunk) DidChange(t TypeIndex, version uint32) bool {
	return DidChange(c.ChangeVersion(t), version)
}

// DidOrderChange reports whether rows were added, removed or moved after version.
func (c *Chunk) DidOrderChange(version uint32) bool {
	return DidChange(c.orderVersion, version)
}

// SharedIndex returns the shared-store index of the chunk's value for shared type t.
func (c *Chunk) SharedIndex(t TypeIndex) (SharedIndex, bool) {
	pos := c.archetype.sharedPos(t)
	if pos < 0 {
		return 0, false
	}
	return c.sharedKey[pos], true
}

// IsComponentEnabled reports whether t is enabled for the entity in row. Non-enableable types
// that are present are always enabled.
func (c *Chunk) IsComponentEnabled(t TypeIndex, row int) bool {
	if c.archetype.typePos(t) < 0 {
		return false
	}
	pos := c.archetype.enableablePos(t)
	if pos < 0 {
		return true
	}
	return c.enabled[pos].Contains(uint32(row)) //nolint:gosec // row < capacity
}

// EnabledCount returns how many live rows have t enabled.
func (c *Chunk) EnabledCount(t TypeIndex) int {
	pos := c.archetype.enableablePos(t)
	if pos < 0 {
		if c.Has(t) {
			return c.count
		}
		return 0
	}
	return c.enabled[pos].Count()
}

// -------------------------------------------------------------------------------------------------
// Row operations
// -------------------------------------------------------------------------------------------------

// addRow appends e, leaving its columns zeroed and its enableable types enabled.
func (c *Chunk) addRow(e Entity) int {
	assert.That(c.count < len(c.entities), "adding a row to a full chunk")
	row := c.count
	c.entities[row] = e
	c.count++
	for i := range c.enabled {
		c.enabled[i].Set(uint32(row)) //nolint:gosec // row < capacity
	}
	return row
}

// removeRow swaps the last row into row and returns the entity that moved, if any.
func (c *Chunk) removeRow(row int) (Entity, bool) {
	assert.That(row < c.count, "removing row %d from a chunk of %d", row, c.count)
	last := c.count - 1
	for _, col := range c.columns {
		col.swapBack(row, last)
	}
	for i := range c.enabled {
		bits := &c.enabled[i]
		if bits.Contains(uint32(last)) { //nolint:gosec // row < capacity
			bits.Set(uint32(row)) //nolint:gosec // row < capacity
		} else {
			bits.Remove(uint32(row)) //nolint:gosec // row < capacity
		}
		bits.Remove(uint32(last)) //nolint:gosec // row < capacity
	}

	moved := c.entities[last]
	c.entities[row] = moved
	c.entities[last] = Null
	c.count--
	return moved, row != last
}

// setEnabled toggles enableable type at position pos for row.
func (c *Chunk) setEnabled(pos, row int, enabled bool) {
	if enabled {
		c.enabled[pos].Set(uint32(row)) //nolint:gosec // row < capacity
	} else {
		c.enabled[pos].Remove(uint32(row)) //nolint:gosec // row < capacity
	}
}

func (c *Chunk) stampAll(version uint32) {
	for i := range c.changeVersions {
		c.changeVersions[i] = version
	}
}

// reset clears the chunk for reuse from the pool.
func (c *Chunk) reset() {
	assert.That(c.count == 0, "resetting a non-empty chunk")
	for i := range c.changeVersions {
		c.changeVersions[i] = 0
	}
	for _, col := range c.chunkValues {
		if col != nil {
			col.clearRow(0)
		}
	}
	for i := range c.enabled {
		c.enabled[i].Clear()
	}
	c.orderVersion = 0
	c.sharedKey = sharedKey{}
}
