package ecs

// chunkPool recycles chunk arenas across archetypes. Every arena has the world's chunk size, so
// any archetype can take any pooled arena.
type chunkPool struct {
	size      int
	maxFree   int
	free      [][]byte
	allocated int
	reused    int
}

func newChunkPool(size, maxFree int) chunkPool {
	return chunkPool{size: size, maxFree: maxFree}
}

// get returns a zeroed arena, or nil when the layout needs no arena bytes.
func (p *chunkPool) get(needed int) []byte {
	if needed == 0 {
		return nil
	}
	if n := len(p.free); n > 0 {
		arena := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.reused++
		return arena
	}
	p.allocated++
	return make([]byte, p.size)
}

// put returns an arena to the pool. Arenas past maxFree are left to the garbage collector.
func (p *chunkPool) put(arena []byte) {
	if arena == nil || len(p.free) >= p.maxFree {
		return
	}
	clear(arena)
	p.free = append(p.free, arena)
}

// PoolStats reports chunk arena usage.
type PoolStats struct {
	ChunkSize int
	Allocated int // Arenas allocated from the Go heap
	Reused    int // Arenas served from the pool
	Free      int // Arenas waiting in the pool
}

// PoolStats returns the world's chunk arena statistics.
func (w *World) PoolStats() PoolStats {
	return PoolStats{
		ChunkSize: w.pool.size,
		Allocated: w.pool.allocated,
		Reused:    w.pool.reused,
		Free:      len(w.pool.free),
	}
}
