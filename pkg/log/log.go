// Package log builds the zerolog loggers used across chunkstore and holds helpers that attach
// storage-engine shapes (archetypes, chunks, structural batches) to log events.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	// Level is a zerolog level name. An empty or unknown level falls back to info.
	Level string
	// Pretty switches to the human-readable console writer.
	Pretty bool
	// Out defaults to stdout.
	Out io.Writer
}

// New builds a logger tagged with the given component name.
func New(component string, opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Archetype logs the layout of a newly created archetype.
func Archetype(logger *zerolog.Logger, level zerolog.Level, id int, capacity int, types []string) {
	arr := zerolog.Arr()
	for _, name := range types {
		arr = arr.Str(name)
	}
	logger.WithLevel(level).
		Int("archetype_id", id).
		Int("chunk_capacity", capacity).
		Array("types", arr).
		Msg("archetype created")
}

// Chunk logs a chunk allocation. Reused is true when the arena came from the pool.
func Chunk(logger *zerolog.Logger, level zerolog.Level, archetypeID int, sequence uint64, reused bool) {
	logger.WithLevel(level).
		Int("archetype_id", archetypeID).
		Uint64("chunk", sequence).
		Bool("reused", reused).
		Msg("chunk allocated")
}

// BatchCounts is the per-batch tally reported by StructuralBatch.
type BatchCounts struct {
	Created   int
	Destroyed int
	Moved     int
	Freed     int
	Chunks    int
}

// StructuralBatch logs the summary of a finished structural change batch.
func StructuralBatch(logger *zerolog.Logger, level zerolog.Level, version uint32, counts BatchCounts) {
	logger.WithLevel(level).
		Uint32("global_version", version).
		Dict("entities", zerolog.Dict().
			Int("created", counts.Created).
			Int("destroyed", counts.Destroyed).
			Int("moved", counts.Moved).
			Int("freed", counts.Freed)).
		Int("chunks_touched", counts.Chunks).
		Msg("structural changes applied")
}
