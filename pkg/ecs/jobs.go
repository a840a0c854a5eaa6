package ecs

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// jobTracker counts scheduled jobs that haven't been completed. Scheduling and completion happen on
// the world's structural writer, so plain fields suffice.
type jobTracker struct {
	workers int
	pending []*JobHandle
}

func newJobTracker(workers int) jobTracker {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return jobTracker{workers: workers}
}

func (t *jobTracker) outstanding() int { return len(t.pending) }

func (t *jobTracker) remove(h *JobHandle) {
	for i, p := range t.pending {
		if p == h {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// JobHandle tracks a scheduled job. The job holds its chunks until Complete is called, even after its
// goroutines are done: every structural change fails with ErrJobsOutstanding until then.
type JobHandle struct {
	tracker  *jobTracker
	group    *errgroup.Group
	chunks   int
	complete bool
	err      error
}

// Complete waits for the job and returns its first error. Calling it again returns the same error.
func (h *JobHandle) Complete() error {
	if h.complete {
		return h.err
	}
	if err := h.group.Wait(); err != nil {
		h.err = eris.Wrap(err, "job failed")
	}
	h.complete = true
	h.tracker.remove(h)
	return h.err
}

// ChunkCount returns the number of chunks the job was scheduled over.
func (h *JobHandle) ChunkCount() int { return h.chunks }

// ScheduleParallelForChunks runs fn once for every chunk matching q, on up to JobWorkers goroutines.
// Chunks are disjoint memory, so fn may write any column of the chunk it's given with GetColumn.
// fn must not make structural changes. The first error cancels ctx for the remaining chunks.
func (w *World) ScheduleParallelForChunks(
	ctx context.Context, q *EntityQuery, fn func(ctx context.Context, c *Chunk) error,
) (*JobHandle, error) {
	if err := w.checkQuery(q); err != nil {
		return nil, err
	}
	chunks := q.ToArchetypeChunkArray()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.jobs.workers)
	h := &JobHandle{tracker: &w.jobs, group: g, chunks: len(chunks)}
	w.jobs.pending = append(w.jobs.pending, h)

	for _, c := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err //nolint:wrapcheck // context errors are returned as is
			}
			if err := fn(ctx, c); err != nil {
				return eris.Wrapf(err, "chunk %d", c.sequence)
			}
			return nil
		})
	}
	return h, nil
}

// CompleteAllJobs waits for every outstanding job. It returns the first job error it sees; every
// job is completed regardless.
func (w *World) CompleteAllJobs() error {
	var first error
	for len(w.jobs.pending) > 0 {
		if err := w.jobs.pending[0].Complete(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OutstandingJobs returns the number of jobs not yet completed.
func (w *World) OutstandingJobs() int { return w.jobs.outstanding() }
