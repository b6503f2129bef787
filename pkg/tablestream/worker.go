package tablestream

import (
	"context"
	"fmt"
	"io"
)

// workerHandle tracks one stream worker. err is written at most once, before
// done is closed, and read only after done is observed closed.
type workerHandle struct {
	desc StreamDescriptor
	done chan struct{}
	err  error
}

func newWorkerHandle(desc StreamDescriptor) *workerHandle {
	return &workerHandle{desc: desc, done: make(chan struct{})}
}

// finished reports whether the worker has exited, without blocking.
func (h *workerHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// runWorker is the per-stream producer loop: check the cancellation flag,
// fetch the next page, decode it, push the batch. It exits on stream
// exhaustion, cancellation, or the first error. Errors are captured on the
// handle for the coordinator to surface; nothing is retried or swallowed
// here.
func runWorker(ctx context.Context, h *workerHandle, stream Stream, decode DecodeFunc, flag *cancelFlag, queue *relayQueue) {
	defer close(h.done)
	defer stream.Close()

	for {
		if flag.raised() {
			return
		}

		page, err := stream.Next(ctx)
		if err == io.EOF {
			return
		}
		if err != nil {
			if flag.raised() {
				// Fetch aborted by our own shutdown; not a failure.
				return
			}
			h.err = fmt.Errorf("tablestream: stream %s: fetch page: %w", h.desc.ID, err)
			return
		}

		rec, err := decode(page)
		if err != nil {
			h.err = fmt.Errorf("tablestream: stream %s: decode page %d: %w", h.desc.ID, page.Ordinal, err)
			return
		}

		if err := queue.push(rec); err != nil {
			rec.Release()
			return
		}
	}
}
