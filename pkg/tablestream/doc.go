// Package tablestream downloads large tables as Arrow record batches by
// fanning out over multiple independently fetchable streams and fanning the
// decoded batches back into a single consumer-facing iterator.
//
// The engine is source-agnostic: a [Source] negotiates a [Session] holding one
// or more streams, each stream yields opaque pages, and a caller-supplied
// [DecodeFunc] turns each page into an arrow.Record. One goroutine is spawned
// per stream; all of them feed a bounded relay queue that the [Iterator]
// drains lazily as the caller pulls.
//
// # Downloading
//
//	it, err := tablestream.Download(ctx, src, ref, decode)
//	if err != nil {
//	    return err
//	}
//	defer it.Close()
//
//	for {
//	    rec, err := it.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // use rec
//	    rec.Release()
//	}
//
// Options:
//   - [WithPreserveOrder]: request a single stream so output order equals
//     source order
//   - [WithMaxStreams]: cap the number of streams the source may return
//   - [WithQueueCapacity]: explicit relay queue bound (default: one slot per
//     stream)
//   - [WithUnboundedQueue]: no queue bound (trades memory for throughput)
//   - [WithColumns]: restrict output to a subset of columns
//
// # Ordering
//
// Batches from a single stream are delivered in the order that stream produced
// them. Interleaving across streams is unspecified; callers that need total
// order must use [WithPreserveOrder].
//
// # Failure
//
// The first fetch or decode error from any stream cancels all sibling workers,
// discards any batches still buffered in the relay queue, and is returned from
// [Iterator.Next]. Partial multi-stream results past a failure are never
// delivered. Every exit path, including [Iterator.Close] after an abandoned
// iteration, waits for all worker goroutines to exit before returning.
package tablestream
