package tablestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
)

// ErrInvalidQueueCapacity is returned by Download when an explicit queue
// capacity override is zero or negative.
var ErrInvalidQueueCapacity = errors.New("tablestream: queue capacity must be positive")

// drainPollInterval bounds how long the coordinator waits for a batch before
// re-checking worker liveness. Tuning constant, not a correctness requirement.
const drainPollInterval = 250 * time.Millisecond

// Options configures a download.
type Options struct {
	// PreserveOrder requests a single stream so output order equals source
	// order.
	PreserveOrder bool

	// MaxStreams caps the stream count requested from the source (0 = let
	// the source choose).
	MaxStreams int

	// QueueCapacity overrides the relay queue bound. 0 means the default of
	// one slot per stream.
	QueueCapacity int

	// UnboundedQueue removes the relay queue bound entirely.
	UnboundedQueue bool

	// Columns restricts output to a subset of fields.
	Columns []string

	queueCapacitySet bool
	pollInterval     time.Duration
}

// Option is a functional option for configuring a download.
type Option func(*Options)

// WithPreserveOrder requests a single-stream download that preserves source
// order exactly.
func WithPreserveOrder() Option {
	return func(o *Options) {
		o.PreserveOrder = true
	}
}

// WithMaxStreams caps the number of streams requested from the source.
func WithMaxStreams(n int) Option {
	return func(o *Options) {
		o.MaxStreams = n
	}
}

// WithQueueCapacity sets an explicit relay queue bound. The default is one
// buffered batch per stream. Values below one are rejected by [Download].
func WithQueueCapacity(n int) Option {
	return func(o *Options) {
		o.QueueCapacity = n
		o.queueCapacitySet = true
	}
}

// WithUnboundedQueue removes the relay queue bound. Workers never block on a
// full queue, at the cost of unbounded buffered memory if the consumer is
// slower than the streams.
func WithUnboundedQueue() Option {
	return func(o *Options) {
		o.UnboundedQueue = true
	}
}

// WithColumns restricts the download to the named columns. The subset is
// forwarded to the source and also enforced by projecting every decoded
// batch.
func WithColumns(columns ...string) Option {
	return func(o *Options) {
		o.Columns = columns
	}
}

// Iterator is the lazy, forward-only, single-pass sequence of record batches
// produced by [Download]. It is not safe for concurrent use. Callers must
// call [Iterator.Close] when done, whether or not iteration ran to
// exhaustion; Close is what guarantees no worker goroutine outlives the
// download.
type Iterator struct {
	sess    Session
	queue   *relayQueue
	flag    cancelFlag
	handles []*workerHandle
	running []*workerHandle

	callerCtx context.Context
	fetchCtx  context.Context
	stop      context.CancelFunc

	poll   time.Duration
	done   bool
	closed bool
	err    error
}

// Download negotiates a read session for ref and starts one worker per
// stream. It returns a lazy iterator over the decoded batches; no pages are
// fetched until the first [Iterator.Next] call pulls on the queue the workers
// feed.
//
// Negotiation and validation errors are returned here, before any worker is
// spawned. An empty table yields an iterator that reports io.EOF immediately.
func Download(ctx context.Context, src Source, ref TableRef, decode DecodeFunc, options ...Option) (*Iterator, error) {
	opts := Options{pollInterval: drainPollInterval}
	for _, opt := range options {
		opt(&opts)
	}

	if decode == nil {
		return nil, errors.New("tablestream: decode adapter is required")
	}
	if opts.queueCapacitySet && opts.QueueCapacity < 1 {
		return nil, ErrInvalidQueueCapacity
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	req := SessionRequest{
		MaxStreams:    opts.MaxStreams,
		PreserveOrder: opts.PreserveOrder,
		Columns:       opts.Columns,
	}
	if opts.PreserveOrder {
		req.MaxStreams = 1
	}

	sess, err := src.OpenSession(ctx, ref, req)
	if err != nil {
		return nil, fmt.Errorf("tablestream: open session for %s: %w", ref, err)
	}

	descs := sess.Streams()
	if len(descs) == 0 {
		// Empty table: a zero-item download, not an error.
		sess.Close()
		return &Iterator{callerCtx: ctx, done: true, poll: opts.pollInterval}, nil
	}

	capacity := len(descs)
	if opts.queueCapacitySet {
		capacity = opts.QueueCapacity
	}
	if opts.UnboundedQueue {
		capacity = 0
	}

	if len(opts.Columns) > 0 {
		decode = projectingDecode(decode, opts.Columns)
	}

	fetchCtx, stop := context.WithCancel(ctx)
	it := &Iterator{
		sess:      sess,
		queue:     newRelayQueue(capacity),
		callerCtx: ctx,
		fetchCtx:  fetchCtx,
		stop:      stop,
		poll:      opts.pollInterval,
	}

	for _, desc := range descs {
		stream, err := sess.Open(fetchCtx, desc)
		if err != nil {
			// Partial spawn: tear down whatever is already running before
			// surfacing the error.
			it.shutdown()
			return nil, fmt.Errorf("tablestream: open stream %s: %w", desc.ID, err)
		}
		h := newWorkerHandle(desc)
		it.handles = append(it.handles, h)
		it.running = append(it.running, h)
		go runWorker(fetchCtx, h, stream, decode, &it.flag, it.queue)
	}

	return it, nil
}

// Next returns the next record batch. It returns io.EOF once every stream is
// exhausted and the relay queue is drained, or the first worker error
// otherwise. The caller owns the returned record and must Release it.
func (it *Iterator) Next() (arrow.Record, error) {
	if it.closed {
		return nil, io.ErrClosedPipe
	}
	if it.err != nil {
		return nil, it.err
	}
	if it.done {
		return nil, io.EOF
	}

	for {
		if err := it.callerCtx.Err(); err != nil {
			return nil, it.fail(err)
		}

		// Non-blocking sweep: partition handles into finished and running
		// without waiting on any one of them, so a slow stream cannot stall
		// delivery from the fast ones.
		n := 0
		for _, h := range it.running {
			if !h.finished() {
				it.running[n] = h
				n++
				continue
			}
			if h.err != nil {
				return nil, it.fail(h.err)
			}
		}
		it.running = it.running[:n]

		if len(it.running) == 0 {
			// All workers exited cleanly; hand out whatever is left in the
			// queue, then finish.
			if rec, ok := it.queue.tryPop(); ok {
				return rec, nil
			}
			it.finish()
			return nil, io.EOF
		}

		if rec, ok := it.queue.popWait(it.poll); ok {
			return rec, nil
		}
	}
}

// Close stops the download. If iteration has not run to exhaustion it raises
// the cancellation flag, waits for every worker to exit, and discards any
// undelivered batches. Close is idempotent and safe to call after Next has
// returned io.EOF or an error.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if !it.done {
		it.shutdown()
	}
	return nil
}

// fail records the terminal error and runs the all-or-nothing shutdown.
func (it *Iterator) fail(err error) error {
	it.err = err
	it.shutdown()
	return err
}

// shutdown is the single teardown path: raise the flag, wake blocked
// producers, abort in-flight fetches, then block until every worker has
// exited. Only after full quiescence are the buffered batches discarded and
// the session closed.
func (it *Iterator) shutdown() {
	it.flag.raise()
	it.queue.cancel()
	it.stop()

	for _, h := range it.handles {
		<-h.done
	}
	it.running = nil

	for _, rec := range it.queue.drain() {
		rec.Release()
	}
	it.closeSession()
	it.done = true
}

// finish is the normal-completion path: all workers already exited and the
// queue is empty, so there is nothing to cancel or discard.
func (it *Iterator) finish() {
	if it.stop != nil {
		it.stop()
	}
	it.closeSession()
	it.done = true
}

func (it *Iterator) closeSession() {
	if it.sess != nil {
		it.sess.Close()
		it.sess = nil
	}
}

// projectingDecode wraps decode so every batch is restricted to the named
// columns. Sources that already pruned server-side pass through untouched.
func projectingDecode(decode DecodeFunc, columns []string) DecodeFunc {
	return func(page Page) (arrow.Record, error) {
		rec, err := decode(page)
		if err != nil {
			return nil, err
		}
		out, err := projectRecord(rec, columns)
		if err != nil {
			rec.Release()
			return nil, err
		}
		return out, nil
	}
}

// projectRecord returns a record holding only the named columns, in the order
// requested. It consumes rec.
func projectRecord(rec arrow.Record, columns []string) (arrow.Record, error) {
	schema := rec.Schema()

	if len(columns) == len(schema.Fields()) {
		match := true
		for i, name := range columns {
			if schema.Field(i).Name != name {
				match = false
				break
			}
		}
		if match {
			return rec, nil
		}
	}

	fields := make([]arrow.Field, 0, len(columns))
	cols := make([]arrow.Array, 0, len(columns))
	for _, name := range columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("tablestream: column %q not in schema", name)
		}
		fields = append(fields, schema.Field(idx[0]))
		col := rec.Column(idx[0])
		col.Retain()
		cols = append(cols, col)
	}

	out := array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
	rec.Release()
	return out, nil
}
