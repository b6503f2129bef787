package tablestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "stream", Type: arrow.BinaryTypes.String},
	{Name: "page", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// makeBatch builds a one-row record identifying the page it came from.
func makeBatch(streamID string, ordinal int) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), testSchema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append(streamID)
	b.Field(1).(*array.Int64Builder).Append(int64(ordinal))
	return b.NewRecord()
}

func testDecode(page Page) (arrow.Record, error) {
	return makeBatch(page.StreamID, page.Ordinal), nil
}

// batchOrigin reads back what makeBatch wrote.
func batchOrigin(t *testing.T, rec arrow.Record) (string, int) {
	t.Helper()
	if rec.NumRows() != 1 {
		t.Fatalf("expected 1-row batch, got %d rows", rec.NumRows())
	}
	stream := rec.Column(0).(*array.String).Value(0)
	page := rec.Column(1).(*array.Int64).Value(0)
	return stream, int(page)
}

type memStream struct {
	id     string
	pages  int
	failAt int // page index at which Next errors; -1 = never
	delay  time.Duration

	next int
}

func (s *memStream) Next(ctx context.Context) (Page, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}
	if s.failAt >= 0 && s.next == s.failAt {
		return Page{}, fmt.Errorf("stream %s broke", s.id)
	}
	if s.next >= s.pages {
		return Page{}, io.EOF
	}
	page := Page{StreamID: s.id, Ordinal: s.next}
	s.next++
	return page, nil
}

func (s *memStream) Close() error { return nil }

type memSession struct {
	id      string
	streams map[string]*memStream
	descs   []StreamDescriptor

	mu     sync.Mutex
	closed bool
}

func (s *memSession) ID() string                  { return s.id }
func (s *memSession) Streams() []StreamDescriptor { return s.descs }

func (s *memSession) Open(ctx context.Context, desc StreamDescriptor) (Stream, error) {
	stream, ok := s.streams[desc.ID]
	if !ok {
		return nil, fmt.Errorf("no such stream %s", desc.ID)
	}
	return stream, nil
}

func (s *memSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type memSource struct {
	streams  []*memStream
	openErr  error
	sessions int
	lastReq  SessionRequest
	lastSess *memSession
}

func (s *memSource) OpenSession(ctx context.Context, ref TableRef, req SessionRequest) (Session, error) {
	s.sessions++
	s.lastReq = req
	if s.openErr != nil {
		return nil, s.openErr
	}

	sess := &memSession{
		id:      fmt.Sprintf("session-%d", s.sessions),
		streams: make(map[string]*memStream),
	}
	for i, stream := range s.streams {
		sess.streams[stream.id] = stream
		sess.descs = append(sess.descs, StreamDescriptor{ID: stream.id, Ordinal: i})
	}
	s.lastSess = sess
	return sess, nil
}

// newMemSource builds a source with one stream per page count.
func newMemSource(pageCounts ...int) *memSource {
	src := &memSource{}
	for i, n := range pageCounts {
		src.streams = append(src.streams, &memStream{
			id:     fmt.Sprintf("stream-%04d", i),
			pages:  n,
			failAt: -1,
		})
	}
	return src
}

var testRef = TableRef{Project: "proj", Dataset: "sales", Table: "orders"}

// collect drains the iterator, releasing records as it goes.
func collect(t *testing.T, it *Iterator) []Page {
	t.Helper()
	var got []Page
	for {
		rec, err := it.Next()
		if err == io.EOF {
			return got
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		stream, page := batchOrigin(t, rec)
		got = append(got, Page{StreamID: stream, Ordinal: page})
		rec.Release()
	}
}

func TestDownloadDeliversAllBatches(t *testing.T) {
	src := newMemSource(4, 2, 3)

	it, err := Download(context.Background(), src, testRef, testDecode)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	got := collect(t, it)
	if len(got) != 9 {
		t.Fatalf("expected 9 batches, got %d", len(got))
	}

	// Cross-stream interleaving is unspecified, but each stream's own pages
	// must arrive in order.
	lastSeen := map[string]int{}
	for _, p := range got {
		if last, ok := lastSeen[p.StreamID]; ok && p.Ordinal != last+1 {
			t.Fatalf("stream %s out of order: page %d after page %d", p.StreamID, p.Ordinal, last)
		}
		lastSeen[p.StreamID] = p.Ordinal
	}
	counts := map[string]int{}
	for _, p := range got {
		counts[p.StreamID]++
	}
	want := map[string]int{"stream-0000": 4, "stream-0001": 2, "stream-0002": 3}
	for id, n := range want {
		if counts[id] != n {
			t.Errorf("stream %s: expected %d batches, got %d", id, n, counts[id])
		}
	}

	if !src.lastSess.isClosed() {
		t.Error("session not closed after exhaustion")
	}
}

func TestDownloadEmptyTable(t *testing.T) {
	src := newMemSource()

	it, err := Download(context.Background(), src, testRef, testDecode)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF for empty table, got %v", err)
	}
	if src.lastSess != nil && !src.lastSess.isClosed() {
		t.Error("session not closed for empty table")
	}
}

func TestDownloadPreserveOrder(t *testing.T) {
	src := newMemSource(50)

	it, err := Download(context.Background(), src, testRef, testDecode, WithPreserveOrder())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	if src.lastReq.MaxStreams != 1 {
		t.Fatalf("preserve-order session requested %d streams, want 1", src.lastReq.MaxStreams)
	}

	got := collect(t, it)
	if len(got) != 50 {
		t.Fatalf("expected 50 batches, got %d", len(got))
	}
	for i, p := range got {
		if p.Ordinal != i {
			t.Fatalf("batch %d came from page %d, want exact source order", i, p.Ordinal)
		}
	}
}

func TestDownloadWorkerFailureFailsFast(t *testing.T) {
	src := newMemSource(100, 100)
	src.streams[1].failAt = 2

	it, err := Download(context.Background(), src, testRef, testDecode)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	var firstErr error
	delivered := 0
	for {
		rec, err := it.Next()
		if err != nil {
			firstErr = err
			break
		}
		delivered++
		rec.Release()
		if delivered > 250 {
			t.Fatal("error never surfaced")
		}
	}

	if firstErr == io.EOF {
		t.Fatal("expected a stream error, got clean EOF")
	}
	if want := "stream stream-0001 broke"; !strings.Contains(firstErr.Error(), want) {
		t.Fatalf("error %q does not mention %q", firstErr, want)
	}

	// Every sibling worker must have exited before Next returned the error.
	for _, h := range it.handles {
		if !h.finished() {
			t.Fatalf("worker %s still running after failure surfaced", h.desc.ID)
		}
	}

	// The error is sticky.
	if _, err := it.Next(); err != firstErr {
		t.Fatalf("expected sticky error %v, got %v", firstErr, err)
	}
	if !src.lastSess.isClosed() {
		t.Error("session not closed after failure")
	}
}

func TestDownloadDecodeErrorPropagates(t *testing.T) {
	src := newMemSource(10)
	decodeErr := errors.New("bad page payload")
	decode := func(page Page) (arrow.Record, error) {
		if page.Ordinal == 3 {
			return nil, decodeErr
		}
		return testDecode(page)
	}

	it, err := Download(context.Background(), src, testRef, decode)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	for {
		rec, err := it.Next()
		if err != nil {
			if !errors.Is(err, decodeErr) {
				t.Fatalf("expected decode error, got %v", err)
			}
			return
		}
		rec.Release()
	}
}

func TestDownloadNegotiationError(t *testing.T) {
	src := newMemSource(1)
	src.openErr = errors.New("permission denied")

	_, err := Download(context.Background(), src, testRef, testDecode)
	if err == nil || !errors.Is(err, src.openErr) {
		t.Fatalf("expected negotiation error, got %v", err)
	}
}

func TestDownloadQueueBound(t *testing.T) {
	src := newMemSource(20, 20, 20)

	it, err := Download(context.Background(), src, testRef, testDecode, WithQueueCapacity(1))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	seen := 0
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		rec.Release()
		seen++
		// Give producers a chance to overfill the queue if the bound were
		// broken, then observe.
		time.Sleep(time.Millisecond)
		if n := it.queue.size(); n > 1 {
			t.Fatalf("queue holds %d buffered batches, bound is 1", n)
		}
	}
	if seen != 60 {
		t.Fatalf("expected 60 batches, got %d", seen)
	}
}

func TestDownloadInvalidQueueCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		src := newMemSource(1)
		_, err := Download(context.Background(), src, testRef, testDecode, WithQueueCapacity(capacity))
		if !errors.Is(err, ErrInvalidQueueCapacity) {
			t.Fatalf("capacity %d: expected ErrInvalidQueueCapacity, got %v", capacity, err)
		}
		if src.sessions != 0 {
			t.Fatalf("capacity %d: session negotiated despite invalid capacity", capacity)
		}
	}
}

func TestDownloadUnboundedQueue(t *testing.T) {
	src := newMemSource(30, 30)

	it, err := Download(context.Background(), src, testRef, testDecode, WithUnboundedQueue())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	if got := collect(t, it); len(got) != 60 {
		t.Fatalf("expected 60 batches, got %d", len(got))
	}
}

func TestDownloadRejectsQualifiedRefs(t *testing.T) {
	tests := []struct {
		table string
		want  error
	}{
		{"orders$20240101", ErrPartitionNotSupported},
		{"orders@1700000000", ErrSnapshotNotSupported},
	}
	for _, tt := range tests {
		src := newMemSource(1)
		ref := TableRef{Dataset: "sales", Table: tt.table}
		_, err := Download(context.Background(), src, ref, testDecode)
		if !errors.Is(err, tt.want) {
			t.Fatalf("table %q: expected %v, got %v", tt.table, tt.want, err)
		}
		if src.sessions != 0 {
			t.Fatalf("table %q: negotiation attempted despite invalid reference", tt.table)
		}
	}
}

func TestDownloadEarlyClose(t *testing.T) {
	// Plenty of pages outstanding; the caller abandons after one batch.
	src := newMemSource(1000, 1000)

	it, err := Download(context.Background(), src, testRef, testDecode)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	it.poll = 10 * time.Millisecond

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	rec.Release()

	// Close must not return until every worker has exited.
	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, h := range it.handles {
		if !h.finished() {
			t.Fatalf("worker %s alive after Close", h.desc.ID)
		}
	}
	if !src.lastSess.isClosed() {
		t.Error("session not closed after Close")
	}

	if _, err := it.Next(); err != io.ErrClosedPipe {
		t.Fatalf("Next after Close: expected io.ErrClosedPipe, got %v", err)
	}
	// Idempotent.
	if err := it.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDownloadCallerContextCancel(t *testing.T) {
	src := newMemSource(1000)
	src.streams[0].delay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	it, err := Download(ctx, src, testRef, testDecode)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	rec.Release()

	cancel()
	for {
		rec, err := it.Next()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			break
		}
		rec.Release()
	}
	for _, h := range it.handles {
		if !h.finished() {
			t.Fatalf("worker %s alive after context cancellation", h.desc.ID)
		}
	}
}

func TestDownloadColumnProjection(t *testing.T) {
	src := newMemSource(5)

	it, err := Download(context.Background(), src, testRef, testDecode, WithColumns("page"))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	if got := src.lastReq.Columns; len(got) != 1 || got[0] != "page" {
		t.Fatalf("column subset not forwarded to source: %v", got)
	}

	n := 0
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if fields := rec.Schema().Fields(); len(fields) != 1 || fields[0].Name != "page" {
			t.Fatalf("projected schema wrong: %v", rec.Schema())
		}
		rec.Release()
		n++
	}
	if n != 5 {
		t.Fatalf("expected 5 batches, got %d", n)
	}
}

func TestDownloadUnknownColumn(t *testing.T) {
	src := newMemSource(1)

	it, err := Download(context.Background(), src, testRef, testDecode, WithColumns("no_such_column"))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer it.Close()
	it.poll = 10 * time.Millisecond

	for {
		rec, err := it.Next()
		if err != nil {
			if !strings.Contains(err.Error(), "no_such_column") {
				t.Fatalf("expected unknown-column error, got %v", err)
			}
			return
		}
		rec.Release()
	}
}

func TestDownloadNilDecode(t *testing.T) {
	src := newMemSource(1)
	if _, err := Download(context.Background(), src, testRef, nil); err == nil {
		t.Fatal("expected error for nil decode adapter")
	}
}
