package tablestream

import (
	"errors"
	"sync"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
)

// errQueueCancelled is returned from push once the queue has been cancelled.
// Workers treat it as a stop signal, not a failure.
var errQueueCancelled = errors.New("tablestream: relay queue cancelled")

// relayQueue is the bounded many-producer/one-consumer FIFO connecting stream
// workers to the coordinator. A full queue blocks producers; that is the
// engine's backpressure mechanism. capacity <= 0 means unbounded.
//
// All waiting goes through one sync.Cond. Timed pops arm a timer that
// broadcasts on expiry so the wait loop can re-check its deadline.
type relayQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     []arrow.Record
	capacity  int
	cancelled bool
}

func newRelayQueue(capacity int) *relayQueue {
	q := &relayQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends one record, blocking while the queue is full. It returns
// errQueueCancelled if the queue is (or becomes) cancelled while waiting.
func (q *relayQueue) push(rec arrow.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.cancelled && q.capacity > 0 && len(q.items) >= q.capacity {
		q.cond.Wait()
	}
	if q.cancelled {
		return errQueueCancelled
	}

	q.items = append(q.items, rec)
	q.cond.Broadcast()
	return nil
}

// popWait removes the oldest record, waiting at most d for one to arrive.
// The bound keeps the coordinator's drain loop responsive; it is a liveness
// poll, not a caller-facing timeout.
func (q *relayQueue) popWait(d time.Duration) (arrow.Record, bool) {
	deadline := time.Now().Add(d)
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.cancelled || !time.Now().Before(deadline) {
			return nil, false
		}
		q.cond.Wait()
	}
	return q.popLocked(), true
}

// tryPop removes the oldest record without waiting.
func (q *relayQueue) tryPop() (arrow.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

func (q *relayQueue) popLocked() arrow.Record {
	rec := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.cond.Broadcast()
	return rec
}

// cancel marks the queue cancelled and wakes every blocked producer and
// consumer. Records already buffered stay in place for drain to collect.
func (q *relayQueue) cancel() {
	q.mu.Lock()
	q.cancelled = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// drain removes and returns everything still buffered. The coordinator
// releases these after a failure, since the batch boundary is no longer
// trustworthy.
func (q *relayQueue) drain() []arrow.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	q.cond.Broadcast()
	return items
}

// size reports the number of buffered records.
func (q *relayQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
