package tablestream

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
)

func TestRelayQueueFIFO(t *testing.T) {
	q := newRelayQueue(10)

	var want []arrow.Record
	for i := 0; i < 5; i++ {
		rec := makeBatch("s", i)
		want = append(want, rec)
		if err := q.push(rec); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i, wantRec := range want {
		rec, ok := q.tryPop()
		if !ok {
			t.Fatalf("tryPop %d: queue empty", i)
		}
		if rec != wantRec {
			t.Fatalf("pop %d: wrong record, FIFO order broken", i)
		}
		rec.Release()
	}
	if _, ok := q.tryPop(); ok {
		t.Fatal("tryPop on empty queue returned an item")
	}
}

func TestRelayQueueBlocksWhenFull(t *testing.T) {
	q := newRelayQueue(1)

	first := makeBatch("s", 0)
	if err := q.push(first); err != nil {
		t.Fatalf("push: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.push(makeBatch("s", 1))
	}()

	select {
	case err := <-pushed:
		t.Fatalf("push to full queue returned early (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Popping frees a slot and unblocks the producer.
	rec, ok := q.tryPop()
	if !ok {
		t.Fatal("tryPop: queue empty")
	}
	rec.Release()

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("push after pop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after slot freed")
	}

	rec, ok = q.tryPop()
	if !ok {
		t.Fatal("second record missing")
	}
	rec.Release()
}

func TestRelayQueueCancelWakesProducer(t *testing.T) {
	q := newRelayQueue(1)
	if err := q.push(makeBatch("s", 0)); err != nil {
		t.Fatalf("push: %v", err)
	}

	blocked := makeBatch("s", 1)
	pushed := make(chan error, 1)
	go func() {
		pushed <- q.push(blocked)
	}()

	time.Sleep(20 * time.Millisecond)
	q.cancel()

	select {
	case err := <-pushed:
		if err != errQueueCancelled {
			t.Fatalf("expected errQueueCancelled, got %v", err)
		}
		blocked.Release()
	case <-time.After(time.Second):
		t.Fatal("cancel did not wake blocked producer")
	}

	// Buffered items survive cancellation for drain to collect.
	left := q.drain()
	if len(left) != 1 {
		t.Fatalf("expected 1 leftover record, got %d", len(left))
	}
	for _, rec := range left {
		rec.Release()
	}
}

func TestRelayQueuePopWaitTimesOut(t *testing.T) {
	q := newRelayQueue(1)

	start := time.Now()
	if _, ok := q.popWait(30 * time.Millisecond); ok {
		t.Fatal("popWait on empty queue returned an item")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("popWait returned after %v, before the bound", elapsed)
	}
}

func TestRelayQueuePopWaitSeesLatePush(t *testing.T) {
	q := newRelayQueue(1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.push(makeBatch("s", 0))
	}()

	rec, ok := q.popWait(time.Second)
	if !ok {
		t.Fatal("popWait missed a record pushed during the wait")
	}
	rec.Release()
}

func TestRelayQueueUnbounded(t *testing.T) {
	q := newRelayQueue(0)

	for i := 0; i < 1000; i++ {
		if err := q.push(makeBatch("s", i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if q.size() != 1000 {
		t.Fatalf("expected 1000 buffered records, got %d", q.size())
	}
	for _, rec := range q.drain() {
		rec.Release()
	}
}
