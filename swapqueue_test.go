// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox_test

import (
	"testing"

	"code.hybscloud.com/sox"
)

func newQueue() (*sox.SwapQueue, *sox.BufferSink) {
	return sox.NewSwapQueue(sox.NewArena(0), sox.NewArena(0)), sox.NewBufferSink()
}

// drainOnce binds one consume transaction, drains it into sink and
// commits. Returns whether anything was consumed.
func drainOnce(q *sox.SwapQueue, sink *sox.BufferSink) bool {
	txn, res := q.TryConsume()
	if !res.Consumed() {
		return false
	}
	txn.Arena().Drain(sink, nil, nil)
	txn.Commit()
	return true
}

// =============================================================================
// SwapQueue - Basic Operations
// =============================================================================

// TestSwapQueueInit verifies a fresh queue is empty with seeded
// sequence numbers.
func TestSwapQueueInit(t *testing.T) {
	q, _ := newQueue()

	if !q.Empty() {
		t.Fatal("Empty: got false, want true")
	}
	if got := q.Size(); got != 0 {
		t.Fatalf("Size: got %d, want 0", got)
	}
	ins, enq, cons := q.Stats()
	if ins != 1 || enq != 1 || cons != 1 {
		t.Fatalf("Stats: got %d/%d/%d, want 1/1/1", ins, enq, cons)
	}
}

// TestSwapQueueInsertConsume runs one full hand-off cycle.
func TestSwapQueueInsertConsume(t *testing.T) {
	q, sink := newQueue()

	txn, fresh := q.BeginInsert()
	if !fresh {
		t.Fatal("first insert: fresh page flag not set")
	}
	txn.Arena().PushInt(7)
	txn.Commit()

	if q.Empty() {
		t.Fatal("Empty after insert: got true, want false")
	}
	if got := q.Size(); got != 1 {
		t.Fatalf("Size after insert: got %d, want 1", got)
	}

	if !drainOnce(q, sink) {
		t.Fatal("TryConsume: nothing consumed")
	}
	if got := sink.String(); got != "7" {
		t.Fatalf("drained: got %q, want %q", got, "7")
	}
	if !q.Empty() {
		t.Fatal("Empty after consume: got false, want true")
	}
}

// TestSwapQueueConsumeEmpty proves emptiness on a quiet queue.
func TestSwapQueueConsumeEmpty(t *testing.T) {
	q, _ := newQueue()

	_, res := q.TryConsume()
	if res.Consumed() || res.QueueNotEmpty() || res.TooManyConsumers() {
		t.Fatalf("TryConsume on empty: got %v, want no-more-work", res)
	}
}

// TestSwapQueueConsume covers the error-shaped probe: ErrWouldBlock
// on an empty queue (and mid-insert), nil with a bound transaction on
// success.
func TestSwapQueueConsume(t *testing.T) {
	q, sink := newQueue()

	if _, err := q.Consume(); !sox.IsWouldBlock(err) {
		t.Fatalf("Consume on empty: got %v, want ErrWouldBlock", err)
	}

	txn, _ := q.BeginInsert()
	txn.Arena().PushInt(3)

	// Producer mid-insert: still would-block.
	if _, err := q.Consume(); !sox.IsWouldBlock(err) {
		t.Fatalf("Consume mid-insert: got %v, want ErrWouldBlock", err)
	}
	txn.Commit()

	ctxn, err := q.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	ctxn.Arena().Drain(sink, nil, nil)
	ctxn.Commit()

	if got := sink.String(); got != "3" {
		t.Fatalf("drained: got %q, want %q", got, "3")
	}
	if _, err := q.Consume(); !sox.IsWouldBlock(err) {
		t.Fatalf("Consume after drain: got %v, want ErrWouldBlock", err)
	}
}

// TestSwapQueueFreshPageFlag verifies the inserting-into-new-page
// report: set on first touch and after a hand-back, clear when the
// page already carries this producer's records.
func TestSwapQueueFreshPageFlag(t *testing.T) {
	q, sink := newQueue()

	txn, fresh := q.BeginInsert()
	txn.Arena().PushInt(1)
	txn.Commit()
	if !fresh {
		t.Fatal("insert 1: want fresh page")
	}

	// Same page, same generation: not fresh.
	txn, fresh = q.BeginInsert()
	txn.Arena().PushInt(2)
	txn.Commit()
	if fresh {
		t.Fatal("insert 2: want non-fresh page")
	}

	if !drainOnce(q, sink) {
		t.Fatal("consume: nothing consumed")
	}

	// The consumer swapped; the producer now lands on the other page.
	txn, fresh = q.BeginInsert()
	txn.Arena().PushInt(3)
	txn.Commit()
	if !fresh {
		t.Fatal("insert 3: want fresh page after swap")
	}
}

// TestSwapQueueFIFOAcrossSwaps interleaves inserts and consumes and
// checks order holds across page generations.
func TestSwapQueueFIFOAcrossSwaps(t *testing.T) {
	q, sink := newQueue()

	for i := range 3 {
		txn, _ := q.BeginInsert()
		txn.Arena().PushInt(int64(i))
		txn.Commit()
	}
	drainOnce(q, sink)

	for i := 3; i < 6; i++ {
		txn, _ := q.BeginInsert()
		txn.Arena().PushInt(int64(i))
		txn.Commit()
	}
	for drainOnce(q, sink) {
	}

	if got := sink.String(); got != "012345" {
		t.Fatalf("FIFO: got %q, want %q", got, "012345")
	}
	if !q.Empty() {
		t.Fatal("Empty at quiescence: got false, want true")
	}
}

// TestSwapQueueWarmup verifies warmup keeps the protocol intact.
func TestSwapQueueWarmup(t *testing.T) {
	q, sink := newQueue()

	q.WarmupBeforeInserting() // cold warmup is a no-op

	txn, _ := q.BeginInsert()
	txn.Arena().PushInt(1)
	txn.Commit()
	drainOnce(q, sink)

	// The handed-back page is cleared here instead of on the next
	// insert's hot path.
	q.WarmupBeforeInserting()

	txn, _ = q.BeginInsert()
	txn.Arena().PushInt(2)
	txn.Commit()
	for drainOnce(q, sink) {
	}

	if got := sink.String(); got != "12" {
		t.Fatalf("after warmup: got %q, want %q", got, "12")
	}
}

// =============================================================================
// SwapQueue - Swap Responsibility
// =============================================================================

// TestSwapQueueProducerAssist replays the liveness protocol
// deterministically: a consumer that cannot swap because a producer
// is mid-insert records its frustration, and the producer performs
// the swap on its way out of the commit.
func TestSwapQueueProducerAssist(t *testing.T) {
	q, sink := newQueue()

	txn, _ := q.BeginInsert()
	txn.Arena().PushInt(9)

	// Producer is mid-insert: the consumer cannot take the inserting
	// lock to swap, so it must come back empty-handed but hopeful.
	_, res := q.TryConsume()
	if res.Consumed() {
		t.Fatal("TryConsume mid-insert: got consumed")
	}
	if !res.QueueNotEmpty() {
		t.Fatal("TryConsume mid-insert: want queue-not-empty")
	}
	if res.TooManyConsumers() {
		t.Fatal("TryConsume mid-insert: got too-many-consumers")
	}

	// The commit notices the frustration and swaps on the way out.
	txn.Commit()

	ctxn, res := q.TryConsume()
	if !res.Consumed() {
		t.Fatal("TryConsume after assist: nothing consumed")
	}
	ctxn.Arena().Drain(sink, nil, nil)
	ctxn.Commit()

	if got := sink.String(); got != "9" {
		t.Fatalf("drained: got %q, want %q", got, "9")
	}
}

// TestSwapQueueSequenceMonotonic checks all three sequence words are
// non-decreasing across an interleaved workload.
func TestSwapQueueSequenceMonotonic(t *testing.T) {
	q, sink := newQueue()

	var pi, pe, pc uint64
	check := func(step int) {
		ins, enq, cons := q.Stats()
		if ins < pi || enq < pe || cons < pc {
			t.Fatalf("step %d: sequence regressed: %d/%d/%d after %d/%d/%d",
				step, ins, enq, cons, pi, pe, pc)
		}
		if ins < enq || enq < cons {
			t.Fatalf("step %d: ordering violated: inserted %d >= enqueued %d >= consumed %d",
				step, ins, enq, cons)
		}
		pi, pe, pc = ins, enq, cons
	}

	for i := range 50 {
		txn, _ := q.BeginInsert()
		txn.Arena().PushInt(int64(i % 10))
		txn.Commit()
		check(i)
		if i%3 == 0 {
			drainOnce(q, sink)
			check(i)
		}
	}
	for drainOnce(q, sink) {
	}
	check(-1)

	if !q.Empty() {
		t.Fatal("Empty at quiescence: got false, want true")
	}
}
