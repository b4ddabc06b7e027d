// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import "code.hybscloud.com/atomix"

// SwapQueue is a producer/consumer hand-off over exactly two arena
// pages — a stripped-down cousin of the LMAX disruptor. Producers
// serialize on the inserting lock and append into the inserter page;
// a single drainer acquires the consumer page and walks it. Pages
// trade places only while the inserting lock is held; the swaps in
// the two Commit methods also hold the consuming lock, while the
// consumer's own swap in TryConsume happens before it takes the
// consuming lock.
//
// Responsibility for swapping normally lies with the consumer so the
// producer's hot path stays short. A consumer that cannot swap
// because a producer is mid-insert records the fact; the producer
// notices the imbalance on its next commit and swaps on the way out,
// which bounds how long the consumer can starve.
//
// The field grouping below is correctness-relevant, not cosmetic:
// producer-written, consumer-written, coordination, and rarely
// written fields live on distinct cache lines so neither side's hot
// set bounces on the other's stores.
type SwapQueue struct {
	// producer-written
	inserting             spinlock
	lastInserted          atomix.Uint64
	inserterSwitchedPages uint64 // producer-private
	seqGen                uint64 // producer-private
	_                     pad

	// consumer-written
	consuming    spinlock
	lastConsumed atomix.Uint64
	_            pad

	// coordination: whichever side performs the swap writes these.
	// The pointers are only touched while at least one of the two
	// locks is held; a swap always holds the inserting lock.
	inserter     *Arena
	consumer     *Arena
	lastEnqueued atomix.Uint64
	_            pad

	// rarely written
	consumerCouldntSwitch atomix.Uint64
	_                     pad
}

// NewSwapQueue binds two arenas as the queue's pages. The sequence
// words start at 1 and the page tags at 0, so the very first insert
// observes a fresh page.
func NewSwapQueue(a, b *Arena) *SwapQueue {
	if a == nil || b == nil || a == b {
		panic("sox: SwapQueue needs two distinct arenas")
	}
	q := &SwapQueue{inserter: a, consumer: b, seqGen: 1}
	q.lastInserted.Store(1)
	q.lastEnqueued.Store(1)
	q.lastConsumed.Store(1)
	a.SetSequenceNumber(0)
	b.SetSequenceNumber(0)
	return q
}

// InsertTxn is a producer-side transaction. Between BeginInsert and
// Commit the producer owns the inserter page exclusively and holds
// the inserting lock; keep the window short.
type InsertTxn struct {
	arena *Arena
	q     *SwapQueue
}

// Arena returns the page bound to the transaction.
func (t *InsertTxn) Arena() *Arena { return t.arena }

// ConsumeTxn is a consumer-side transaction holding the consuming
// lock over the page being drained.
type ConsumeTxn struct {
	arena *Arena
	q     *SwapQueue
}

// Arena returns the page bound to the transaction.
func (t *ConsumeTxn) Arena() *Arena { return t.arena }

// ConsumeResult is a bitset describing the outcome of TryConsume.
type ConsumeResult uint8

const (
	crConsumed ConsumeResult = 1 << iota
	crQueueNotEmpty
	crCongestion
)

// Consumed reports that the transaction holds a page to drain.
func (r ConsumeResult) Consumed() bool { return r&crConsumed != 0 }

// QueueNotEmpty reports that the queue could not be proven empty;
// the caller should try consuming again soon.
func (r ConsumeResult) QueueNotEmpty() bool { return r&crQueueNotEmpty != 0 }

// TooManyConsumers reports that a competing drainer holds the
// consuming lock. There is no shortage of consumers; back off.
func (r ConsumeResult) TooManyConsumers() bool { return r&crCongestion != 0 }

// BeginInsert acquires the inserter page for appending. It blocks on
// the inserting lock (briefly: competing producers hold it only for
// the length of their insert) and returns the transaction plus
// whether the page is fresh, i.e. the consumer has handed it back
// since the producer last touched it.
//
// A handed-back page is cleared here, on the producer thread, so the
// page's cache lines stay owned by the producer rather than ping-pong
// with the drain thread.
func (q *SwapQueue) BeginInsert() (InsertTxn, bool) {
	q.inserting.lock()
	q.seqGen++
	sn := q.seqGen

	fresh := false
	isn := q.inserter.SequenceNumber()
	esn := q.lastEnqueued.LoadAcquire()
	if isn <= esn {
		fresh = true
		if isn < esn {
			q.inserter.Clear()
		}
	}
	q.inserter.SetSequenceNumber(sn)
	q.lastInserted.StoreRelease(sn)
	return InsertTxn{arena: q.inserter, q: q}, fresh
}

// WarmupBeforeInserting pre-touches the inserter page so a later
// BeginInsert on the hot path finds it already cleared and cached.
func (q *SwapQueue) WarmupBeforeInserting() {
	q.inserting.lock()
	isn := q.inserter.SequenceNumber()
	esn := q.lastEnqueued.LoadAcquire()
	if isn < esn {
		q.inserter.Clear()
		q.inserter.SetSequenceNumber(esn)
	}
	q.inserting.unlock()
}

// Commit ends the insert. If the consumer signalled that it could not
// swap because this producer was mid-insert, the producer takes
// responsibility: when the consumer has caught up and is not
// mid-drain, it swaps on the way out. Finally the inserting lock is
// released, which also publishes the appended records.
//
// Commit is idempotent; committing a zero transaction is a no-op.
func (t *InsertTxn) Commit() {
	q := t.q
	if q == nil {
		return
	}
	if q.inserterSwitchedPages != q.consumerCouldntSwitch.LoadAcquire() {
		if q.consuming.tryLock() {
			if q.lastEnqueued.LoadAcquire() <= q.lastConsumed.LoadAcquire() {
				q.switchPages()
				q.inserterSwitchedPages = q.consumerCouldntSwitch.LoadAcquire()
			}
			q.consuming.unlock()
		}
	}
	q.inserting.unlock()
	t.q, t.arena = nil, nil
}

// TryConsume attempts to acquire a page for draining. It never
// blocks: every outcome is coded in the result.
//
//   - result.Consumed(): the transaction is bound; drain its arena
//     and Commit.
//   - result.QueueNotEmpty() without Consumed(): a producer was
//     mid-insert (the frustration counter was bumped so the producer
//     will swap for us) or a competing drainer holds the page; retry
//     soon.
//   - zero result: the queue is provably empty.
func (q *SwapQueue) TryConsume() (ConsumeTxn, ConsumeResult) {
	// Usually the consumer swaps, unless a producer is mid-insert.
	if q.lastEnqueued.LoadAcquire() <= q.lastConsumed.LoadAcquire() {
		if !q.inserting.tryLock() {
			q.consumerCouldntSwitch.AddAcqRel(1)
			return ConsumeTxn{}, crQueueNotEmpty
		}
		if q.lastInserted.LoadAcquire() > q.lastEnqueued.LoadAcquire() {
			q.switchPages()
			q.inserting.unlock()
		} else {
			// Nothing waiting on the other page either.
			q.inserting.unlock()
			return ConsumeTxn{}, 0
		}
		if q.lastEnqueued.LoadAcquire() <= q.lastConsumed.LoadAcquire() {
			return ConsumeTxn{}, 0
		}
	}

	if !q.consuming.tryLock() {
		return ConsumeTxn{}, crCongestion | crQueueNotEmpty
	}
	txn := ConsumeTxn{arena: q.consumer, q: q}
	q.lastConsumed.StoreRelease(q.consumer.SequenceNumber())
	return txn, crConsumed | crQueueNotEmpty
}

// Consume is the error-shaped probe over TryConsume: on success the
// returned transaction is bound and the error is nil; otherwise the
// error is ErrWouldBlock (the queue is empty, a producer is
// mid-insert, or a competing drainer holds the consuming lock) and
// the caller should retry later. Callers that need to tell those
// outcomes apart use TryConsume directly.
func (q *SwapQueue) Consume() (ConsumeTxn, error) {
	txn, res := q.TryConsume()
	if !res.Consumed() {
		return ConsumeTxn{}, ErrWouldBlock
	}
	return txn, nil
}

// Commit ends the drain: if more work was inserted meanwhile and the
// producer is not mid-insert, the pages are swapped so the next
// TryConsume binds immediately. Idempotent.
func (t *ConsumeTxn) Commit() {
	q := t.q
	if q == nil {
		return
	}
	if q.inserting.tryLock() {
		if q.lastInserted.LoadAcquire() > q.lastEnqueued.LoadAcquire() {
			q.switchPages()
		}
		q.inserting.unlock()
	}
	q.consuming.unlock()
	t.q, t.arena = nil, nil
}

// switchPages trades the inserter and consumer pages and publishes
// the page now exposed to the consumer. Callable only while the
// inserting lock is held. InsertTxn.Commit and ConsumeTxn.Commit call
// it holding the consuming lock as well; TryConsume calls it before
// taking the consuming lock, so that swap is safe only while no other
// drainer holds a consume transaction.
func (q *SwapQueue) switchPages() {
	q.inserter, q.consumer = q.consumer, q.inserter
	q.lastEnqueued.StoreRelease(q.consumer.SequenceNumber())
}

// Empty reports whether every insert has been consumed. In-flight
// transactions are not accounted for.
func (q *SwapQueue) Empty() bool {
	return q.lastInserted.LoadAcquire() == q.lastConsumed.LoadAcquire()
}

// Size returns the number of inserts not yet consumed. The reads are
// dirty; the value is a snapshot, ordered so it never goes negative.
func (q *SwapQueue) Size() uint64 {
	c := q.lastConsumed.LoadAcquire()
	i := q.lastInserted.LoadAcquire()
	return i - c
}

// Stats returns the three sequence words: inserts generated, pages
// handed to the consumer, and inserts consumed. Each is non-
// decreasing over the queue's lifetime; useful for observability and
// invariant checks.
func (q *SwapQueue) Stats() (inserted, enqueued, consumed uint64) {
	return q.lastInserted.LoadAcquire(),
		q.lastEnqueued.LoadAcquire(),
		q.lastConsumed.LoadAcquire()
}
