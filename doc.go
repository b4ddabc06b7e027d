// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sox provides an asynchronous stream offload engine: a
// [Stream] accepts formatted writes and reads on the latency-
// sensitive producer side and defers all formatting and I/O to a
// drain worker that applies the queued work against a synchronous
// [Sink] and/or [Source].
//
// The submission-to-execution pipeline has four moving parts:
//
//   - [SwapQueue]: a hand-off structure with exactly two buffer
//     pages that producer and consumer alternate between, coordinated
//     by sequence numbers and two try-acquired spin locks.
//   - [Arena]: a chained bump allocator whose records encode a
//     forward-linked list of variable-size work items.
//   - Work items: deferred formatters, raw writes, parsers,
//     completion notifications and manipulators, applied in FIFO
//     order by the drainer.
//   - [Service]: the drain scheduler, under one of several policies.
//
// # Quick Start
//
//	sink := sox.NewBufferSink()
//	svc := sox.NewPollingService(nil)
//	defer func() { svc.Stop(); svc.Join() }()
//
//	s := sox.NewWriterStream(sink, svc)
//	s.Print(1)
//	s.Print(2)
//	s.Print(3)
//	s.WriteString("!")
//	s.Close() // drains whatever is still queued
//
// # Submitting work
//
// Every producer API is sugar over a single submit that appends one
// work item to the inserter page:
//
//	s.Write(p)                  // raw bytes, copied at submit time
//	s.Print(v)                  // formatted insertion
//	s.Parse(&v)                 // deferred extraction (borrowed target)
//	s.AsyncWrite(p, handler)    // write + completion notification
//	s.AsyncParse(&v, handler)   // parse + completion notification
//	s.WhenDone(fn)              // callback after all earlier work
//	s.Seek(0, io.SeekStart)     // manipulators
//
// Submissions from multiple goroutines are safe (they serialize on
// the queue's inserting lock); FIFO order is guaranteed per
// goroutine, and across goroutines for work landing in the same page
// generation.
//
// # Drain policies
//
// Thread policies own a worker goroutine:
//
//	sox.NewPollingService(opts) // lowest enqueue latency, polls
//	sox.NewWaitingService(opts) // lowest power, waits on a condvar
//	sox.NewIdleService(opts)    // no worker; drains in Stream.Close
//
// Executor policies schedule against an injected [Executor]:
//
//	sox.NewTimerService(ex, opts) // periodic timer drain
//	sox.NewSpinService(ex, opts)  // continuous re-posted drain task
//	sox.NewEventService(ex, opts) // drain task posted on submission
//
// or let the stream own one:
//
//	s := sox.NewExecutorStream(sink, nil, ex, sox.PolicyLowPower, nil)
//
// # Error Handling
//
// Failures raised while applying work items never stop the drain:
// each is reported exactly once to the installed [ErrorHandler] and
// the next item is still applied. Sink/source failures arrive as
// [IOError] (domain), other errors as-is (generic), recovered panics
// through CatchPanic (unknown). The default handler logs structured
// events through zerolog; install your own with
// [Options.ErrorHandler].
//
// The queue's error-shaped probe [SwapQueue.Consume] uses semantic
// errors from [code.hybscloud.com/iox]: it returns [ErrWouldBlock]
// when no page can be acquired, and [Stream.TryDrain] loops on it
// through [IsWouldBlock].
//
// # Ordering and liveness
//
// The swap queue hands pages off in strictly increasing sequence
// order. Swapping is normally the consumer's job, keeping the
// producer hot path short; a consumer blocked by a mid-insert
// producer records the fact and the producer swaps on its next
// commit, so the consumer drains within a bounded number of producer
// commits even under continuous submission.
//
// Exactly one drainer at a time is by design: a competing drainer
// gets a TooManyConsumers result from [SwapQueue.TryConsume] and
// should back off. There is no backpressure — the queue is unbounded
// through arena growth; layer flow control above if you need it.
//
// # Race Detection
//
// The swap queue synchronizes through atomix operations that Go's
// race detector cannot attribute happens-before edges to. Concurrent
// tests are excluded via //go:build !race; see RaceEnabled.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors and
// backoff, [code.hybscloud.com/atomix] for atomic primitives with
// explicit memory ordering, [code.hybscloud.com/spin] for CPU pause
// instructions, and [github.com/rs/zerolog] for default error-path
// logging.
package sox
