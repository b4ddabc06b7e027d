// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"code.hybscloud.com/iox"
)

// Stream binds a swap queue, two arena pages, and a sink and/or
// source. Submissions append work items to the inserter page on the
// calling thread; all formatting and I/O happens later, on whichever
// thread the service drains from.
//
// Submission methods are safe to call from multiple goroutines (they
// serialize on the queue's inserting lock), but FIFO order is only
// guaranteed per goroutine. A Stream must be Closed; Close drains
// whatever is still queued before returning, so no work is lost.
type Stream struct {
	q     *SwapQueue
	page1 *Arena
	page2 *Arena
	sink  Sink
	src   Source
	svc   Service
	errh  ErrorHandler

	// ownedSvc is set when the stream constructed its own executor
	// wrapper service; Close tears it down too.
	ownedSvc Service
}

// NewStream creates a stream bound to w and/or r and registers it
// with svc. At least one of w, r must be non-nil; write submissions
// require w, parse submissions require r.
func NewStream(w Sink, r Source, svc Service, opts *Options) *Stream {
	if w == nil && r == nil {
		panic("sox: stream needs a sink or a source")
	}
	if svc == nil {
		panic("sox: stream needs a service")
	}
	o := opts.resolve()
	s := &Stream{
		page1: NewArena(o.pageSize),
		page2: NewArena(o.pageSize),
		sink:  w,
		src:   r,
		svc:   svc,
		errh:  svc.errorHandler(),
	}
	s.q = NewSwapQueue(s.page1, s.page2)
	svc.attach(s)
	return s
}

// NewWriterStream creates a write-only stream on svc.
func NewWriterStream(w Sink, svc Service) *Stream {
	return NewStream(w, nil, svc, nil)
}

// NewReaderStream creates a read-only stream on svc.
func NewReaderStream(r Source, svc Service) *Stream {
	return NewStream(nil, r, svc, nil)
}

// NewExecutorStream creates a stream that owns a drain service over
// the given executor, selected by policy. Closing the stream shuts
// the owned service down with it.
func NewExecutorStream(w Sink, r Source, ex Executor, policy Policy, opts *Options) *Stream {
	var svc Service
	switch policy {
	case PolicyLowEnqueueLatency:
		svc = NewTimerService(ex, opts)
	case PolicyLowOverallLatency:
		svc = NewSpinService(ex, opts)
	case PolicyLowPower:
		svc = NewEventService(ex, opts)
	default:
		panic("sox: unknown scheduling policy")
	}
	s := NewStream(w, r, svc, opts)
	s.ownedSvc = svc
	return s
}

// submit runs one producer transaction: acquire the inserter page,
// let push append records, signal the service, commit.
func (s *Stream) submit(push func(a *Arena)) {
	txn, _ := s.q.BeginInsert()
	push(txn.Arena())
	s.svc.workAvailable()
	txn.Commit()
}

func (s *Stream) needSink() {
	if s.sink == nil {
		panic("sox: write submission on a stream with no sink")
	}
}

func (s *Stream) needSource() {
	if s.src == nil {
		panic("sox: parse submission on a stream with no source")
	}
}

// Write queues p to be written verbatim. p is copied at submit time;
// the stream never retains the caller's slice. Implements io.Writer:
// the error is always nil, as the actual write is deferred (failures
// surface through the error handler).
func (s *Stream) Write(p []byte) (int, error) {
	s.needSink()
	s.submit(func(a *Arena) { a.PushBytes(p) })
	return len(p), nil
}

// WriteString queues s to be written verbatim.
func (s *Stream) WriteString(str string) {
	s.needSink()
	s.submit(func(a *Arena) { a.PushString(str) })
}

// Put queues a single byte.
func (s *Stream) Put(c byte) {
	s.needSink()
	s.submit(func(a *Arena) { a.PushBytes([]byte{c}) })
}

// Print queues a formatted insertion of v. Integers, unsigned
// integers, floats, bools, strings and byte slices are encoded inline
// in the arena; any other type is retained and formatted with fmt at
// drain time.
func (s *Stream) Print(v any) {
	s.needSink()
	s.submit(func(a *Arena) {
		switch x := v.(type) {
		case int:
			a.PushInt(int64(x))
		case int8:
			a.PushInt(int64(x))
		case int16:
			a.PushInt(int64(x))
		case int32:
			a.PushInt(int64(x))
		case int64:
			a.PushInt(x)
		case uint:
			a.PushUint(uint64(x))
		case uint8:
			a.PushUint(uint64(x))
		case uint16:
			a.PushUint(uint64(x))
		case uint32:
			a.PushUint(uint64(x))
		case uint64:
			a.PushUint(x)
		case float32:
			a.PushFloat(float64(x))
		case float64:
			a.PushFloat(x)
		case bool:
			a.PushBool(x)
		case string:
			a.PushString(x)
		case []byte:
			a.PushBytes(x)
		default:
			a.PushValue(v)
		}
	})
}

// Parse queues an extraction from the source into target, which must
// be a pointer and must outlive the drain (it is borrowed, not
// copied).
func (s *Stream) Parse(target any) {
	s.needSource()
	s.submit(func(a *Arena) { a.PushParse(target) })
}

// AsyncWrite queues p to be written and handler to be invoked with
// the write status and byte count afterwards. handler runs on the
// drain thread.
func (s *Stream) AsyncWrite(p []byte, handler CompletionHandler) {
	s.needSink()
	s.submit(func(a *Arena) { a.PushAsyncWrite(p, handler) })
}

// AsyncParse queues an extraction into target followed by a
// completion notification. target and handler are borrowed; the
// reported byte count is always zero.
func (s *Stream) AsyncParse(target any, handler CompletionHandler) {
	s.needSource()
	s.submit(func(a *Arena) { a.PushAsyncParse(target, handler) })
}

// WhenDone queues fn to run after everything submitted before it has
// been applied. fn runs on the drain thread; a returned error is
// routed to the error handler.
func (s *Stream) WhenDone(fn func() error) {
	s.submit(func(a *Arena) { a.PushCallback(fn) })
}

// Seek queues a seek on the sink.
func (s *Stream) Seek(offset int64, whence int) {
	s.needSink()
	s.submit(func(a *Arena) { a.PushSeek(offset, whence) })
}

// ClearState queues a clear-state manipulator for the sink.
func (s *Stream) ClearState(state Status) {
	s.submit(func(a *Arena) { a.PushClearState(state) })
}

// SetState queues a set-state manipulator for the source (or the
// sink when the source does not implement Stater).
func (s *Stream) SetState(state Status) {
	s.submit(func(a *Arena) { a.PushSetState(state) })
}

// Imbue queues an imbue-locale manipulator for the sink.
func (s *Stream) Imbue(locale string) {
	s.needSink()
	s.submit(func(a *Arena) { a.PushImbue(locale) })
}

// Warmup pre-touches the inserter page so the next submission's cold
// cost is paid here instead of on the hot path.
func (s *Stream) Warmup() {
	s.q.WarmupBeforeInserting()
}

// TryDrain drains whatever pages can be acquired right now, applying
// every queued work item against the bound sink/source. Returns
// whether anything was drained. Normally the service calls this from
// its drain thread; calling it directly is how the idle policy and
// tests drive the stream.
func (s *Stream) TryDrain() bool {
	drained := false
	for {
		txn, err := s.q.Consume()
		if IsWouldBlock(err) {
			break
		}
		txn.Arena().Drain(s.sink, s.src, s.errh)
		txn.Commit()
		drained = true
	}
	return drained
}

// Flush synchronously flushes the bound sink. Flush failures go to
// the error handler, like any other sink failure.
func (s *Stream) Flush() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Flush(); err != nil && s.errh != nil {
		s.errh.CatchIOError(&IOError{Op: "flush", Err: err})
	}
}

// Close deregisters the stream and then drains synchronously until
// the queue is empty, so no submitted work is lost. If the stream
// owns its service (NewExecutorStream), the service is shut down too.
func (s *Stream) Close() error {
	s.svc.detach(s)
	backoff := iox.Backoff{}
	for !s.q.Empty() {
		if s.TryDrain() {
			s.Flush()
			backoff.Reset()
			continue
		}
		// A competing drainer holds the page; let it finish.
		backoff.Wait()
	}
	if s.ownedSvc != nil {
		s.ownedSvc.Stop()
		s.ownedSvc.Join()
		s.ownedSvc = nil
	}
	return nil
}
