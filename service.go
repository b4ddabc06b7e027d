// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// Service owns a registry of streams and drives their drains from a
// background worker under one of several policies. Streams register
// themselves on construction and deregister on Close.
type Service interface {
	// Run drains every registered stream once, then flushes them if
	// anything was drained. Returns whether any work was drained.
	// Policies call Run from their worker; callers may also drive it
	// manually.
	Run() bool

	// Stop requests the worker to terminate. The polling and waiting
	// workers perform one final Run so tail work is not stranded; the
	// executor-backed services stop rescheduling their drain tasks
	// without a final Run.
	Stop()

	// Join blocks until termination is confirmed.
	Join()

	// Stopped reports whether the worker has terminated.
	Stopped() bool

	attach(s *Stream)
	detach(s *Stream)
	workAvailable()
	errorHandler() ErrorHandler
}

// registry is the common per-service state: a spin-locked list of
// streams, the error handler, and the notification-suppression flag.
// The list is O(n) scanned; n is expected small.
type registry struct {
	mu       spinlock
	streams  []*Stream
	handler  ErrorHandler
	suppress bool
}

func (r *registry) init(o *Options, suppress bool) {
	r.handler = o.handler
	r.suppress = suppress
}

func (r *registry) attach(s *Stream) {
	r.mu.lock()
	r.streams = append(r.streams, s)
	r.mu.unlock()
}

func (r *registry) detach(s *Stream) {
	r.mu.lock()
	for i, v := range r.streams {
		if v == s {
			r.streams = append(r.streams[:i], r.streams[i+1:]...)
			break
		}
	}
	r.mu.unlock()
}

func (r *registry) errorHandler() ErrorHandler { return r.handler }

// run drains all streams, then flushes all of them if any drained.
func (r *registry) run() bool {
	drained := false
	r.mu.lock()
	for _, s := range r.streams {
		if s.TryDrain() {
			drained = true
		}
	}
	if drained {
		for _, s := range r.streams {
			s.Flush()
		}
	}
	r.mu.unlock()
	return drained
}

// PollingService drains on a dedicated goroutine, sleeping for the
// polling period whenever a pass finds nothing. Producer
// notifications are suppressed: the worker finds work by itself, so
// submissions stay as cheap as possible.
type PollingService struct {
	registry
	period  time.Duration
	stopReq atomix.Bool
	stopped atomix.Bool
	done    chan struct{}
}

// NewPollingService starts a polling drain worker. The polling period
// comes from opts (default 10ms).
func NewPollingService(opts *Options) *PollingService {
	o := opts.resolve()
	p := &PollingService{
		period: o.period,
		done:   make(chan struct{}),
	}
	p.init(o, true)
	go p.loop()
	return p
}

func (p *PollingService) loop() {
	for !p.stopReq.LoadAcquire() {
		if !p.run() {
			time.Sleep(p.period)
		}
	}
	// Recovered from sleep to find stop requested; the pages may not
	// be empty yet.
	p.run()
	p.stopped.StoreRelease(true)
	close(p.done)
}

// Run drains every registered stream once.
func (p *PollingService) Run() bool { return p.run() }

// Stop requests the worker to terminate.
func (p *PollingService) Stop() { p.stopReq.StoreRelease(true) }

// Join blocks until the worker has terminated.
func (p *PollingService) Join() { <-p.done }

// Stopped reports whether the worker has terminated.
func (p *PollingService) Stopped() bool { return p.stopped.LoadAcquire() }

func (p *PollingService) workAvailable() {}

// WaitingService drains on a dedicated goroutine that waits on a
// condition variable between passes: the lowest power draw of the
// thread policies. Producers pay for the notification on submit.
type WaitingService struct {
	registry
	cond    *sync.Cond
	condMu  sync.Mutex
	gen     uint64 // guarded by condMu; bumped per notification
	stopReq atomix.Bool
	stopped atomix.Bool
	done    chan struct{}
}

// NewWaitingService starts a condvar-driven drain worker.
func NewWaitingService(opts *Options) *WaitingService {
	o := opts.resolve()
	w := &WaitingService{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.condMu)
	w.init(o, false)
	go w.loop()
	return w
}

func (w *WaitingService) loop() {
	for !w.stopReq.LoadAcquire() {
		w.condMu.Lock()
		g := w.gen
		w.condMu.Unlock()
		if w.run() {
			continue
		}
		w.condMu.Lock()
		for w.gen == g && !w.stopReq.LoadAcquire() {
			// Spurious wakes are harmless: the loop re-runs and waits
			// again.
			w.cond.Wait()
		}
		w.condMu.Unlock()
	}
	w.run()
	w.stopped.StoreRelease(true)
	close(w.done)
}

// Run drains every registered stream once.
func (w *WaitingService) Run() bool { return w.run() }

// Stop requests the worker to terminate and wakes it.
func (w *WaitingService) Stop() {
	w.stopReq.StoreRelease(true)
	w.condMu.Lock()
	w.gen++
	w.condMu.Unlock()
	w.cond.Broadcast()
}

// Join blocks until the worker has terminated.
func (w *WaitingService) Join() { <-w.done }

// Stopped reports whether the worker has terminated.
func (w *WaitingService) Stopped() bool { return w.stopped.LoadAcquire() }

func (w *WaitingService) workAvailable() {
	if w.suppress {
		return
	}
	// Can cost tens of thousands of cycles when the worker is asleep,
	// which it usually is.
	w.condMu.Lock()
	w.gen++
	w.condMu.Unlock()
	w.cond.Broadcast()
}

// IdleService has no worker at all: every queued work item is applied
// deterministically on the caller's thread, inside Stream.Close (or a
// manual Run/TryDrain). Useful for debugging and single-threaded
// tests.
type IdleService struct {
	registry
	stopped atomix.Bool
}

// NewIdleService creates a workerless service.
func NewIdleService(opts *Options) *IdleService {
	o := opts.resolve()
	s := &IdleService{}
	s.init(o, false)
	return s
}

// Run drains every registered stream once on the calling thread.
func (s *IdleService) Run() bool { return s.run() }

// Stop marks the service stopped. There is no worker to terminate.
func (s *IdleService) Stop() { s.stopped.StoreRelease(true) }

// Join returns immediately.
func (s *IdleService) Join() {}

// Stopped reports whether Stop was called.
func (s *IdleService) Stopped() bool { return s.stopped.LoadAcquire() }

func (s *IdleService) workAvailable() {}
