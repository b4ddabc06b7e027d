// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Executor is the external task runtime that the executor-backed
// services schedule against. Implementations must dispatch tasks
// thread-safely; tasks posted from any goroutine run on the
// executor's workers.
type Executor interface {
	// Post schedules task to run as soon as a worker is available.
	Post(task func())

	// PostAt schedules task to run at the absolute deadline when.
	// Executor services re-arm timers by advancing the previous
	// deadline, not by measuring from "now", so drift does not
	// accumulate.
	PostAt(when time.Time, task func())

	// Stopped reports whether the executor has shut down and will
	// run no further tasks.
	Stopped() bool
}

// Policy selects the drain scheduling of an executor-backed stream.
type Policy uint8

const (
	// PolicyLowEnqueueLatency drains on a periodic timer. Submissions
	// return quickly and no executor worker is permanently occupied.
	PolicyLowEnqueueLatency Policy = iota

	// PolicyLowOverallLatency drains in a continuously re-posted
	// task. Submissions return quickly and reach the sink quickly
	// too, at the price of keeping one executor worker busy.
	PolicyLowOverallLatency

	// PolicyLowPower drains only when notified: nothing runs while
	// the streams are quiet.
	PolicyLowPower
)

// executorService is the state shared by the executor-backed
// services, including the two-step shutdown proof: first that no new
// drain work will be scheduled, then that no scheduled work remains.
type executorService struct {
	registry
	ex Executor

	stopOnce    atomix.Uint64
	sawStop     atomix.Bool // sentinel ran: no new work will be enqueued
	queuesEmpty atomix.Bool // sentinel ran: nothing left in the queue
	stopped     atomix.Bool
}

func (e *executorService) initExecutor(ex Executor, o *Options, suppress bool) {
	e.ex = ex
	e.init(o, suppress)
}

// Stop posts the set-stopped sentinel. Once it runs, the drain tasks
// observe it and stop re-scheduling themselves.
func (e *executorService) Stop() {
	if !e.stopOnce.CompareAndSwapAcqRel(0, 1) {
		return
	}
	e.ex.Post(func() { e.sawStop.StoreRelease(true) })
}

// Join completes the shutdown proof: it yields until the set-stopped
// sentinel has run, then posts and awaits the set-queues-empty
// sentinel. Only after both may timers and tasks be considered gone.
// A stopped executor short-circuits either wait.
func (e *executorService) Join() {
	if e.stopped.LoadAcquire() {
		return
	}
	e.Stop()
	backoff := iox.Backoff{}
	for !e.sawStop.LoadAcquire() {
		if e.ex.Stopped() {
			break
		}
		backoff.Wait()
	}
	e.ex.Post(func() { e.queuesEmpty.StoreRelease(true) })
	backoff.Reset()
	for !e.queuesEmpty.LoadAcquire() {
		if e.ex.Stopped() {
			break
		}
		backoff.Wait()
	}
	e.stopped.StoreRelease(true)
}

// Stopped reports whether the shutdown proof has completed.
func (e *executorService) Stopped() bool { return e.stopped.LoadAcquire() }

// TimerService implements PolicyLowEnqueueLatency: a timer fires
// every poll interval, the callback drains until dry and re-arms the
// timer at the previous deadline plus the interval. Producer
// notifications are suppressed.
type TimerService struct {
	executorService
	interval time.Duration
	deadline time.Time // touched only by the timer callback chain
}

// NewTimerService starts the polling timer on ex. The poll interval
// comes from opts (default 10ms).
func NewTimerService(ex Executor, opts *Options) *TimerService {
	o := opts.resolve()
	t := &TimerService{interval: o.period}
	t.initExecutor(ex, o, true)
	t.deadline = time.Now().Add(t.interval)
	ex.PostAt(t.deadline, t.tick)
	return t
}

func (t *TimerService) tick() {
	if t.sawStop.LoadAcquire() {
		return
	}
	for t.run() {
	}
	t.deadline = t.deadline.Add(t.interval)
	t.ex.PostAt(t.deadline, t.tick)
}

// Run drains every registered stream once.
func (t *TimerService) Run() bool { return t.run() }

func (t *TimerService) workAvailable() {}

// SpinService implements PolicyLowOverallLatency: a task drains until
// dry and immediately re-posts itself, continually occupying one
// executor worker. Producer notifications are suppressed.
type SpinService struct {
	executorService
}

// NewSpinService starts the spinning drain task on ex.
func NewSpinService(ex Executor, opts *Options) *SpinService {
	o := opts.resolve()
	s := &SpinService{}
	s.initExecutor(ex, o, true)
	ex.Post(s.spin)
	return s
}

func (s *SpinService) spin() {
	if s.sawStop.LoadAcquire() {
		return
	}
	for s.run() {
	}
	s.ex.Post(s.spin)
}

// Run drains every registered stream once.
func (s *SpinService) Run() bool { return s.run() }

func (s *SpinService) workAvailable() {}

// EventService implements PolicyLowPower: nothing is scheduled until
// a producer submits. The draining flag keeps at most one drain task
// in flight; the post-drain re-check closes the race where a producer
// observed the flag set, skipped the notification, and inserted right
// after the drain's last pass.
type EventService struct {
	executorService
	draining atomix.Uint64
}

// NewEventService creates an event-driven drain service on ex.
func NewEventService(ex Executor, opts *Options) *EventService {
	o := opts.resolve()
	e := &EventService{}
	e.initExecutor(ex, o, false)
	return e
}

func (e *EventService) workAvailable() {
	if e.draining.LoadAcquire() != 0 {
		return
	}
	if e.draining.CompareAndSwapAcqRel(0, 1) {
		e.ex.Post(e.drainAll)
	}
}

func (e *EventService) drainAll() {
	if e.sawStop.LoadAcquire() {
		return
	}
	for {
		for e.run() {
		}
		e.draining.StoreRelease(0)
		// A producer that saw draining==1 skipped its notification;
		// prove the queues are still empty now that the flag is down.
		if !e.run() {
			return
		}
		e.draining.StoreRelease(1)
	}
}

// Run drains every registered stream once.
func (e *EventService) Run() bool { return e.run() }
