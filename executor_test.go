// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/sox"
)

// loopExecutor is a single-worker task executor for tests: Post
// enqueues, PostAt delays through a timer, one goroutine runs tasks
// in order.
type loopExecutor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []func()
	executed int
	stopping bool
	stopped  bool
	done     chan struct{}
}

func newLoopExecutor() *loopExecutor {
	e := &loopExecutor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

func (e *loopExecutor) loop() {
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.stopping {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 && e.stopping {
			e.stopped = true
			e.mu.Unlock()
			close(e.done)
			return
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.executed++
		e.mu.Unlock()
		task()
	}
}

func (e *loopExecutor) Post(task func()) {
	e.mu.Lock()
	if !e.stopping {
		e.tasks = append(e.tasks, task)
	}
	e.mu.Unlock()
	e.cond.Signal()
}

func (e *loopExecutor) PostAt(when time.Time, task func()) {
	time.AfterFunc(time.Until(when), func() { e.Post(task) })
}

func (e *loopExecutor) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *loopExecutor) stop() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.cond.Broadcast()
	<-e.done
}

func (e *loopExecutor) executedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// =============================================================================
// Executor Services
// =============================================================================

// TestTimerServiceDrains covers the low-enqueue-latency policy: a
// periodic timer drains, producers never notify.
func TestTimerServiceDrains(t *testing.T) {
	if sox.RaceEnabled {
		t.Skip("cross-thread drain: atomix ordering invisible to the race detector")
	}
	ex := newLoopExecutor()
	sink := sox.NewBufferSink()
	svc := sox.NewTimerService(ex, sox.NewOptions().PollingPeriod(time.Millisecond))
	s := sox.NewWriterStream(sink, svc)

	s.Print("tick")
	awaitSink(t, sink, "tick")

	s.Close()
	svc.Stop()
	svc.Join()
	if !svc.Stopped() {
		t.Fatal("Stopped: got false, want true")
	}
	ex.stop()
}

// TestSpinServiceDrains covers the low-overall-latency policy: the
// drain task continually re-posts itself.
func TestSpinServiceDrains(t *testing.T) {
	if sox.RaceEnabled {
		t.Skip("cross-thread drain: atomix ordering invisible to the race detector")
	}
	ex := newLoopExecutor()
	sink := sox.NewBufferSink()
	svc := sox.NewSpinService(ex, nil)
	s := sox.NewWriterStream(sink, svc)

	s.Print("spin")
	awaitSink(t, sink, "spin")

	s.Close()
	svc.Stop()
	svc.Join()
	ex.stop()
}

// TestEventServiceDrains covers the low-power policy: nothing is
// scheduled until a submission notifies, and a second burst after
// quiescence schedules again.
func TestEventServiceDrains(t *testing.T) {
	if sox.RaceEnabled {
		t.Skip("cross-thread drain: atomix ordering invisible to the race detector")
	}
	ex := newLoopExecutor()
	sink := sox.NewBufferSink()
	svc := sox.NewEventService(ex, nil)
	s := sox.NewWriterStream(sink, svc)

	s.Print("a")
	awaitSink(t, sink, "a")

	// Quiesce, then submit again: the draining flag must have been
	// lowered so the new submission posts a fresh drain task.
	time.Sleep(10 * time.Millisecond)
	s.Print("b")
	awaitSink(t, sink, "ab")

	s.Close()
	svc.Stop()
	svc.Join()
	ex.stop()
}

// TestExecutorShutdownSentinels verifies the two-step shutdown proof
// runs both sentinels through the executor.
func TestExecutorShutdownSentinels(t *testing.T) {
	if sox.RaceEnabled {
		t.Skip("sentinel flags use atomix orderings invisible to the race detector")
	}
	ex := newLoopExecutor()
	svc := sox.NewEventService(ex, nil)

	before := ex.executedCount()
	svc.Stop()
	svc.Join()
	if !svc.Stopped() {
		t.Fatal("Stopped: got false, want true")
	}
	if got := ex.executedCount() - before; got < 2 {
		t.Fatalf("sentinel tasks executed: got %d, want >= 2", got)
	}

	// Idempotent.
	svc.Stop()
	svc.Join()
	ex.stop()
}

// TestExecutorStreamOwnedService verifies the stream tears its owned
// service down on Close and no work is lost.
func TestExecutorStreamOwnedService(t *testing.T) {
	if sox.RaceEnabled {
		t.Skip("cross-thread drain: atomix ordering invisible to the race detector")
	}
	ex := newLoopExecutor()
	sink := sox.NewBufferSink()
	s := sox.NewExecutorStream(sink, nil, ex, sox.PolicyLowPower, nil)

	s.Print("owned")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := sink.String(); got != "owned" {
		t.Fatalf("sink: got %q, want %q", got, "owned")
	}
	ex.stop()
}
