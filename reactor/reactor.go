// Package reactor provides the single-goroutine event loop that every
// session and server runs on. All Session/Server state mutation happens on
// the reactor's dispatcher goroutine; other goroutines reach in only by
// posting a task.
package reactor

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is a zero-argument unit of work guaranteed to run on the reactor's
// dispatcher goroutine.
type Task func()

// Reactor is the single execution context for all non-blocking I/O and
// deferred work. The zero value is not usable; construct one with New or
// NewIndependent.
//
// Reactor owns no descriptors itself — sessions and servers hand it
// completions (bytes read, writes finished, accepts, timer fires) as posted
// tasks, and the dispatcher goroutine runs them one at a time, in the order
// posted by each caller.
type Reactor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	running bool
	stopped chan struct{}
	guard   sync.WaitGroup
	guarded bool
}

var (
	defaultOnce sync.Once
	defaultR    *Reactor
)

// Default returns the process-wide singleton reactor, starting its
// dispatcher goroutine on first use.
func Default() *Reactor {
	defaultOnce.Do(func() {
		defaultR = New()
		go defaultR.Run()
	})

	return defaultR
}

// New constructs a fresh, un-started Reactor. Most callers want Default or
// NewIndependent; New is exposed for callers that manage their own
// goroutine lifecycle.
func New() *Reactor {
	r := &Reactor{
		tasks:   queue.New(),
		stopped: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	return r
}

// NewIndependent returns a fresh, isolated reactor with its dispatcher
// goroutine already running. It shares no state with the process-wide
// singleton; it exists so tests can run concurrently without cross-talk.
func NewIndependent() *Reactor {
	r := New()
	go r.Run()

	return r
}

// Run blocks the calling goroutine on the event loop, executing posted
// tasks in FIFO order until Stop is called. Run must be invoked from
// exactly one goroutine per Reactor; that goroutine becomes "the reactor
// thread" for every Session and Server bound to this Reactor.
func (r *Reactor) Run() {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	for {
		r.mu.Lock()
		for r.tasks.Length() == 0 && r.running {
			r.cond.Wait()
		}

		if !r.running && r.tasks.Length() == 0 {
			r.mu.Unlock()
			close(r.stopped)
			return
		}

		task := r.tasks.Remove().(Task)
		r.mu.Unlock()

		r.runSafely(task)
	}
}

// runSafely executes a task, catching a panic at the loop boundary so one
// misbehaving task never kills the reactor goroutine.
func (r *Reactor) runSafely(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			// The panic value is discarded, not reported to an error
			// handler; the recover only guarantees the loop survives.
			_ = rec
		}
	}()

	task()
}

// Post enqueues task to run on the reactor thread. Tasks from the same
// caller goroutine run in the order they were posted; Post never blocks.
func (r *Reactor) Post(task Task) {
	r.mu.Lock()
	r.tasks.Add(task)
	r.cond.Signal()
	r.mu.Unlock()
}

// Stop cooperatively unblocks Run once the task queue drains. It does not
// wait for Run to return; callers that need that guarantee should select on
// the channel returned by Done.
func (r *Reactor) Stop() {
	r.mu.Lock()
	r.running = false
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Done returns a channel closed once Run has returned after Stop.
func (r *Reactor) Done() <-chan struct{} {
	return r.stopped
}

// Running reports whether Run has started and Stop has not yet been called.
// It turns false as soon as Stop is called, even while Run is still
// draining queued tasks.
func (r *Reactor) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

// KeepAlive increments a work-guard that, while held, is only informational
// — Run already blocks on Wait rather than exiting when the queue is
// momentarily empty. KeepAlive/Release exist so callers can assert "the
// reactor must not be considered idle" around a multi-step operation (e.g.
// a server's accept loop arming its next Accept).
func (r *Reactor) KeepAlive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.guarded {
		r.guarded = true
		r.guard.Add(1)
	}
}

// Release releases the work-guard acquired by KeepAlive.
func (r *Reactor) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.guarded {
		r.guarded = false
		r.guard.Done()
	}
}
