// Package scheduler coalesces bursts of filesystem events into at most one
// handler run per file per quiet period, with deletes taking precedence over
// edits and edits over creates.
package scheduler

import (
	"sync"
	"time"

	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/types"
)

// DefaultDebounce is the per-file quiet period.
const DefaultDebounce = 300 * time.Millisecond

// Handler processes one coalesced file event.
type Handler func(path string, kind types.FileEventKind) error

// job tracks the pending or in-flight work for one file.
type job struct {
	kind        types.FileEventKind
	timer       *time.Timer
	inFlight    bool
	rescheduled bool
	// nextKind holds the event kind for the single allowed re-run.
	nextKind types.FileEventKind
}

// Scheduler debounces per-file events. Each file has at most one pending
// timer and at most one queued re-run while its handler is executing.
type Scheduler struct {
	handler  Handler
	debounce time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	disposed bool

	// onComplete fires after a job's handler returns; used by tests to
	// synchronize without sleeping.
	onComplete func(path string, kind types.FileEventKind)
}

// New creates a scheduler dispatching to handler after debounce quiet time.
func New(handler Handler, debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Scheduler{
		handler:  handler,
		debounce: debounce,
		jobs:     make(map[string]*job),
	}
}

// SetOnComplete registers a completion hook. Call before the first Enqueue.
func (s *Scheduler) SetOnComplete(fn func(path string, kind types.FileEventKind)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Enqueue records an event for path. Rules:
//   - no pending job: schedule one after the quiet period
//   - pending job: a higher priority event replaces its kind and restarts
//     the window; an equal or lower priority event is absorbed and the
//     window keeps running
//   - in-flight job: one re-run is queued; further events before the re-run
//     starts only raise its kind
func (s *Scheduler) Enqueue(path string, kind types.FileEventKind) {
	norm := types.NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	j, ok := s.jobs[norm]
	if !ok {
		j = &job{kind: kind}
		j.timer = time.AfterFunc(s.debounce, func() { s.fire(norm) })
		s.jobs[norm] = j
		debug.LogScheduler("scheduled %s (%s)\n", norm, kind)
		return
	}

	if j.inFlight {
		if !j.rescheduled {
			j.rescheduled = true
			j.nextKind = kind
			debug.LogScheduler("queued re-run for %s (%s)\n", norm, kind)
		} else if kind.Priority() > j.nextKind.Priority() {
			j.nextKind = kind
		}
		return
	}

	if kind.Priority() > j.kind.Priority() {
		j.kind = kind
		j.timer.Stop()
		j.timer = time.AfterFunc(s.debounce, func() { s.fire(norm) })
		debug.LogScheduler("restarted %s (%s)\n", norm, kind)
	}
}

// fire runs in the timer goroutine when a quiet period elapses.
func (s *Scheduler) fire(path string) {
	s.mu.Lock()
	j, ok := s.jobs[path]
	if !ok || s.disposed {
		s.mu.Unlock()
		return
	}
	j.inFlight = true
	kind := j.kind
	handler := s.handler
	s.mu.Unlock()

	s.runHandler(path, kind, handler)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	j, ok = s.jobs[path]
	if ok {
		if j.rescheduled {
			// The single queued re-run becomes a fresh pending job.
			j.inFlight = false
			j.rescheduled = false
			j.kind = j.nextKind
			j.timer = time.AfterFunc(s.debounce, func() { s.fire(path) })
		} else {
			delete(s.jobs, path)
		}
	}
	onComplete := s.onComplete
	s.mu.Unlock()

	if onComplete != nil {
		onComplete(path, kind)
	}
}

// runHandler isolates handler panics so one bad file cannot kill the
// scheduler's timer goroutines.
func (s *Scheduler) runHandler(path string, kind types.FileEventKind, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			debug.LogScheduler("handler panic for %s: %v\n", path, r)
		}
	}()
	if err := handler(path, kind); err != nil {
		debug.LogScheduler("handler error for %s: %v\n", path, err)
	}
}

// Pending returns how many files currently have pending or in-flight jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Dispose cancels every pending timer and drops all jobs. Events enqueued
// afterwards are ignored. In-flight handlers finish but their results are
// not rescheduled.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for path, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.jobs, path)
	}
	debug.LogScheduler("scheduler disposed\n")
}
