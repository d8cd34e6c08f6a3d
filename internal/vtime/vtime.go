// vtime.go - virtual time base and timer scheduler
//
// Grounded on the teacher's cycle-counting idiom (CPU_X86.Cycles,
// MachineBus.Tick) generalised into a standalone scheduler usable by any
// device that needs a deadline callback (PIT, DMA refresh, floppy motor
// timeout) instead of polling cycles itself.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package vtime

import (
	"container/heap"
	"sync"
)

// Time is a monotonic count of emulated nanoseconds since machine power-on.
// It never wraps in any practical run and is never derived from the host
// wall clock, so runs stay reproducible.
type Time uint64

// Callback is invoked when a Timer's deadline is reached. now is the
// virtual time at which the timer fired, which may be slightly after the
// requested deadline since timers are only processed when the driving
// clock source (the CPU core, typically) calls Scheduler.Advance.
type Callback func(now Time)

// Timer is a single scheduled event. Timers are owned by the Scheduler
// that created them via Add; callers hold the returned *Timer to
// reschedule or disable it.
type Timer struct {
	deadline Time
	period   Time // 0 = one-shot
	enabled  bool
	callback Callback
	owner    string // device name, for monitor/debug listings

	index int // heap index, maintained by container/heap
}

// Owner returns the device name this timer was registered under.
func (t *Timer) Owner() string { return t.owner }

// Enabled reports whether the timer will fire on its next deadline.
func (t *Timer) Enabled() bool { return t.enabled }

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is a min-heap of Timers driven by repeated calls to Advance.
// Safe for concurrent use: Add/Advance/Now all take the same mutex, since
// devices on other goroutines (the audio ring consumer, the monitor) may
// need to read Now or add timers.
type Scheduler struct {
	mu  sync.Mutex
	now Time
	h   timerHeap
}

// NewScheduler returns an empty scheduler at virtual time zero.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.h)
	return s
}

// Now returns the current virtual time.
func (s *Scheduler) Now() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Add registers a new timer owned by the given device name, firing once
// at now+delay, then every period thereafter (period 0 means one-shot:
// the timer disables itself after firing once).
func (s *Scheduler) Add(owner string, delay, period Time, cb Callback) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Timer{
		deadline: s.now + delay,
		period:   period,
		enabled:  true,
		callback: cb,
		owner:    owner,
	}
	heap.Push(&s.h, t)
	return t
}

// SetDelay reschedules t to fire delay ticks from now, re-enabling it if
// it had been disabled.
func (s *Scheduler) SetDelay(t *Timer, delay Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.deadline = s.now + delay
	t.enabled = true
	if t.index >= 0 {
		heap.Fix(&s.h, t.index)
	} else {
		heap.Push(&s.h, t)
	}
}

// SetPeriod changes t's recurrence period without altering its next
// deadline.
func (s *Scheduler) SetPeriod(t *Timer, period Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.period = period
}

// Disable stops t from firing until re-armed via SetDelay. The timer
// stays in the heap with enabled=false until Advance reaches its
// deadline and drops it without firing; SetDelay pushes it back.
func (s *Scheduler) Disable(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.enabled = false
}

// NextDeadline returns the soonest enabled timer's deadline and true, or
// (0, false) if no timer is enabled. Callers (the CPU run loop) use this
// to size their next cycle-budget slice instead of polling every tick.
func (s *Scheduler) NextDeadline() (Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	var d Time
	for _, t := range s.h {
		if t.enabled && (!found || t.deadline < d) {
			d, found = t.deadline, true
		}
	}
	return d, found
}

// Advance moves virtual time forward by delta ticks, firing (and, for
// periodic timers, rescheduling) every timer whose deadline falls at or
// before the new time. Callbacks run with the scheduler unlocked so they
// may themselves call Add/SetDelay/Disable.
func (s *Scheduler) Advance(delta Time) {
	s.mu.Lock()
	s.now += delta
	target := s.now
	var due []*Timer
	for s.h.Len() > 0 && s.h[0].deadline <= target {
		t := heap.Pop(&s.h).(*Timer)
		if !t.enabled {
			continue
		}
		due = append(due, t)
		if t.period > 0 {
			t.deadline += t.period
			heap.Push(&s.h, t)
		} else {
			t.enabled = false
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.callback(target)
	}
}
