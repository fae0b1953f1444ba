// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fdevent implements a single-threaded, select(2)-based
// file-descriptor event loop. Watches are dispatched at most once per
// readiness per cycle and are physically removed before their handler is
// invoked, so a handler may safely re-register the same fd without being
// re-entered for the event that just fired.
package fdevent

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/metrics"
)

// Interest is a bitmask of readiness directions a watch cares about.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
)

func (i Interest) has(o Interest) bool { return i&o != 0 }

// WatchKey identifies a registered watch for later removal. Keys are never
// reused while the process runs, so a stale key is always safely ignorable.
type WatchKey uint64

// TimerKey identifies a registered timer for later cancellation.
type TimerKey uint64

// FDEvent is delivered to a Handler when its fd becomes ready.
type FDEvent struct {
	FD    int
	Ready Interest
}

// Handler is invoked at most once per watch, after the watch has already
// been removed from the loop.
type Handler func(ev FDEvent, userData any)

var (
	// ErrResourceExhausted models allocation failure registering a watch.
	ErrResourceExhausted = errors.New("fdevent: resource exhausted")
	// ErrSelectFailed models an unrecoverable select(2) failure.
	ErrSelectFailed = errors.New("fdevent: select failed")
)

type watch struct {
	key      WatchKey
	fd       int
	interest Interest
	handler  Handler
	userData any
	active   bool
}

type timer struct {
	key      TimerKey
	deadline time.Time
	fn       func()
	active   bool
}

// EventLoop is not safe for concurrent use from multiple goroutines; it is
// meant to be driven by exactly one goroutine calling Run, with AddWatch and
// RemoveWatch called either before Run or from within a Handler invoked by
// Run on that same goroutine. The same rule applies to AddTimer/RemoveTimer.
type EventLoop struct {
	watches []*watch
	nextKey WatchKey

	timers       []*timer
	nextTimerKey TimerKey

	clock timeutil.Clock

	// failNextAlloc lets tests exercise the ErrResourceExhausted path
	// without actually exhausting memory.
	failNextAlloc bool
}

// New returns an empty event loop whose timers are driven by clk.
func New(clk timeutil.Clock) *EventLoop {
	return &EventLoop{clock: clk}
}

// AddTimer schedules fn to run once, after d has elapsed according to the
// loop's clock. Like a watch's Handler, fn runs on Run's goroutine with the
// timer already removed, so it may safely call AddWatch/AddTimer itself.
func (l *EventLoop) AddTimer(d time.Duration, fn func()) TimerKey {
	l.nextTimerKey++
	t := &timer{
		key:      l.nextTimerKey,
		deadline: l.clock.Now().Add(d),
		fn:       fn,
		active:   true,
	}
	l.timers = append(l.timers, t)
	return t.key
}

// RemoveTimer marks key inactive. It is a no-op if key is unknown or already
// inactive or fired, so it is always safe to call more than once.
func (l *EventLoop) RemoveTimer(key TimerKey) {
	for _, t := range l.timers {
		if t.key == key && t.active {
			t.active = false
			return
		}
	}
}

// sweepTimers physically drops inactive timers, keeping the live slice compact.
func (l *EventLoop) sweepTimers() {
	live := l.timers[:0]
	for _, t := range l.timers {
		if t.active {
			live = append(live, t)
		}
	}
	l.timers = live
}

// FailNextAllocForTesting forces the next AddWatch call to fail with
// ErrResourceExhausted, regardless of real memory pressure. Test-only hook.
func (l *EventLoop) FailNextAllocForTesting() {
	l.failNextAlloc = true
}

// AddWatch registers fd for the given interest. The handler fires at most
// once, after the watch is already inactive and removed.
func (l *EventLoop) AddWatch(fd int, interest Interest, h Handler, userData any) (WatchKey, error) {
	if l.failNextAlloc {
		l.failNextAlloc = false
		return 0, ErrResourceExhausted
	}

	l.nextKey++
	w := &watch{
		key:      l.nextKey,
		fd:       fd,
		interest: interest,
		handler:  h,
		userData: userData,
		active:   true,
	}
	l.watches = append(l.watches, w)
	metrics.ActiveWatches.Inc()
	return w.key, nil
}

// RemoveWatch marks key inactive. It is a no-op if key is unknown or already
// inactive, so it is always safe to call more than once.
func (l *EventLoop) RemoveWatch(key WatchKey) {
	for _, w := range l.watches {
		if w.key == key && w.active {
			w.active = false
			metrics.ActiveWatches.Dec()
			return
		}
	}
}

// sweep physically drops inactive watches, keeping the live slice compact.
func (l *EventLoop) sweep() {
	live := l.watches[:0]
	for _, w := range l.watches {
		if w.active {
			live = append(live, w)
		}
	}
	l.watches = live
}

// Run drains the loop: it returns nil once no watch remains active, and
// ErrSelectFailed wrapping the underlying errno if select(2) fails for a
// reason other than EINTR.
func (l *EventLoop) Run() error {
	for {
		l.sweep()
		l.sweepTimers()
		if len(l.watches) == 0 && len(l.timers) == 0 {
			return nil
		}

		var rset, wset unix.FdSet
		haveFDs := len(l.watches) > 0
		maxfd := -1
		if haveFDs {
			for _, w := range l.watches {
				if w.interest.has(Read) {
					fdSet(&rset, w.fd)
				}
				if w.interest.has(Write) {
					fdSet(&wset, w.fd)
				}
				if w.fd > maxfd {
					maxfd = w.fd
				}
			}
		}

		var timeout *unix.Timeval
		if len(l.timers) > 0 {
			deadline := l.timers[0].deadline
			for _, t := range l.timers[1:] {
				if t.deadline.Before(deadline) {
					deadline = t.deadline
				}
			}
			d := deadline.Sub(l.clock.Now())
			if d < 0 {
				d = 0
			}
			tv := unix.NsecToTimeval(d.Nanoseconds())
			timeout = &tv
		}

		var rsetArg, wsetArg *unix.FdSet
		if haveFDs {
			rsetArg, wsetArg = &rset, &wset
		}

		var n int
		var err error
		for {
			n, err = unix.Select(maxfd+1, rsetArg, wsetArg, nil, timeout)
			if err == unix.EINTR {
				continue
			}
			break
		}
		metrics.LoopCycles.Inc()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSelectFailed, err)
		}

		now := l.clock.Now()

		// Capture ready watches and expired timers first; any AddWatch,
		// RemoveWatch, AddTimer or RemoveTimer call made by a handler or
		// timer callback invoked below must not perturb this cycle's
		// dispatch list.
		type ready struct {
			w     *watch
			event FDEvent
		}
		var fire []ready
		if n > 0 && haveFDs {
			for _, w := range l.watches {
				if !w.active {
					continue
				}
				var got Interest
				if w.interest.has(Read) && fdIsSet(&rset, w.fd) {
					got |= Read
				}
				if w.interest.has(Write) && fdIsSet(&wset, w.fd) {
					got |= Write
				}
				if got != 0 {
					fire = append(fire, ready{w: w, event: FDEvent{FD: w.fd, Ready: got}})
				}
			}
		}

		var fireTimers []*timer
		for _, t := range l.timers {
			if t.active && !now.Before(t.deadline) {
				fireTimers = append(fireTimers, t)
			}
		}

		for _, t := range fireTimers {
			if !t.active {
				// Removed by an earlier callback in this same cycle.
				continue
			}
			t.active = false
			t.fn()
		}

		for _, r := range fire {
			if !r.w.active {
				// Removed by an earlier handler in this same cycle.
				continue
			}
			r.w.active = false
			metrics.ActiveWatches.Dec()
			h, ud := r.w.handler, r.w.userData
			h(r.event, ud)
		}
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
