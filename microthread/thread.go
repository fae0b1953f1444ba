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

// Package microthread provides a stackless-coroutine discipline on top of a
// goroutine-per-thread realization with a strict hand-off protocol.
//
// A microthread body (Proc) runs on its own goroutine, but that goroutine
// and whoever drives it (the original caller of Call, or later the event
// loop calling a Resume function) never run at the same time: each side
// blocks on an unbuffered channel while the other is active, and control
// passes back and forth across exactly two channels (resume, handback).
// This reproduces the single-threaded, cooperative scheduling model of a
// hand-rolled jump-table coroutine - no two goroutines ever concurrently
// touch shared scheduler state such as an *fdevent.EventLoop's watch list -
// while keeping microthread bodies readable as linear, blocking-style code
// instead of a resume-label switch statement.
package microthread

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is raised (via panic) when a microthread receives an
// event of a kind it did not ask for. This is always a programming error:
// per the ProtocolViolationInternal taxonomy it is fatal rather than
// recoverable.
var ErrProtocolViolation = errors.New("microthread: protocol violation")

// EventKind discriminates the payload carried by an Event.
type EventKind string

// Event is the resume payload delivered to a parked microthread, or the
// terminal value returned by a Proc.
type Event struct {
	Kind    EventKind
	Payload any
}

// Resume hands the next event to a parked microthread and does not return
// until that microthread has yielded again or terminated. It must be
// called at most once per Yield call, either from the single goroutine
// driving the event loop or synchronously from within the schedule
// function passed to Yield; in the latter case it returns at once and
// Yield returns the event without parking.
type Resume func(Event)

// Yielder is passed to a running Proc; it is the only way the Proc can
// suspend itself pending an external event.
type Yielder struct {
	resume   chan Event
	handback chan struct{}
}

// Yield suspends the calling microthread. schedule is invoked synchronously
// (still on the microthread's goroutine, with its driver already blocked)
// with a Resume function; schedule is expected to arrange for that function
// to be called later, from the event loop goroutine, when the awaited
// condition is satisfied. Yield does not return until that call happens.
func (y *Yielder) Yield(schedule func(Resume)) Event {
	inSchedule := true
	var early *Event
	schedule(func(ev Event) {
		if inSchedule {
			early = &ev
			return
		}
		y.resume <- ev
		<-y.handback
	})
	inSchedule = false
	if early != nil {
		return *early
	}
	y.handback <- struct{}{}
	return <-y.resume
}

// Receive is a convenience wrapper: it yields via schedule and asserts the
// resumed event has the expected kind, returning its payload. A mismatched
// kind is a protocol violation and panics.
func (y *Yielder) Receive(kind EventKind, schedule func(Resume)) any {
	ev := y.Yield(schedule)
	if ev.Kind != kind {
		panic(fmt.Errorf("%w: expected %q, got %q", ErrProtocolViolation, kind, ev.Kind))
	}
	return ev.Payload
}

// Proc is the body of a microthread. It receives a Yielder to suspend itself
// and returns the terminal Event delivered to its Callback.
type Proc func(y *Yielder) Event

// Callback receives the terminal event of a microthread, plus the userData
// bound at Call time.
type Callback func(terminal Event, userData any)

// Call starts proc on a new goroutine and does not return until proc has
// either yielded for the first time or already terminated, so the caller
// never races the new goroutine over shared state. When proc returns, cb is
// invoked exactly once, still on the microthread's own goroutine, with its
// terminal event; the goroutine then exits.
func Call(proc Proc, cb Callback, userData any) {
	y := &Yielder{resume: make(chan Event), handback: make(chan struct{})}
	go func() {
		terminal := proc(y)
		cb(terminal, userData)
		y.handback <- struct{}{}
	}()
	<-y.handback
}
