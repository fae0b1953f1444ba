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

package fuseadapter

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/davlog"
	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/metrics"
	"github.com/jacobsa/davserve/microthread"
)

// ErrResourceExhausted is returned by AsyncOpen when a request is already
// outstanding against the shared reply slot.
var ErrResourceExhausted = errors.New("fuseadapter: reply slot busy")

// ErrTransport marks a failure sending the request to the worker. It is
// reported to the caller rather than aborting the process, since the worker
// may simply not have been ready yet.
var ErrTransport = errors.New("fuseadapter: transport error")

// ErrProtocolViolation marks a failure to receive or decode the worker's
// reply. Per the adapter's contract the reply is always expected to arrive,
// so this is treated as an unrecoverable programming-error condition: it
// panics rather than being returned, same as microthread.ErrProtocolViolation.
// Worker.Run is the exception: it returns this error when reading a request
// fails.
var ErrProtocolViolation = errors.New("fuseadapter: protocol violation")

// Adapter tunnels Open calls to a worker over a pair of Channels: toWorker
// carries requests, toServer carries replies. At most one request may be
// outstanding at a time, tracked by inUse.
type Adapter struct {
	loop     *fdevent.EventLoop
	ToWorker *Channel
	ToServer *Channel
	inUse    bool

	clock           timeutil.Clock
	busySince       time.Time
	replySlotWindow time.Duration
}

// NewAdapter allocates both channels and sets the event-loop-facing ends
// nonblocking: ToWorker's write end (the event loop sends requests) and
// ToServer's read end (the event loop receives replies). The opposite ends
// are left blocking for the worker.
//
// clk times the request/reply round trip, mirroring the timeutil.Clock
// abstraction the fuse library's sample filesystems use for the same
// reason: production passes timeutil.RealClock(), tests a
// timeutil.SimulatedClock. replySlotWindow bounds how long the single
// reply slot may stay busy before AsyncOpen logs a warning on the next
// call that finds it still occupied; zero disables the warning.
func NewAdapter(loop *fdevent.EventLoop, clk timeutil.Clock, replySlotWindow time.Duration) (*Adapter, error) {
	toWorker, err := NewChannel()
	if err != nil {
		return nil, fmt.Errorf("creating to-worker channel: %w", err)
	}
	toServer, err := NewChannel()
	if err != nil {
		toWorker.Close()
		return nil, fmt.Errorf("creating to-server channel: %w", err)
	}
	if err := unix.SetNonblock(toWorker.WriteFD, true); err != nil {
		toWorker.Close()
		toServer.Close()
		return nil, fmt.Errorf("setting to-worker write nonblocking: %w", err)
	}
	if err := unix.SetNonblock(toServer.ReadFD, true); err != nil {
		toWorker.Close()
		toServer.Close()
		return nil, fmt.Errorf("setting to-server read nonblocking: %w", err)
	}
	return &Adapter{
		loop:            loop,
		ToWorker:        toWorker,
		ToServer:        toServer,
		clock:           clk,
		replySlotWindow: replySlotWindow,
	}, nil
}

type openOutcome struct {
	ret int32
	err error
}

// AsyncOpen tunnels an Open call to the worker and reports the result via
// done, invoked exactly once on the event loop. If a request is already
// outstanding, done is invoked immediately with ErrResourceExhausted and
// neither channel is touched.
func (a *Adapter) AsyncOpen(path string, flags int32, done func(ret int32, err error)) {
	if a.inUse {
		metrics.FuseReplySlotBusy.Inc()
		if a.replySlotWindow > 0 {
			if busyFor := a.clock.Now().Sub(a.busySince); busyFor > a.replySlotWindow {
				davlog.L().WithField("busyFor", busyFor).Warn("fuse reply slot busy past configured window")
			}
		}
		done(0, ErrResourceExhausted)
		return
	}
	a.inUse = true
	a.busySince = a.clock.Now()
	start := a.busySince

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		req, err := encode(OpenMessage{Path: path, Flags: flags})
		if err != nil {
			return microthread.Event{Payload: openOutcome{err: err}}
		}

		if err := writeFrameAsync(y, a.loop, a.ToWorker.WriteFD, req); err != nil {
			return microthread.Event{Payload: openOutcome{err: fmt.Errorf("%w: %v", ErrTransport, err)}}
		}

		raw, err := readFrameAsync(y, a.loop, a.ToServer.ReadFD)
		if err != nil {
			// The reply is always expected once the request was sent; failing
			// to receive it indicates the worker is gone or misbehaving, which
			// this module treats as a fatal programming-error condition.
			panic(fmt.Errorf("%w: receiving open reply: %v", ErrProtocolViolation, err))
		}
		msg, err := decode(raw)
		if err != nil {
			panic(fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		}
		reply, ok := msg.(OpenReplyMessage)
		if !ok {
			panic(fmt.Errorf("%w: expected OpenReply, got %T", ErrProtocolViolation, msg))
		}
		return microthread.Event{Payload: openOutcome{ret: reply.ReturnCode}}
	}, func(terminal microthread.Event, _ any) {
		a.inUse = false
		metrics.FuseRoundTrip.Observe(a.clock.Now().Sub(start).Seconds())
		outcome := terminal.Payload.(openOutcome)
		done(outcome.ret, outcome.err)
	}, nil)
}

// StopBlocking is the only operation allowed to block: it switches
// ToWorker's write end to blocking mode, sends a QuitMessage, then restores
// nonblocking mode. Used to drain the worker during shutdown.
func (a *Adapter) StopBlocking() error {
	if err := unix.SetNonblock(a.ToWorker.WriteFD, false); err != nil {
		return fmt.Errorf("setting to-worker write blocking: %w", err)
	}
	defer func() {
		if err := unix.SetNonblock(a.ToWorker.WriteFD, true); err != nil {
			davlog.L().WithError(err).Error("restoring to-worker write nonblocking after shutdown")
		}
	}()

	data, err := encode(QuitMessage{})
	if err != nil {
		return err
	}
	n, err := unix.Write(a.ToWorker.WriteFD, data)
	if err != nil {
		return fmt.Errorf("sending quit message: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("sending quit message: short write %d/%d", n, len(data))
	}
	return nil
}

// Close releases the event-loop-side fds this Adapter owns: ToWorker's
// write end and ToServer's read end. Each is closed exactly once. (An
// earlier revision of this logic closed one channel twice and the other
// never; see DESIGN.md.)
func (a *Adapter) Close() error {
	err1 := unix.Close(a.ToWorker.WriteFD)
	err2 := unix.Close(a.ToServer.ReadFD)
	if err1 != nil {
		return err1
	}
	return err2
}
