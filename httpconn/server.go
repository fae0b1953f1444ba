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

package httpconn

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/davlog"
	"github.com/jacobsa/davserve/fdevent"
)

// Server binds one listening fd, driven by an *fdevent.EventLoop, to a
// Handler. Exactly one request is in flight per accepted connection at a
// time; there is no pipelining and no keep-alive.
type Server struct {
	loop      *fdevent.EventLoop
	listenFD  int
	handler   Handler
	clock     timeutil.Clock
	stopped   bool
	listenKey fdevent.WatchKey

	active        map[*Request]struct{}
	drainTimer    fdevent.TimerKey
	drainTimerSet bool
}

// Start registers a read watch on listenFD and begins accepting connections
// as the loop runs. listenFD must already be a listening, nonblocking
// socket. clk times request durations; production callers pass
// timeutil.RealClock().
func Start(loop *fdevent.EventLoop, listenFD int, handler Handler, clk timeutil.Clock) (*Server, error) {
	s := &Server{
		loop:     loop,
		listenFD: listenFD,
		handler:  handler,
		clock:    clk,
		active:   make(map[*Request]struct{}),
	}
	if err := s.registerAccept(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerAccept() error {
	if s.stopped {
		return nil
	}
	key, err := s.loop.AddWatch(s.listenFD, fdevent.Read, s.onAcceptable, nil)
	if err != nil {
		return fmt.Errorf("registering listen watch: %w", err)
	}
	s.listenKey = key
	return nil
}

func (s *Server) onAcceptable(ev fdevent.FDEvent, _ any) {
	if s.stopped {
		return
	}

	nfd, _, err := unix.Accept(s.listenFD)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EINTR {
			davlog.L().WithError(err).Warn("accept failed")
		}
		if rerr := s.registerAccept(); rerr != nil {
			davlog.L().WithError(rerr).Error("failed to re-arm accept watch")
		}
		return
	}

	if err := unix.SetNonblock(nfd, true); err != nil {
		davlog.L().WithError(err).Error("setting accepted fd nonblocking")
		_ = unix.Close(nfd)
		if rerr := s.registerAccept(); rerr != nil {
			davlog.L().WithError(rerr).Error("failed to re-arm accept watch")
		}
		return
	}

	conn := newConnection(s.loop, s, nfd)
	req := newRequest(conn)
	s.active[req] = struct{}{}
	s.handler(HandlerEvent{Kind: EventNewRequest, Request: req, Server: s})

	if rerr := s.registerAccept(); rerr != nil {
		davlog.L().WithError(rerr).Error("failed to re-arm accept watch")
	}
}

// Stop removes the listen watch so no new connection is accepted. Requests
// already in flight continue until their handlers call Request.End, up to
// drainTimeout; any still active once that deadline passes are ended
// forcibly. A drainTimeout of zero ends every in-flight request immediately.
func (s *Server) Stop(drainTimeout time.Duration) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.loop.RemoveWatch(s.listenKey)

	if len(s.active) == 0 {
		return
	}

	s.drainTimer = s.loop.AddTimer(drainTimeout, func() {
		s.drainTimerSet = false
		davlog.L().WithField("pending", len(s.active)).Warn("drain timeout reached, forcing pending requests to end")
		for r := range s.active {
			r.End()
		}
	})
	s.drainTimerSet = true
}

// onRequestEnded drops r from the active set, cancelling the drain timer
// once nothing remains for it to force-end.
func (s *Server) onRequestEnded(r *Request) {
	delete(s.active, r)
	if s.stopped && len(s.active) == 0 && s.drainTimerSet {
		s.loop.RemoveTimer(s.drainTimer)
		s.drainTimerSet = false
	}
}
