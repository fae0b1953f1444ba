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
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/davlog"
	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/iobuf"
	"github.com/jacobsa/davserve/metrics"
)

// ReadState tracks how far request-body reading has progressed. States are
// visited in order and never re-entered.
type ReadState int

const (
	ReadStateNone ReadState = iota
	ReadStateReadingHeaders
	ReadStateHeadersRead
	ReadStateReadingBody
	ReadStateDone
)

// WriteState tracks how far response writing has progressed. States are
// visited in order and never re-entered.
type WriteState int

const (
	WriteStateNone WriteState = iota
	WriteStateWritingHeaders
	WriteStateHeadersWritten
	WriteStateWritingBody
	WriteStateDone
)

// EventKind discriminates the events a Handler receives.
type EventKind int

const (
	EventNewRequest EventKind = iota
	EventReadHeadersDone
	EventReadDone
	EventWriteHeadersDone
	EventWriteDone
	EventEndRequest
)

// HandlerEvent is delivered to the registered Handler. The Server delivers
// only EventNewRequest and EventEndRequest; the outcome of ReadHeaders,
// Read, WriteHeaders and Write is reported through each operation's done
// callback, so this package never delivers the other kinds and never sets
// Err, NByte or ExpectUnsupported.
type HandlerEvent struct {
	Kind    EventKind
	Request *Request
	Server  *Server

	Err   error
	NByte int

	// ExpectUnsupported is not set by this package. An Expect header this
	// server does not understand (anything other than "100-continue") is
	// reported through ReadHeaders' done callback instead; the handler's
	// normal response is 417.
	ExpectUnsupported bool
}

// Handler processes connection lifecycle events (EventNewRequest and
// EventEndRequest). It must eventually call Request.End exactly once per
// request.
type Handler func(HandlerEvent)

// connection owns one StreamBuffer, one output scratch buffer, and at most
// one in-flight Request.
type connection struct {
	fd     int
	sb     *iobuf.StreamBuffer
	outBuf []byte
	loop   *fdevent.EventLoop
	server *Server
	clock  timeutil.Clock
}

// Request is the handle a Handler uses to drive one HTTP request/response
// through the state machine. It is the sole valid argument to the
// operations below; using it after End is an error.
type Request struct {
	conn *connection

	Headers  RequestHeaders
	Response ResponseHeaders

	readState  ReadState
	writeState WriteState

	contentLength int64 // -1 if not declared by the client
	bytesRead     int64

	outContentLength int64 // -1 if not declared by the handler
	bytesWritten     int64

	lastErr   error
	startedAt time.Time
	ended     bool
}

func newConnection(loop *fdevent.EventLoop, srv *Server, fd int) *connection {
	return &connection{
		fd:     fd,
		sb:     iobuf.NewStreamBuffer(fd, InputBufferSize),
		outBuf: make([]byte, 0, OutputBufferSize),
		loop:   loop,
		server: srv,
		clock:  srv.clock,
	}
}

func newRequest(c *connection) *Request {
	return &Request{
		conn:             c,
		readState:        ReadStateNone,
		writeState:       WriteStateNone,
		contentLength:    -1,
		outContentLength: -1,
		startedAt:        c.clock.Now(),
	}
}

// End is terminal: it closes the underlying socket, frees per-connection
// state, and notifies the server's handler with EventEndRequest. It is an
// error to call any other Request operation afterward, and End itself must
// be called exactly once.
func (r *Request) End() {
	if r.ended {
		return
	}
	r.ended = true
	r.readState = ReadStateDone
	r.writeState = WriteStateDone

	_ = unix.Close(r.conn.fd)

	duration := r.conn.clock.Now().Sub(r.startedAt)

	status := 0
	if r.Response.Status != 0 {
		status = int(r.Response.Status)
	}
	davlog.L().WithFields(map[string]any{
		"method":     r.Headers.Method,
		"uri":        r.Headers.URI,
		"status":     status,
		"bytesIn":    r.bytesRead,
		"bytesOut":   r.bytesWritten,
		"durationMs": duration.Milliseconds(),
	}).Debug("request completed")
	metrics.ObserveRequest(status, duration)

	if r.conn.server != nil {
		r.conn.server.onRequestEnded(r)
		if r.conn.server.handler != nil {
			r.conn.server.handler(HandlerEvent{Kind: EventEndRequest, Request: r, Server: r.conn.server})
		}
	}
}
