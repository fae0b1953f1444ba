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
	"strings"

	"github.com/jacobsa/davserve/iobuf"
	"github.com/jacobsa/davserve/microthread"
)

// WriteHeaders serializes the status line, rsp's headers, and the
// terminating CRLF into the connection's output scratch buffer, then writes
// it to the socket. It must be called when WriteState is WriteStateNone.
// The server always emits HTTP/1.1 regardless of the request's version.
func (r *Request) WriteHeaders(rsp ResponseHeaders, done func(err error)) {
	if r.ended {
		done(ErrEnded)
		return
	}
	if r.writeState != WriteStateNone {
		done(ErrWrongState)
		return
	}
	if len(rsp.Headers) > MaxHeaders {
		done(fmt.Errorf("%w: more than %d response headers", ErrParse, MaxHeaders))
		return
	}
	reason, ok := ReasonPhrase(rsp.Status)
	if !ok {
		done(fmt.Errorf("%w: %d", ErrUnknownStatus, rsp.Status))
		return
	}

	r.Response = rsp
	r.writeState = WriteStateWritingHeaders

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", int(rsp.Status), reason)
	for _, h := range rsp.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	out := append(r.conn.outBuf[:0], b.String()...)

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		_, err := iobuf.WriteAll(y, r.conn.loop, r.conn.fd, out)
		return microthread.Event{Kind: "wrote", Payload: err}
	}, func(terminal microthread.Event, _ any) {
		var err error
		if v := terminal.Payload; v != nil {
			err, _ = v.(error)
		}
		if err != nil {
			r.lastErr = err
			done(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		r.writeState = WriteStateHeadersWritten
		if cl, ok := rsp.ContentLength(); ok {
			r.outContentLength = cl
		}
		done(nil)
	}, nil)
}

// Write writes buf to the response body and advances bytesWritten. It must
// be called when WriteState is WriteStateHeadersWritten or
// WriteStateWritingBody.
func (r *Request) Write(buf []byte, done func(err error)) {
	if r.ended {
		done(ErrEnded)
		return
	}
	if r.writeState != WriteStateHeadersWritten && r.writeState != WriteStateWritingBody {
		done(ErrWrongState)
		return
	}
	r.writeState = WriteStateWritingBody

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		n, err := iobuf.WriteAll(y, r.conn.loop, r.conn.fd, buf)
		return microthread.Event{Kind: "wrote", Payload: writeResult{n: n, err: err}}
	}, func(terminal microthread.Event, _ any) {
		res := terminal.Payload.(writeResult)
		r.bytesWritten += int64(res.n)
		if res.err != nil {
			r.lastErr = res.err
			done(fmt.Errorf("%w: %v", ErrTransport, res.err))
			return
		}
		done(nil)
	}, nil)
}

type writeResult struct {
	n   int
	err error
}
