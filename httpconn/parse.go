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
	"strconv"

	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/iobuf"
	"github.com/jacobsa/davserve/microthread"
)

// ReadHeaders parses the request line and header block into r.Headers. It
// must be called when r's ReadState is ReadStateNone. done is invoked
// exactly once, on the event loop, with the outcome.
func (r *Request) ReadHeaders(done func(err error, expectUnsupported bool)) {
	if r.ended {
		done(ErrEnded, false)
		return
	}
	if r.readState != ReadStateNone {
		done(ErrWrongState, false)
		return
	}
	r.readState = ReadStateReadingHeaders

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		err := parseRequest(y, r.conn.loop, r.conn.sb, &r.Headers)
		return microthread.Event{Kind: "parsed", Payload: err}
	}, func(terminal microthread.Event, _ any) {
		var err error
		if v := terminal.Payload; v != nil {
			err, _ = v.(error)
		}
		if err != nil {
			r.lastErr = err
			r.readState = ReadStateDone
			done(err, false)
			return
		}

		r.readState = ReadStateHeadersRead
		if cl, ok := r.Headers.ContentLength(); ok {
			r.contentLength = cl
		}

		expectUnsupported := false
		if v, ok := r.Headers.Get("Expect"); ok && v != "100-continue" {
			expectUnsupported = true
		}
		done(nil, expectUnsupported)
	}, nil)
}

// parseRequest implements the request-line + header-block grammar described
// in the package doc, using the buffered-I/O coroutines in package iobuf.
func parseRequest(y *microthread.Yielder, loop *fdevent.EventLoop, sb *iobuf.StreamBuffer, out *RequestHeaders) error {
	method, err := readToken(y, loop, sb, ' ', MaxMethodLen)
	if err != nil {
		return err
	}
	out.Method = method

	uri, err := readToken(y, loop, sb, ' ', MaxURILen)
	if err != nil {
		return err
	}
	out.URI = uri

	lit := make([]byte, len("HTTP/"))
	n, err := iobuf.ReadExact(y, loop, sb, lit)
	if err != nil {
		return fmt.Errorf("%w: reading HTTP/ literal: %v", ErrTransport, err)
	}
	if n != len(lit) || string(lit) != "HTTP/" {
		return fmt.Errorf("%w: expected literal \"HTTP/\"", ErrParse)
	}

	majorStr, err := readToken(y, loop, sb, '.', MaxVersionLen)
	if err != nil {
		return err
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil || majorStr == "" || major < 0 {
		return fmt.Errorf("%w: bad major version", ErrParse)
	}
	out.MajorVersion = major

	minorStr, err := readToken(y, loop, sb, '\r', MaxVersionLen)
	if err != nil {
		return err
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil || minorStr == "" || minor < 0 {
		return fmt.Errorf("%w: bad minor version", ErrParse)
	}
	out.MinorVersion = minor

	if err := consumeLF(y, loop, sb); err != nil {
		return err
	}

	out.Headers = out.Headers[:0]
	for i := 0; i < MaxHeaders+1; i++ {
		if i == MaxHeaders {
			return fmt.Errorf("%w: more than %d headers", ErrParse, MaxHeaders)
		}

		b, err := iobuf.Peek(y, loop, sb)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if b == '\r' {
			if _, err := iobuf.Getc(y, loop, sb); err != nil {
				return fmt.Errorf("%w: %v", ErrTransport, err)
			}
			if err := consumeLF(y, loop, sb); err != nil {
				return err
			}
			return nil
		}
		if i == MaxHeaders {
			return fmt.Errorf("%w: more than %d headers", ErrParse, MaxHeaders)
		}

		name, err := readToken(y, loop, sb, ':', MaxHeaderName)
		if err != nil {
			return err
		}

		if err := skipSpaces(y, loop, sb); err != nil {
			return err
		}

		value, err := readToken(y, loop, sb, '\r', MaxHeaderValue)
		if err != nil {
			return err
		}
		if err := consumeLF(y, loop, sb); err != nil {
			return err
		}

		out.Headers = append(out.Headers, HeaderPair{Name: name, Value: value})
	}

	return nil
}

// readToken reads bytes up to (not including) delim into a buffer of
// capacity maxLen, then consumes delim itself. It fails with ErrParse if the
// token would exceed maxLen, or ErrTransport on I/O failure / EOF.
func readToken(y *microthread.Yielder, loop *fdevent.EventLoop, sb *iobuf.StreamBuffer, delim byte, maxLen int) (string, error) {
	buf := make([]byte, maxLen)
	n, stop, err := iobuf.ReadWhile(y, loop, sb, func(b byte) bool { return b != delim }, buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if stop == -1 {
		return "", fmt.Errorf("%w: unexpected EOF", ErrTransport)
	}
	if n == len(buf) && byte(stop) != delim {
		return "", fmt.Errorf("%w: token exceeds %d bytes", ErrParse, maxLen)
	}
	if _, err := iobuf.Getc(y, loop, sb); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return string(buf[:n]), nil
}

func consumeLF(y *microthread.Yielder, loop *fdevent.EventLoop, sb *iobuf.StreamBuffer) error {
	b, err := iobuf.Getc(y, loop, sb)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if b != '\n' {
		return fmt.Errorf("%w: expected LF", ErrParse)
	}
	return nil
}

func skipSpaces(y *microthread.Yielder, loop *fdevent.EventLoop, sb *iobuf.StreamBuffer) error {
	for {
		b, err := iobuf.Peek(y, loop, sb)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if b != ' ' {
			return nil
		}
		if _, err := iobuf.Getc(y, loop, sb); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
}
