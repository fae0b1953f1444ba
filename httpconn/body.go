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

	"github.com/jacobsa/davserve/iobuf"
	"github.com/jacobsa/davserve/microthread"
)

// Read fills buf completely from the request body, tracking bytes read
// against the declared Content-Length. It must be called when ReadState is
// ReadStateHeadersRead or ReadStateReadingBody. done is invoked exactly
// once, on the event loop, with the number of bytes actually copied into
// buf and any error (io.EOF included, wrapped as ErrTransport, if the
// connection closes early).
func (r *Request) Read(buf []byte, done func(nbyte int, err error)) {
	if r.ended {
		done(0, ErrEnded)
		return
	}
	if r.readState != ReadStateHeadersRead && r.readState != ReadStateReadingBody {
		done(0, ErrWrongState)
		return
	}
	if r.contentLength >= 0 && r.bytesRead+int64(len(buf)) > r.contentLength {
		done(0, ErrContentLengthExceeded)
		return
	}
	r.readState = ReadStateReadingBody

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		n, err := iobuf.ReadExact(y, r.conn.loop, r.conn.sb, buf)
		return microthread.Event{Kind: "read", Payload: readResult{n: n, err: err}}
	}, func(terminal microthread.Event, _ any) {
		res := terminal.Payload.(readResult)
		r.bytesRead += int64(res.n)
		if res.err != nil {
			r.lastErr = res.err
			done(res.n, fmt.Errorf("%w: %v", ErrTransport, res.err))
			return
		}
		done(res.n, nil)
	}, nil)
}

type readResult struct {
	n   int
	err error
}
