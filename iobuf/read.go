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

package iobuf

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/microthread"
)

const readyKind microthread.EventKind = "fd-ready"

// awaitReadable yields until sb.FD is readable again.
func awaitReadable(y *microthread.Yielder, loop *fdevent.EventLoop, fd int) {
	y.Receive(readyKind, func(r microthread.Resume) {
		_, err := loop.AddWatch(fd, fdevent.Read, func(ev fdevent.FDEvent, _ any) {
			r(microthread.Event{Kind: readyKind})
		}, nil)
		if err != nil {
			// Resource exhaustion registering the watch: resume immediately
			// with a synthetic ready event so the retry loop observes the
			// original EAGAIN path again rather than hanging forever; the
			// caller's next read attempt will simply spin until memory frees.
			r(microthread.Event{Kind: readyKind})
		}
	})
}

func awaitWritable(y *microthread.Yielder, loop *fdevent.EventLoop, fd int) {
	y.Receive(readyKind, func(r microthread.Resume) {
		_, err := loop.AddWatch(fd, fdevent.Write, func(ev fdevent.FDEvent, _ any) {
			r(microthread.Event{Kind: readyKind})
		}, nil)
		if err != nil {
			r(microthread.Event{Kind: readyKind})
		}
	})
}

// refill blocks (via yield) until the internal buffer has at least one byte,
// EOF is observed, or a non-retryable error occurs.
func refill(y *microthread.Yielder, loop *fdevent.EventLoop, sb *StreamBuffer) error {
	for {
		if !sb.empty() {
			return nil
		}
		sb.start, sb.end = 0, 0
		n, err := unix.Read(sb.FD, sb.buf)
		switch {
		case err == unix.EAGAIN:
			awaitReadable(y, loop, sb.FD)
			continue
		case err != nil:
			return err
		case n == 0:
			return io.EOF
		default:
			sb.end = n
			return nil
		}
	}
}

// Peek returns the next unread byte without consuming it. It returns
// (-1, io.EOF) at end of stream.
func Peek(y *microthread.Yielder, loop *fdevent.EventLoop, sb *StreamBuffer) (int, error) {
	if err := refill(y, loop, sb); err != nil {
		return -1, err
	}
	return int(sb.buf[sb.start]), nil
}

// Getc returns and consumes the next unread byte. It returns (-1, io.EOF) at
// end of stream.
func Getc(y *microthread.Yielder, loop *fdevent.EventLoop, sb *StreamBuffer) (int, error) {
	if err := refill(y, loop, sb); err != nil {
		return -1, err
	}
	b := sb.buf[sb.start]
	sb.start++
	return int(b), nil
}

// ReadWhile copies bytes satisfying pred into out, stopping when pred fails,
// out fills (len(out) reached), or EOF/error is observed. It returns the
// number of bytes copied and the byte that caused the stop (-1 on EOF), plus
// any non-EOF I/O error.
func ReadWhile(y *microthread.Yielder, loop *fdevent.EventLoop, sb *StreamBuffer, pred func(byte) bool, out []byte) (n int, stopByte int, err error) {
	for n < len(out) {
		b, perr := Peek(y, loop, sb)
		if perr == io.EOF {
			return n, -1, nil
		}
		if perr != nil {
			return n, -1, perr
		}
		if !pred(byte(b)) {
			return n, b, nil
		}
		if _, gerr := Getc(y, loop, sb); gerr != nil {
			return n, -1, gerr
		}
		out[n] = byte(b)
		n++
	}
	// Room ran out; report the next pending byte (or EOF) without consuming it.
	b, perr := Peek(y, loop, sb)
	if perr == io.EOF {
		return n, -1, nil
	}
	if perr != nil {
		return n, -1, perr
	}
	return n, b, nil
}

// ReadExact drains sb's internal buffer first, then reads directly from the
// fd until dst is full, EOF is observed, or a non-retryable error occurs. It
// returns the number of bytes copied into dst.
func ReadExact(y *microthread.Yielder, loop *fdevent.EventLoop, sb *StreamBuffer, dst []byte) (int, error) {
	got := 0
	for got < len(dst) && !sb.empty() {
		dst[got] = sb.buf[sb.start]
		sb.start++
		got++
	}
	for got < len(dst) {
		n, err := unix.Read(sb.FD, dst[got:])
		switch {
		case err == unix.EAGAIN:
			awaitReadable(y, loop, sb.FD)
			continue
		case err != nil:
			return got, err
		case n == 0:
			return got, io.EOF
		default:
			got += n
		}
	}
	return got, nil
}
