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
	"io"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/microthread"
)

// Channel is a unidirectional byte pipe exposed as a (ReadFD, WriteFD) pair.
// Exactly one side of a Channel is ever set nonblocking, by whichever
// process polls it through an *fdevent.EventLoop; the other end stays
// blocking.
type Channel struct {
	ReadFD  int
	WriteFD int
}

// NewChannel creates a fresh OS pipe.
func NewChannel() (*Channel, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	return &Channel{ReadFD: fds[0], WriteFD: fds[1]}, nil
}

// Close closes both ends. Only appropriate when nobody else (e.g. a worker
// in a separate process) still holds a copy of either fd.
func (c *Channel) Close() {
	_ = unix.Close(c.ReadFD)
	_ = unix.Close(c.WriteFD)
}

const readyKind microthread.EventKind = "fd-ready"

func awaitReadable(y *microthread.Yielder, loop *fdevent.EventLoop, fd int) {
	y.Yield(func(r microthread.Resume) {
		if _, err := loop.AddWatch(fd, fdevent.Read, func(fdevent.FDEvent, any) {
			r(microthread.Event{Kind: readyKind})
		}, nil); err != nil {
			r(microthread.Event{Kind: readyKind})
		}
	})
}

func awaitWritable(y *microthread.Yielder, loop *fdevent.EventLoop, fd int) {
	y.Yield(func(r microthread.Resume) {
		if _, err := loop.AddWatch(fd, fdevent.Write, func(fdevent.FDEvent, any) {
			r(microthread.Event{Kind: readyKind})
		}, nil); err != nil {
			r(microthread.Event{Kind: readyKind})
		}
	})
}

// writeFrameAsync writes exactly one frameSize-length message to fd in a
// single atomic syscall, yielding on EAGAIN until fd is writable. A short
// write (anything other than 0 or len(data) bytes) violates the PIPE_BUF
// atomicity assumption and is reported as an error rather than retried.
func writeFrameAsync(y *microthread.Yielder, loop *fdevent.EventLoop, fd int, data []byte) error {
	for {
		n, err := unix.Write(fd, data)
		switch {
		case err == unix.EAGAIN:
			awaitWritable(y, loop, fd)
			continue
		case err != nil:
			return err
		case n != len(data):
			return io.ErrShortWrite
		default:
			return nil
		}
	}
}

// readFrameAsync reads exactly one frameSize-length message from fd in a
// single atomic syscall, yielding on EAGAIN until fd is readable.
func readFrameAsync(y *microthread.Yielder, loop *fdevent.EventLoop, fd int) ([]byte, error) {
	buf := make([]byte, frameSize)
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case err == unix.EAGAIN:
			awaitReadable(y, loop, fd)
			continue
		case err != nil:
			return nil, err
		case n == 0:
			return nil, io.EOF
		case n != frameSize:
			return nil, io.ErrUnexpectedEOF
		default:
			return buf, nil
		}
	}
}

// readFrameBlocking reads exactly one frameSize-length message from fd using
// a single blocking syscall. Used only on the worker side, which is allowed
// to block on its message loop.
func readFrameBlocking(fd int) ([]byte, error) {
	buf := make([]byte, frameSize)
	n, err := unix.Read(fd, buf)
	switch {
	case err != nil:
		return nil, err
	case n == 0:
		return nil, io.EOF
	case n != frameSize:
		return nil, io.ErrUnexpectedEOF
	default:
		return buf, nil
	}
}
